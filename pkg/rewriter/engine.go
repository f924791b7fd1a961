// Copyright 2024 Alianza, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rewriter

import (
	"sync"

	"github.com/livekit/protocol/logger"
	"github.com/pion/rtp"
	"go.uber.org/atomic"

	"github.com/alianza-dev/rtp-relay/pkg/telemetry/prometheus"
)

// RewritingEngineParams configures a RewritingEngine.
type RewritingEngineParams struct {
	Extender   SequenceNumberExtender
	Translator TimestampTranslator
	Logger     logger.Logger
}

// RewritingEngine routes ingress packets to the rewrite group of their origin
// SSRC. Groups are created explicitly, origin SSRCs are attached to a group
// and rewriters materialize lazily on first packet.
type RewritingEngine struct {
	logger logger.Logger

	params RewritingEngineParams

	lock     sync.RWMutex
	groups   map[uint32]*SsrcGroupRewriter // keyed by target SSRC
	byOrigin map[uint32]*SsrcGroupRewriter

	packetsLive       atomic.Uint64
	packetsRetransmit atomic.Uint64
	packetsResumed    atomic.Uint64
	packetsUnmatched  atomic.Uint64
	packetsUnmapped   atomic.Uint64
}

func NewRewritingEngine(params RewritingEngineParams) *RewritingEngine {
	l := params.Logger
	if l == nil {
		l = logger.GetLogger()
	}
	return &RewritingEngine{
		logger:   l,
		params:   params,
		groups:   make(map[uint32]*SsrcGroupRewriter),
		byOrigin: make(map[uint32]*SsrcGroupRewriter),
	}
}

// CreateGroup creates the rewrite group for a target SSRC.
func (e *RewritingEngine) CreateGroup(targetSSRC uint32, seqnumBase uint32) (*SsrcGroupRewriter, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if _, ok := e.groups[targetSSRC]; ok {
		return nil, ErrGroupExists
	}

	group := NewSsrcGroupRewriter(SsrcGroupRewriterParams{
		TargetSSRC: targetSSRC,
		SeqnumBase: seqnumBase,
		Extender:   e.params.Extender,
		Translator: e.params.Translator,
		Logger:     e.logger,
	})
	e.groups[targetSSRC] = group
	return group, nil
}

// MapOrigin attaches an origin SSRC to the group of a target SSRC.
func (e *RewritingEngine) MapOrigin(originSSRC uint32, targetSSRC uint32) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	group, ok := e.groups[targetSSRC]
	if !ok {
		return ErrGroupNotFound
	}
	if existing, ok := e.byOrigin[originSSRC]; ok && existing != group {
		return ErrOriginAlreadyMapped
	}
	e.byOrigin[originSSRC] = group
	return nil
}

// Group returns the rewrite group of a target SSRC.
func (e *RewritingEngine) Group(targetSSRC uint32) (*SsrcGroupRewriter, error) {
	e.lock.RLock()
	defer e.lock.RUnlock()

	group, ok := e.groups[targetSSRC]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return group, nil
}

// RewriteRTP rewrites pkt in place. Packets of unmapped origin SSRCs are
// forwarded unrewritten, rewriting must never cause packet loss.
func (e *RewritingEngine) RewriteRTP(pkt *rtp.Packet) RewriteOutcome {
	e.lock.RLock()
	group := e.byOrigin[pkt.SSRC]
	e.lock.RUnlock()

	if group == nil {
		e.packetsUnmapped.Inc()
		e.logger.Debugw("no rewrite group for origin ssrc, forwarding unrewritten", "ssrc", pkt.SSRC)
		return RewriteOutcomeUnmatched
	}

	outcome := group.RewriteRTP(pkt)
	switch outcome {
	case RewriteOutcomeLive:
		e.packetsLive.Inc()
	case RewriteOutcomeRetransmission:
		e.packetsRetransmit.Inc()
	case RewriteOutcomeResumed:
		e.packetsResumed.Inc()
	case RewriteOutcomeUnmatched:
		e.packetsUnmatched.Inc()
	}
	prometheus.IncPacketRewritten(outcome.String())
	return outcome
}

// Pause closes the open interval of an origin stream.
func (e *RewritingEngine) Pause(originSSRC uint32) bool {
	e.lock.RLock()
	group := e.byOrigin[originSSRC]
	e.lock.RUnlock()

	if group == nil {
		e.logger.Infow("pause for unmapped origin ssrc", "ssrc", originSSRC)
		return false
	}
	return group.Pause(originSSRC)
}

func (e *RewritingEngine) DebugInfo() map[string]interface{} {
	e.lock.RLock()
	defer e.lock.RUnlock()

	groups := make([]map[string]interface{}, 0, len(e.groups))
	for _, group := range e.groups {
		groups = append(groups, group.DebugInfo())
	}
	return map[string]interface{}{
		"PacketsLive":           e.packetsLive.Load(),
		"PacketsRetransmission": e.packetsRetransmit.Load(),
		"PacketsResumed":        e.packetsResumed.Load(),
		"PacketsUnmatched":      e.packetsUnmatched.Load(),
		"PacketsUnmapped":       e.packetsUnmapped.Load(),
		"Groups":                groups,
	}
}
