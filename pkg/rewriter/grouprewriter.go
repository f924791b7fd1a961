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
	"time"

	"github.com/livekit/protocol/logger"
	"github.com/pion/rtp"
)

// SsrcGroupRewriterParams configures one logical output stream.
type SsrcGroupRewriterParams struct {
	TargetSSRC uint32
	// SeqnumBase is the first target sequence number handed to the first
	// activated origin stream.
	SeqnumBase uint32
	Extender   SequenceNumberExtender
	Translator TimestampTranslator
	Logger     logger.Logger
}

// SsrcGroupRewriter coordinates the SsrcRewriters of one logical output
// stream (e.g. one simulcast group). It owns the target SSRC, the sequence
// number base handed to newly activated streams, the max timestamp carried
// across stream switches and the timestamp reference SSRC. All group and
// per-rewriter state is serialized under a single lock.
type SsrcGroupRewriter struct {
	logger logger.Logger

	targetSSRC uint32
	extender   SequenceNumberExtender
	translator TimestampTranslator

	lock sync.Mutex

	// next sequence number base to hand to a newly activated interval,
	// never regresses
	currentExtendedSeqnumBase uint32

	// highest rewritten timestamp across all streams of the group, a
	// forward-only ratchet published on pause
	maxTimestamp    uint32
	hasMaxTimestamp bool

	// the stream whose timestamps pass through unmodified
	timestampSSRC    uint32
	hasTimestampSSRC bool

	rewriters map[uint32]*SsrcRewriter
}

func NewSsrcGroupRewriter(params SsrcGroupRewriterParams) *SsrcGroupRewriter {
	l := params.Logger
	if l == nil {
		l = logger.GetLogger()
	}
	return &SsrcGroupRewriter{
		logger:                    l,
		targetSSRC:                params.TargetSSRC,
		extender:                  params.Extender,
		translator:                params.Translator,
		currentExtendedSeqnumBase: params.SeqnumBase,
		rewriters:                 make(map[uint32]*SsrcRewriter),
	}
}

func (g *SsrcGroupRewriter) TargetSSRC() uint32 {
	return g.targetSSRC
}

// ActivateOrCreate returns the rewriter for an origin SSRC, creating it on
// first sight. Rewriters live for the life of the group, pausing only closes
// their open interval.
func (g *SsrcGroupRewriter) ActivateOrCreate(originSSRC uint32) *SsrcRewriter {
	g.lock.Lock()
	defer g.lock.Unlock()

	return g.rewriterLocked(originSSRC)
}

func (g *SsrcGroupRewriter) rewriterLocked(originSSRC uint32) *SsrcRewriter {
	r, ok := g.rewriters[originSSRC]
	if !ok {
		r = newSsrcRewriter(g, originSSRC, g.logger)
		g.rewriters[originSSRC] = r
	}
	return r
}

// RewriteRTP rewrites pkt in place using the rewriter of its origin SSRC.
func (g *SsrcGroupRewriter) RewriteRTP(pkt *rtp.Packet) RewriteOutcome {
	g.lock.Lock()
	defer g.lock.Unlock()

	return g.rewriterLocked(pkt.SSRC).rewriteRTP(pkt)
}

// Pause closes the open interval of an origin stream. Pausing an unknown or
// already paused stream is a reported no-op.
func (g *SsrcGroupRewriter) Pause(originSSRC uint32) bool {
	g.lock.Lock()
	defer g.lock.Unlock()

	r, ok := g.rewriters[originSSRC]
	if !ok {
		g.logger.Infow("pause for unknown origin ssrc", "ssrc", originSSRC)
		return false
	}
	return r.pause()
}

// TimestampSSRC returns the timestamp reference SSRC, false when unset.
func (g *SsrcGroupRewriter) TimestampSSRC() (uint32, bool) {
	g.lock.Lock()
	defer g.lock.Unlock()

	return g.timestampSSRC, g.hasTimestampSSRC
}

// ForceTimestampSSRC overrides the first-writer-wins reference selection.
func (g *SsrcGroupRewriter) ForceTimestampSSRC(ssrc uint32) {
	g.lock.Lock()
	defer g.lock.Unlock()

	g.timestampSSRC = ssrc
	g.hasTimestampSSRC = true
}

// EvictIdleIntervals trims closed intervals across all rewriters that were
// not touched since the deadline, returning the number evicted.
func (g *SsrcGroupRewriter) EvictIdleIntervals(deadline time.Time) int {
	g.lock.Lock()
	defer g.lock.Unlock()

	evicted := 0
	for _, r := range g.rewriters {
		evicted += r.evictIdleIntervals(deadline)
	}
	return evicted
}

func (g *SsrcGroupRewriter) DebugInfo() map[string]interface{} {
	g.lock.Lock()
	defer g.lock.Unlock()

	info := map[string]interface{}{
		"TargetSSRC":                g.targetSSRC,
		"CurrentExtendedSeqnumBase": g.currentExtendedSeqnumBase,
		"MaxTimestamp":              g.maxTimestamp,
		"TimestampSSRC":             g.timestampSSRC,
		"NumRewriters":              len(g.rewriters),
	}
	return info
}

// ------------------------------------------------
// internal, called with the group lock held

func (g *SsrcGroupRewriter) nextSequenceNumberBase() uint32 {
	return g.currentExtendedSeqnumBase
}

func (g *SsrcGroupRewriter) advanceSequenceNumberBase(next uint32) {
	if int32(next-g.currentExtendedSeqnumBase) > 0 {
		g.currentExtendedSeqnumBase = next
	}
}

func (g *SsrcGroupRewriter) publishMaxTimestamp(ts uint32) {
	if !g.hasMaxTimestamp || int32(ts-g.maxTimestamp) > 0 {
		g.maxTimestamp = ts
		g.hasMaxTimestamp = true
	}
}

func (g *SsrcGroupRewriter) timestampSSRCLocked() (uint32, bool) {
	return g.timestampSSRC, g.hasTimestampSSRC
}

func (g *SsrcGroupRewriter) setTimestampSSRCLocked(ssrc uint32) {
	g.timestampSSRC = ssrc
	g.hasTimestampSSRC = true
}
