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
	"sort"
	"time"

	"github.com/livekit/protocol/logger"
	"github.com/pion/rtp"
)

type streamState int

const (
	streamStatePaused streamState = iota
	streamStateActive
)

// SsrcRewriter rewrites the SSRC, sequence number and timestamp of a single
// origin SSRC. It is owned by a SsrcGroupRewriter and is not safe for
// concurrent use, all calls are serialized under the group lock.
type SsrcRewriter struct {
	logger logger.Logger

	group      *SsrcGroupRewriter
	originSSRC uint32

	// state == streamStateActive <=> current != nil. A nil current interval
	// means the stream is paused, a resume always allocates a fresh interval.
	state   streamState
	current *SequenceNumberInterval

	// closed intervals ascending by extendedMaxOrig, pairwise non-overlapping
	history []*SequenceNumberInterval

	// single-slot cache of the most recent live timestamp rewrite
	lastSrcTimestamp uint32
	lastDstTimestamp uint32
	tsCacheValid     bool
}

func newSsrcRewriter(group *SsrcGroupRewriter, originSSRC uint32, l logger.Logger) *SsrcRewriter {
	return &SsrcRewriter{
		logger:     l,
		group:      group,
		originSSRC: originSSRC,
		state:      streamStatePaused,
	}
}

func (r *SsrcRewriter) OriginSSRC() uint32 {
	return r.originSSRC
}

func (r *SsrcRewriter) IsPaused() bool {
	return r.state == streamStatePaused
}

// CurrentInterval returns the open interval, or nil when paused.
func (r *SsrcRewriter) CurrentInterval() *SequenceNumberInterval {
	return r.current
}

// extendSequenceNumber produces the 32-bit extended sequence number for a wire
// sequence number. Without an injected extender values are zero-extended.
// Reports false when the extender cannot produce a usable extension, such
// packets are forwarded unrewritten.
func (r *SsrcRewriter) extendSequenceNumber(seqnum uint16) (uint32, bool) {
	extender := r.group.extender
	if extender == nil {
		return uint32(seqnum), true
	}
	return extender.ExtendSequenceNumber(r.originSSRC, seqnum)
}

// findHistoricalInterval looks up the closed interval containing extSeqnum.
// History is ordered by extendedMaxOrig, so the first interval whose upper
// bound is >= extSeqnum is the only candidate.
func (r *SsrcRewriter) findHistoricalInterval(extSeqnum uint32) *SequenceNumberInterval {
	idx := sort.Search(len(r.history), func(i int) bool {
		return r.history[i].extendedMaxOrig >= extSeqnum
	})
	if idx < len(r.history) && r.history[idx].Contains(extSeqnum) {
		return r.history[idx]
	}
	return nil
}

// FindRetransmissionInterval returns the interval a (possibly retransmitted)
// extended sequence number belongs to. The open interval wins over history
// since it represents the live edge of the stream.
func (r *SsrcRewriter) FindRetransmissionInterval(extSeqnum uint32) *SequenceNumberInterval {
	if r.current != nil && r.current.Contains(extSeqnum) {
		return r.current
	}
	return r.findHistoricalInterval(extSeqnum)
}

// rewriteRTP rewrites pkt in place and reports how it was classified. Must be
// called with the group lock held.
func (r *SsrcRewriter) rewriteRTP(pkt *rtp.Packet) RewriteOutcome {
	extSeqnum, ok := r.extendSequenceNumber(pkt.SequenceNumber)
	if !ok {
		r.logger.Warnw("cannot extend sequence number, forwarding unrewritten", nil,
			"ssrc", r.originSSRC,
			"seqnum", pkt.SequenceNumber,
		)
		return RewriteOutcomeUnmatched
	}

	// live packet inside the open interval
	if r.current != nil && r.current.Contains(extSeqnum) {
		r.rewriteWithInterval(r.current, pkt, extSeqnum, false)
		return RewriteOutcomeLive
	}

	// retransmission into a closed interval, rewrite without mutating it
	if interval := r.findHistoricalInterval(extSeqnum); interval != nil {
		r.rewriteWithInterval(interval, pkt, extSeqnum, true)
		return RewriteOutcomeRetransmission
	}

	if r.current != nil {
		if int32(extSeqnum-r.current.extendedMaxOrig) > 0 {
			// the stream moved forward, grow the open interval
			r.current.extendedMaxOrig = extSeqnum
			r.rewriteWithInterval(r.current, pkt, extSeqnum, false)
			return RewriteOutcomeLive
		}

		// older than anything we track, forward unrewritten rather than drop
		r.logger.Warnw("no interval matches sequence number, forwarding unrewritten", nil,
			"ssrc", r.originSSRC,
			"seqnum", pkt.SequenceNumber,
			"extSeqnum", extSeqnum,
		)
		return RewriteOutcomeUnmatched
	}

	// the stream has resumed
	r.current = newSequenceNumberInterval(
		r.originSSRC,
		extSeqnum,
		r.group.nextSequenceNumberBase(),
		r.group.maxTimestamp+1,
		r.group.hasMaxTimestamp,
	)
	r.state = streamStateActive
	r.rewriteWithInterval(r.current, pkt, extSeqnum, false)
	return RewriteOutcomeResumed
}

func (r *SsrcRewriter) rewriteWithInterval(
	interval *SequenceNumberInterval,
	pkt *rtp.Packet,
	extSeqnum uint32,
	retransmission bool,
) {
	r.rewriteTimestamp(pkt, retransmission)
	interval.RewriteRTP(pkt, r.group.targetSSRC, extSeqnum)

	if !retransmission {
		interval.applyTimestampBounds(pkt)
		interval.lastSeenAt = time.Now()
		r.group.advanceSequenceNumberBase(interval.TargetSequenceNumber(extSeqnum) + 1)
	}
}

// rewriteTimestamp rewrites the RTP timestamp of pkt. Live packets go through
// a single-slot cache so packets of the same frame reuse the previous result.
// Retransmissions always recompute, a retransmitted packet can be arbitrarily
// older than the cached pair.
func (r *SsrcRewriter) rewriteTimestamp(pkt *rtp.Packet, retransmission bool) {
	if retransmission {
		r.rewriteTimestampUncached(pkt)
		return
	}

	oldValue := pkt.Timestamp
	if r.tsCacheValid && oldValue == r.lastSrcTimestamp {
		pkt.Timestamp = r.lastDstTimestamp
		return
	}

	r.rewriteTimestampUncached(pkt)

	// refresh the cache only when the rewrite changed the value, a no-op
	// rewrite must not pollute it
	if newValue := pkt.Timestamp; newValue != oldValue {
		r.lastSrcTimestamp = oldValue
		r.lastDstTimestamp = newValue
		r.tsCacheValid = true
	}
}

func (r *SsrcRewriter) rewriteTimestampUncached(pkt *rtp.Packet) {
	refSSRC, ok := r.group.timestampSSRCLocked()
	if !ok {
		// the first stream to require timestamp rewriting becomes the
		// reference whose timestamps pass through unmodified, unless the
		// group forces one explicitly
		r.group.setTimestampSSRCLocked(r.originSSRC)
		return
	}
	if refSSRC == r.originSSRC {
		return
	}

	translator := r.group.translator
	if translator == nil {
		return
	}

	rewritten, ok := translator.Translate(r.originSSRC, refSSRC, pkt.Timestamp)
	if !ok {
		// missing wall-clock correlation is not an error, forward unmodified
		r.logger.Debugw("no wall clock correlation, timestamp unmodified",
			"ssrc", r.originSSRC,
			"refSSRC", refSSRC,
		)
		return
	}
	pkt.Timestamp = rewritten
}

// pause closes the open interval, archives it into history and publishes its
// max timestamp to the group. Pausing an already paused stream is a no-op.
// Must be called with the group lock held.
func (r *SsrcRewriter) pause() bool {
	if r.current == nil {
		r.logger.Infow("stream is already paused", "ssrc", r.originSSRC)
		return false
	}

	r.archiveInterval(r.current)
	if r.current.hasMaxTimestamp {
		r.group.publishMaxTimestamp(r.current.maxTimestamp)
	}
	r.current = nil
	r.state = streamStatePaused
	return true
}

func (r *SsrcRewriter) archiveInterval(interval *SequenceNumberInterval) {
	idx := sort.Search(len(r.history), func(i int) bool {
		return r.history[i].extendedMaxOrig >= interval.extendedMaxOrig
	})
	r.history = append(r.history, nil)
	copy(r.history[idx+1:], r.history[idx:])
	r.history[idx] = interval
}

// evictIdleIntervals drops closed intervals not touched since the deadline.
// Retransmissions for evicted ranges will be forwarded unrewritten.
func (r *SsrcRewriter) evictIdleIntervals(deadline time.Time) int {
	kept := r.history[:0]
	for _, interval := range r.history {
		if interval.lastSeenAt.After(deadline) {
			kept = append(kept, interval)
		}
	}
	evicted := len(r.history) - len(kept)
	for i := len(kept); i < len(r.history); i++ {
		r.history[i] = nil
	}
	r.history = kept
	return evicted
}
