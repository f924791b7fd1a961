package rewriter

import (
	"sync"
	"testing"
	"time"

	"github.com/livekit/protocol/logger"
	"github.com/stretchr/testify/require"

	"github.com/alianza-dev/rtp-relay/pkg/testutils"
)

const (
	testOriginA = uint32(0x11111111)
	testOriginB = uint32(0x22222222)
	testTarget  = uint32(0xcafecafe)
)

// countingTranslator maps timestamps through a fixed offset and counts
// resolution calls.
type countingTranslator struct {
	mu          sync.Mutex
	calls       int
	offset      uint32
	unavailable bool
}

func (c *countingTranslator) Translate(srcSSRC, dstSSRC, timestamp uint32) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if c.unavailable {
		return timestamp, false
	}
	return timestamp + c.offset, true
}

func (c *countingTranslator) numCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.calls
}

func newTestGroup(translator TimestampTranslator) *SsrcGroupRewriter {
	return NewSsrcGroupRewriter(SsrcGroupRewriterParams{
		TargetSSRC: testTarget,
		SeqnumBase: 500,
		Translator: translator,
		Logger:     logger.GetLogger(),
	})
}

func rewritePacket(g *SsrcGroupRewriter, ssrc uint32, seqnum uint16, ts uint32) (RewriteOutcome, uint16, uint32) {
	pkt := testutils.GetTestPacket(&testutils.TestPacketParams{
		SequenceNumber: seqnum,
		Timestamp:      ts,
		SSRC:           ssrc,
	})
	outcome := g.RewriteRTP(pkt)
	return outcome, pkt.SequenceNumber, pkt.Timestamp
}

func TestFirstPacketOpensInterval(t *testing.T) {
	g := newTestGroup(nil)

	outcome, seqnum, _ := rewritePacket(g, testOriginA, 10, 1000)
	require.Equal(t, RewriteOutcomeResumed, outcome)
	require.Equal(t, uint16(500), seqnum)

	r := g.ActivateOrCreate(testOriginA)
	require.False(t, r.IsPaused())
	require.NotNil(t, r.CurrentInterval())
	require.Equal(t, uint32(10), r.CurrentInterval().extendedMinOrig)
}

func TestLivePacketsGrowInterval(t *testing.T) {
	g := newTestGroup(nil)

	rewritePacket(g, testOriginA, 10, 1000)
	outcome, seqnum, _ := rewritePacket(g, testOriginA, 11, 1000)
	require.Equal(t, RewriteOutcomeLive, outcome)
	require.Equal(t, uint16(501), seqnum)

	// a gap grows the interval too
	outcome, seqnum, _ = rewritePacket(g, testOriginA, 20, 2000)
	require.Equal(t, RewriteOutcomeLive, outcome)
	require.Equal(t, uint16(510), seqnum)

	r := g.ActivateOrCreate(testOriginA)
	require.Equal(t, uint32(20), r.CurrentInterval().extendedMaxOrig)
}

func TestPacketInsideCurrentIntervalIsLive(t *testing.T) {
	g := newTestGroup(nil)

	rewritePacket(g, testOriginA, 10, 1000)
	rewritePacket(g, testOriginA, 20, 2000)

	// out-of-order but inside the open interval, the live edge wins
	outcome, seqnum, _ := rewritePacket(g, testOriginA, 15, 1500)
	require.Equal(t, RewriteOutcomeLive, outcome)
	require.Equal(t, uint16(505), seqnum)
}

func TestRetransmissionRoutedToHistory(t *testing.T) {
	g := newTestGroup(nil)

	// first interval [10, 59], base 500
	rewritePacket(g, testOriginA, 10, 1000)
	rewritePacket(g, testOriginA, 59, 1200)
	require.True(t, g.Pause(testOriginA))

	// resumed interval [60, 120]
	outcome, seqnum, _ := rewritePacket(g, testOriginA, 60, 2000)
	require.Equal(t, RewriteOutcomeResumed, outcome)
	secondBase := seqnum
	rewritePacket(g, testOriginA, 120, 2400)

	// a packet from the closed interval must be rewritten with that
	// interval's base, not the open interval's
	outcome, seqnum, _ = rewritePacket(g, testOriginA, 50, 1100)
	require.Equal(t, RewriteOutcomeRetransmission, outcome)
	require.Equal(t, uint16(540), seqnum)
	require.NotEqual(t, secondBase, seqnum)

	// and the open interval did not move
	r := g.ActivateOrCreate(testOriginA)
	require.Equal(t, uint32(120), r.CurrentInterval().extendedMaxOrig)
}

func TestUnmatchedForwardedUnrewritten(t *testing.T) {
	g := newTestGroup(nil)

	rewritePacket(g, testOriginA, 100, 1000)

	pkt := testutils.GetTestPacket(&testutils.TestPacketParams{
		SequenceNumber: 5,
		Timestamp:      42,
		SSRC:           testOriginA,
	})
	outcome := g.RewriteRTP(pkt)
	require.Equal(t, RewriteOutcomeUnmatched, outcome)
	require.Equal(t, testOriginA, pkt.SSRC)
	require.Equal(t, uint16(5), pkt.SequenceNumber)
	require.Equal(t, uint32(42), pkt.Timestamp)
}

func TestPauseIdempotent(t *testing.T) {
	g := newTestGroup(nil)

	rewritePacket(g, testOriginA, 10, 1000)
	require.True(t, g.Pause(testOriginA))
	// pausing an already paused stream is a reported no-op
	require.False(t, g.Pause(testOriginA))

	r := g.ActivateOrCreate(testOriginA)
	require.True(t, r.IsPaused())
	require.Len(t, r.history, 1)
}

func TestResumeAllocatesFreshInterval(t *testing.T) {
	g := newTestGroup(nil)

	rewritePacket(g, testOriginA, 100, 1000)
	r := g.ActivateOrCreate(testOriginA)
	first := r.CurrentInterval()

	g.Pause(testOriginA)
	baseBeforeResume := g.currentExtendedSeqnumBase

	outcome, seqnum, _ := rewritePacket(g, testOriginA, 101, 1100)
	require.Equal(t, RewriteOutcomeResumed, outcome)
	require.NotSame(t, first, r.CurrentInterval())

	// the new base never regresses below what the group handed out before
	require.GreaterOrEqual(t, uint32(seqnum), baseBeforeResume)
	require.Greater(t, uint32(seqnum), first.targetSeqnumBase)
}

func TestSequenceBaseMonotonicAcrossSwitch(t *testing.T) {
	g := newTestGroup(nil)

	// layer A emits through 509
	rewritePacket(g, testOriginA, 10, 1000)
	rewritePacket(g, testOriginA, 19, 1900)
	g.Pause(testOriginA)

	// layer B activates, its base continues after A's last emission
	_, seqnum, _ := rewritePacket(g, testOriginB, 700, 2000)
	require.Equal(t, uint16(510), seqnum)
}

func TestTimestampCarriedAcrossSwitch(t *testing.T) {
	g := newTestGroup(nil)

	// A is the timestamp reference, its timestamps pass through
	_, _, ts := rewritePacket(g, testOriginA, 10, 5000)
	require.Equal(t, uint32(5000), ts)
	g.Pause(testOriginA)
	require.Equal(t, uint32(5000), g.maxTimestamp)

	// B has no clock correlation (nil translator), its timestamp stays as
	// is but is floored above A's max
	_, _, ts = rewritePacket(g, testOriginB, 700, 100)
	require.Equal(t, uint32(5001), ts)
}

func TestTimestampCacheHit(t *testing.T) {
	tr := &countingTranslator{offset: 10000}
	g := newTestGroup(tr)

	// A claims the reference slot, no translation for it
	rewritePacket(g, testOriginA, 10, 1000)
	require.Equal(t, 0, tr.numCalls())

	// two consecutive live packets of the same frame, one resolution
	_, _, ts := rewritePacket(g, testOriginB, 100, 30000)
	require.Equal(t, uint32(40000), ts)
	require.Equal(t, 1, tr.numCalls())

	_, _, ts = rewritePacket(g, testOriginB, 101, 30000)
	require.Equal(t, uint32(40000), ts)
	require.Equal(t, 1, tr.numCalls())

	// a new frame recomputes
	_, _, ts = rewritePacket(g, testOriginB, 102, 33000)
	require.Equal(t, uint32(43000), ts)
	require.Equal(t, 2, tr.numCalls())
}

func TestTimestampCacheNotPollutedByNoopRewrite(t *testing.T) {
	tr := &countingTranslator{unavailable: true}
	g := newTestGroup(tr)

	rewritePacket(g, testOriginA, 10, 1000)

	// unavailable correlation leaves the timestamp untouched
	_, _, ts := rewritePacket(g, testOriginB, 100, 30000)
	require.Equal(t, uint32(30000), ts)
	require.Equal(t, 1, tr.numCalls())

	// and must not have seeded the cache, the same timestamp resolves again
	_, _, ts = rewritePacket(g, testOriginB, 101, 30000)
	require.Equal(t, uint32(30000), ts)
	require.Equal(t, 2, tr.numCalls())
}

func TestRetransmissionBypassesCache(t *testing.T) {
	tr := &countingTranslator{offset: 10000}
	g := newTestGroup(tr)

	rewritePacket(g, testOriginA, 10, 1000)

	rewritePacket(g, testOriginB, 100, 30000)
	rewritePacket(g, testOriginB, 150, 36000)
	g.Pause(testOriginB)
	rewritePacket(g, testOriginB, 151, 36100)
	callsBefore := tr.numCalls()

	// retransmission into the closed interval recomputes without touching
	// the cache
	_, _, ts := rewritePacket(g, testOriginB, 120, 33000)
	require.Equal(t, uint32(43000), ts)
	require.Equal(t, callsBefore+1, tr.numCalls())

	r := g.ActivateOrCreate(testOriginB)
	require.Equal(t, uint32(36100), r.lastSrcTimestamp)
}

func TestEvictIdleIntervals(t *testing.T) {
	g := newTestGroup(nil)

	rewritePacket(g, testOriginA, 10, 1000)
	g.Pause(testOriginA)
	rewritePacket(g, testOriginA, 50, 2000)
	g.Pause(testOriginA)

	r := g.ActivateOrCreate(testOriginA)
	require.Len(t, r.history, 2)

	require.Equal(t, 2, g.EvictIdleIntervals(time.Now().Add(time.Minute)))
	require.Len(t, r.history, 0)

	// evicted ranges are gone, their retransmissions forward unrewritten
	outcome, _, _ := rewritePacket(g, testOriginA, 60, 3000)
	require.Equal(t, RewriteOutcomeResumed, outcome)
	outcome, _, _ = rewritePacket(g, testOriginA, 10, 1000)
	require.Equal(t, RewriteOutcomeUnmatched, outcome)
}
