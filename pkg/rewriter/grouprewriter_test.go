package rewriter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alianza-dev/rtp-relay/pkg/testutils"
)

func TestGroupCreatesRewriterLazily(t *testing.T) {
	g := newTestGroup(nil)
	require.Empty(t, g.rewriters)

	r := g.ActivateOrCreate(testOriginA)
	require.NotNil(t, r)
	require.Same(t, r, g.ActivateOrCreate(testOriginA))
	require.Len(t, g.rewriters, 1)

	// rewriters survive pause, only their interval is closed
	rewritePacket(g, testOriginA, 10, 1000)
	g.Pause(testOriginA)
	require.Same(t, r, g.ActivateOrCreate(testOriginA))
}

func TestGroupPauseUnknownOrigin(t *testing.T) {
	g := newTestGroup(nil)
	require.False(t, g.Pause(testOriginA))
}

func TestTimestampReferenceFirstWriterWins(t *testing.T) {
	g := newTestGroup(nil)

	_, ok := g.TimestampSSRC()
	require.False(t, ok)

	rewritePacket(g, testOriginA, 10, 1000)
	ref, ok := g.TimestampSSRC()
	require.True(t, ok)
	require.Equal(t, testOriginA, ref)

	// a second stream does not displace the reference
	rewritePacket(g, testOriginB, 100, 2000)
	ref, _ = g.TimestampSSRC()
	require.Equal(t, testOriginA, ref)
}

func TestForceTimestampReference(t *testing.T) {
	tr := &countingTranslator{offset: 7000}
	g := newTestGroup(tr)

	g.ForceTimestampSSRC(testOriginB)

	// A is no longer first-writer, its timestamps get translated
	_, _, ts := rewritePacket(g, testOriginA, 10, 1000)
	require.Equal(t, uint32(8000), ts)
	require.Equal(t, 1, tr.numCalls())

	// B passes through
	_, _, ts = rewritePacket(g, testOriginB, 100, 2000)
	require.Equal(t, uint32(2000), ts)
	require.Equal(t, 1, tr.numCalls())
}

func TestGroupMaxTimestampRatchet(t *testing.T) {
	g := newTestGroup(nil)

	rewritePacket(g, testOriginA, 10, 9000)
	g.Pause(testOriginA)
	require.Equal(t, uint32(9000), g.maxTimestamp)

	// a stream that peaked lower does not move the ratchet back
	rewritePacket(g, testOriginB, 100, 9000)
	r := g.ActivateOrCreate(testOriginB)
	r.current.maxTimestamp = 8000 // simulate lower peak
	g.Pause(testOriginB)
	require.Equal(t, uint32(9000), g.maxTimestamp)
}

func TestGroupDebugInfo(t *testing.T) {
	g := newTestGroup(nil)
	rewritePacket(g, testOriginA, 10, 1000)

	info := g.DebugInfo()
	require.Equal(t, testTarget, info["TargetSSRC"])
	require.Equal(t, 1, info["NumRewriters"])
}

func TestGroupRewriteMutatesInPlace(t *testing.T) {
	g := newTestGroup(nil)

	pkt := testutils.GetTestPacket(&testutils.TestPacketParams{
		SequenceNumber: 10,
		Timestamp:      1000,
		SSRC:           testOriginA,
		PayloadSize:    27,
	})
	payload := append([]byte(nil), pkt.Payload...)
	g.RewriteRTP(pkt)

	require.Equal(t, testTarget, pkt.SSRC)
	// payload untouched
	require.Equal(t, payload, pkt.Payload)
}
