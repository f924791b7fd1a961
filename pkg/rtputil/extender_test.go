package rtputil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtenderUntracked(t *testing.T) {
	e := NewSequenceExtender()

	// no per-SSRC state, zero-extension fallback
	extended, ok := e.ExtendSequenceNumber(0x12345678, 23333)
	require.False(t, ok)
	require.Equal(t, uint32(23333), extended)
}

func TestExtenderTracked(t *testing.T) {
	e := NewSequenceExtender()
	e.Track(0x12345678)

	extended, ok := e.ExtendSequenceNumber(0x12345678, 65535)
	require.True(t, ok)
	require.Equal(t, uint32(65535), extended)

	extended, ok = e.ExtendSequenceNumber(0x12345678, 0)
	require.True(t, ok)
	require.Equal(t, uint32(65536), extended)

	// other SSRCs remain untracked
	_, ok = e.ExtendSequenceNumber(0x87654321, 0)
	require.False(t, ok)
}

func TestExtenderUnrepresentableOldPacket(t *testing.T) {
	e := NewSequenceExtender()
	e.Track(0x12345678)

	_, ok := e.ExtendSequenceNumber(0x12345678, 2)
	require.True(t, ok)

	// late packet from before a wrap that predates the tracker
	extended, ok := e.ExtendSequenceNumber(0x12345678, 65530)
	require.False(t, ok)
	require.Equal(t, uint32(65530), extended)
}

func TestExtenderSeed(t *testing.T) {
	e := NewSequenceExtender()
	e.Seed(0x12345678, 1000, 2)

	extended, ok := e.ExtendSequenceNumber(0x12345678, 1001)
	require.True(t, ok)
	require.Equal(t, uint32(2<<16|1001), extended)
}

func TestExtenderUntrack(t *testing.T) {
	e := NewSequenceExtender()
	e.Track(0x12345678)
	e.Untrack(0x12345678)

	_, ok := e.ExtendSequenceNumber(0x12345678, 5)
	require.False(t, ok)
}
