package testutils

import (
	"github.com/pion/rtp"
)

// -----------------------------------------------------------

type TestPacketParams struct {
	SetMarker      bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	PayloadSize    int
}

// -----------------------------------------------------------

func GetTestPacket(params *TestPacketParams) *rtp.Packet {
	payloadSize := params.PayloadSize
	if payloadSize == 0 {
		payloadSize = 10
	}

	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         params.SetMarker,
			PayloadType:    params.PayloadType,
			SequenceNumber: params.SequenceNumber,
			Timestamp:      params.Timestamp,
			SSRC:           params.SSRC,
		},
		Payload: make([]byte, payloadSize),
	}
}
