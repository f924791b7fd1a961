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
	"fmt"
	"time"

	"github.com/pion/rtp"
)

// SequenceNumberInterval maps a contiguous span of one origin stream's
// extended sequence numbers onto a span of the target stream's sequence
// number space. While an interval is open its upper bound and timestamp
// bookkeeping grow forward; once archived into history it is read-only.
type SequenceNumberInterval struct {
	originSSRC       uint32
	extendedMinOrig  uint32
	extendedMaxOrig  uint32
	targetSeqnumBase uint32

	// floor for rewritten timestamps, set when the interval opens after a
	// stream switch so the target stream's timestamps never step back below
	// the previously active stream
	minTimestamp uint32
	hasFloor     bool

	// highest rewritten timestamp observed while the interval was open
	maxTimestamp    uint32
	hasMaxTimestamp bool

	lastSeenAt time.Time
}

func newSequenceNumberInterval(
	originSSRC uint32,
	extendedOrig uint32,
	targetSeqnumBase uint32,
	timestampFloor uint32,
	hasFloor bool,
) *SequenceNumberInterval {
	return &SequenceNumberInterval{
		originSSRC:       originSSRC,
		extendedMinOrig:  extendedOrig,
		extendedMaxOrig:  extendedOrig,
		targetSeqnumBase: targetSeqnumBase,
		minTimestamp:     timestampFloor,
		hasFloor:         hasFloor,
	}
}

// Contains reports whether the extended sequence number falls inside the
// interval's origin range.
func (i *SequenceNumberInterval) Contains(extSeqnum uint32) bool {
	return extSeqnum >= i.extendedMinOrig && extSeqnum <= i.extendedMaxOrig
}

// TargetSequenceNumber translates an extended origin sequence number into the
// target stream's extended sequence number space.
func (i *SequenceNumberInterval) TargetSequenceNumber(extSeqnum uint32) uint32 {
	return i.targetSeqnumBase + (extSeqnum - i.extendedMinOrig)
}

// RewriteRTP substitutes the SSRC and sequence number of pkt. The timestamp is
// rewritten separately by the owning SsrcRewriter before this is called.
func (i *SequenceNumberInterval) RewriteRTP(pkt *rtp.Packet, targetSSRC uint32, extSeqnum uint32) {
	pkt.SSRC = targetSSRC
	pkt.SequenceNumber = uint16(i.TargetSequenceNumber(extSeqnum))
}

// applyTimestampBounds clamps a freshly rewritten timestamp to the interval's
// floor and ratchets the interval max. Only live packets come through here,
// retransmissions never mutate interval state.
func (i *SequenceNumberInterval) applyTimestampBounds(pkt *rtp.Packet) {
	if i.hasFloor && int32(pkt.Timestamp-i.minTimestamp) < 0 {
		pkt.Timestamp = i.minTimestamp
	}
	if !i.hasMaxTimestamp || int32(pkt.Timestamp-i.maxTimestamp) > 0 {
		i.maxTimestamp = pkt.Timestamp
		i.hasMaxTimestamp = true
	}
}

func (i *SequenceNumberInterval) String() string {
	return fmt.Sprintf("SequenceNumberInterval{origin: %d, min: %d, max: %d, base: %d}",
		i.originSSRC, i.extendedMinOrig, i.extendedMaxOrig, i.targetSeqnumBase)
}
