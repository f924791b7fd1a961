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

// SequenceNumberExtender converts 16-bit wire sequence numbers into 32-bit
// extended sequence numbers that are monotonic across wraparound. It is an
// injected capability, typically backed by per-SSRC cycle counters maintained
// by the stream bootstrap. Returns false when no usable extension exists,
// either because no per-SSRC state was registered or because the value is
// older than anything the tracker can represent; the rewriter forwards such
// packets unrewritten.
type SequenceNumberExtender interface {
	ExtendSequenceNumber(originSSRC uint32, seqnum uint16) (uint32, bool)
}

// TimestampTranslator converts an RTP timestamp from one stream's timebase
// into another's using wall-clock correlation. Returns the input timestamp
// and false when correlation data is missing or a conversion is undefined.
type TimestampTranslator interface {
	Translate(srcSSRC uint32, dstSSRC uint32, timestamp uint32) (uint32, bool)
}

// RewriteOutcome classifies how a packet was handled by the rewriting engine.
type RewriteOutcome int

const (
	// RewriteOutcomeLive: the packet advanced (or landed inside) the open interval.
	RewriteOutcomeLive RewriteOutcome = iota
	// RewriteOutcomeRetransmission: the packet was routed to a closed interval.
	RewriteOutcomeRetransmission
	// RewriteOutcomeResumed: the packet resumed a paused stream on a fresh interval.
	RewriteOutcomeResumed
	// RewriteOutcomeUnmatched: no interval matched, the packet is forwarded unrewritten.
	RewriteOutcomeUnmatched
)

func (o RewriteOutcome) String() string {
	switch o {
	case RewriteOutcomeLive:
		return "LIVE"
	case RewriteOutcomeRetransmission:
		return "RETRANSMISSION"
	case RewriteOutcomeResumed:
		return "RESUMED"
	case RewriteOutcomeUnmatched:
		return "UNMATCHED"
	default:
		return "UNKNOWN"
	}
}
