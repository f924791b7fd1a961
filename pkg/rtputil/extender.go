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

package rtputil

import "sync"

// SequenceExtender maintains per-SSRC wraparound trackers. SSRCs are
// registered by the stream bootstrap via Track. Extension reports false
// for unregistered SSRCs and for values a tracker cannot represent.
type SequenceExtender struct {
	mu       sync.Mutex
	trackers map[uint32]*WrapAround
}

func NewSequenceExtender() *SequenceExtender {
	return &SequenceExtender{
		trackers: make(map[uint32]*WrapAround),
	}
}

// Track registers an origin SSRC for wraparound tracking.
func (s *SequenceExtender) Track(ssrc uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trackers[ssrc]; !ok {
		s.trackers[ssrc] = NewWrapAround()
	}
}

// Untrack drops the tracker state of an origin SSRC.
func (s *SequenceExtender) Untrack(ssrc uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.trackers, ssrc)
}

// Seed installs externally maintained cycle state for an origin SSRC.
func (s *SequenceExtender) Seed(ssrc uint32, highest uint16, cycles uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.trackers[ssrc]
	if !ok {
		w = NewWrapAround()
		s.trackers[ssrc] = w
	}
	w.Seed(highest, cycles)
}

// ExtendSequenceNumber implements the extension capability consumed by the
// rewriting engine.
func (s *SequenceExtender) ExtendSequenceNumber(ssrc uint32, seqnum uint16) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.trackers[ssrc]
	if !ok {
		return uint32(seqnum), false
	}
	return w.Update(seqnum)
}
