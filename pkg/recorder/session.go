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

package recorder

import (
	"io"
	"sort"
	"sync"

	"github.com/frostbyte73/core"
)

type entry struct {
	extSeqnum uint32
	payload   []byte
}

// Session buffers the payloads of one recorded stream ordered by extended
// sequence number. Two distinct packets never coalesce unless they carry the
// same extended sequence number, in which case the newer payload replaces the
// older (a genuine retransmission of the same content).
type Session struct {
	name string

	mu      sync.Mutex
	entries []entry

	closed core.Fuse
}

func newSession(name string) *Session {
	return &Session{name: name}
}

func (s *Session) Name() string {
	return s.name
}

// Record stores a copy of payload keyed by its extended sequence number.
// Records after close are dropped.
func (s *Session) Record(extSeqnum uint32, payload []byte) {
	if s.closed.IsBroken() || len(payload) == 0 {
		return
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].extSeqnum >= extSeqnum
	})
	if idx < len(s.entries) && s.entries[idx].extSeqnum == extSeqnum {
		s.entries[idx].payload = buf
		return
	}
	s.entries = append(s.entries, entry{})
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = entry{extSeqnum: extSeqnum, payload: buf}
}

// Len returns the number of buffered packets.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// WriteTo writes the buffered payloads in extended sequence number order.
func (s *Session) WriteTo(w io.Writer) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var written int64
	for _, e := range s.entries {
		n, err := w.Write(e.payload)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (s *Session) close() {
	s.closed.Break()
}
