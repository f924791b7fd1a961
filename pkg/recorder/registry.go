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
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/gammazero/workerpool"
	"github.com/livekit/protocol/logger"
	pkgerrors "github.com/pkg/errors"

	"github.com/alianza-dev/rtp-relay/pkg/telemetry/prometheus"
)

var ErrSessionNotFound = errors.New("recording session not found")

const persistWorkers = 4

// Registry owns the recording sessions of one relay instance. Sessions are
// created on first packet and removed when persisted. The registry is handed
// to callers explicitly, there is no process-wide session state.
type Registry struct {
	logger logger.Logger
	dir    string

	mu       sync.Mutex
	sessions *orderedmap.OrderedMap[string, *Session]

	// files written at least once this run, first write truncates and
	// subsequent writes append
	appended map[string]bool
}

func NewRegistry(dir string, l logger.Logger) *Registry {
	if l == nil {
		l = logger.GetLogger()
	}
	return &Registry{
		logger:   l,
		dir:      dir,
		sessions: orderedmap.NewOrderedMap[string, *Session](),
		appended: make(map[string]bool),
	}
}

// Record appends a packet payload to the named session, creating the session
// on first packet. The payload is keyed by extended sequence number so
// post-wraparound reuse of a wire sequence number never coalesces two
// distinct packets.
func (r *Registry) Record(name string, extSeqnum uint32, payload []byte) *Session {
	r.mu.Lock()
	s, ok := r.sessions.Get(name)
	if !ok {
		s = newSession(name)
		r.sessions.Set(name, s)
		r.logger.Debugw("recording session created", "session", name)
	}
	r.mu.Unlock()

	s.Record(extSeqnum, payload)
	return s
}

// Session looks up a session by name.
func (r *Registry) Session(name string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions.Get(name)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Persist writes the named session's payloads to its backing file in order
// and removes the session. A session that was never recorded is a NOT-FOUND
// error, callers must check existence before finalizing.
func (r *Registry) Persist(name string) error {
	r.mu.Lock()
	s, ok := r.sessions.Get(name)
	if ok {
		r.sessions.Delete(name)
	}
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	return r.persist(s)
}

func (r *Registry) persist(s *Session) error {
	s.close()

	path := filepath.Join(r.dir, s.name+".raw")
	f, err := os.OpenFile(path, r.openFlags(path), 0o644)
	if err != nil {
		prometheus.IncSessionPersist(false)
		return pkgerrors.Wrapf(err, "opening recording file %s", path)
	}
	defer f.Close()

	written, err := s.WriteTo(f)
	if err != nil {
		prometheus.IncSessionPersist(false)
		return pkgerrors.Wrapf(err, "writing recording file %s", path)
	}

	prometheus.IncSessionPersist(true)
	r.logger.Infow("recording session persisted",
		"session", s.name,
		"file", path,
		"packets", s.Len(),
		"bytes", written,
	)
	return nil
}

// openFlags truncates on the first write to a file in this run and appends
// afterwards.
func (r *Registry) openFlags(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	flags := os.O_CREATE | os.O_WRONLY
	if r.appended[path] {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
		r.appended[path] = true
	}
	return flags
}

// AppendBytesToFile writes raw bytes with the registry's first-write-truncate
// semantics, for collaborators that dump non-packet buffers.
func (r *Registry) AppendBytesToFile(b []byte, name string) error {
	if len(b) == 0 {
		return nil
	}

	path := filepath.Join(r.dir, name)
	f, err := os.OpenFile(path, r.openFlags(path), 0o644)
	if err != nil {
		return pkgerrors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	if _, err = f.Write(b); err != nil {
		return pkgerrors.Wrapf(err, "writing %s", path)
	}
	return nil
}

// Shutdown persists all remaining sessions, oldest first.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	remaining := make([]*Session, 0, r.sessions.Len())
	for el := r.sessions.Front(); el != nil; el = el.Next() {
		remaining = append(remaining, el.Value)
	}
	r.sessions = orderedmap.NewOrderedMap[string, *Session]()
	r.mu.Unlock()

	wp := workerpool.New(persistWorkers)
	for _, s := range remaining {
		s := s
		wp.Submit(func() {
			if err := r.persist(s); err != nil {
				r.logger.Errorw("could not persist recording session", err, "session", s.Name())
			}
		})
	}
	wp.StopWait()
}
