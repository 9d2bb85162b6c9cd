// Copyright 2026 fanjia1024
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

package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/agentforge/corehub/pkg/metrics"
)

// memStore is the single-process implementation: a map of session rows plus
// one shared, globally monotonic cursor counter (spec.md §3: "per-store, not
// per-session").
type memStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	events   map[string][]Event
	cursor   int64
}

// NewMemStore creates an in-memory Store, used for tests and by cmd/hub
// whenever event_store.type is anything other than "sqlite".
func NewMemStore() Store {
	return &memStore{
		sessions: make(map[string]*Session),
		events:   make(map[string][]Event),
	}
}

func (s *memStore) CreateSession(ctx context.Context, id string, label string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		return false, nil
	}
	s.sessions[id] = &Session{ID: id, CreatedAt: time.Now().UTC(), Label: label}
	return true, nil
}

func (s *memStore) GetSession(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *memStore) Append(ctx context.Context, sessionID string, kind Kind, envelope []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return 0, ErrInvariantViolation
	}
	s.cursor++
	env := make([]byte, len(envelope))
	copy(env, envelope)
	ev := Event{Cursor: s.cursor, SessionID: sessionID, Kind: kind, Timestamp: time.Now().UTC(), Envelope: env}
	s.events[sessionID] = append(s.events[sessionID], ev)
	metrics.EventAppendTotal.WithLabelValues(string(kind)).Inc()
	metrics.EventStoreCursor.Set(float64(s.cursor))
	return ev.Cursor, nil
}

func (s *memStore) EventsAfter(ctx context.Context, sessionID string, afterCursor int64, limit int) ([]Event, error) {
	limit = clampLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.events[sessionID]
	out := make([]Event, 0, limit)
	for _, ev := range all {
		if ev.Cursor <= afterCursor {
			continue
		}
		cp := ev
		cp.Envelope = append([]byte(nil), ev.Envelope...)
		out = append(out, cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) LatestCursor(ctx context.Context, sessionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.events[sessionID]
	if len(all) == 0 {
		return 0, nil
	}
	return all[len(all)-1].Cursor, nil
}

func (s *memStore) Close() error { return nil }
