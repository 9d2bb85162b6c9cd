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

	"github.com/agentforge/corehub/pkg/corerr"
)

// DefaultLimit and MaxLimit bound EventsAfter per spec.md §4.1.
const (
	DefaultLimit = 1000
	MaxLimit     = 10000
)

// Store is the durable event log contract shared by every backend.
// append is linearizable w.r.t. any other append for the same store
// instance (wrapped in a single transaction on the SQLite backend).
type Store interface {
	// CreateSession creates the session row idempotently; created is false
	// when the session already existed.
	CreateSession(ctx context.Context, id string, label string) (created bool, err error)
	// GetSession returns nil, nil if the session does not exist.
	GetSession(ctx context.Context, id string) (*Session, error)
	// Append persists event and returns its assigned cursor. Returns a
	// corerr.KindFatal InvariantViolation if the session row is missing.
	Append(ctx context.Context, sessionID string, kind Kind, envelope []byte) (cursor int64, err error)
	// EventsAfter returns at most limit events for sessionID with
	// cursor > afterCursor, in cursor order. limit <= 0 uses DefaultLimit;
	// limit > MaxLimit is clamped to MaxLimit.
	EventsAfter(ctx context.Context, sessionID string, afterCursor int64, limit int) ([]Event, error)
	// LatestCursor returns 0 when the session has no events.
	LatestCursor(ctx context.Context, sessionID string) (int64, error)
	// Close releases any held resources (file handles, connection pools).
	Close() error
}

// ErrInvariantViolation is returned when an event write targets a session
// row that does not exist; the hub is required to create the session first.
var ErrInvariantViolation = corerr.New(corerr.KindFatal, "eventstore: invariant violation: event write with no session row")

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
