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

import "context"

// Snapshot is a consumer-opaque compacted view of a session's state at a
// given cursor. Replay always works from cursor 0; a snapshot is purely a
// performance escape hatch for very long sessions.
type Snapshot struct {
	SessionID string
	AtCursor  int64
	Payload   []byte
}

// SnapshotStore is an optional extension a Store backend may implement.
// Consumers that hold one may resume EventsAfter from AtCursor instead of
// replaying from the beginning of the log.
type SnapshotStore interface {
	Store
	PutSnapshot(ctx context.Context, snap Snapshot) error
	LatestSnapshot(ctx context.Context, sessionID string) (*Snapshot, error)
}
