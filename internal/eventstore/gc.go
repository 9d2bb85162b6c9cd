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
	"fmt"
	"time"
)

// GCConfig bounds the optional background compaction sweep. Disabled by
// default; an operator opts in for event logs that have grown past what
// replay-from-cursor-0 should reasonably re-walk.
type GCConfig struct {
	Enabled   bool
	TTL       time.Duration
	BatchSize int
	Interval  time.Duration
}

// DefaultGCConfig returns the conservative, disabled-by-default policy.
func DefaultGCConfig() GCConfig {
	return GCConfig{Enabled: false, TTL: 720 * time.Hour, BatchSize: 1000, Interval: time.Hour}
}

// ArchivedLister is implemented by backends that can identify sessions an
// operator has marked archived (only those are eligible for GC — live
// sessions are never pruned automatically).
type ArchivedLister interface {
	ListArchivedSessions(ctx context.Context) ([]string, error)
	DeleteEventsBefore(ctx context.Context, sessionID string, cutoff time.Time, limit int) (deleted int, err error)
}

// GC deletes event rows older than cfg.TTL for sessions the store reports as
// archived. Mirrors the teacher's tool_invocations GC: list-expired →
// delete, batched, looping until a batch comes back short.
func GC(ctx context.Context, store Store, cfg GCConfig) error {
	if !cfg.Enabled {
		return nil
	}
	lister, ok := store.(ArchivedLister)
	if !ok {
		return nil
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	cutoff := time.Now().UTC().Add(-cfg.TTL)

	sessions, err := lister.ListArchivedSessions(ctx)
	if err != nil {
		return fmt.Errorf("eventstore: list archived sessions: %w", err)
	}
	for _, sessionID := range sessions {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := lister.DeleteEventsBefore(ctx, sessionID, cutoff, batchSize)
			if err != nil {
				return fmt.Errorf("eventstore: gc session %s: %w", sessionID, err)
			}
			if n < batchSize {
				break
			}
		}
	}
	return nil
}
