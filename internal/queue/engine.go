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

package queue

import (
	"context"
	"time"

	"github.com/agentforge/corehub/pkg/corerr"
)

// ErrorBlob is the persisted {message, detail} shape for a failed item's
// error column (spec.md §3/§7).
type ErrorBlob = corerr.Blob

// EnqueueResult is what enqueue returns to the caller (spec.md §4.2).
type EnqueueResult struct {
	ID            string
	QueuePosition int
	ETAMs         int64
	Created       bool // false when an existing item with the same UniqueKey was found
}

// Engine is the one abstraction Requests, Jobs, Completions and MergeJobs
// all instantiate. Implementations (memory, sqlite) must make Claim,
// Complete, Fail and Requeue atomic with respect to concurrent callers.
type Engine[T any] interface {
	// Enqueue inserts item (ID/EnqueuedAt/Status are assigned if zero).
	// If item.UniqueKey is non-empty and already present, the existing
	// item's id is returned with Created=false (idempotent enqueue,
	// spec.md §4.2).
	Enqueue(ctx context.Context, item *Item[T]) (EnqueueResult, error)
	// Claim selects the next pending item per the engine's ClaimPolicy and
	// the singleton rule, and atomically flips it to claimed. Returns nil,
	// nil when nothing is eligible.
	Claim(ctx context.Context, ownerID string, opts ClaimOptions) (*Item[T], error)
	// Complete requires the item to currently be claimed.
	Complete(ctx context.Context, id string, result Result) error
	// Fail requires the item to currently be claimed.
	Fail(ctx context.Context, id string, errBlob ErrorBlob) error
	// Skip marks a claimed item skipped (merge queue only, spec.md §3):
	// attempts exhausted or the underlying work no longer applies (branch
	// deleted, already merged). Requires the item to currently be claimed.
	Skip(ctx context.Context, id string, errBlob ErrorBlob) error
	// Requeue flips a failed/skipped item back to pending, preserving
	// Attempts.
	Requeue(ctx context.Context, id string) error
	// RecoverStale auto-fails claimed items whose last activity (the later
	// of ClaimedAt and FirstActivityAt) is older than ttl, bounded by limit (<=0 uses a 500 default). Returns the recovered
	// items.
	RecoverStale(ctx context.Context, ttl time.Duration, limit int) ([]*Item[T], error)
	// Get returns nil, nil if id is unknown.
	Get(ctx context.Context, id string) (*Item[T], error)
	// CountsByStatus returns a count per Status via a single grouped scan.
	CountsByStatus(ctx context.Context) (map[Status]int, error)
	// MarkActivity stamps FirstActivityAt (if unset) for a claimed item,
	// used by the stale-recovery activity-aware grace window (spec.md
	// §4.3).
	MarkActivity(ctx context.Context, id string) error
	// ListClaimed returns every currently-claimed item, for callers (the
	// scheduler's stale-claim sweep) that need to apply a policy more
	// nuanced than a flat TTL.
	ListClaimed(ctx context.Context) ([]*Item[T], error)
	// ListTerminal returns completed/failed/skipped items that reached a
	// terminal state at or after since, bounded by limit (<=0 uses 1000).
	// Used by the SLO tracker's sliding-window summary.
	ListTerminal(ctx context.Context, since time.Time, limit int) ([]*Item[T], error)
	// RequestCancel stamps CancelRequestedAt on id, regardless of its current
	// status (the owner may not have claimed it yet). It does not change the
	// item's status: the owner polls the field and finishes the item itself
	// (cmd/worker reports a cancelled job failed). Returns
	// corerr.ErrNotFound if id is unknown.
	RequestCancel(ctx context.Context, id string) error
	Close() error
}
