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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/corehub/pkg/corerr"
	"github.com/agentforge/corehub/pkg/metrics"
)

// ETAFunc computes the ETA (ms) for an item sitting at the given 1-based
// queue position; used only to populate EnqueueResult.ETAMs.
type ETAFunc[T any] func(position int, item *Item[T]) int64

// memEngine is the in-process implementation: map + mutex, mirroring the
// teacher's JobStoreMem (map + pending slice), generalized to the shared
// pending -> claimed -> terminal machine and parameterized by ClaimPolicy.
type memEngine[T any] struct {
	mu                 sync.Mutex
	items              map[string]*Item[T]
	uniqueIndex        map[string]string
	seq                int64
	policy             ClaimPolicy[T]
	singleton          Singleton
	defaultMaxAttempts int
	etaFunc            ETAFunc[T]
	queueName          string
}

// NewMemoryEngine creates the in-memory Engine for one queue instantiation.
func NewMemoryEngine[T any](queueName string, policy ClaimPolicy[T], singleton Singleton, defaultMaxAttempts int, eta ETAFunc[T]) Engine[T] {
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 1
	}
	return &memEngine[T]{
		items:              make(map[string]*Item[T]),
		uniqueIndex:        make(map[string]string),
		policy:             policy,
		singleton:          singleton,
		defaultMaxAttempts: defaultMaxAttempts,
		etaFunc:            eta,
		queueName:          queueName,
	}
}

func (e *memEngine[T]) Enqueue(ctx context.Context, item *Item[T]) (EnqueueResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if item.UniqueKey != "" {
		if existingID, ok := e.uniqueIndex[item.UniqueKey]; ok {
			return EnqueueResult{ID: existingID, Created: false}, nil
		}
	}

	cp := item.Clone()
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	cp.Status = StatusPending
	cp.EnqueuedAt = time.Now().UTC()
	cp.Attempts = 0
	if cp.MaxAttempts <= 0 {
		cp.MaxAttempts = e.defaultMaxAttempts
	}
	e.seq++
	cp.seq = e.seq

	e.items[cp.ID] = cp
	if cp.UniqueKey != "" {
		e.uniqueIndex[cp.UniqueKey] = cp.ID
	}

	position := e.pendingPositionLocked(cp)
	var eta int64
	if e.etaFunc != nil {
		eta = e.etaFunc(position, cp)
	}
	e.refreshDepthMetricsLocked()
	return EnqueueResult{ID: cp.ID, QueuePosition: position, ETAMs: eta, Created: true}, nil
}

// pendingPositionLocked returns target's 1-based rank among pending items
// under the priority tiering used by jobs; other queues just count
// createdAt order. Callers must hold e.mu.
func (e *memEngine[T]) pendingPositionLocked(target *Item[T]) int {
	position := 0
	for _, it := range e.items {
		if it.Status != StatusPending {
			continue
		}
		if it.Priority < target.Priority || (it.Priority == target.Priority && (it.EnqueuedAt.Before(target.EnqueuedAt) || (it.EnqueuedAt.Equal(target.EnqueuedAt) && it.seq <= target.seq))) {
			position++
		}
	}
	if position == 0 {
		position = 1
	}
	return position
}

func (e *memEngine[T]) Claim(ctx context.Context, ownerID string, opts ClaimOptions) (*Item[T], error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.singleton == SingletonGlobal {
		for _, it := range e.items {
			if it.Status == StatusClaimed {
				metrics.ClaimTotal.WithLabelValues(e.queueName, "empty").Inc()
				return nil, nil
			}
		}
	} else {
		for _, it := range e.items {
			if it.Status == StatusClaimed && it.OwnerID == ownerID {
				metrics.ClaimTotal.WithLabelValues(e.queueName, "empty").Inc()
				return nil, nil
			}
		}
	}

	var candidates []*Item[T]
	for _, it := range e.items {
		if it.Status != StatusPending {
			continue
		}
		if opts.TenantID != "" && it.TenantID != "" && it.TenantID != opts.TenantID {
			continue
		}
		candidates = append(candidates, it)
	}

	best := e.policy(candidates, ownerID, opts)
	if best == nil {
		metrics.ClaimTotal.WithLabelValues(e.queueName, "empty").Inc()
		return nil, nil
	}

	now := time.Now().UTC()
	best.Status = StatusClaimed
	best.OwnerID = ownerID
	best.ClaimedAt = &now
	best.StartedAt = &now
	best.Attempts++
	metrics.ClaimTotal.WithLabelValues(e.queueName, "hit").Inc()
	e.refreshDepthMetricsLocked()
	return best.Clone(), nil
}

func (e *memEngine[T]) Complete(ctx context.Context, id string, result Result) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.items[id]
	if !ok {
		return corerr.ErrNotFound
	}
	if it.Status != StatusClaimed {
		return corerr.ErrNotClaimed
	}
	now := time.Now().UTC()
	it.Status = StatusCompleted
	it.CompletedAt = &now
	it.DurationMs = durationSince(it.ClaimedAt, now)
	e.refreshDepthMetricsLocked()
	return nil
}

func (e *memEngine[T]) Fail(ctx context.Context, id string, errBlob ErrorBlob) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.items[id]
	if !ok {
		return corerr.ErrNotFound
	}
	if it.Status != StatusClaimed {
		return corerr.ErrNotClaimed
	}
	now := time.Now().UTC()
	it.Status = StatusFailed
	it.FailedAt = &now
	it.DurationMs = durationSince(it.ClaimedAt, now)
	blob := errBlob
	it.Error = &blob
	e.refreshDepthMetricsLocked()
	return nil
}

func (e *memEngine[T]) Skip(ctx context.Context, id string, errBlob ErrorBlob) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.items[id]
	if !ok {
		return corerr.ErrNotFound
	}
	if it.Status != StatusClaimed {
		return corerr.ErrNotClaimed
	}
	now := time.Now().UTC()
	it.Status = StatusSkipped
	it.FailedAt = &now
	it.DurationMs = durationSince(it.ClaimedAt, now)
	blob := errBlob
	it.Error = &blob
	e.refreshDepthMetricsLocked()
	return nil
}

func (e *memEngine[T]) Requeue(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.items[id]
	if !ok {
		return corerr.ErrNotFound
	}
	if it.Status != StatusFailed && it.Status != StatusSkipped {
		return corerr.New(corerr.KindValidation, "queue: requeue requires failed or skipped status")
	}
	it.Status = StatusPending
	it.ClaimedAt = nil
	it.StartedAt = nil
	it.FirstActivityAt = nil
	it.CompletedAt = nil
	it.FailedAt = nil
	it.Error = nil
	it.CancelRequestedAt = nil
	it.EnqueuedAt = time.Now().UTC()
	e.seq++
	it.seq = e.seq
	e.refreshDepthMetricsLocked()
	return nil
}

func (e *memEngine[T]) RecoverStale(ctx context.Context, ttl time.Duration, limit int) ([]*Item[T], error) {
	if limit <= 0 {
		limit = 500
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now().UTC()
	var recovered []*Item[T]
	for _, it := range e.items {
		if len(recovered) >= limit {
			break
		}
		if it.Status != StatusClaimed {
			continue
		}
		last := it.ClaimedAt
		if it.FirstActivityAt != nil && it.FirstActivityAt.After(*last) {
			last = it.FirstActivityAt
		}
		if last == nil || now.Sub(*last) < ttl {
			continue
		}
		it.Status = StatusFailed
		it.FailedAt = &now
		it.DurationMs = durationSince(it.ClaimedAt, now)
		blob := corerr.ToBlob(corerr.New(corerr.KindBudgetExhausted, "auto-failed after stale worker claim").WithDetailf("ttl=%s last_activity=%s", ttl, last.Format(time.RFC3339)))
		it.Error = &blob
		recovered = append(recovered, it.Clone())
		metrics.StaleRecoveredTotal.WithLabelValues(e.queueName).Inc()
	}
	e.refreshDepthMetricsLocked()
	return recovered, nil
}

func (e *memEngine[T]) MarkActivity(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.items[id]
	if !ok {
		return corerr.ErrNotFound
	}
	if it.FirstActivityAt == nil {
		now := time.Now().UTC()
		it.FirstActivityAt = &now
	}
	return nil
}

func (e *memEngine[T]) ListClaimed(ctx context.Context) ([]*Item[T], error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Item[T]
	for _, it := range e.items {
		if it.Status == StatusClaimed {
			out = append(out, it.Clone())
		}
	}
	return out, nil
}

func (e *memEngine[T]) Get(ctx context.Context, id string) (*Item[T], error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.items[id]
	if !ok {
		return nil, nil
	}
	return it.Clone(), nil
}

func (e *memEngine[T]) CountsByStatus(ctx context.Context) (map[Status]int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	counts := make(map[Status]int)
	for _, it := range e.items {
		counts[it.Status]++
	}
	return counts, nil
}

func (e *memEngine[T]) RequestCancel(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.items[id]
	if !ok {
		return corerr.ErrNotFound
	}
	now := time.Now().UTC()
	it.CancelRequestedAt = &now
	return nil
}

func (e *memEngine[T]) ListTerminal(ctx context.Context, since time.Time, limit int) ([]*Item[T], error) {
	if limit <= 0 {
		limit = 1000
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Item[T]
	for _, it := range e.items {
		if len(out) >= limit {
			break
		}
		var terminalAt *time.Time
		switch it.Status {
		case StatusCompleted:
			terminalAt = it.CompletedAt
		case StatusFailed:
			terminalAt = it.FailedAt
		case StatusSkipped:
			terminalAt = it.FailedAt
		default:
			continue
		}
		if terminalAt == nil || terminalAt.Before(since) {
			continue
		}
		out = append(out, it.Clone())
	}
	return out, nil
}

func (e *memEngine[T]) Close() error { return nil }

// refreshDepthMetricsLocked updates the queue-depth gauge; callers must
// hold e.mu.
func (e *memEngine[T]) refreshDepthMetricsLocked() {
	counts := make(map[Status]int)
	for _, it := range e.items {
		counts[it.Status]++
	}
	for status, n := range counts {
		metrics.QueueDepth.WithLabelValues(e.queueName, string(status)).Set(float64(n))
	}
}

func durationSince(start *time.Time, end time.Time) int64 {
	if start == nil {
		return 0
	}
	return end.Sub(*start).Milliseconds()
}
