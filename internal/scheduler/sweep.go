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

package scheduler

import (
	"context"
	"time"

	"github.com/agentforge/corehub/internal/queue"
	"github.com/agentforge/corehub/internal/workerregistry"
	"github.com/agentforge/corehub/pkg/corerr"
	"github.com/agentforge/corehub/pkg/log"
	"github.com/agentforge/corehub/pkg/metrics"
)

// StaleClaimSweeper implements spec.md §4.3's "subtle part": a claimed job
// is stale when its last activity predates ttl, UNLESS its owning worker is
// still reported busy with this exact job and heartbeating within ttl — in
// which case an activity-aware grace window of
// min(executionBudget+finalizationBudget, ttl*5) applies before the claim is
// treated as stale. Grounded on the teacher's scheduler.LeaseManager /
// jobstore.ListJobIDsWithExpiredClaim reclaim pattern, generalized past a
// flat TTL.
type StaleClaimSweeper struct {
	jobs     queue.Engine[queue.JobPayload]
	registry *workerregistry.Registry
	ttl      time.Duration
	limit    int
	logger   *log.Logger
}

// NewStaleClaimSweeper creates a sweeper bound to the Jobs queue and the
// shared worker registry.
func NewStaleClaimSweeper(jobs queue.Engine[queue.JobPayload], registry *workerregistry.Registry, ttl time.Duration, limit int, logger *log.Logger) *StaleClaimSweeper {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	if limit <= 0 {
		limit = 500
	}
	return &StaleClaimSweeper{jobs: jobs, registry: registry, ttl: ttl, limit: limit, logger: logger}
}

// graceWindow computes spec.md §4.3's activity-aware grace:
// min(executionBudget+finalizationBudget, ttl*5).
func graceWindow(ttl time.Duration, it *queue.Item[queue.JobPayload]) time.Duration {
	budget := time.Duration(it.ExecutionBudgetMs+it.FinalizationBudgetMs) * time.Millisecond
	cap := ttl * 5
	if budget <= 0 || budget > cap {
		return cap
	}
	return budget
}

// lastActivity returns the most recent of FirstActivityAt, StartedAt,
// ClaimedAt (spec.md §4.3: "max of job-log entries, firstLogAt, startedAt,
// claimedAt").
func lastActivity(it *queue.Item[queue.JobPayload]) *time.Time {
	var best *time.Time
	for _, t := range []*time.Time{it.ClaimedAt, it.StartedAt, it.FirstActivityAt} {
		if t != nil && (best == nil || t.After(*best)) {
			best = t
		}
	}
	return best
}

// Sweep runs one pass: for every claimed job, applies the activity-aware
// rule and auto-fails jobs deemed stale. Returns the recovered jobs.
func (s *StaleClaimSweeper) Sweep(ctx context.Context) ([]*queue.Item[queue.JobPayload], error) {
	claimed, err := s.jobs.ListClaimed(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var recovered []*queue.Item[queue.JobPayload]
	for _, it := range claimed {
		if len(recovered) >= s.limit {
			break
		}
		last := lastActivity(it)
		if last == nil {
			last = &it.EnqueuedAt
		}
		elapsed := now.Sub(*last)
		if elapsed < s.ttl {
			continue
		}

		effectiveTTL := s.ttl
		if w := s.registry.Get(it.OwnerID); w != nil && w.CurrentJobID == it.ID && w.Online(now, s.registry.TTL()) {
			effectiveTTL = graceWindow(s.ttl, it)
		}
		if elapsed < effectiveTTL {
			continue
		}

		blob := corerr.ToBlob(corerr.New(corerr.KindBudgetExhausted, "auto-failed after stale worker claim").
			WithDetailf("ttl=%s last_activity=%s elapsed=%s", s.ttl, last.Format(time.RFC3339), elapsed))
		if err := s.jobs.Fail(ctx, it.ID, blob); err != nil {
			if s.logger != nil {
				s.logger.Warn("stale-claim sweep: fail failed", "job_id", it.ID, "error", err)
			}
			continue
		}
		s.registry.ClearCurrentJobIfMatches(it.OwnerID, it.ID)
		metrics.StaleRecoveredTotal.WithLabelValues("jobs").Inc()
		recovered = append(recovered, it)
	}
	return recovered, nil
}

// Run starts the sweep as a supervised background loop, ticking every
// interval until ctx is cancelled (grounded on the teacher's
// Scheduler.Start/Stop shape).
func (s *StaleClaimSweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && s.logger != nil {
				s.logger.Warn("stale-claim sweep failed", "error", err)
			}
		}
	}
}
