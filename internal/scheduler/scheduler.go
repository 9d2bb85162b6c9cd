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

// Package scheduler implements the job queue's priority/ETA model, per-job
// budgets, the activity-aware stale-claim sweep and the SLO tracker
// (spec.md §4.3).
package scheduler

import (
	"time"

	"github.com/agentforge/corehub/internal/queue"
)

// Budgets mirrors the three budget fields spec.md §4.3 attaches to a job;
// kept here as a named bundle for callers that construct an enqueue request,
// even though the values are ultimately stored directly on queue.Item.
type Budgets struct {
	QueueWaitBudgetMs    int64
	ExecutionBudgetMs    int64
	FinalizationBudgetMs int64
}

// DefaultBudgets returns spec.md §4.3's default queue-wait SLAs per tier;
// Execution/Finalization budgets are deployment-specific and left zero
// (meaning "no cap enforced by the core" — the sandbox runner enforces its
// own wall-clock cap per spec.md).
func DefaultBudgets(priority queue.Priority) Budgets {
	switch priority {
	case queue.PriorityInteractive:
		return Budgets{QueueWaitBudgetMs: 20_000}
	case queue.PriorityBackground:
		return Budgets{QueueWaitBudgetMs: 240_000}
	default:
		return Budgets{QueueWaitBudgetMs: 90_000}
	}
}

// SlotMs bundles the three per-tier slot durations used to compute ETA
// (spec.md §4.3: "ETA for position p at priority P is (p-1) x slotMs(P)").
type SlotMs struct {
	Interactive int64
	Normal      int64
	Background  int64
}

// ETAFunc returns a queue.ETAFunc[queue.JobPayload] bound to these slot
// durations, for wiring into queue.NewJobsMemoryEngine/NewJobsSQLiteEngine.
func (s SlotMs) ETAFunc() queue.ETAFunc[queue.JobPayload] {
	return queue.JobETA(s.Interactive, s.Normal, s.Background)
}

// QueueWaitMs reports how long an item has been sitting since enqueue, as of
// now; for a claimed item it is measured up to ClaimedAt instead.
func QueueWaitMs[T any](it *queue.Item[T], now time.Time) int64 {
	end := now
	if it.ClaimedAt != nil {
		end = *it.ClaimedAt
	}
	if end.Before(it.EnqueuedAt) {
		return 0
	}
	return end.Sub(it.EnqueuedAt).Milliseconds()
}
