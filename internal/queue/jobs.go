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

import "database/sql"

// JobPayload is the opaque instruction handed to the sandboxed runner
// (spec.md §1 "the core treats 'run the job payload' ... as opaque
// callbacks"); the core never interprets Instruction or Params, only
// forwards them.
type JobPayload struct {
	Instruction string         `json:"instruction"`
	RepoRef     string         `json:"repoRef,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

const jobsQueueName = "jobs"

// JobETA estimates wait time (ms) for a job sitting at the 1-based position
// among pending jobs as (position-1) x the tier's configured slot duration,
// so the head of the queue gets 0 (spec.md §5's scheduler slot model —
// SlotMs per tier).
func JobETA(slotMsInteractive, slotMsNormal, slotMsBackground int64) ETAFunc[JobPayload] {
	return func(position int, item *Item[JobPayload]) int64 {
		if position < 1 {
			position = 1
		}
		var slot int64
		switch item.Priority {
		case PriorityInteractive:
			slot = slotMsInteractive
		case PriorityBackground:
			slot = slotMsBackground
		default:
			slot = slotMsNormal
		}
		return int64(position-1) * slot
	}
}

// NewJobsMemoryEngine builds the in-memory Jobs queue: targetOwner affinity
// then priority tier then createdAt, one claim per worker (many workers may
// each hold a claim concurrently).
func NewJobsMemoryEngine(eta ETAFunc[JobPayload]) Engine[JobPayload] {
	return NewMemoryEngine[JobPayload](jobsQueueName, JobPolicy(), SingletonPerOwner, 3, eta)
}

// NewJobsSQLiteEngine builds the durable Jobs queue over a shared db.
func NewJobsSQLiteEngine(db *sql.DB, eta ETAFunc[JobPayload]) Engine[JobPayload] {
	return NewSQLiteEngine[JobPayload](db, jobsQueueName, JobPolicy(), SingletonPerOwner, 3, eta)
}
