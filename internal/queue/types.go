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

// Package queue implements the one durable state machine shared by the
// Requests, Jobs, Completions and MergeJobs queues: pending -> claimed ->
// {completed, failed, skipped}, with atomic claim, idempotent enqueue and
// recovery of stale claims.
package queue

import (
	"time"

	"github.com/agentforge/corehub/pkg/corerr"
)

// Status is a queue item's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped" // merge queue only
)

// Priority is the three-tier job priority; lower value claims first.
type Priority int

const (
	PriorityInteractive Priority = 0
	PriorityNormal      Priority = 1
	PriorityBackground  Priority = 2
)

// String renders the priority the way callers and logs expect it.
func (p Priority) String() string {
	switch p {
	case PriorityInteractive:
		return "interactive"
	case PriorityNormal:
		return "normal"
	case PriorityBackground:
		return "background"
	default:
		return "unknown"
	}
}

// ParsePriority maps the wire string back to a Priority; unknown values
// default to PriorityNormal.
func ParsePriority(s string) Priority {
	switch s {
	case "interactive":
		return PriorityInteractive
	case "background":
		return PriorityBackground
	default:
		return PriorityNormal
	}
}

// Item is a generic queue record; T is the opaque, queue-specific payload
// (JobPayload, CompletionPayload, MergeJobPayload, RequestPayload).
type Item[T any] struct {
	ID        string
	SessionID string
	Status    Status
	OwnerID   string
	Payload   T
	Error     *corerr.Blob

	EnqueuedAt      time.Time
	ClaimedAt       *time.Time
	StartedAt       *time.Time
	FirstActivityAt *time.Time
	CompletedAt     *time.Time
	FailedAt        *time.Time
	DurationMs      int64

	Attempts    int
	MaxAttempts int

	// CancelRequestedAt is set by RequestCancel and leaves Status unchanged;
	// cmd/worker polls it between steps and, if non-nil, stops and reports
	// the job failed with message "cancelled" (mirroring the teacher's
	// Job.CancelRequestedAt).
	CancelRequestedAt *time.Time

	// Scheduling metadata. Not every queue uses every field: Requests use
	// none of them, Jobs use all, MergeJobs use Priority only, Completions
	// use none (spec.md §3's "Jobs add ..." / "Completions add ...").
	Priority             Priority
	QueueClass           string
	TargetOwner          string
	RequiredCapabilities []string
	QueueWaitBudgetMs    int64
	ExecutionBudgetMs    int64
	FinalizationBudgetMs int64
	TaskID               string
	Kind                 string

	TenantID       string
	IdempotencyKey string
	UniqueKey      string // drives idempotent enqueue dedup

	seq int64 // row-insertion sequence, breaks createdAt ties (spec.md §5)
}

// Clone returns a deep-enough copy for safe hand-off across the API
// boundary (payload itself is copied by value since T is expected to be a
// plain struct).
func (it *Item[T]) Clone() *Item[T] {
	cp := *it
	if it.Error != nil {
		e := *it.Error
		cp.Error = &e
	}
	if it.RequiredCapabilities != nil {
		cp.RequiredCapabilities = append([]string(nil), it.RequiredCapabilities...)
	}
	return &cp
}

// Result is what complete(id, result) records.
type Result struct {
	Summary   string
	Artifacts []byte
}
