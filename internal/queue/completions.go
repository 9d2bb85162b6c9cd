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
	"database/sql"
	"fmt"
)

// CompletionPayload is what a worker enqueues once a job's sandboxed payload
// finishes (spec.md §3: "Completions add: commitRef, branchRef, merge
// metadata").
type CompletionPayload struct {
	JobID     string `json:"jobId"`
	CommitRef string `json:"commitRef"`
	BranchRef string `json:"branchRef"`
	Summary   string `json:"summary,omitempty"`
}

const completionsQueueName = "completions"

// CompletionUniqueKey builds the (sessionId, commitRef, branch) dedup key
// spec.md §3 requires for idempotent completion enqueue.
func CompletionUniqueKey(sessionID, commitRef, branch string) string {
	return fmt.Sprintf("%s|%s|%s", sessionID, commitRef, branch)
}

// NewCompletionsMemoryEngine builds the in-memory Completions queue: plain
// FIFO, one claim per owner (the merge pipeline is the sole consumer, so in
// practice SingletonPerOwner behaves like a single-consumer queue).
func NewCompletionsMemoryEngine() Engine[CompletionPayload] {
	return NewMemoryEngine[CompletionPayload](completionsQueueName, SimplePolicy[CompletionPayload](), SingletonPerOwner, 1, nil)
}

// NewCompletionsSQLiteEngine builds the durable Completions queue over a
// shared db.
func NewCompletionsSQLiteEngine(db *sql.DB) Engine[CompletionPayload] {
	return NewSQLiteEngine[CompletionPayload](db, completionsQueueName, SimplePolicy[CompletionPayload](), SingletonPerOwner, 1, nil)
}
