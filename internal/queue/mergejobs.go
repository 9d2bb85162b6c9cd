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

// MergeJobPayload carries the merge pipeline's inputs (spec.md §4.4
// "Inputs"): the pinned commit the pipeline must validate against before
// attempting the merge. LastError is carried in the payload but the pipeline
// does not write it; a failed attempt's reason goes to the item's Error.
type MergeJobPayload struct {
	Remote    string `json:"remote"`
	Branch    string `json:"branch"`
	HeadSHA   string `json:"headSha"`
	LastError string `json:"lastError,omitempty"`
}

const mergeJobsQueueName = "merge_jobs"

// MergeJobUniqueKey builds the (remote, branch, headSha) dedup key spec.md
// §3 requires for idempotent merge-job enqueue.
func MergeJobUniqueKey(remote, branch, headSHA string) string {
	return fmt.Sprintf("%s|%s|%s", remote, branch, headSHA)
}

// NewMergeJobsMemoryEngine builds the in-memory MergeJobs queue: strictly
// serial, single claim queue-wide, FIFO by (priority DESC, createdAt ASC)
// (spec.md §4.2).
func NewMergeJobsMemoryEngine() Engine[MergeJobPayload] {
	return NewMemoryEngine[MergeJobPayload](mergeJobsQueueName, FIFOPolicy[MergeJobPayload](), SingletonGlobal, 10, nil)
}

// NewMergeJobsSQLiteEngine builds the durable MergeJobs queue over a shared
// db.
func NewMergeJobsSQLiteEngine(db *sql.DB) Engine[MergeJobPayload] {
	return NewSQLiteEngine[MergeJobPayload](db, mergeJobsQueueName, FIFOPolicy[MergeJobPayload](), SingletonGlobal, 10, nil)
}
