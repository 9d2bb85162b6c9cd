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

// RequestPayload is what the Requests queue carries: a raw planner-bound
// ask — free text plus the dynamic kind-tagged params blob (spec.md §9
// "Dynamic payload blobs"). The planner-agent is the sole consumer; the
// core never interprets Text or Params itself.
//
// OwnerAgentID and IdempotencyKey are optional: a client that wants
// retry-safe submission sets both and the caller composes them into
// RequestUniqueKey before Enqueue (SPEC_FULL.md §3 "IdempotencyKey",
// mirroring the teacher's GetByAgentAndIdempotencyKey).
type RequestPayload struct {
	Text           string         `json:"text"`
	Kind           string         `json:"kind"`
	Params         map[string]any `json:"params,omitempty"`
	OwnerAgentID   string         `json:"ownerAgentId,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
}

const requestsQueueName = "requests"

// RequestUniqueKey builds the (ownerAgentID, idempotencyKey) dedup key for
// the Requests queue. Callers that don't supply an idempotencyKey pass it
// empty to RequestPayload and never call this — every such request is
// treated as distinct, since an empty UniqueKey opts an item out of dedup
// entirely (Engine.Enqueue).
func RequestUniqueKey(ownerAgentID, idempotencyKey string) string {
	return fmt.Sprintf("%s|%s", ownerAgentID, idempotencyKey)
}

// NewRequestsMemoryEngine builds the in-memory Requests queue: plain FIFO,
// one claim per owner. Dedup is opt-in per request via RequestUniqueKey —
// most requests carry no idempotencyKey and are never deduped.
func NewRequestsMemoryEngine() Engine[RequestPayload] {
	return NewMemoryEngine[RequestPayload](requestsQueueName, SimplePolicy[RequestPayload](), SingletonPerOwner, 1, nil)
}

// NewRequestsSQLiteEngine builds the durable Requests queue over a shared db
// (see OpenSQLite).
func NewRequestsSQLiteEngine(db *sql.DB) Engine[RequestPayload] {
	return NewSQLiteEngine[RequestPayload](db, requestsQueueName, SimplePolicy[RequestPayload](), SingletonPerOwner, 1, nil)
}
