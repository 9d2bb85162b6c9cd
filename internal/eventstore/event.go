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

// Package eventstore is the durable, cursor-indexed log of everything that
// happens in a session. Producers call Append before any broadcast;
// consumers call EventsAfter to catch up after (re)connecting.
package eventstore

import "time"

// Kind is the closed set of event kinds the store will persist.
type Kind string

const (
	KindChat            Kind = "chat"
	KindTaskLifecycle    Kind = "task_lifecycle"
	KindToolInvocation   Kind = "tool_invocation"
	KindJobLifecycle     Kind = "job_lifecycle"
	KindApproval         Kind = "approval"
	KindAgentStatus      Kind = "agent_status"
)

// Event is a single immutable, persisted record. Cursor is monotonically
// increasing per store (not per session) and uniquely orders the event
// relative to every other event the store has ever persisted.
type Event struct {
	Cursor    int64     `json:"cursor"`
	SessionID string    `json:"sessionId"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Envelope  []byte    `json:"envelope"`
}

// Session is a long-lived conversation/event channel addressed by an
// operator-chosen id. Sessions never expire; pruning is an operator action.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Label     string    `json:"label,omitempty"`
}
