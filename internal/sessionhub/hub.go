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

// Package sessionhub wraps the event store with create-or-join session
// semantics and a live fan-out: append persists first, then the hub looks
// up subscribers for that session and pushes (spec.md §4.4/§4.1's
// persist-before-broadcast invariant). Fan-out is adapted from the
// teacher's jobstore.memoryStore.Watch/notifyWatchersLocked, generalized
// from one job to many concurrently-subscribed sessions.
package sessionhub

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/corehub/internal/eventstore"
	"github.com/agentforge/corehub/pkg/corerr"
	"github.com/agentforge/corehub/pkg/metrics"
)

// sessionIDPattern enforces spec.md §3's "1-64 characters, [a-zA-Z0-9._-]".
var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

const subscriberChanBuffer = 64

// ErrInvalidSessionID is returned by CreateOrJoin when id fails the pattern.
var ErrInvalidSessionID = corerr.New(corerr.KindValidation, "sessionhub: session id must be 1-64 chars of [a-zA-Z0-9._-]")

// Hub is the Session Hub component (spec.md §4.4).
type Hub struct {
	store eventstore.Store

	mu          sync.Mutex
	subscribers map[string][]chan eventstore.Event
}

// New wraps store with create-or-join/fan-out semantics.
func New(store eventstore.Store) *Hub {
	return &Hub{store: store, subscribers: make(map[string][]chan eventstore.Event)}
}

// CreateOrJoin validates and creates id (spec.md §4.4), or reports that it
// already existed. An empty id mints a fresh UUID.
func (h *Hub) CreateOrJoin(ctx context.Context, id string) (sessionID string, created bool, err error) {
	if id == "" {
		id = uuid.New().String()
	}
	if !sessionIDPattern.MatchString(id) {
		return "", false, ErrInvalidSessionID
	}
	created, err = h.store.CreateSession(ctx, id, "")
	if err != nil {
		return "", false, err
	}
	return id, created, nil
}

// PostMessage appends a chat event carrying text and broadcasts it.
func (h *Hub) PostMessage(ctx context.Context, sessionID, text string) (cursor int64, err error) {
	envelope, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return 0, err
	}
	return h.append(ctx, sessionID, eventstore.KindChat, envelope)
}

// PostCommand appends an arbitrary typed event — used by agents/workers to
// emit assistant_message, task_progress, status, etc. (spec.md §4.4).
func (h *Hub) PostCommand(ctx context.Context, sessionID string, kind eventstore.Kind, envelope []byte) (cursor int64, err error) {
	return h.append(ctx, sessionID, kind, envelope)
}

func (h *Hub) append(ctx context.Context, sessionID string, kind eventstore.Kind, envelope []byte) (int64, error) {
	cursor, err := h.store.Append(ctx, sessionID, kind, envelope)
	if err != nil {
		return 0, err
	}
	h.broadcast(eventstore.Event{
		Cursor:    cursor,
		SessionID: sessionID,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Envelope:  envelope,
	})
	return cursor, nil
}

// broadcast fans event out to every live subscriber of its session,
// persist-before-broadcast already satisfied by the caller having awaited
// Append. A subscriber whose buffer is full is dropped — catch-up on
// reconnect is exactly what eventsAfter is for (spec.md §4.4).
func (h *Hub) broadcast(event eventstore.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	chans := h.subscribers[event.SessionID]
	if len(chans) == 0 {
		return
	}
	var still []chan eventstore.Event
	for _, ch := range chans {
		select {
		case ch <- event:
			still = append(still, ch)
		default:
			close(ch)
		}
	}
	if len(still) == 0 {
		delete(h.subscribers, event.SessionID)
	} else {
		h.subscribers[event.SessionID] = still
	}
}

// Subscribe returns a channel that first replays events after afterCursor
// (via eventsAfter) then tails live appends. The channel is closed when ctx
// is cancelled or the caller falls behind and gets dropped. Reconnection is
// transparent: the caller just calls Subscribe again with the last cursor it
// saw (spec.md §4.4 "reconnection is transparent").
func (h *Hub) Subscribe(ctx context.Context, sessionID string, afterCursor int64) (<-chan eventstore.Event, error) {
	// Register the live channel before replaying so no append landing
	// between the catch-up read and channel registration is lost.
	ch := make(chan eventstore.Event, subscriberChanBuffer)
	h.mu.Lock()
	h.subscribers[sessionID] = append(h.subscribers[sessionID], ch)
	count := len(h.subscribers[sessionID])
	h.mu.Unlock()
	metrics.SessionSubscribersGauge.WithLabelValues(sessionID).Set(float64(count))

	backlog, err := h.store.EventsAfter(ctx, sessionID, afterCursor, 0)
	if err != nil {
		h.unsubscribe(sessionID, ch)
		return nil, err
	}

	out := make(chan eventstore.Event, subscriberChanBuffer)
	go func() {
		defer close(out)
		defer h.unsubscribe(sessionID, ch)

		lastSeen := afterCursor
		for _, e := range backlog {
			select {
			case out <- e:
				lastSeen = e.Cursor
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case e, ok := <-ch:
				if !ok {
					return
				}
				if e.Cursor <= lastSeen {
					continue // already delivered via backlog
				}
				select {
				case out <- e:
					lastSeen = e.Cursor
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (h *Hub) unsubscribe(sessionID string, target chan eventstore.Event) {
	h.mu.Lock()
	chans := h.subscribers[sessionID]
	for i, c := range chans {
		if c == target {
			h.subscribers[sessionID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	remaining := len(h.subscribers[sessionID])
	if remaining == 0 {
		delete(h.subscribers, sessionID)
	}
	h.mu.Unlock()
	metrics.SessionSubscribersGauge.WithLabelValues(sessionID).Set(float64(remaining))
}

// SubscriberCount reports how many live subscribers a session currently
// has. GET /stats does not include it.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[sessionID])
}
