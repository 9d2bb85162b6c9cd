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

package httpapi

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/protocol/http1/ext"

	"github.com/agentforge/corehub/internal/eventstore"
)

// createSessionBody is POST /sessions's body (spec.md §6: "{id?}" — an
// empty/absent id mints a fresh one).
type createSessionBody struct {
	ID string `json:"id,omitempty"`
}

func (s *Server) createSession() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		var body createSessionBody
		_ = c.Bind(&body) // an empty body is valid: the hub mints an id

		id, created, err := s.deps.Hub.CreateOrJoin(ctx, body.ID)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(consts.StatusOK, map[string]any{"id": id, "created": created})
	}
}

// postMessageBody is POST /sessions/:id/messages's body (spec.md §6:
// "{text}").
type postMessageBody struct {
	Text string `json:"text"`
}

func (s *Server) postMessage() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		sessionID := c.Param("id")
		var body postMessageBody
		if err := c.Bind(&body); err != nil || body.Text == "" {
			c.JSON(consts.StatusBadRequest, map[string]string{"error": "text required"})
			return
		}
		cursor, err := s.deps.Hub.PostMessage(ctx, sessionID, body.Text)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(consts.StatusOK, map[string]any{"cursor": cursor})
	}
}

// postCommandBody is POST /sessions/:id/commands's body (spec.md §6:
// "{kind, envelope}" — envelope is an arbitrary JSON object, passed through
// verbatim as the event's payload).
type postCommandBody struct {
	Kind     string          `json:"kind"`
	Envelope json.RawMessage `json:"envelope"`
}

func (s *Server) postCommand() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		sessionID := c.Param("id")
		var body postCommandBody
		if err := c.Bind(&body); err != nil || body.Kind == "" {
			c.JSON(consts.StatusBadRequest, map[string]string{"error": "kind required"})
			return
		}
		cursor, err := s.deps.Hub.PostCommand(ctx, sessionID, eventstore.Kind(body.Kind), body.Envelope)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(consts.StatusOK, map[string]any{"cursor": cursor})
	}
}

// streamEvents serves GET /sessions/:id/events as an SSE stream. Per
// SPEC_FULL.md §6 this is hand-rolled over Hertz's chunked response writer
// rather than the teacher's single-shot c.WriteString SSE idiom (the
// teacher's runADK writes exactly one "data: ..." line and returns — our
// stream must stay open and push every subsequent event as it is appended).
func (s *Server) streamEvents() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		sessionID := c.Param("id")
		after := int64(0)
		if q := string(c.Query("after")); q != "" {
			if v, err := strconv.ParseInt(q, 10, 64); err == nil {
				after = v
			}
		}

		events, err := s.deps.Hub.Subscribe(ctx, sessionID, after)
		if err != nil {
			writeErr(c, err)
			return
		}

		c.Response.Header.Set("Content-Type", "text/event-stream")
		c.Response.Header.Set("Cache-Control", "no-cache")
		c.Response.Header.Set("Connection", "keep-alive")
		c.Response.HijackWriter(ext.NewChunkedBodyWriter(&c.Response, c.GetWriter()))
		c.SetStatusCode(consts.StatusOK)

		for {
			select {
			case e, ok := <-events:
				if !ok {
					return
				}
				line, err := json.Marshal(map[string]any{
					"envelope": json.RawMessage(e.Envelope),
					"cursor":   e.Cursor,
					"kind":     e.Kind,
				})
				if err != nil {
					continue
				}
				if _, err := c.Write(append(append([]byte("data: "), line...), '\n', '\n')); err != nil {
					return
				}
				if err := c.Flush(); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

// sessionSubscriberCount returns the hub's live subscriber count for
// sessionID — a thin wrapper, no error path since SubscriberCount never
// fails (it defaults to 0 for an unknown session). GET /stats does not
// include it.
func (s *Server) sessionSubscriberCount(sessionID string) int {
	return s.deps.Hub.SubscriberCount(sessionID)
}
