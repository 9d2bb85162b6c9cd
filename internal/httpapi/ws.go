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
	"github.com/hertz-contrib/websocket"

	"github.com/agentforge/corehub/internal/eventstore"
)

// wsUpgrader allows any origin: the core has no browser-origin policy of
// its own (callers are expected to sit behind their own gateway), matching
// the httpapi.Middleware.CORS() stance taken for the plain HTTP routes.
var wsUpgrader = websocket.HertzUpgrader{
	CheckOrigin: func(ctx *app.RequestContext) bool { return true },
}

// wsInbound is a client->server frame over the session websocket: either a
// chat message or a raw command, mirroring the two POST bodies the plain
// HTTP surface exposes (postMessageBody/postCommandBody) so the two
// transports stay semantically identical (spec.md §6 "WebSocket: same
// session semantics as the SSE+POST pair, bidirectional").
type wsInbound struct {
	Type     string          `json:"type"` // "message" | "command"
	Text     string          `json:"text,omitempty"`
	Kind     string          `json:"kind,omitempty"`
	Envelope json.RawMessage `json:"envelope,omitempty"`
}

// wsSession upgrades GET /sessions/:id/ws to a bidirectional stream: a
// read-goroutine turns inbound frames into Hub.PostMessage/PostCommand
// calls, the handler goroutine drains Hub.Subscribe and writes each event
// out as a text frame.
func (s *Server) wsSession() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		sessionID := c.Param("id")
		after := int64(0)
		if q := string(c.Query("after")); q != "" {
			if v, err := strconv.ParseInt(q, 10, 64); err == nil {
				after = v
			}
		}

		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		events, err := s.deps.Hub.Subscribe(streamCtx, sessionID, after)
		if err != nil {
			writeErr(c, err)
			return
		}

		err = wsUpgrader.Upgrade(c, func(conn *websocket.Conn) {
			defer cancel()
			defer conn.Close()

			go s.wsReadLoop(streamCtx, conn, sessionID, cancel)

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
					if err := conn.WriteMessage(websocket.TextMessage, line); err != nil {
						return
					}
				case <-streamCtx.Done():
					return
				}
			}
		})
		if err != nil && s.deps.Logger != nil {
			s.deps.Logger.Info("websocket upgrade failed", "session", sessionID, "error", err.Error())
		}
	}
}

// wsReadLoop parses inbound frames off conn and applies them to the hub
// until the connection closes or ctx is cancelled.
func (s *Server) wsReadLoop(ctx context.Context, conn *websocket.Conn, sessionID string, cancel context.CancelFunc) {
	defer cancel()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var in wsInbound
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		switch in.Type {
		case "message":
			if in.Text != "" {
				_, _ = s.deps.Hub.PostMessage(ctx, sessionID, in.Text)
			}
		case "command":
			if in.Kind != "" {
				_, _ = s.deps.Hub.PostCommand(ctx, sessionID, eventstore.Kind(in.Kind), in.Envelope)
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}
