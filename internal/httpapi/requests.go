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

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/agentforge/corehub/internal/queue"
)

// enqueueRequestBody is POST /requests's body (spec.md §9 "Dynamic payload
// blobs" plus SPEC_FULL.md §10's IdempotencyKey supplement).
type enqueueRequestBody struct {
	SessionID      string         `json:"sessionId,omitempty"`
	Text           string         `json:"text"`
	Kind           string         `json:"kind,omitempty"`
	Params         map[string]any `json:"params,omitempty"`
	OwnerAgentID   string         `json:"ownerAgentId,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
}

func (s *Server) enqueueRequest() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		var body enqueueRequestBody
		if err := c.Bind(&body); err != nil || body.Text == "" {
			c.JSON(consts.StatusBadRequest, map[string]string{"error": "text required"})
			return
		}
		item := &queue.Item[queue.RequestPayload]{
			SessionID: body.SessionID,
			Payload: queue.RequestPayload{
				Text:           body.Text,
				Kind:           body.Kind,
				Params:         body.Params,
				OwnerAgentID:   body.OwnerAgentID,
				IdempotencyKey: body.IdempotencyKey,
			},
			TargetOwner:    body.OwnerAgentID,
			IdempotencyKey: body.IdempotencyKey,
		}
		// Dedup is opt-in (internal/queue/requests.go's RequestUniqueKey
		// doc): a request with no idempotencyKey never collides with another.
		if body.OwnerAgentID != "" && body.IdempotencyKey != "" {
			item.UniqueKey = queue.RequestUniqueKey(body.OwnerAgentID, body.IdempotencyKey)
		}
		result, err := s.deps.Requests.Enqueue(ctx, item)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(consts.StatusOK, result)
	}
}
