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

// enqueueCompletionBody is POST /completions's body (spec.md §3
// "Completions add: commitRef, branchRef, merge metadata").
type enqueueCompletionBody struct {
	SessionID string `json:"sessionId,omitempty"`
	JobID     string `json:"jobId"`
	CommitRef string `json:"commitRef"`
	BranchRef string `json:"branchRef"`
	Summary   string `json:"summary,omitempty"`
}

func (s *Server) enqueueCompletion() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		var body enqueueCompletionBody
		if err := c.Bind(&body); err != nil || body.JobID == "" || body.CommitRef == "" || body.BranchRef == "" {
			c.JSON(consts.StatusBadRequest, map[string]string{"error": "jobId, commitRef and branchRef required"})
			return
		}
		item := &queue.Item[queue.CompletionPayload]{
			SessionID: body.SessionID,
			Payload: queue.CompletionPayload{
				JobID:     body.JobID,
				CommitRef: body.CommitRef,
				BranchRef: body.BranchRef,
				Summary:   body.Summary,
			},
			UniqueKey: queue.CompletionUniqueKey(body.SessionID, body.CommitRef, body.BranchRef),
		}
		result, err := s.deps.Completions.Enqueue(ctx, item)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(consts.StatusOK, result)
	}
}
