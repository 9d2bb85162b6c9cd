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
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/agentforge/corehub/internal/queue"
	"github.com/agentforge/corehub/internal/scheduler"
)

// enqueueJobBody is POST /jobs's body (spec.md §3 "Jobs add priority,
// queueClass, targetOwner, requiredCapabilities, budgets").
type enqueueJobBody struct {
	SessionID            string         `json:"sessionId,omitempty"`
	Instruction          string         `json:"instruction"`
	RepoRef              string         `json:"repoRef,omitempty"`
	Params               map[string]any `json:"params,omitempty"`
	Priority             string         `json:"priority,omitempty"`
	QueueClass           string         `json:"queueClass,omitempty"`
	TargetOwner          string         `json:"targetOwner,omitempty"`
	RequiredCapabilities []string       `json:"requiredCapabilities,omitempty"`
	TaskID               string         `json:"taskId,omitempty"`
	TenantID             string         `json:"tenantId,omitempty"`
	MaxAttempts          int            `json:"maxAttempts,omitempty"`
}

func (s *Server) enqueueJob() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		var body enqueueJobBody
		if err := c.Bind(&body); err != nil || body.Instruction == "" {
			c.JSON(consts.StatusBadRequest, map[string]string{"error": "instruction required"})
			return
		}
		priority := queue.ParsePriority(body.Priority)
		budgets := scheduler.DefaultBudgets(priority)

		item := &queue.Item[queue.JobPayload]{
			SessionID: body.SessionID,
			Payload: queue.JobPayload{
				Instruction: body.Instruction,
				RepoRef:     body.RepoRef,
				Params:      body.Params,
			},
			Priority:             priority,
			QueueClass:           body.QueueClass,
			TargetOwner:          body.TargetOwner,
			RequiredCapabilities: body.RequiredCapabilities,
			TaskID:               body.TaskID,
			TenantID:             body.TenantID,
			MaxAttempts:          body.MaxAttempts,
			QueueWaitBudgetMs:    budgets.QueueWaitBudgetMs,
			ExecutionBudgetMs:    budgets.ExecutionBudgetMs,
			FinalizationBudgetMs: budgets.FinalizationBudgetMs,
		}
		result, err := s.deps.Jobs.Enqueue(ctx, item)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(consts.StatusOK, result)
	}
}

// heartbeatJobHandler is POST /jobs/:id/heartbeat (spec.md §4.3's
// activity-aware grace window): it calls Jobs.MarkActivity, which stamps
// FirstActivityAt only when it is still unset, so the first heartbeat moves
// the job's last-activity time and later heartbeats leave it unchanged.
func (s *Server) heartbeatJobHandler() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		id := c.Param("id")
		if err := s.deps.Jobs.MarkActivity(ctx, id); err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(consts.StatusOK, map[string]any{"id": id, "at": time.Now().UTC()})
	}
}

// cancelJobHandler is POST /jobs/:id/cancel (SPEC_FULL.md §10
// "Cancellation"): stamps CancelRequestedAt, observed cooperatively by the
// claiming worker between steps.
func (s *Server) cancelJobHandler() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		id := c.Param("id")
		if err := s.deps.Jobs.RequestCancel(ctx, id); err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(consts.StatusOK, map[string]any{"id": id, "cancelRequested": true})
	}
}
