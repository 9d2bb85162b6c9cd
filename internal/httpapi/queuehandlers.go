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
	"github.com/agentforge/corehub/internal/workerregistry"
	"github.com/agentforge/corehub/pkg/corerr"
	"github.com/agentforge/corehub/pkg/metrics"
)

// writeErr maps a corerr.Kind to its HTTP status (spec.md §7's taxonomy) and
// writes the {message, detail} blob as the response body.
func writeErr(c *app.RequestContext, err error) {
	status := consts.StatusInternalServerError
	switch corerr.KindOf(err) {
	case corerr.KindValidation:
		status = consts.StatusBadRequest
	case corerr.KindNotFound:
		status = consts.StatusNotFound
	case corerr.KindNotClaimed:
		status = consts.StatusConflict
	case corerr.KindTransient:
		status = consts.StatusServiceUnavailable
	case corerr.KindDeterministic:
		status = consts.StatusUnprocessableEntity
	case corerr.KindBudgetExhausted:
		status = consts.StatusRequestTimeout
	}
	c.JSON(status, map[string]any{"error": corerr.ToBlob(err)})
}

// claimBody is the wire shape of every queue's POST .../claim (spec.md §6:
// "Body {workerId}"), extended with the capability/class/tenant filters
// §3/§4.3 attach to job dispatch.
type claimBody struct {
	WorkerID     string   `json:"workerId"`
	QueueClass   string   `json:"queueClass,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	TenantID     string   `json:"tenantId,omitempty"`
}

// claimHandler is shared by Jobs/Completions/Requests: decode {workerId},
// optionally rate-limit by queue class (scheduler.ClassLimiter,
// SPEC_FULL.md §10 "Worker rate limiting on claim polling"), claim, and
// register the caller's heartbeat in registry (Jobs only — Completions and
// Requests have no worker-table concept of their own).
func claimHandler[T any](engine queue.Engine[T], registry *workerregistry.Registry, limiter *scheduler.ClassLimiter, queueName string) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		var body claimBody
		if err := c.Bind(&body); err != nil || body.WorkerID == "" {
			c.JSON(consts.StatusBadRequest, map[string]string{"error": "workerId required"})
			return
		}
		if limiter != nil && !limiter.Allow(body.QueueClass) {
			c.JSON(consts.StatusTooManyRequests, map[string]any{"ok": false, "error": "claim rate limit exceeded"})
			return
		}

		start := time.Now()
		item, err := engine.Claim(ctx, body.WorkerID, queue.ClaimOptions{
			QueueClass:   body.QueueClass,
			Capabilities: body.Capabilities,
			TenantID:     body.TenantID,
		})
		metrics.ClaimLatencySeconds.WithLabelValues(queueName).Observe(time.Since(start).Seconds())
		if err != nil {
			writeErr(c, err)
			return
		}

		if registry != nil {
			status := workerregistry.StatusIdle
			jobID := ""
			if item != nil {
				status = workerregistry.StatusBusy
				jobID = anyItemID(item)
			}
			registry.Heartbeat(body.WorkerID, status, jobID, body.Capabilities)
		}

		if item == nil {
			metrics.ClaimTotal.WithLabelValues(queueName, "empty").Inc()
			c.JSON(consts.StatusOK, map[string]any{"ok": false})
			return
		}
		metrics.ClaimTotal.WithLabelValues(queueName, "hit").Inc()
		c.JSON(consts.StatusOK, item)
	}
}

// anyItemID extracts an Item[T]'s ID without the caller needing to know T.
func anyItemID[T any](item *queue.Item[T]) string { return item.ID }

// completeBody is POST .../:id/complete's body (spec.md §6: "{summary,
// artifacts}").
type completeBody struct {
	Summary   string `json:"summary,omitempty"`
	Artifacts []byte `json:"artifacts,omitempty"`
}

// completeHandler is shared by Jobs/Completions/Requests.
func completeHandler[T any](engine queue.Engine[T]) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		id := c.Param("id")
		var body completeBody
		_ = c.Bind(&body) // an empty body is valid: summary/artifacts are optional

		if err := engine.Complete(ctx, id, queue.Result{Summary: body.Summary, Artifacts: body.Artifacts}); err != nil {
			writeErr(c, err)
			return
		}
		item, err := engine.Get(ctx, id)
		if err != nil || item == nil {
			c.JSON(consts.StatusOK, map[string]any{"id": id})
			return
		}
		c.JSON(consts.StatusOK, map[string]any{"durationMs": item.DurationMs, "completedAt": item.CompletedAt})
	}
}

// failBody is POST .../:id/fail's body (spec.md §6: "{message, detail}").
type failBody struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// failHandler is shared by Jobs/Completions/Requests.
func failHandler[T any](engine queue.Engine[T]) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		id := c.Param("id")
		var body failBody
		if err := c.Bind(&body); err != nil || body.Message == "" {
			c.JSON(consts.StatusBadRequest, map[string]string{"error": "message required"})
			return
		}
		if err := engine.Fail(ctx, id, queue.ErrorBlob{Message: body.Message, Detail: body.Detail}); err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(consts.StatusOK, map[string]any{"id": id, "status": "failed"})
	}
}

// getHandler exposes Engine.Get for polling a single item's current state —
// a supplement the base route table doesn't name but cooperative
// cancellation needs: a worker must be able to re-check CancelRequestedAt
// mid-job (SPEC_FULL.md §10 "Cancellation").
func getHandler[T any](engine queue.Engine[T]) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		id := c.Param("id")
		item, err := engine.Get(ctx, id)
		if err != nil {
			writeErr(c, err)
			return
		}
		if item == nil {
			c.JSON(consts.StatusNotFound, map[string]any{"error": corerr.ToBlob(corerr.ErrNotFound)})
			return
		}
		c.JSON(consts.StatusOK, item)
	}
}
