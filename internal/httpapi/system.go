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
	"bytes"
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/agentforge/corehub/pkg/metrics"
)

// stats is GET /stats (spec.md §6): per-queue status counts, the teacher's
// system.Group("/status") equivalent generalized from one queue to four.
func (s *Server) stats() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		out := map[string]any{}

		if counts, err := s.deps.Jobs.CountsByStatus(ctx); err == nil {
			out["jobs"] = counts
		}
		if counts, err := s.deps.Completions.CountsByStatus(ctx); err == nil {
			out["completions"] = counts
		}
		if counts, err := s.deps.Requests.CountsByStatus(ctx); err == nil {
			out["requests"] = counts
		}
		if counts, err := s.deps.MergeJobs.CountsByStatus(ctx); err == nil {
			out["mergeJobs"] = counts
		}

		c.JSON(consts.StatusOK, out)
	}
}

// systemStatus is GET /system/status: uptime plus the SLO tracker's sliding
// window report, mirroring the teacher's system.Group("/status") shape
// (internal/api/http/router.go).
func (s *Server) systemStatus() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		report, err := s.deps.SLOTracker.Report(ctx)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(consts.StatusOK, map[string]any{
			"uptime": time.Since(s.deps.StartedAt).String(),
			"slo":    report,
		})
	}
}

// systemMetrics is GET /system/metrics: reuses pkg/metrics.WritePrometheus
// verbatim (spec.md §10/teacher's system.Group("/metrics")).
func (s *Server) systemMetrics() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		var buf bytes.Buffer
		if err := metrics.WritePrometheus(&buf); err != nil {
			writeErr(c, err)
			return
		}
		c.Response.Header.SetContentType("text/plain; version=0.0.4")
		c.SetStatusCode(consts.StatusOK)
		c.Write(buf.Bytes())
	}
}

// systemWorkers is GET /system/workers: a snapshot of the worker registry
// (teacher's system.Group("/workers")).
func (s *Server) systemWorkers() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, s.deps.Registry.List())
	}
}
