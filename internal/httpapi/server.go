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

	"github.com/cloudwego/hertz/pkg/app/server"

	"github.com/agentforge/corehub/internal/queue"
	"github.com/agentforge/corehub/internal/scheduler"
	"github.com/agentforge/corehub/internal/sessionhub"
	"github.com/agentforge/corehub/internal/workerregistry"
	"github.com/agentforge/corehub/pkg/config"
	"github.com/agentforge/corehub/pkg/log"
)

// Deps bundles everything a Server's handlers need, the generalization of
// the teacher's Handler struct (internal/api/http/handler.go) from ADK
// agent-runner dependencies to the coordination core's own components.
type Deps struct {
	Hub         *sessionhub.Hub
	Jobs        queue.Engine[queue.JobPayload]
	Completions queue.Engine[queue.CompletionPayload]
	Requests    queue.Engine[queue.RequestPayload]
	MergeJobs   queue.Engine[queue.MergeJobPayload]

	Registry   *workerregistry.Registry
	SLOTracker *scheduler.Tracker
	Limiter    *scheduler.ClassLimiter

	API       config.APIConfig
	Logger    *log.Logger
	StartedAt time.Time
}

// Server is the httpapi HTTP surface: a thin wrapper around *server.Hertz
// built via Router, mirroring the teacher's App/Router split
// (internal/app/api/app.go + internal/api/http/router.go).
type Server struct {
	deps       Deps
	middleware *Middleware
	hertz      *server.Hertz
}

// New builds a Server; handlers are not wired until Run (or a direct call
// to Router) constructs the underlying *server.Hertz.
func New(deps Deps) *Server {
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now().UTC()
	}
	return &Server{
		deps:       deps,
		middleware: NewMiddleware(deps.API.AuthToken, deps.Logger),
	}
}

// Run builds the router for addr and blocks serving, mirroring the
// teacher's App.Run (internal/app/api/app.go:579-654, trimmed of the
// tracing/gRPC/job-scheduler concerns that don't apply to this core).
func (s *Server) Run(addr string) error {
	s.hertz = s.Router(addr)
	if s.deps.Logger != nil {
		s.deps.Logger.Info("httpapi server starting", "addr", addr)
	}
	return s.hertz.Run()
}

// Shutdown gracefully drains in-flight requests, mirroring the teacher's
// App.Shutdown (internal/app/api/app.go:657-676).
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hertz == nil {
		return nil
	}
	return s.hertz.Shutdown(ctx)
}
