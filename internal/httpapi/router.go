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
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	hertzconfig "github.com/cloudwego/hertz/pkg/common/config"
)

// authChain is this core's equivalent of the teacher's
// Router.authChainWith, minus RBAC (the core has no role model — a single
// bearer token gates every route, spec.md §7's "auth token" knob).
func (s *Server) authChain(handler app.HandlerFunc) []app.HandlerFunc {
	return []app.HandlerFunc{s.middleware.Auth(), handler}
}

// Router builds the *server.Hertz for addr and registers every route
// spec.md §6 names, grouped the way the teacher's router.go groups them
// (internal/api/http/router.go).
func (s *Server) Router(addr string, opts ...hertzconfig.Option) *server.Hertz {
	allOpts := append([]hertzconfig.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(allOpts...)

	h.Use(s.middleware.AccessLog())
	h.Use(s.middleware.CORS())

	sessions := h.Group("/sessions")
	{
		sessions.POST("", s.authChain(s.createSession())...)
		sessions.POST("/", s.authChain(s.createSession())...)
		sessions.POST("/:id/messages", s.authChain(s.postMessage())...)
		sessions.POST("/:id/commands", s.authChain(s.postCommand())...)
		sessions.GET("/:id/events", s.authChain(s.streamEvents())...)
		sessions.GET("/:id/ws", s.authChain(s.wsSession())...)
	}

	jobs := h.Group("/jobs")
	{
		jobs.POST("", s.authChain(s.enqueueJob())...)
		jobs.POST("/", s.authChain(s.enqueueJob())...)
		jobs.POST("/claim", s.authChain(claimHandler(s.deps.Jobs, s.deps.Registry, s.deps.Limiter, "jobs"))...)
		jobs.GET("/:id", s.authChain(getHandler(s.deps.Jobs))...)
		jobs.POST("/:id/complete", s.authChain(completeHandler(s.deps.Jobs))...)
		jobs.POST("/:id/fail", s.authChain(failHandler(s.deps.Jobs))...)
		jobs.POST("/:id/heartbeat", s.authChain(s.heartbeatJobHandler())...)
		jobs.POST("/:id/cancel", s.authChain(s.cancelJobHandler())...)
	}

	completions := h.Group("/completions")
	{
		completions.POST("", s.authChain(s.enqueueCompletion())...)
		completions.POST("/", s.authChain(s.enqueueCompletion())...)
		completions.POST("/claim", s.authChain(claimHandler(s.deps.Completions, nil, nil, "completions"))...)
		completions.GET("/:id", s.authChain(getHandler(s.deps.Completions))...)
		completions.POST("/:id/complete", s.authChain(completeHandler(s.deps.Completions))...)
		completions.POST("/:id/fail", s.authChain(failHandler(s.deps.Completions))...)
	}

	requests := h.Group("/requests")
	{
		requests.POST("", s.authChain(s.enqueueRequest())...)
		requests.POST("/", s.authChain(s.enqueueRequest())...)
		requests.POST("/claim", s.authChain(claimHandler(s.deps.Requests, nil, nil, "requests"))...)
		requests.GET("/:id", s.authChain(getHandler(s.deps.Requests))...)
		requests.POST("/:id/complete", s.authChain(completeHandler(s.deps.Requests))...)
		requests.POST("/:id/fail", s.authChain(failHandler(s.deps.Requests))...)
	}

	h.GET("/stats", s.authChain(s.stats())...)

	system := h.Group("/system")
	{
		system.GET("/status", s.authChain(s.systemStatus())...)
		system.GET("/metrics", s.authChain(s.systemMetrics())...)
		system.GET("/workers", s.authChain(s.systemWorkers())...)
	}

	return h
}

// MergeJobs has no HTTP route group: cmd/pusher claims directly against its
// own local queue.Engine[queue.MergeJobPayload] (spec.md's per-stateDir
// merge_queue.db), never over this API.
