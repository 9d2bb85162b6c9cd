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

	"github.com/agentforge/corehub/pkg/log"
)

// Middleware bundles the cross-cutting HTTP concerns, adapted from the
// teacher's middleware.Middleware (CORS/Auth/AccessLog), with JWT swapped
// for a single static bearer token (pkg/config.APIConfig.AuthToken) since
// the core has no user/role model of its own.
type Middleware struct {
	authToken string
	logger    *log.Logger
}

// NewMiddleware creates a Middleware; an empty authToken disables auth
// entirely (every request passes through), matching the teacher's
// Auth()'s "未启用 JWT 时跳过认证" behavior.
func NewMiddleware(authToken string, logger *log.Logger) *Middleware {
	return &Middleware{authToken: authToken, logger: logger}
}

// CORS allows any origin; the core is meant to sit behind an operator's own
// reverse proxy/auth layer for anything stricter (spec.md has no CORS
// policy of its own).
func (m *Middleware) CORS() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Authorization")
		c.Header("Access-Control-Expose-Headers", "Content-Length")

		if string(c.Method()) == "OPTIONS" {
			c.AbortWithStatus(consts.StatusNoContent)
			return
		}
		c.Next(ctx)
	}
}

// Auth requires "Authorization: Bearer <authToken>" on every request once
// authToken is non-empty.
func (m *Middleware) Auth() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if m.authToken == "" {
			c.Next(ctx)
			return
		}
		if string(c.GetHeader("Authorization")) != "Bearer "+m.authToken {
			c.JSON(consts.StatusUnauthorized, map[string]string{"error": "missing or invalid bearer token"})
			c.Abort()
			return
		}
		c.Next(ctx)
	}
}

// AccessLog logs method/path/status/latency via pkg/log, adapted from the
// teacher's AccessLog() (which logs through hlog instead, since the core
// uses slog end to end rather than Hertz's own logger facade).
func (m *Middleware) AccessLog() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)
		if m.logger == nil {
			return
		}
		m.logger.Info("http request",
			"method", string(c.Method()),
			"path", string(c.Path()),
			"status", c.Response.StatusCode(),
			"latency", time.Since(start).String(),
		)
	}
}
