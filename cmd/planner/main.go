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

// Command planner consumes cmd/hub's Requests queue over HTTP and turns
// each request into one or more Jobs. The actual prompt engineering/LLM
// adapter that decides what jobs a request should become is explicitly out
// of this core's scope (spec.md §9: "the planner's prompt engineering and
// LLM adapters are external collaborators") — this daemon is a thin,
// pluggable stub that demonstrates the queue-consumption wiring: a request
// becomes exactly one job whose instruction is the request's raw text.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/agentforge/corehub/internal/hubclient"
	"github.com/agentforge/corehub/pkg/log"
)

const (
	requestsQueueName = "requests"
	jobsQueueName     = "jobs"
)

type requestPayload struct {
	Text         string         `json:"text"`
	Kind         string         `json:"kind,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
	OwnerAgentID string         `json:"ownerAgentId,omitempty"`
}

func main() {
	serverURL := envOr("PLANNER_SERVER_URL", "http://127.0.0.1:8080")
	authToken := os.Getenv("PLANNER_AUTH_TOKEN")
	plannerID := envOr("PLANNER_ID", "planner-1")
	pollMs := envIntOr("PLANNER_POLL_MS", 2000)

	logger, err := log.NewLogger(&log.Config{Level: envOr("PLANNER_LOG_LEVEL", "info")})
	if err != nil {
		fmt.Fprintf(os.Stderr, "planner: init logger: %v\n", err)
		os.Exit(1)
	}

	client := hubclient.New(serverURL, authToken, nil)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("planner shutting down")
		cancel()
	}()

	logger.Info("planner started", "id", plannerID, "server", serverURL)

	ticker := time.NewTicker(time.Duration(pollMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			planOnce(ctx, client, plannerID, logger)
		}
	}
}

// planOnce claims one request and turns it into a single job enqueue, then
// completes the request with the spawned job's id as its summary.
func planOnce(ctx context.Context, client *hubclient.Client, plannerID string, logger *log.Logger) {
	item, err := client.Claim(ctx, requestsQueueName, plannerID, "", nil)
	if err != nil {
		logger.Warn("claim failed", "error", err)
		return
	}
	if item == nil {
		return
	}
	logger.Info("request claimed", "id", item.ID)

	var payload requestPayload
	_ = json.Unmarshal(item.Payload, &payload)

	result, err := client.Enqueue(ctx, jobsQueueName, map[string]any{
		"instruction": payload.Text,
		"params":      payload.Params,
		"priority":    "normal",
	})
	if err != nil {
		logger.Warn("job enqueue failed", "request", item.ID, "error", err)
		if failErr := client.Fail(ctx, requestsQueueName, item.ID, err.Error(), ""); failErr != nil {
			logger.Warn("report fail failed", "request", item.ID, "error", failErr)
		}
		return
	}

	if compErr := client.Complete(ctx, requestsQueueName, item.ID, result.ID, nil); compErr != nil {
		logger.Warn("report complete failed", "request", item.ID, "error", compErr)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
