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

// Command worker polls cmd/hub's Jobs queue over HTTP, runs each job's
// opaque payload through a pluggable Runner (actual sandboxed agent
// execution is out of this core's scope — spec.md §1 "the core treats 'run
// the job payload' ... as opaque callbacks"), and cooperatively checks
// CancelRequestedAt between steps, reporting the job failed (message
// "cancelled") rather than completed when cancellation was requested
// (SPEC_FULL.md §10 "Cancellation").
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

	"github.com/google/uuid"

	"github.com/agentforge/corehub/internal/hubclient"
	"github.com/agentforge/corehub/pkg/log"
)

const jobsQueueName = "jobs"

func main() {
	serverURL := envOr("WORKER_SERVER_URL", "http://127.0.0.1:8080")
	authToken := os.Getenv("WORKER_AUTH_TOKEN")
	workerID := envOr("WORKER_ID", "worker-"+uuid.New().String())
	queueClass := os.Getenv("WORKER_QUEUE_CLASS")
	pollMs := envIntOr("WORKER_POLL_MS", 2000)
	heartbeatMs := envIntOr("WORKER_HEARTBEAT_MS", 5000)
	var capabilities []string
	if raw := os.Getenv("WORKER_CAPABILITIES"); raw != "" {
		capabilities = splitCSV(raw)
	}

	logger, err := log.NewLogger(&log.Config{Level: envOr("WORKER_LOG_LEVEL", "info")})
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker: init logger: %v\n", err)
		os.Exit(1)
	}

	client := hubclient.New(serverURL, authToken, nil)
	runner := echoRunner{}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("worker shutting down")
		cancel()
	}()

	logger.Info("worker started", "id", workerID, "server", serverURL, "queueClass", queueClass)

	ticker := time.NewTicker(time.Duration(pollMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce(ctx, client, runner, logger, workerID, queueClass, capabilities, time.Duration(heartbeatMs)*time.Millisecond)
		}
	}
}

// runOnce claims at most one job and drives it to a terminal state.
func runOnce(ctx context.Context, client *hubclient.Client, runner Runner, logger *log.Logger, workerID, queueClass string, capabilities []string, heartbeatInterval time.Duration) {
	item, err := client.Claim(ctx, jobsQueueName, workerID, queueClass, capabilities)
	if err != nil {
		logger.Warn("claim failed", "error", err)
		return
	}
	if item == nil {
		return
	}
	logger.Info("job claimed", "id", item.ID)

	var payload jobPayload
	_ = json.Unmarshal(item.Payload, &payload)

	stepCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go heartbeatLoop(stepCtx, client, item.ID, heartbeatInterval, logger)

	result, cancelled, err := runner.Run(ctx, payload, func() bool {
		return isCancelled(ctx, client, item.ID, logger)
	})
	stopHeartbeat()

	switch {
	case cancelled:
		logger.Info("job cancelled cooperatively, reporting failed", "id", item.ID)
		if failErr := client.Fail(ctx, jobsQueueName, item.ID, "cancelled", "worker observed CancelRequestedAt"); failErr != nil {
			logger.Warn("report cancel failed", "id", item.ID, "error", failErr)
		}
	case err != nil:
		logger.Warn("job failed", "id", item.ID, "error", err)
		if failErr := client.Fail(ctx, jobsQueueName, item.ID, err.Error(), ""); failErr != nil {
			logger.Warn("report fail failed", "id", item.ID, "error", failErr)
		}
	default:
		if compErr := client.Complete(ctx, jobsQueueName, item.ID, result, nil); compErr != nil {
			logger.Warn("report complete failed", "id", item.ID, "error", compErr)
		}
	}
}

// isCancelled re-fetches the job and reports whether CancelRequestedAt is
// set — the cooperative half of SPEC_FULL.md §10's Cancellation.
func isCancelled(ctx context.Context, client *hubclient.Client, jobID string, logger *log.Logger) bool {
	item, err := client.Get(ctx, jobsQueueName, jobID)
	if err != nil {
		logger.Warn("cancel poll failed", "id", jobID, "error", err)
		return false
	}
	return item != nil && item.CancelRequestedAt != nil
}

// heartbeatLoop posts a job heartbeat every interval while work is in
// progress; only the first one stamps the job's FirstActivityAt, later ones
// leave it unchanged (spec.md §4.3's activity-aware grace).
func heartbeatLoop(ctx context.Context, client *hubclient.Client, jobID string, interval time.Duration, logger *log.Logger) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(ctx, jobID); err != nil {
				logger.Warn("heartbeat failed", "id", jobID, "error", err)
			}
		}
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

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
