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

// Command hub runs the coordination core's HTTP surface: the Session Hub,
// the four queues (requests/jobs/completions/merge_jobs) and the
// observability endpoints (spec.md §6). Workers, planners and the merge
// daemon are separate processes that talk to this one over HTTP (or, for
// the merge daemon, directly against their own SQLite file — see cmd/pusher).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/agentforge/corehub/internal/eventstore"
	"github.com/agentforge/corehub/internal/httpapi"
	"github.com/agentforge/corehub/internal/queue"
	"github.com/agentforge/corehub/internal/scheduler"
	"github.com/agentforge/corehub/internal/sessionhub"
	"github.com/agentforge/corehub/internal/workerregistry"
	"github.com/agentforge/corehub/pkg/config"
	"github.com/agentforge/corehub/pkg/log"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (viper-readable); PUSHCORE_ env vars override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hub: load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(&log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		fmt.Fprintf(os.Stderr, "hub: init logger: %v\n", err)
		os.Exit(1)
	}

	store, closeStore, err := buildEventStore(cfg)
	if err != nil {
		logger.Error("build event store failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	jobs, completions, requests, mergeJobs, closeQueues, err := buildQueues(cfg)
	if err != nil {
		logger.Error("build queues failed", "error", err)
		os.Exit(1)
	}
	defer closeQueues()

	hub := sessionhub.New(store)
	registry := workerregistry.New(parseDurationOr(cfg.WorkerReg.HeartbeatTTL, workerregistry.DefaultHeartbeatTTL))
	sloTracker := scheduler.NewTracker(jobs, parseDurationOr(cfg.Scheduler.SLOWindow, time.Hour))

	var limiter *scheduler.ClassLimiter
	if cfg.Scheduler.ClaimRateLimit.Enabled {
		limiter = scheduler.NewClassLimiter(cfg.Scheduler.ClaimRateLimit.QPS, cfg.Scheduler.ClaimRateLimit.Burst)
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	sweeper := scheduler.NewStaleClaimSweeper(
		jobs, registry,
		parseDurationOr(cfg.Scheduler.StaleRecovery.TTL, 90*time.Second),
		cfg.Scheduler.StaleRecovery.Limit,
		logger,
	)
	go sweeper.Run(sweepCtx, parseDurationOr(cfg.Scheduler.StaleRecovery.Interval, 15*time.Second))

	srv := httpapi.New(httpapi.Deps{
		Hub:         hub,
		Jobs:        jobs,
		Completions: completions,
		Requests:    requests,
		MergeJobs:   mergeJobs,
		Registry:    registry,
		SLOTracker:  sloTracker,
		Limiter:     limiter,
		API:         cfg.API,
		Logger:      logger,
		StartedAt:   time.Now().UTC(),
	})

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	go func() {
		if err := srv.Run(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("httpapi server exited", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	stopSweep()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	logger.Info("hub stopped")
}

// buildEventStore returns a Store plus its Close func, chosen per
// cfg.EventStore.Type (spec.md §5 "pluggable storage: in-memory for tests,
// SQLite for a durable single-node deployment").
func buildEventStore(cfg *config.Config) (eventstore.Store, func(), error) {
	if cfg.EventStore.Type == "sqlite" {
		dsn := cfg.EventStore.DSN
		if dsn == "" {
			return nil, nil, fmt.Errorf("event_store.dsn required when type=sqlite")
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, nil, fmt.Errorf("event store data dir: %w", err)
		}
		store, err := eventstore.NewSQLiteStore(dsn)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
	store := eventstore.NewMemStore()
	return store, func() { _ = store.Close() }, nil
}

// buildQueues wires the four queue engines over either memory or a shared
// SQLite db (spec.md §4.2's "one generic engine, four instantiations").
func buildQueues(cfg *config.Config) (
	jobs queue.Engine[queue.JobPayload],
	completions queue.Engine[queue.CompletionPayload],
	requests queue.Engine[queue.RequestPayload],
	mergeJobs queue.Engine[queue.MergeJobPayload],
	closeFn func(),
	err error,
) {
	eta := scheduler.SlotMs{
		Interactive: cfg.Scheduler.SlotMs.Interactive,
		Normal:      cfg.Scheduler.SlotMs.Normal,
		Background:  cfg.Scheduler.SlotMs.Background,
	}.ETAFunc()

	if cfg.Queue.Type == "sqlite" {
		if cfg.Queue.DSN == "" {
			return nil, nil, nil, nil, nil, fmt.Errorf("queue.dsn required when type=sqlite")
		}
		if mkErr := os.MkdirAll(filepath.Dir(cfg.Queue.DSN), 0o755); mkErr != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("queue data dir: %w", mkErr)
		}
		db, dbErr := queue.OpenSQLite(cfg.Queue.DSN)
		if dbErr != nil {
			return nil, nil, nil, nil, nil, dbErr
		}
		jobs = queue.NewJobsSQLiteEngine(db, eta)
		completions = queue.NewCompletionsSQLiteEngine(db)
		requests = queue.NewRequestsSQLiteEngine(db)
		mergeJobs = queue.NewMergeJobsSQLiteEngine(db)
		closeFn = func() { _ = db.Close() }
		return jobs, completions, requests, mergeJobs, closeFn, nil
	}

	jobs = queue.NewJobsMemoryEngine(eta)
	completions = queue.NewCompletionsMemoryEngine()
	requests = queue.NewRequestsMemoryEngine()
	mergeJobs = queue.NewMergeJobsMemoryEngine()
	closeFn = func() {}
	return jobs, completions, requests, mergeJobs, closeFn, nil
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
