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

// Command pusher is the merge daemon (spec.md §4.5/§6): it holds an
// exclusive advisory lock on its state directory, claims merge jobs one at
// a time from its own local MergeJobs queue (<stateDir>/merge_queue.db —
// unlike cmd/worker/cmd/planner this daemon never talks to cmd/hub over
// HTTP, per spec.md's "Persistent state layout" giving it its own SQLite
// file) and drives each through the merge pipeline's ten phases.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/agentforge/corehub/internal/mergepipeline"
	"github.com/agentforge/corehub/internal/mergepipeline/filelock"
	"github.com/agentforge/corehub/internal/queue"
	"github.com/agentforge/corehub/pkg/config"
	"github.com/agentforge/corehub/pkg/log"
)

func main() {
	var (
		configPath       = flag.String("config", "", "path to a config file (viper-readable)")
		repoPath         = flag.String("repo", "", "path to the git repository the pipeline drives merges in")
		remote           = flag.String("remote", "origin", "git remote name")
		mainBranch       = flag.String("branch", "main", "the branch merge jobs land on")
		prefix           = flag.String("prefix", "_merge/", "temp branch name prefix")
		interval         = flag.Duration("interval", 5*time.Second, "poll interval between RunOnce attempts")
		stateDir         = flag.String("state-dir", "", "directory holding the lock file and local merge_queue.db (required)")
		deleteAfterMerge = flag.Bool("delete-after-merge", false, "delete the agent's remote branch after a successful merge")
		dryRun           = flag.Bool("dry-run", false, "drive all phases but skip the final push")
		skipCleanCheck   = flag.Bool("skip-clean-check", false, "skip the working-tree-clean precondition (SERIAL_PUSHER_SKIP_CLEAN_CHECK)")
		autoCreateMain   = flag.Bool("auto-create-main-branch", false, "create the main branch if the remote has none yet (SERIAL_PUSHER_AUTO_CREATE_MAIN_BRANCH)")
		completionSource = flag.String("completion-source", "queue", "how new merge work is discovered: queue|poll")
		queueDSN         = flag.String("queue-dsn", "", "shared queue sqlite DSN, required when --completion-source=queue")
	)
	flag.Parse()

	if *stateDir == "" {
		fmt.Fprintln(os.Stderr, "pusher: --state-dir is required")
		os.Exit(1)
	}
	if *repoPath == "" {
		fmt.Fprintln(os.Stderr, "pusher: --repo is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pusher: load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(&log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pusher: init logger: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*stateDir, 0o755); err != nil {
		logger.Error("create state dir failed", "error", err)
		os.Exit(1)
	}

	lock, err := filelock.TryAcquire(filepath.Join(*stateDir, "lock"))
	if err != nil {
		logger.Error("another pusher instance holds the lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	mergeDB, err := queue.OpenSQLite(filepath.Join(*stateDir, "merge_queue.db"))
	if err != nil {
		logger.Error("open local merge queue failed", "error", err)
		os.Exit(1)
	}
	defer mergeDB.Close()
	mergeJobs := queue.NewMergeJobsSQLiteEngine(mergeDB)

	source, stopSource, err := buildCompletionSource(*completionSource, *queueDSN, *repoPath, *remote, mergeJobs)
	if err != nil {
		logger.Error("build completion source failed", "error", err)
		os.Exit(1)
	}
	if stopSource != nil {
		defer stopSource()
	}

	pipeline := mergepipeline.New(mergepipeline.Config{
		RepoPath:           *repoPath,
		Remote:             *remote,
		MainBranch:         *mainBranch,
		TempBranchPrefix:   *prefix,
		DeleteAfterMerge:   *deleteAfterMerge,
		PushMainAfterMerge: true,
		DryRun:             *dryRun,
		SkipCleanCheck:     *skipCleanCheck || envBool("SERIAL_PUSHER_SKIP_CLEAN_CHECK"),
		AutoCreateMain:     *autoCreateMain || envBool("SERIAL_PUSHER_AUTO_CREATE_MAIN_BRANCH"),
	}, mergeJobs, logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		runLoop(ctx, pipeline, source, *interval, logger)
	}()

	sig := <-sigChan
	cancel()
	<-done
	switch sig {
	case syscall.SIGINT:
		exitCode = 130
	case syscall.SIGTERM:
		exitCode = 143
	}
	logger.Info("pusher stopped", "signal", sig.String())
	os.Exit(exitCode)
}

// runLoop alternates discovery (completion source) and one pipeline
// RunOnce per tick until ctx is cancelled.
func runLoop(ctx context.Context, pipeline *mergepipeline.Pipeline, source mergepipeline.CompletionSource, interval time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if source != nil {
				if err := source.Discover(ctx); err != nil {
					logger.Warn("completion discovery failed", "error", err)
				}
			}
			result, err := pipeline.RunOnce(ctx, "pusher")
			if err != nil {
				logger.Warn("merge pipeline run failed", "error", err)
				continue
			}
			if result.Outcome != mergepipeline.OutcomeIdle {
				logger.Info("merge job finished", "id", result.JobID, "outcome", result.Outcome, "reason", result.Reason)
			}
		}
	}
}

// buildCompletionSource resolves the --completion-source open question
// (SPEC_FULL.md §9): "queue" claims Completions from the shared queue DB
// (requires --queue-dsn, the same DSN cmd/hub's Completions engine runs
// against); "poll" uses git ls-remote with no dependency on the hub at all.
func buildCompletionSource(mode, queueDSN, repoPath, remote string, mergeJobs queue.Engine[queue.MergeJobPayload]) (mergepipeline.CompletionSource, func(), error) {
	switch mode {
	case "poll":
		return mergepipeline.NewPollingCompletionSource(repoPath, mergeJobs, remote, "", 2*time.Minute), nil, nil
	case "queue", "":
		if queueDSN == "" {
			return nil, nil, fmt.Errorf("--queue-dsn required when --completion-source=queue")
		}
		db, err := queue.OpenSQLite(queueDSN)
		if err != nil {
			return nil, nil, err
		}
		completions := queue.NewCompletionsSQLiteEngine(db)
		return mergepipeline.NewQueueCompletionSource(completions, mergeJobs, remote, "pusher"), func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown --completion-source %q (want queue|poll)", mode)
	}
}

func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "1" || v == "true" || v == "yes"
}
