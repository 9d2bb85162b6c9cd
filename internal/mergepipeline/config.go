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

// Package mergepipeline drives one merge job at a time through the ten
// phases of spec.md §4.5: reset-clean, update-main, validate-job-sha,
// already-merged?, create-temp-branch, merge-into-temp, run-checks,
// fast-forward-main, push-main, delete-remote-branch?, cleanup.
package mergepipeline

import "time"

// MergeStrategy selects how merge-into-temp integrates the agent branch.
type MergeStrategy string

const (
	StrategyFFOnly     MergeStrategy = "ff-only"
	StrategyNoFF       MergeStrategy = "no-ff"
	StrategyCherryPick MergeStrategy = "cherry-pick"
)

// CheckCommand is one configured validation command run in order, fail-fast
// (spec.md §4.5 step 7).
type CheckCommand struct {
	Name    string
	Args    []string
	Timeout time.Duration
}

// Config is per-daemon configuration (spec.md §4.5's "daemon configuration
// {repoPath, mainBranch, mergeStrategy, checks[], deleteAfterMerge,
// pushMainAfterMerge}"), plus the CLI-surfaced knobs from spec.md §6.
type Config struct {
	RepoPath      string
	Remote        string
	MainBranch    string
	MergeStrategy MergeStrategy
	Checks        []CheckCommand

	DeleteAfterMerge   bool
	PushMainAfterMerge bool

	DryRun         bool
	SkipCleanCheck bool

	// AutoCreateMain creates MainBranch from an empty root commit when the
	// remote has no such ref yet, instead of failing reset-clean
	// (spec.md §6's SERIAL_PUSHER_AUTO_CREATE_MAIN_BRANCH).
	AutoCreateMain bool

	TempBranchPrefix string // spec.md §6's --prefix; default "_merge/"

	GitTimeout   time.Duration // per git invocation, default 2m
	CheckTimeout time.Duration // per check command, default 5m (spec.md §4.5 step 7)

	// MaxFetchAttempts bounds update-main's capped exponential backoff
	// (spec.md §4.5 step 2 / §5: "10 retries, 2s -> 30s").
	MaxFetchAttempts int
}

// WithDefaults fills zero-valued fields with spec.md's defaults.
func (c Config) WithDefaults() Config {
	if c.Remote == "" {
		c.Remote = "origin"
	}
	if c.MainBranch == "" {
		c.MainBranch = "main"
	}
	if c.MergeStrategy == "" {
		c.MergeStrategy = StrategyNoFF
	}
	if c.TempBranchPrefix == "" {
		c.TempBranchPrefix = "_merge/"
	}
	if c.GitTimeout <= 0 {
		c.GitTimeout = 2 * time.Minute
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 5 * time.Minute
	}
	if c.MaxFetchAttempts <= 0 {
		c.MaxFetchAttempts = 10
	}
	return c
}
