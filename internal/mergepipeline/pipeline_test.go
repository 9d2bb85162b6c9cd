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

package mergepipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/corehub/internal/queue"
)

func baseConfig(repoPath string) Config {
	return Config{
		RepoPath:           repoPath,
		Remote:             "origin",
		MainBranch:         "main",
		MergeStrategy:      StrategyNoFF,
		PushMainAfterMerge: true,
	}.WithDefaults()
}

func enqueueMergeJob(t *testing.T, jobs queue.Engine[queue.MergeJobPayload], remote, branch, headSHA string) string {
	t.Helper()
	res, err := jobs.Enqueue(context.Background(), &queue.Item[queue.MergeJobPayload]{
		Payload:     queue.MergeJobPayload{Remote: remote, Branch: branch, HeadSHA: headSHA},
		MaxAttempts: 3,
		UniqueKey:   queue.MergeJobUniqueKey(remote, branch, headSHA),
	})
	require.NoError(t, err)
	return res.ID
}

// TestPipelineCleanMerge is scenario S1: a fast-forwardable agent branch
// merges cleanly and main advances.
func TestPipelineCleanMerge(t *testing.T) {
	remoteDir, clonePath := newTestRepoPair(t)
	mainBeforeSHA := runGit(t, clonePath, "rev-parse", "main")

	runGit(t, clonePath, "checkout", "-b", "agent/w/1")
	writeFile(t, clonePath, "feature.txt", "feature work\n")
	runGit(t, clonePath, "add", "feature.txt")
	runGit(t, clonePath, "commit", "-m", "agent feature commit")
	branchSHA := runGit(t, clonePath, "rev-parse", "agent/w/1")
	runGit(t, clonePath, "push", "origin", "agent/w/1")
	runGit(t, clonePath, "checkout", "main")

	jobs := queue.NewMergeJobsMemoryEngine()
	jobID := enqueueMergeJob(t, jobs, "origin", "agent/w/1", branchSHA)

	p := New(baseConfig(clonePath), jobs, nil)
	res, err := p.RunOnce(context.Background(), "merge-daemon")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, jobID, res.JobID)

	newMainSHA := runGit(t, clonePath, "rev-parse", "main")
	assert.NotEqual(t, mainBeforeSHA, newMainSHA)

	parents := runGit(t, clonePath, "log", "-1", "--pretty=%P", newMainSHA)
	assert.Contains(t, parents, branchSHA[:7])

	// temp branch deleted on every exit path
	branches := runGit(t, clonePath, "branch", "--list", "_merge/*")
	assert.Empty(t, branches)

	// pushed to remote
	remoteMainSHA := runGit(t, remoteDir, "rev-parse", "main")
	assert.Equal(t, newMainSHA, remoteMainSHA)

	item, err := jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, item.Status)
}

// TestPipelineDeterministicConflictFails is scenario S2: a conflicting
// branch against an unchanged base fails without requeue, attempts stay 1.
func TestPipelineDeterministicConflictFails(t *testing.T) {
	_, clonePath := newTestRepoPair(t)
	writeFile(t, clonePath, "shared.txt", "base\n")
	runGit(t, clonePath, "add", "shared.txt")
	runGit(t, clonePath, "commit", "-m", "add shared file")
	runGit(t, clonePath, "push", "origin", "main")

	runGit(t, clonePath, "checkout", "-b", "agent/w/1")
	writeFile(t, clonePath, "shared.txt", "agent change\n")
	runGit(t, clonePath, "add", "shared.txt")
	runGit(t, clonePath, "commit", "-m", "agent conflicting change")
	branchSHA := runGit(t, clonePath, "rev-parse", "agent/w/1")
	runGit(t, clonePath, "push", "origin", "agent/w/1")

	runGit(t, clonePath, "checkout", "main")
	writeFile(t, clonePath, "shared.txt", "main change\n")
	runGit(t, clonePath, "add", "shared.txt")
	runGit(t, clonePath, "commit", "-m", "main conflicting change")
	runGit(t, clonePath, "push", "origin", "main")
	mainAfterSHA := runGit(t, clonePath, "rev-parse", "main")

	jobs := queue.NewMergeJobsMemoryEngine()
	jobID := enqueueMergeJob(t, jobs, "origin", "agent/w/1", branchSHA)

	p := New(baseConfig(clonePath), jobs, nil)
	res, err := p.RunOnce(context.Background(), "merge-daemon")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	item, err := jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, item.Status)
	assert.Equal(t, 1, item.Attempts)

	// main is unchanged by the failed merge attempt: cleanup resets back to
	// the remote-tracking tip, not left mid-conflict on the temp branch.
	newMainSHA := runGit(t, clonePath, "rev-parse", "main")
	assert.Equal(t, mainAfterSHA, newMainSHA)
}

// TestPipelineAlreadyMergedSkips is the already-merged branch of step 4.
func TestPipelineAlreadyMergedSkips(t *testing.T) {
	_, clonePath := newTestRepoPair(t)

	runGit(t, clonePath, "checkout", "-b", "agent/w/1")
	writeFile(t, clonePath, "feature.txt", "x\n")
	runGit(t, clonePath, "add", "feature.txt")
	runGit(t, clonePath, "commit", "-m", "feature")
	branchSHA := runGit(t, clonePath, "rev-parse", "agent/w/1")
	runGit(t, clonePath, "push", "origin", "agent/w/1")

	runGit(t, clonePath, "checkout", "main")
	runGit(t, clonePath, "merge", "--no-ff", "-m", "pre-merged", "agent/w/1")
	runGit(t, clonePath, "push", "origin", "main")

	jobs := queue.NewMergeJobsMemoryEngine()
	jobID := enqueueMergeJob(t, jobs, "origin", "agent/w/1", branchSHA)

	p := New(baseConfig(clonePath), jobs, nil)
	res, err := p.RunOnce(context.Background(), "merge-daemon")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Contains(t, res.Reason, "already merged")

	item, err := jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusSkipped, item.Status)
}

// TestPipelineBranchAdvancedPastPinnedSHASkips is step 3's "branch advanced"
// case.
func TestPipelineBranchAdvancedPastPinnedSHASkips(t *testing.T) {
	_, clonePath := newTestRepoPair(t)

	runGit(t, clonePath, "checkout", "-b", "agent/w/1")
	writeFile(t, clonePath, "feature.txt", "v1\n")
	runGit(t, clonePath, "add", "feature.txt")
	runGit(t, clonePath, "commit", "-m", "v1")
	staleSHA := runGit(t, clonePath, "rev-parse", "agent/w/1")
	runGit(t, clonePath, "push", "origin", "agent/w/1")

	writeFile(t, clonePath, "feature.txt", "v2\n")
	runGit(t, clonePath, "add", "feature.txt")
	runGit(t, clonePath, "commit", "-m", "v2")
	runGit(t, clonePath, "push", "origin", "agent/w/1")
	runGit(t, clonePath, "checkout", "main")

	jobs := queue.NewMergeJobsMemoryEngine()
	jobID := enqueueMergeJob(t, jobs, "origin", "agent/w/1", staleSHA)

	p := New(baseConfig(clonePath), jobs, nil)
	res, err := p.RunOnce(context.Background(), "merge-daemon")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Contains(t, res.Reason, "advanced")

	item, err := jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusSkipped, item.Status)
}

// TestPipelineBranchDeletedSkips is step 3's "branch deleted" case.
func TestPipelineBranchDeletedSkips(t *testing.T) {
	_, clonePath := newTestRepoPair(t)

	runGit(t, clonePath, "checkout", "-b", "agent/w/1")
	writeFile(t, clonePath, "feature.txt", "x\n")
	runGit(t, clonePath, "add", "feature.txt")
	runGit(t, clonePath, "commit", "-m", "feature")
	branchSHA := runGit(t, clonePath, "rev-parse", "agent/w/1")
	runGit(t, clonePath, "push", "origin", "agent/w/1")
	runGit(t, clonePath, "push", "origin", "--delete", "agent/w/1")
	runGit(t, clonePath, "checkout", "main")

	jobs := queue.NewMergeJobsMemoryEngine()
	jobID := enqueueMergeJob(t, jobs, "origin", "agent/w/1", branchSHA)

	p := New(baseConfig(clonePath), jobs, nil)
	res, err := p.RunOnce(context.Background(), "merge-daemon")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Contains(t, res.Reason, "no longer exists")

	item, err := jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusSkipped, item.Status)
}

// TestMergeIntoTempRequeuesOnTransientConflict is scenario S3: a conflict is
// discovered, but the remote-tracking main moved past the step-2 snapshot
// during the window between update-main and merge-into-temp (simulated here
// by running the phases individually, as the real pipeline would in
// sequence, and pushing from a second clone in that exact window).
func TestMergeIntoTempRequeuesOnTransientConflict(t *testing.T) {
	remoteDir, clonePath := newTestRepoPair(t)
	writeFile(t, clonePath, "shared.txt", "base\n")
	runGit(t, clonePath, "add", "shared.txt")
	runGit(t, clonePath, "commit", "-m", "add shared file")
	runGit(t, clonePath, "push", "origin", "main")

	runGit(t, clonePath, "checkout", "-b", "agent/w/1")
	writeFile(t, clonePath, "shared.txt", "agent change\n")
	runGit(t, clonePath, "add", "shared.txt")
	runGit(t, clonePath, "commit", "-m", "agent conflicting change")
	branchSHA := runGit(t, clonePath, "rev-parse", "agent/w/1")
	runGit(t, clonePath, "push", "origin", "agent/w/1")

	// A conflicting change lands on main itself before the pipeline starts,
	// so the temp branch (cut from this main) genuinely conflicts with the
	// agent branch at merge time.
	runGit(t, clonePath, "checkout", "main")
	writeFile(t, clonePath, "shared.txt", "main change\n")
	runGit(t, clonePath, "add", "shared.txt")
	runGit(t, clonePath, "commit", "-m", "main conflicting change")
	runGit(t, clonePath, "push", "origin", "main")

	jobs := queue.NewMergeJobsMemoryEngine()
	jobID := enqueueMergeJob(t, jobs, "origin", "agent/w/1", branchSHA)
	job, err := jobs.Claim(context.Background(), "merge-daemon", queue.ClaimOptions{})
	require.NoError(t, err)
	require.NotNil(t, job)

	cfg := baseConfig(clonePath)
	p := New(cfg, jobs, nil)
	ctx := context.Background()
	r := &run{
		job:           job,
		remote:        p.cfg.Remote,
		branch:        job.Payload.Branch,
		headSHA:       job.Payload.HeadSHA,
		tempBranch:    p.cfg.TempBranchPrefix + job.ID,
		remoteMainRef: p.cfg.Remote + "/" + p.cfg.MainBranch,
	}
	r.remoteBranch = p.cfg.Remote + "/" + r.branch

	require.Nil(t, p.resetClean(ctx, r))
	require.Nil(t, p.updateMain(ctx, r)) // snapshots mainSnapshot
	require.Nil(t, p.validateJobSHA(ctx, r))
	require.Nil(t, p.alreadyMerged(ctx, r))
	require.Nil(t, p.createTempBranch(ctx, r))

	// Simulate a concurrent actor advancing main (an unrelated file, so this
	// push itself doesn't change the conflict outcome) between update-main
	// and merge-into-temp.
	secondClone := cloneRemote(t, remoteDir)
	writeFile(t, secondClone, "unrelated.txt", "someone else's work\n")
	runGit(t, secondClone, "add", "unrelated.txt")
	runGit(t, secondClone, "commit", "-m", "concurrent main advance")
	runGit(t, secondClone, "push", "origin", "main")

	res := p.mergeIntoTemp(ctx, r)
	p.cleanup(ctx, r)
	require.NotNil(t, res)
	assert.Equal(t, OutcomeRequeued, res.Outcome)

	item, err := jobs.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, item.Status)
	assert.Equal(t, 1, item.Attempts)
}

// TestMergeIntoTempSkipsWhenAttemptsExhausted covers the "attempts ==
// maxAttempts ends in skipped, not infinite requeue" invariant for a
// deterministic conflict.
func TestMergeIntoTempSkipsWhenAttemptsExhausted(t *testing.T) {
	_, clonePath := newTestRepoPair(t)
	writeFile(t, clonePath, "shared.txt", "base\n")
	runGit(t, clonePath, "add", "shared.txt")
	runGit(t, clonePath, "commit", "-m", "add shared file")
	runGit(t, clonePath, "push", "origin", "main")

	runGit(t, clonePath, "checkout", "-b", "agent/w/1")
	writeFile(t, clonePath, "shared.txt", "agent change\n")
	runGit(t, clonePath, "add", "shared.txt")
	runGit(t, clonePath, "commit", "-m", "agent conflicting change")
	branchSHA := runGit(t, clonePath, "rev-parse", "agent/w/1")
	runGit(t, clonePath, "push", "origin", "agent/w/1")

	runGit(t, clonePath, "checkout", "main")
	writeFile(t, clonePath, "shared.txt", "main change\n")
	runGit(t, clonePath, "add", "shared.txt")
	runGit(t, clonePath, "commit", "-m", "main conflicting change")
	runGit(t, clonePath, "push", "origin", "main")

	jobs := queue.NewMergeJobsMemoryEngine()
	res, err := jobs.Enqueue(context.Background(), &queue.Item[queue.MergeJobPayload]{
		Payload:     queue.MergeJobPayload{Remote: "origin", Branch: "agent/w/1", HeadSHA: branchSHA},
		MaxAttempts: 1,
		UniqueKey:   queue.MergeJobUniqueKey("origin", "agent/w/1", branchSHA),
	})
	require.NoError(t, err)

	p := New(baseConfig(clonePath), jobs, nil)
	result, err := p.RunOnce(context.Background(), "merge-daemon")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, result.Outcome)

	item, err := jobs.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusSkipped, item.Status)
	assert.Equal(t, 1, item.Attempts)
}

func TestRunOnceIdleWhenQueueEmpty(t *testing.T) {
	_, clonePath := newTestRepoPair(t)
	jobs := queue.NewMergeJobsMemoryEngine()
	p := New(baseConfig(clonePath), jobs, nil)
	res, err := p.RunOnce(context.Background(), "merge-daemon")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIdle, res.Outcome)
}

func TestConfigWithDefaultsFillsZeroValues(t *testing.T) {
	cfg := Config{RepoPath: "/tmp/repo"}.WithDefaults()
	assert.Equal(t, "origin", cfg.Remote)
	assert.Equal(t, "main", cfg.MainBranch)
	assert.Equal(t, StrategyNoFF, cfg.MergeStrategy)
	assert.Equal(t, "_merge/", cfg.TempBranchPrefix)
	assert.Equal(t, 10, cfg.MaxFetchAttempts)
}
