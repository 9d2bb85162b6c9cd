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
	"fmt"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentforge/corehub/internal/queue"
)

// resetClean aborts any stray merge/rebase and hard-resets local main to
// <remote>/<main> (spec.md §4.5 step 1). Fatal if the remote-tracking ref
// is missing (mis-configured daemon).
func (p *Pipeline) resetClean(ctx context.Context, r *run) *Result {
	start := time.Now()
	defer p.observePhase("reset-clean", start)

	if p.cfg.SkipCleanCheck {
		return nil
	}

	sha, err := p.git.resolveRef(ctx, r.remoteMainRef)
	if err != nil {
		return p.fatal(ctx, r, fmt.Sprintf("reset-clean: resolve %s: %v", r.remoteMainRef, err))
	}
	if sha == "" {
		if !p.cfg.AutoCreateMain {
			return p.fatal(ctx, r, fmt.Sprintf("reset-clean: remote-tracking ref %s does not exist", r.remoteMainRef))
		}
		if res := p.createMainBranch(ctx, r); res != nil {
			return res
		}
	}

	_, _ = p.git.run(ctx, "merge", "--abort")
	_, _ = p.git.run(ctx, "rebase", "--abort")
	if _, err := p.git.run(ctx, "checkout", "-B", p.cfg.MainBranch, r.remoteMainRef); err != nil {
		return p.fatal(ctx, r, fmt.Sprintf("reset-clean: checkout %s: %v", p.cfg.MainBranch, err))
	}
	if _, err := p.git.run(ctx, "reset", "--hard", r.remoteMainRef); err != nil {
		return p.fatal(ctx, r, fmt.Sprintf("reset-clean: hard reset: %v", err))
	}
	return nil
}

// createMainBranch bootstraps MainBranch from an empty root commit and
// pushes it, then re-fetches so the remote-tracking ref resolves for the
// rest of reset-clean to proceed normally (spec.md §6's
// SERIAL_PUSHER_AUTO_CREATE_MAIN_BRANCH).
func (p *Pipeline) createMainBranch(ctx context.Context, r *run) *Result {
	if _, err := p.git.run(ctx, "checkout", "--orphan", p.cfg.MainBranch); err != nil {
		return p.fatal(ctx, r, fmt.Sprintf("reset-clean: create orphan %s: %v", p.cfg.MainBranch, err))
	}
	if _, err := p.git.run(ctx, "reset", "--hard"); err != nil {
		return p.fatal(ctx, r, fmt.Sprintf("reset-clean: clear orphan index: %v", err))
	}
	if _, err := p.git.run(ctx, "commit", "--allow-empty", "-m", "chore: initialize "+p.cfg.MainBranch); err != nil {
		return p.fatal(ctx, r, fmt.Sprintf("reset-clean: initial commit: %v", err))
	}
	if !p.cfg.DryRun {
		if _, err := p.git.run(ctx, "push", p.cfg.Remote, p.cfg.MainBranch); err != nil {
			return p.fatal(ctx, r, fmt.Sprintf("reset-clean: push new %s: %v", p.cfg.MainBranch, err))
		}
	}
	if _, err := p.git.run(ctx, "fetch", "--prune", p.cfg.Remote); err != nil {
		return p.fatal(ctx, r, fmt.Sprintf("reset-clean: fetch after auto-create: %v", err))
	}
	return nil
}

// updateMain fetches and fast-forwards main, retrying with capped
// exponential backoff up to MaxFetchAttempts (spec.md §4.5 step 2).
func (p *Pipeline) updateMain(ctx context.Context, r *run) *Result {
	start := time.Now()
	defer p.observePhase("update-main", start)

	if p.cfg.DryRun {
		sha, _ := p.git.resolveRef(ctx, r.remoteMainRef)
		r.mainSnapshot = sha
		return nil
	}

	operation := func() error {
		_, err := p.git.run(ctx, "fetch", "--prune", p.cfg.Remote)
		return err
	}
	if err := backoff.Retry(operation, backoffPolicy(p.cfg.MaxFetchAttempts)); err != nil {
		return p.fatal(ctx, r, fmt.Sprintf("update-main: remote %s unreachable after %d retries: %v", p.cfg.Remote, p.cfg.MaxFetchAttempts, err))
	}

	if _, err := p.git.run(ctx, "merge", "--ff-only", r.remoteMainRef); err != nil {
		return p.fatal(ctx, r, fmt.Sprintf("update-main: fast-forward pull failed: %v", err))
	}

	sha, err := p.git.resolveRef(ctx, r.remoteMainRef)
	if err != nil || sha == "" {
		return p.fatal(ctx, r, "update-main: could not resolve remote-tracking main after fetch")
	}
	r.mainSnapshot = sha
	return nil
}

// validateJobSHA resolves <remote>/<branch>; skips if the branch is gone or
// has advanced past the job's pinned headSha (spec.md §4.5 step 3).
func (p *Pipeline) validateJobSHA(ctx context.Context, r *run) *Result {
	start := time.Now()
	defer p.observePhase("validate-job-sha", start)

	tip, err := p.git.resolveRef(ctx, r.remoteBranch)
	if err != nil {
		return p.fatal(ctx, r, fmt.Sprintf("validate-job-sha: resolve %s: %v", r.remoteBranch, err))
	}
	if tip == "" {
		return p.skip(ctx, r, fmt.Sprintf("branch %s no longer exists on %s", r.branch, p.cfg.Remote))
	}
	if tip != r.headSHA {
		return p.skip(ctx, r, fmt.Sprintf("branch %s advanced past pinned sha %s (now %s)", r.branch, r.headSHA, tip))
	}
	return nil
}

// alreadyMerged skips when <remote>/<branch> is already an ancestor of
// <remote>/<main> (spec.md §4.5 step 4).
func (p *Pipeline) alreadyMerged(ctx context.Context, r *run) *Result {
	start := time.Now()
	defer p.observePhase("already-merged", start)

	ancestor, err := p.git.isAncestor(ctx, r.remoteBranch, r.remoteMainRef)
	if err != nil {
		return p.fatal(ctx, r, fmt.Sprintf("already-merged: ancestor check: %v", err))
	}
	if ancestor {
		return p.skip(ctx, r, "already merged")
	}
	return nil
}

// createTempBranch branches _merge/<jobId> from <remote>/<main> (spec.md
// §4.5 step 5).
func (p *Pipeline) createTempBranch(ctx context.Context, r *run) *Result {
	start := time.Now()
	defer p.observePhase("create-temp-branch", start)

	if _, err := p.git.run(ctx, "checkout", "-B", r.tempBranch, r.remoteMainRef); err != nil {
		return p.fatal(ctx, r, fmt.Sprintf("create-temp-branch: %v", err))
	}
	return nil
}

// mergeIntoTemp integrates the agent branch into the temp branch using the
// configured strategy (spec.md §4.5 step 6). On conflict: requeue if
// <remote>/<main> has moved past the step-2 snapshot (a new base may
// resolve it), else it's a deterministic conflict — fail, or skip if
// attempts are exhausted.
func (p *Pipeline) mergeIntoTemp(ctx context.Context, r *run) *Result {
	start := time.Now()
	defer p.observePhase("merge-into-temp", start)

	var mergeErr error
	switch p.cfg.MergeStrategy {
	case StrategyFFOnly:
		_, mergeErr = p.git.run(ctx, "merge", "--ff-only", r.remoteBranch)
	case StrategyCherryPick:
		_, mergeErr = p.git.run(ctx, "cherry-pick", r.headSHA)
	default: // StrategyNoFF
		_, mergeErr = p.git.run(ctx, "merge", "--no-ff", "-m", fmt.Sprintf("merge %s into %s", r.branch, p.cfg.MainBranch), r.remoteBranch)
	}
	if mergeErr == nil {
		return nil
	}

	_, _ = p.git.run(ctx, "merge", "--abort")
	_, _ = p.git.run(ctx, "cherry-pick", "--abort")

	// Re-fetch before comparing: r.mainSnapshot is the local cache taken at
	// update-main, which only reflects a push by another actor once
	// refreshed. A conflict against a base that has since moved deserves a
	// retry; a conflict against the exact base already tried does not.
	_, _ = p.git.run(ctx, "fetch", "--prune", p.cfg.Remote)
	currentMain, resolveErr := p.git.resolveRef(ctx, r.remoteMainRef)
	if resolveErr == nil && currentMain != "" && currentMain != r.mainSnapshot {
		return p.requeue(ctx, r, fmt.Sprintf("merge-into-temp: conflict, but %s advanced from %s to %s — may resolve on retry", r.remoteMainRef, r.mainSnapshot, currentMain))
	}

	if attemptsExhausted(r.job) {
		return p.skip(ctx, r, fmt.Sprintf("merge-into-temp: deterministic conflict and attempts exhausted (%d/%d)", r.job.Attempts, r.job.MaxAttempts))
	}
	return p.fail(ctx, r, fmt.Sprintf("merge-into-temp: deterministic conflict against unchanged base %s: %v", r.mainSnapshot, mergeErr))
}

// runChecks executes each configured check in order, fail-fast (spec.md
// §4.5 step 7). On failure: requeue if attempts remain, else skip.
func (p *Pipeline) runChecks(ctx context.Context, r *run) *Result {
	start := time.Now()
	defer p.observePhase("run-checks", start)

	for _, check := range p.cfg.Checks {
		timeout := check.Timeout
		if timeout <= 0 {
			timeout = p.cfg.CheckTimeout
		}
		cctx, cancel := context.WithTimeout(ctx, timeout)
		cmd := exec.CommandContext(cctx, check.Name, check.Args...)
		cmd.Dir = p.cfg.RepoPath
		err := cmd.Run()
		cancel()
		if err == nil {
			continue
		}

		reason := fmt.Sprintf("run-checks: %s failed: %v", check.Name, err)
		if attemptsExhausted(r.job) {
			return p.skip(ctx, r, reason)
		}
		return p.requeue(ctx, r, reason)
	}
	return nil
}

// fastForwardMain checks out main and fast-forwards it to the temp branch
// (spec.md §4.5 step 8). If FF fails unexpectedly, resync from remote,
// verify main is still an ancestor of temp, and retry once.
func (p *Pipeline) fastForwardMain(ctx context.Context, r *run) *Result {
	start := time.Now()
	defer p.observePhase("fast-forward-main", start)

	if err := p.checkoutAndFF(ctx, r); err == nil {
		return nil
	}

	if _, err := p.git.run(ctx, "fetch", "--prune", p.cfg.Remote); err != nil {
		return p.fail(ctx, r, fmt.Sprintf("fast-forward-main: resync fetch failed: %v", err))
	}
	ancestor, err := p.git.isAncestor(ctx, r.remoteMainRef, r.tempBranch)
	if err != nil || !ancestor {
		return p.fail(ctx, r, "fast-forward-main: invariant violation: main is not an ancestor of the merged temp branch after resync")
	}
	if err := p.checkoutAndFF(ctx, r); err != nil {
		return p.fail(ctx, r, fmt.Sprintf("fast-forward-main: retry failed: %v", err))
	}
	return nil
}

func (p *Pipeline) checkoutAndFF(ctx context.Context, r *run) error {
	if _, err := p.git.run(ctx, "checkout", p.cfg.MainBranch); err != nil {
		return err
	}
	_, err := p.git.run(ctx, "merge", "--ff-only", r.tempBranch)
	return err
}

// pushMain atomically pushes main (spec.md §4.5 step 9), unless
// PushMainAfterMerge is off or DryRun is set (spec.md §9's conservative
// default: pushMainAfterMerge and pushAgentBranch are independent,
// default-off flags). On rejection: disambiguate by fetching again; if the
// remote has advanced past local, treat as transient and requeue, else fail
// (auth/permissions).
func (p *Pipeline) pushMain(ctx context.Context, r *run) *Result {
	start := time.Now()
	defer p.observePhase("push-main", start)

	if p.cfg.DryRun || !p.cfg.PushMainAfterMerge {
		return nil
	}

	_, pushErr := p.git.run(ctx, "push", "--atomic", p.cfg.Remote, p.cfg.MainBranch)
	if pushErr == nil {
		return nil
	}

	if _, err := p.git.run(ctx, "fetch", "--prune", p.cfg.Remote); err != nil {
		return p.fail(ctx, r, fmt.Sprintf("push-main: rejected, and resync fetch failed: %v", err))
	}
	localSHA, _ := p.git.resolveRef(ctx, p.cfg.MainBranch)
	remoteIsAncestor, err := p.git.isAncestor(ctx, r.remoteMainRef, p.cfg.MainBranch)
	if err == nil && localSHA != "" && !remoteIsAncestor {
		return p.requeue(ctx, r, fmt.Sprintf("push-main: rejected, remote %s advanced past local: %v", r.remoteMainRef, pushErr))
	}
	return p.fail(ctx, r, fmt.Sprintf("push-main: rejected (auth/permissions): %v", pushErr))
}

// cleanup always runs on every exit path: abort any merge/cherry-pick left
// in progress and delete the temp branch locally (spec.md §4.5 invariant
// "temp branch deleted on every exit path"). When DeleteAfterMerge is set,
// DryRun is not, and the job ended completed, it also deletes the agent
// branch on the remote.
func (p *Pipeline) cleanup(ctx context.Context, r *run) {
	start := time.Now()
	defer p.observePhase("cleanup", start)

	_, _ = p.git.run(ctx, "merge", "--abort")
	_, _ = p.git.run(ctx, "cherry-pick", "--abort")
	_, _ = p.git.run(ctx, "checkout", p.cfg.MainBranch)
	_, _ = p.git.run(ctx, "branch", "-D", r.tempBranch)

	if p.cfg.DeleteAfterMerge && !p.cfg.DryRun {
		if job, err := p.jobs.Get(ctx, r.job.ID); err == nil && job != nil && job.Status == queue.StatusCompleted {
			_, _ = p.git.run(ctx, "push", p.cfg.Remote, "--delete", r.branch)
		}
	}
}
