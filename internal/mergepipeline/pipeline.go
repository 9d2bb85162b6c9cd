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
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentforge/corehub/internal/queue"
	"github.com/agentforge/corehub/pkg/corerr"
	"github.com/agentforge/corehub/pkg/log"
	"github.com/agentforge/corehub/pkg/metrics"
)

// Outcome is a merge job's terminal (or requeue) disposition.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeRequeued Outcome = "requeued"
	OutcomeIdle     Outcome = "idle" // nothing was claimable
)

// Result reports what happened to one claimed job.
type Result struct {
	JobID   string
	Outcome Outcome
	Reason  string
	MainSHA string
}

// Pipeline drives merge jobs claimed from a MergeJobs queue. Exactly one
// RunOnce should be in flight per daemon instance at a time (enforced by
// the caller holding a filelock.Lock on the state directory, spec.md §5).
type Pipeline struct {
	cfg    Config
	jobs   queue.Engine[queue.MergeJobPayload]
	git    *gitRunner
	logger *log.Logger
}

// New creates a Pipeline for one repository.
func New(cfg Config, jobs queue.Engine[queue.MergeJobPayload], logger *log.Logger) *Pipeline {
	cfg = cfg.WithDefaults()
	return &Pipeline{
		cfg:    cfg,
		jobs:   jobs,
		git:    newGitRunner(cfg.RepoPath, cfg.GitTimeout),
		logger: logger,
	}
}

// RunOnce claims the next merge job and drives it through all ten phases.
// Returns a Result with Outcome OutcomeIdle (and a nil error) when the queue
// had nothing claimable.
func (p *Pipeline) RunOnce(ctx context.Context, ownerID string) (*Result, error) {
	job, err := p.jobs.Claim(ctx, ownerID, queue.ClaimOptions{})
	if err != nil {
		return nil, err
	}
	if job == nil {
		return &Result{Outcome: OutcomeIdle}, nil
	}
	return p.runJob(ctx, job), nil
}

// run is the per-phase bookkeeping context for one job attempt.
type run struct {
	job           *queue.Item[queue.MergeJobPayload]
	remote        string
	branch        string
	headSHA       string
	tempBranch    string
	mainSnapshot  string // remote-tracking main's sha captured at update-main
	remoteMainRef string
	remoteBranch  string
}

func (p *Pipeline) runJob(ctx context.Context, job *queue.Item[queue.MergeJobPayload]) *Result {
	r := &run{
		job:           job,
		remote:        p.cfg.Remote,
		branch:        job.Payload.Branch,
		headSHA:       job.Payload.HeadSHA,
		tempBranch:    p.cfg.TempBranchPrefix + job.ID,
		remoteMainRef: p.cfg.Remote + "/" + p.cfg.MainBranch,
	}
	r.remoteBranch = p.cfg.Remote + "/" + r.branch

	defer p.cleanup(ctx, r)

	if res := p.resetClean(ctx, r); res != nil {
		return res
	}
	if res := p.updateMain(ctx, r); res != nil {
		return res
	}
	if res := p.validateJobSHA(ctx, r); res != nil {
		return res
	}
	if res := p.alreadyMerged(ctx, r); res != nil {
		return res
	}
	if res := p.createTempBranch(ctx, r); res != nil {
		return res
	}
	if res := p.mergeIntoTemp(ctx, r); res != nil {
		return res
	}
	if res := p.runChecks(ctx, r); res != nil {
		return res
	}
	if res := p.fastForwardMain(ctx, r); res != nil {
		return res
	}
	if res := p.pushMain(ctx, r); res != nil {
		return res
	}
	return p.succeed(ctx, r)
}

func (p *Pipeline) observePhase(phase string, start time.Time) {
	metrics.MergePhaseDurationSeconds.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

// fail marks the job failed (deterministic or fatal; never retried) and
// returns the terminal Result.
func (p *Pipeline) fail(ctx context.Context, r *run, reason string) *Result {
	blob := corerr.ToBlob(corerr.New(corerr.KindDeterministic, reason))
	if err := p.jobs.Fail(ctx, r.job.ID, blob); err != nil && p.logger != nil {
		p.logger.Warn("mergepipeline: fail transition errored", "job_id", r.job.ID, "error", err)
	}
	metrics.MergeOutcomeTotal.WithLabelValues(string(OutcomeFailed)).Inc()
	return &Result{JobID: r.job.ID, Outcome: OutcomeFailed, Reason: reason}
}

// fatal is a fail whose kind is KindFatal instead of KindDeterministic
// (mis-configured daemon, e.g. missing remote-tracking ref).
func (p *Pipeline) fatal(ctx context.Context, r *run, reason string) *Result {
	blob := corerr.ToBlob(corerr.New(corerr.KindFatal, reason))
	if err := p.jobs.Fail(ctx, r.job.ID, blob); err != nil && p.logger != nil {
		p.logger.Warn("mergepipeline: fatal transition errored", "job_id", r.job.ID, "error", err)
	}
	metrics.MergeOutcomeTotal.WithLabelValues(string(OutcomeFailed)).Inc()
	return &Result{JobID: r.job.ID, Outcome: OutcomeFailed, Reason: reason}
}

// skip marks the job skipped: the underlying work no longer applies, or
// attempts are exhausted.
func (p *Pipeline) skip(ctx context.Context, r *run, reason string) *Result {
	blob := corerr.ToBlob(corerr.New(corerr.KindDeterministic, reason))
	if err := p.jobs.Skip(ctx, r.job.ID, blob); err != nil && p.logger != nil {
		p.logger.Warn("mergepipeline: skip transition errored", "job_id", r.job.ID, "error", err)
	}
	metrics.MergeOutcomeTotal.WithLabelValues(string(OutcomeSkipped)).Inc()
	return &Result{JobID: r.job.ID, Outcome: OutcomeSkipped, Reason: reason}
}

// requeue puts the job back to pending via fail-then-requeue (the only path
// the generic Engine exposes for claimed -> pending, spec.md §4.2); Attempts
// is untouched by Requeue so retry counting stays correct.
func (p *Pipeline) requeue(ctx context.Context, r *run, reason string) *Result {
	blob := corerr.ToBlob(corerr.New(corerr.KindTransient, reason))
	if err := p.jobs.Fail(ctx, r.job.ID, blob); err != nil && p.logger != nil {
		p.logger.Warn("mergepipeline: requeue fail step errored", "job_id", r.job.ID, "error", err)
		return p.fail(ctx, r, reason)
	}
	if err := p.jobs.Requeue(ctx, r.job.ID); err != nil && p.logger != nil {
		p.logger.Warn("mergepipeline: requeue step errored", "job_id", r.job.ID, "error", err)
	}
	metrics.MergeOutcomeTotal.WithLabelValues(string(OutcomeRequeued)).Inc()
	return &Result{JobID: r.job.ID, Outcome: OutcomeRequeued, Reason: reason}
}

func (p *Pipeline) succeed(ctx context.Context, r *run) *Result {
	mainSHA, _ := p.git.resolveRef(ctx, p.cfg.MainBranch)
	if err := p.jobs.Complete(ctx, r.job.ID, queue.Result{Summary: fmt.Sprintf("merged %s into %s", r.branch, p.cfg.MainBranch)}); err != nil && p.logger != nil {
		p.logger.Warn("mergepipeline: complete transition errored", "job_id", r.job.ID, "error", err)
	}
	metrics.MergeOutcomeTotal.WithLabelValues(string(OutcomeSuccess)).Inc()
	return &Result{JobID: r.job.ID, Outcome: OutcomeSuccess, MainSHA: mainSHA}
}

// attemptsExhausted reports whether the job has used its last attempt
// (spec.md §4.5 invariant: "a job with attempts == maxAttempts ends in
// skipped, not infinite requeue").
func attemptsExhausted(job *queue.Item[queue.MergeJobPayload]) bool {
	return job.MaxAttempts > 0 && job.Attempts >= job.MaxAttempts
}

// backoffPolicy returns the capped exponential backoff (2s -> 30s) used for
// update-main fetch retries: the first fetch plus up to maxAttempts retries
// (spec.md §4.5 step 2 / §5).
func backoffPolicy(maxAttempts int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	return backoff.WithMaxRetries(b, uint64(maxAttempts))
}
