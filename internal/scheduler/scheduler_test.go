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

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/corehub/internal/queue"
	"github.com/agentforge/corehub/internal/workerregistry"
	"github.com/agentforge/corehub/pkg/corerr"
)

func newJobsEngine() queue.Engine[queue.JobPayload] {
	return queue.NewJobsMemoryEngine(SlotMs{Interactive: 5000, Normal: 15000, Background: 60000}.ETAFunc())
}

func TestDefaultBudgetsPerTier(t *testing.T) {
	assert.Equal(t, int64(20_000), DefaultBudgets(queue.PriorityInteractive).QueueWaitBudgetMs)
	assert.Equal(t, int64(90_000), DefaultBudgets(queue.PriorityNormal).QueueWaitBudgetMs)
	assert.Equal(t, int64(240_000), DefaultBudgets(queue.PriorityBackground).QueueWaitBudgetMs)
}

func TestQueueWaitMsMeasuresToClaimNotNow(t *testing.T) {
	now := time.Now().UTC()
	claimedAt := now.Add(2 * time.Second)
	it := &queue.Item[queue.JobPayload]{EnqueuedAt: now, ClaimedAt: &claimedAt}
	assert.Equal(t, int64(2000), QueueWaitMs(it, now.Add(time.Hour)))
}

func TestStaleClaimSweeperRecoversPastTTLWithNoWorkerBackingClaim(t *testing.T) {
	ctx := context.Background()
	jobs := newJobsEngine()
	registry := workerregistry.New(time.Minute)

	res, err := jobs.Enqueue(ctx, &queue.Item[queue.JobPayload]{Payload: queue.JobPayload{Instruction: "do it"}})
	require.NoError(t, err)
	item, err := jobs.Claim(ctx, "worker-1", queue.ClaimOptions{})
	require.NoError(t, err)
	require.NotNil(t, item)
	require.Equal(t, res.ID, item.ID)

	// No heartbeat registered for worker-1, so the sweeper has nothing to
	// extend the grace window with: a short TTL alone should recover it.
	sweeper := NewStaleClaimSweeper(jobs, registry, time.Millisecond, 0, nil)
	time.Sleep(5 * time.Millisecond)

	recovered, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, item.ID, recovered[0].ID)

	got, err := jobs.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, got.Error.Message, "auto-failed after stale worker claim")
}

func TestStaleClaimSweeperGrantsGraceWindowWhileWorkerHeartbeats(t *testing.T) {
	ctx := context.Background()
	jobs := newJobsEngine()
	registry := workerregistry.New(time.Minute)

	res, err := jobs.Enqueue(ctx, &queue.Item[queue.JobPayload]{
		Payload:              queue.JobPayload{Instruction: "long running"},
		ExecutionBudgetMs:    60_000,
		FinalizationBudgetMs: 10_000,
	})
	require.NoError(t, err)
	item, err := jobs.Claim(ctx, "worker-1", queue.ClaimOptions{})
	require.NoError(t, err)
	require.NotNil(t, item)

	registry.Heartbeat("worker-1", workerregistry.StatusBusy, item.ID, nil)

	// The 20ms TTL has elapsed, but the worker is still heartbeating with
	// this exact job, so the grace window min(70s budgets, ttl*5 = 100ms)
	// keeps it claimed.
	sweeper := NewStaleClaimSweeper(jobs, registry, 20*time.Millisecond, 0, nil)
	time.Sleep(25 * time.Millisecond)

	recovered, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, recovered)

	got, err := jobs.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusClaimed, got.Status)
}

func TestStaleClaimSweeperClearsWorkerCurrentJob(t *testing.T) {
	ctx := context.Background()
	jobs := newJobsEngine()
	registry := workerregistry.New(time.Minute)

	res, err := jobs.Enqueue(ctx, &queue.Item[queue.JobPayload]{Payload: queue.JobPayload{Instruction: "x"}})
	require.NoError(t, err)
	claimed, err := jobs.Claim(ctx, "worker-1", queue.ClaimOptions{})
	require.NoError(t, err)
	require.NotNil(t, claimed)
	registry.Heartbeat("worker-1", workerregistry.StatusBusy, claimed.ID, nil)

	sweeper := NewStaleClaimSweeper(jobs, registry, time.Millisecond, 0, nil)
	time.Sleep(5 * time.Millisecond)
	// worker's heartbeat is fresh but the TTL is tiny and no budgets were set
	// on this job (grace window collapses to ttl*5 = 5ms, already elapsed).
	recovered, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, res.ID, recovered[0].ID)

	w := registry.Get("worker-1")
	require.NotNil(t, w)
	assert.Empty(t, w.CurrentJobID)
	assert.Equal(t, workerregistry.StatusError, w.Status)
}

func TestTrackerReportSummarizesTerminalJobsByPriority(t *testing.T) {
	ctx := context.Background()
	jobs := newJobsEngine()

	okRes, err := jobs.Enqueue(ctx, &queue.Item[queue.JobPayload]{Payload: queue.JobPayload{Instruction: "ok"}, Priority: queue.PriorityNormal})
	require.NoError(t, err)
	okItem, err := jobs.Claim(ctx, "w1", queue.ClaimOptions{})
	require.NoError(t, err)
	require.NoError(t, jobs.Complete(ctx, okItem.ID, queue.Result{Summary: "done"}))

	failRes, err := jobs.Enqueue(ctx, &queue.Item[queue.JobPayload]{Payload: queue.JobPayload{Instruction: "timeout"}, Priority: queue.PriorityNormal})
	require.NoError(t, err)
	failItem, err := jobs.Claim(ctx, "w2", queue.ClaimOptions{})
	require.NoError(t, err)
	blob := corerr.ToBlob(corerr.New(corerr.KindBudgetExhausted, "auto-failed after stale worker claim"))
	require.NoError(t, jobs.Fail(ctx, failItem.ID, blob))

	tracker := NewTracker(jobs, time.Hour)
	summaries, err := tracker.Report(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	s := summaries[0]
	assert.Equal(t, queue.PriorityNormal, s.Priority)
	assert.Equal(t, 2, s.Count)
	assert.InDelta(t, 0.5, s.SuccessRate, 0.001)
	assert.InDelta(t, 0.5, s.TimeoutRate, 0.001)
	_ = okRes
	_ = failRes
}

func TestClassLimiterUnlimitedWhenRpsZero(t *testing.T) {
	lim := NewClassLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, lim.Allow("default"))
	}
}

func TestClassLimiterThrottlesPerClass(t *testing.T) {
	lim := NewClassLimiter(1, 1)
	assert.True(t, lim.Allow("default"))
	assert.False(t, lim.Allow("default"))
	// a distinct class gets its own bucket.
	assert.True(t, lim.Allow("gpu"))
}

func TestWakeupQueueMemReceiveTimesOutWithoutSignal(t *testing.T) {
	q := NewWakeupQueueMem(1)
	_, ok := q.Receive(context.Background(), 5*time.Millisecond)
	assert.False(t, ok)
}

func TestWakeupQueueMemNotifyThenReceive(t *testing.T) {
	q := NewWakeupQueueMem(1)
	require.NoError(t, q.NotifyReady(context.Background(), "jobs"))
	class, ok := q.Receive(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, "jobs", class)
}

func TestWakeupQueueMemNotifyDoesNotBlockWhenFull(t *testing.T) {
	q := NewWakeupQueueMem(1)
	require.NoError(t, q.NotifyReady(context.Background(), "a"))
	require.NoError(t, q.NotifyReady(context.Background(), "b")) // buffer full, dropped silently
}
