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

package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/corehub/pkg/corerr"
)

func TestEnqueueIdempotentByUniqueKey(t *testing.T) {
	ctx := context.Background()
	eng := NewCompletionsMemoryEngine()

	key := CompletionUniqueKey("sess-1", "abc123", "pushpals/agent-1")
	r1, err := eng.Enqueue(ctx, &Item[CompletionPayload]{UniqueKey: key, Payload: CompletionPayload{CommitRef: "abc123"}})
	require.NoError(t, err)
	assert.True(t, r1.Created)

	r2, err := eng.Enqueue(ctx, &Item[CompletionPayload]{UniqueKey: key, Payload: CompletionPayload{CommitRef: "abc123"}})
	require.NoError(t, err)
	assert.False(t, r2.Created)
	assert.Equal(t, r1.ID, r2.ID)

	counts, err := eng.CountsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusPending])
}

func TestAtMostOneClaimPerOwnerUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	eng := NewJobsMemoryEngine(nil)

	for i := 0; i < 20; i++ {
		_, err := eng.Enqueue(ctx, &Item[JobPayload]{Payload: JobPayload{Instruction: "noop"}})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := make(map[string]bool)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			it, err := eng.Claim(ctx, "worker-a", ClaimOptions{})
			require.NoError(t, err)
			if it == nil {
				return
			}
			mu.Lock()
			claimed[it.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	// SingletonPerOwner: worker-a may hold at most one claim at a time, so
	// concurrent claims from the same owner must yield at most one winner.
	assert.LessOrEqual(t, len(claimed), 1)

	claimedItems, err := eng.ListClaimed(ctx)
	require.NoError(t, err)
	owners := map[string]int{}
	for _, it := range claimedItems {
		owners[it.OwnerID]++
	}
	for owner, n := range owners {
		assert.LessOrEqualf(t, n, 1, "owner %s holds %d claims, want at most 1", owner, n)
	}
}

func TestMergeQueueSingletonGlobal(t *testing.T) {
	ctx := context.Background()
	eng := NewMergeJobsMemoryEngine()

	for _, b := range []string{"a", "b", "c"} {
		_, err := eng.Enqueue(ctx, &Item[MergeJobPayload]{Payload: MergeJobPayload{Remote: "origin", Branch: b, HeadSHA: "sha-" + b}})
		require.NoError(t, err)
	}

	it1, err := eng.Claim(ctx, "merge-daemon", ClaimOptions{})
	require.NoError(t, err)
	require.NotNil(t, it1)

	// queue-wide singleton: a second claim attempt by ANY owner is blocked
	// while one item is claimed anywhere.
	it2, err := eng.Claim(ctx, "merge-daemon-2", ClaimOptions{})
	require.NoError(t, err)
	assert.Nil(t, it2)

	require.NoError(t, eng.Complete(ctx, it1.ID, Result{Summary: "merged"}))

	it3, err := eng.Claim(ctx, "merge-daemon-2", ClaimOptions{})
	require.NoError(t, err)
	assert.NotNil(t, it3)
}

func TestJobPolicyPriorityOrdering(t *testing.T) {
	ctx := context.Background()
	eng := NewJobsMemoryEngine(nil)

	_, err := eng.Enqueue(ctx, &Item[JobPayload]{Priority: PriorityBackground, Payload: JobPayload{Instruction: "bg"}})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = eng.Enqueue(ctx, &Item[JobPayload]{Priority: PriorityInteractive, Payload: JobPayload{Instruction: "interactive"}})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = eng.Enqueue(ctx, &Item[JobPayload]{Priority: PriorityNormal, Payload: JobPayload{Instruction: "normal"}})
	require.NoError(t, err)

	it, err := eng.Claim(ctx, "worker-1", ClaimOptions{})
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.Equal(t, "interactive", it.Payload.Instruction)
}

func TestJobPolicyTargetOwnerAffinity(t *testing.T) {
	ctx := context.Background()
	eng := NewJobsMemoryEngine(nil)

	_, err := eng.Enqueue(ctx, &Item[JobPayload]{Priority: PriorityInteractive, Payload: JobPayload{Instruction: "no-affinity"}})
	require.NoError(t, err)
	_, err = eng.Enqueue(ctx, &Item[JobPayload]{Priority: PriorityBackground, TargetOwner: "worker-2", Payload: JobPayload{Instruction: "affine"}})
	require.NoError(t, err)

	it, err := eng.Claim(ctx, "worker-2", ClaimOptions{})
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.Equal(t, "affine", it.Payload.Instruction)
}

func TestJobPolicyCapabilityFiltering(t *testing.T) {
	ctx := context.Background()
	eng := NewJobsMemoryEngine(nil)

	_, err := eng.Enqueue(ctx, &Item[JobPayload]{RequiredCapabilities: []string{"gpu"}, Payload: JobPayload{Instruction: "needs-gpu"}})
	require.NoError(t, err)

	it, err := eng.Claim(ctx, "worker-no-gpu", ClaimOptions{Capabilities: []string{"cpu"}})
	require.NoError(t, err)
	assert.Nil(t, it)

	it, err = eng.Claim(ctx, "worker-gpu", ClaimOptions{Capabilities: []string{"gpu", "cpu"}})
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.Equal(t, "needs-gpu", it.Payload.Instruction)
}

func TestCompleteRequiresClaimed(t *testing.T) {
	ctx := context.Background()
	eng := NewRequestsMemoryEngine()

	res, err := eng.Enqueue(ctx, &Item[RequestPayload]{Payload: RequestPayload{Text: "hello"}})
	require.NoError(t, err)

	err = eng.Complete(ctx, res.ID, Result{})
	assert.ErrorIs(t, err, corerr.ErrNotClaimed)

	err = eng.Complete(ctx, "nonexistent", Result{})
	assert.ErrorIs(t, err, corerr.ErrNotFound)
}

func TestRequeuePreservesAttemptsAndRequiresTerminalStatus(t *testing.T) {
	ctx := context.Background()
	eng := NewJobsMemoryEngine(nil)

	res, err := eng.Enqueue(ctx, &Item[JobPayload]{Payload: JobPayload{Instruction: "flaky"}})
	require.NoError(t, err)

	err = eng.Requeue(ctx, res.ID)
	assert.Error(t, err)

	it, err := eng.Claim(ctx, "worker-1", ClaimOptions{})
	require.NoError(t, err)
	require.NotNil(t, it)

	require.NoError(t, eng.Fail(ctx, it.ID, corerr.ToBlob(corerr.New(corerr.KindTransient, "sandbox crashed"))))
	require.NoError(t, eng.Requeue(ctx, it.ID))

	got, err := eng.Get(ctx, it.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Nil(t, got.Error)
}

func TestRecoverStaleUsesActivityNotJustClaimTime(t *testing.T) {
	ctx := context.Background()
	eng := NewJobsMemoryEngine(nil)

	res, err := eng.Enqueue(ctx, &Item[JobPayload]{Payload: JobPayload{Instruction: "long-running"}})
	require.NoError(t, err)
	it, err := eng.Claim(ctx, "worker-1", ClaimOptions{})
	require.NoError(t, err)
	require.NotNil(t, it)
	require.Equal(t, res.ID, it.ID)

	// Let the claim age past a 20ms TTL, then stamp activity: the fresh
	// FirstActivityAt keeps the item claimed even though ClaimedAt is stale.
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, eng.MarkActivity(ctx, it.ID))
	recovered, err := eng.RecoverStale(ctx, 20*time.Millisecond, 500)
	require.NoError(t, err)
	assert.Empty(t, recovered)

	// Once the activity itself is older than the TTL, recovery happens.
	time.Sleep(30 * time.Millisecond)
	recovered, err = eng.RecoverStale(ctx, 20*time.Millisecond, 500)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, StatusFailed, recovered[0].Status)
	require.NotNil(t, recovered[0].Error)
	assert.Contains(t, recovered[0].Error.Message, "auto-failed after stale worker claim")
}

func TestClaimReturnsNilWhenQueueEmpty(t *testing.T) {
	ctx := context.Background()
	eng := NewRequestsMemoryEngine()
	it, err := eng.Claim(ctx, "worker-1", ClaimOptions{})
	require.NoError(t, err)
	assert.Nil(t, it)
}

func TestRequestIdempotencyKeyScopedByOwnerAgent(t *testing.T) {
	ctx := context.Background()
	eng := NewRequestsMemoryEngine()

	key := RequestUniqueKey("agent-1", "retry-token-a")
	r1, err := eng.Enqueue(ctx, &Item[RequestPayload]{
		Payload:   RequestPayload{Text: "deploy", OwnerAgentID: "agent-1", IdempotencyKey: "retry-token-a"},
		UniqueKey: key,
	})
	require.NoError(t, err)
	assert.True(t, r1.Created)

	// same owner, same idempotency key: collapses into the same item.
	r2, err := eng.Enqueue(ctx, &Item[RequestPayload]{
		Payload:   RequestPayload{Text: "deploy", OwnerAgentID: "agent-1", IdempotencyKey: "retry-token-a"},
		UniqueKey: key,
	})
	require.NoError(t, err)
	assert.False(t, r2.Created)
	assert.Equal(t, r1.ID, r2.ID)

	// same idempotency key, different owner: distinct namespace, not deduped.
	r3, err := eng.Enqueue(ctx, &Item[RequestPayload]{
		Payload:   RequestPayload{Text: "deploy", OwnerAgentID: "agent-2", IdempotencyKey: "retry-token-a"},
		UniqueKey: RequestUniqueKey("agent-2", "retry-token-a"),
	})
	require.NoError(t, err)
	assert.True(t, r3.Created)
	assert.NotEqual(t, r1.ID, r3.ID)

	// no idempotency key supplied: every enqueue is its own item.
	r4, err := eng.Enqueue(ctx, &Item[RequestPayload]{Payload: RequestPayload{Text: "status"}})
	require.NoError(t, err)
	r5, err := eng.Enqueue(ctx, &Item[RequestPayload]{Payload: RequestPayload{Text: "status"}})
	require.NoError(t, err)
	assert.NotEqual(t, r4.ID, r5.ID)
}

func TestRequestCancelStampsCancelRequestedAtForClaimedItem(t *testing.T) {
	ctx := context.Background()
	eng := NewJobsMemoryEngine(nil)

	res, err := eng.Enqueue(ctx, &Item[JobPayload]{Payload: JobPayload{Instruction: "long-running"}})
	require.NoError(t, err)
	it, err := eng.Claim(ctx, "worker-1", ClaimOptions{})
	require.NoError(t, err)
	require.NotNil(t, it)
	require.Nil(t, it.CancelRequestedAt)

	require.NoError(t, eng.RequestCancel(ctx, res.ID))

	got, err := eng.Get(ctx, res.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CancelRequestedAt)

	// the stamp leaves the item claimed, so its owner can still finish it;
	// here it ends skipped rather than completed.
	require.NoError(t, eng.Skip(ctx, res.ID, corerr.ToBlob(corerr.New(corerr.KindValidation, "cancelled"))))
	got, err = eng.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, got.Status)
}

func TestRequestCancelUnknownItemReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	eng := NewRequestsMemoryEngine()
	err := eng.RequestCancel(ctx, "nonexistent")
	assert.ErrorIs(t, err, corerr.ErrNotFound)
}

func TestRequeueClearsCancelRequestedAt(t *testing.T) {
	ctx := context.Background()
	eng := NewJobsMemoryEngine(nil)

	res, err := eng.Enqueue(ctx, &Item[JobPayload]{Payload: JobPayload{Instruction: "flaky"}})
	require.NoError(t, err)
	it, err := eng.Claim(ctx, "worker-1", ClaimOptions{})
	require.NoError(t, err)
	require.NoError(t, eng.RequestCancel(ctx, res.ID))
	require.NoError(t, eng.Fail(ctx, it.ID, corerr.ToBlob(corerr.New(corerr.KindTransient, "sandbox crashed"))))
	require.NoError(t, eng.Requeue(ctx, it.ID))

	got, err := eng.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CancelRequestedAt)
}
