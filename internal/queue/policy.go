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

// ClaimOptions narrows which pending items are eligible for a given claim
// call; zero value matches everything.
type ClaimOptions struct {
	QueueClass   string
	Capabilities []string
	TenantID     string
}

// ClaimPolicy picks, among pending candidates, the next one owner should
// receive — or nil if none are eligible. Implementations never mutate
// candidates.
type ClaimPolicy[T any] func(candidates []*Item[T], ownerID string, opts ClaimOptions) *Item[T]

// Singleton controls how many concurrently claimed items a single owner
// (or the whole queue) may hold.
type Singleton int

const (
	// SingletonPerOwner: at most one claimed item per ownerId — the job
	// queue's rule (spec.md §3: "at most one claimed per worker, but
	// multiple workers may each hold one claim").
	SingletonPerOwner Singleton = iota
	// SingletonGlobal: at most one claimed item queue-wide — the merge
	// queue's strictly-serial rule.
	SingletonGlobal
)

// FIFOPolicy orders strictly by (priority DESC, createdAt ASC) and claims
// one at a time queue-wide — the merge job queue's rule (spec.md §4.2).
// "Priority" here is the merge job's raw integer priority field, carried in
// Item.Priority; higher wins.
func FIFOPolicy[T any]() ClaimPolicy[T] {
	return func(candidates []*Item[T], ownerID string, opts ClaimOptions) *Item[T] {
		var best *Item[T]
		for _, c := range candidates {
			if best == nil || betterMergeCandidate(c, best) {
				best = c
			}
		}
		return best
	}
}

func betterMergeCandidate[T any](a, b *Item[T]) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority // higher integer priority wins
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.seq < b.seq
}

// JobPolicy implements the job queue's three-part ordering (spec.md §4.2):
// targetOwner affinity first, then priority tier (interactive < normal <
// background), then createdAt ascending; candidates are additionally
// filtered to ones whose RequiredCapabilities are covered by
// opts.Capabilities and whose QueueClass (if set) matches opts.QueueClass.
func JobPolicy() ClaimPolicy[JobPayload] {
	return func(candidates []*Item[JobPayload], ownerID string, opts ClaimOptions) *Item[JobPayload] {
		var best *Item[JobPayload]
		for _, c := range candidates {
			if opts.QueueClass != "" && c.QueueClass != "" && c.QueueClass != opts.QueueClass {
				continue
			}
			if !capabilitiesCover(c.RequiredCapabilities, opts.Capabilities) {
				continue
			}
			if best == nil || betterJobCandidate(c, best, ownerID) {
				best = c
			}
		}
		return best
	}
}

func betterJobCandidate(a, b *Item[JobPayload], ownerID string) bool {
	aAffine := a.TargetOwner == ownerID
	bAffine := b.TargetOwner == ownerID
	if aAffine != bAffine {
		return aAffine
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority // interactive(0) < normal(1) < background(2)
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.seq < b.seq
}

// capabilitiesCover reports whether workerCapabilities is a superset of
// jobRequired; empty jobRequired means any worker may run it, and empty
// workerCapabilities means the caller isn't filtering by capability.
func capabilitiesCover(jobRequired, workerCapabilities []string) bool {
	if len(jobRequired) == 0 || len(workerCapabilities) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(workerCapabilities))
	for _, c := range workerCapabilities {
		set[c] = struct{}{}
	}
	for _, r := range jobRequired {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}

// SimplePolicy is plain createdAt-ascending FIFO, used by Requests and
// Completions — queues with no priority tiering of their own.
func SimplePolicy[T any]() ClaimPolicy[T] {
	return func(candidates []*Item[T], ownerID string, opts ClaimOptions) *Item[T] {
		var best *Item[T]
		for _, c := range candidates {
			if best == nil || c.EnqueuedAt.Before(best.EnqueuedAt) || (c.EnqueuedAt.Equal(best.EnqueuedAt) && c.seq < best.seq) {
				best = c
			}
		}
		return best
	}
}
