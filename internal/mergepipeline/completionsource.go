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
	"strings"
	"time"

	"github.com/agentforge/corehub/internal/queue"
	"github.com/agentforge/corehub/pkg/corerr"
)

// CompletionSource discovers new merge work and feeds it into the MergeJobs
// queue, idempotently. spec.md §9 leaves the discovery strategy an open
// question — "some worker commit flows leave the push to an operator;
// others push automatically" — so both implementations below coexist behind
// this interface, selected at the CLI via --completion-source.
type CompletionSource interface {
	// Discover enqueues any newly-found work as a MergeJob; duplicate
	// discoveries collapse via the (remote, branch, headSha) unique key
	// (spec.md §3/§4.2), so calling this repeatedly is always safe.
	Discover(ctx context.Context) error
}

// QueueCompletionSource is the server-authoritative mode: it claims worker
// completions from the shared Completions queue and turns each into a
// MergeJob.
type QueueCompletionSource struct {
	completions queue.Engine[queue.CompletionPayload]
	mergeJobs   queue.Engine[queue.MergeJobPayload]
	remote      string
	ownerID     string
}

// NewQueueCompletionSource creates a QueueCompletionSource claiming under
// ownerID (typically the merge daemon's own worker id).
func NewQueueCompletionSource(completions queue.Engine[queue.CompletionPayload], mergeJobs queue.Engine[queue.MergeJobPayload], remote, ownerID string) *QueueCompletionSource {
	return &QueueCompletionSource{completions: completions, mergeJobs: mergeJobs, remote: remote, ownerID: ownerID}
}

// Discover claims as many pending completions as are immediately available
// and turns each into a MergeJob enqueue, then marks the completion
// handled.
func (s *QueueCompletionSource) Discover(ctx context.Context) error {
	for {
		item, err := s.completions.Claim(ctx, s.ownerID, queue.ClaimOptions{})
		if err != nil {
			return err
		}
		if item == nil {
			return nil
		}

		_, enqErr := s.mergeJobs.Enqueue(ctx, &queue.Item[queue.MergeJobPayload]{
			SessionID: item.SessionID,
			Payload: queue.MergeJobPayload{
				Remote:  s.remote,
				Branch:  item.Payload.BranchRef,
				HeadSHA: item.Payload.CommitRef,
			},
			Priority:  queue.PriorityNormal,
			UniqueKey: queue.MergeJobUniqueKey(s.remote, item.Payload.BranchRef, item.Payload.CommitRef),
		})
		if enqErr != nil {
			_ = s.completions.Fail(ctx, item.ID, corerr.ToBlob(corerr.Wrap(corerr.KindTransient, enqErr, "completion-source: enqueue merge job failed")))
			return enqErr
		}
		if err := s.completions.Complete(ctx, item.ID, queue.Result{Summary: "translated into merge job"}); err != nil {
			return err
		}
	}
}

// PollingCompletionSource is the self-discovering mode: it lists remote
// refs under refs/pushpals/agent/* via `git ls-remote` on an interval and
// synthesizes MergeJobs directly, with no Completions queue involved
// (spec.md §4.5/§9).
type PollingCompletionSource struct {
	git       *gitRunner
	mergeJobs queue.Engine[queue.MergeJobPayload]
	remote    string
	refPrefix string
}

// NewPollingCompletionSource creates a PollingCompletionSource over
// repoPath's remote refs. refPrefix defaults to "refs/pushpals/agent/".
func NewPollingCompletionSource(repoPath string, mergeJobs queue.Engine[queue.MergeJobPayload], remote, refPrefix string, timeout time.Duration) *PollingCompletionSource {
	if refPrefix == "" {
		refPrefix = "refs/pushpals/agent/"
	}
	return &PollingCompletionSource{
		git:       newGitRunner(repoPath, timeout),
		mergeJobs: mergeJobs,
		remote:    remote,
		refPrefix: refPrefix,
	}
}

// Discover lists refPrefix's refs on the remote and enqueues a MergeJob for
// each, deduped via the merge-job queue's own (remote, branch, headSha)
// unique key (the "seen(remote, branch)" table of spec.md §4.2 is exactly
// this unique index — no separate bookkeeping table is needed).
func (s *PollingCompletionSource) Discover(ctx context.Context) error {
	out, err := s.git.run(ctx, "ls-remote", s.remote, s.refPrefix+"*")
	if err != nil {
		return fmt.Errorf("completion-source: ls-remote: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		sha, ref := fields[0], fields[1]
		branch := strings.TrimPrefix(ref, s.refPrefix)
		if branch == ref || branch == "" {
			continue
		}
		_, err := s.mergeJobs.Enqueue(ctx, &queue.Item[queue.MergeJobPayload]{
			Payload: queue.MergeJobPayload{
				Remote:  s.remote,
				Branch:  ref,
				HeadSHA: sha,
			},
			Priority:  queue.PriorityNormal,
			UniqueKey: queue.MergeJobUniqueKey(s.remote, ref, sha),
		})
		if err != nil {
			return fmt.Errorf("completion-source: enqueue merge job for %s: %w", ref, err)
		}
	}
	return nil
}
