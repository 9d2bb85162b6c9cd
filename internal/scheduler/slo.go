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
	"regexp"
	"sort"
	"time"

	"github.com/agentforge/corehub/internal/queue"
)

// timeoutPattern classifies a terminal job's failure as a timeout for the
// SLO summary's timeoutRate (spec.md §4.3: "jobs that failed specifically
// because of a stale-claim/budget timeout, not any other failure").
var timeoutPattern = regexp.MustCompile(`(?i)timeout|timed out|deadline exceeded|heartbeat stale|watchdog|stale worker claim`)

// Summary is the sliding-window SLO report spec.md §4.3 asks the scheduler
// to expose: p50/p95/avg of durationMs and queueWaitMs, plus success and
// timeout rates, broken down by priority tier.
type Summary struct {
	Priority    queue.Priority
	Count       int
	SuccessRate float64
	TimeoutRate float64

	DurationMsP50 int64
	DurationMsP95 int64
	DurationMsAvg int64

	QueueWaitMsP50 int64
	QueueWaitMsP95 int64
	QueueWaitMsAvg int64
}

// Tracker computes Summary reports over a sliding window of terminal jobs.
type Tracker struct {
	jobs   queue.Engine[queue.JobPayload]
	window time.Duration
}

// NewTracker creates a Tracker over the given sliding window (<=0 uses 1h).
func NewTracker(jobs queue.Engine[queue.JobPayload], window time.Duration) *Tracker {
	if window <= 0 {
		window = time.Hour
	}
	return &Tracker{jobs: jobs, window: window}
}

// Report fetches every job that reached a terminal state within the window
// and returns one Summary per priority tier observed, sorted by tier.
func (t *Tracker) Report(ctx context.Context) ([]Summary, error) {
	since := time.Now().UTC().Add(-t.window)
	items, err := t.jobs.ListTerminal(ctx, since, 0)
	if err != nil {
		return nil, err
	}

	byPriority := make(map[queue.Priority][]*queue.Item[queue.JobPayload])
	for _, it := range items {
		byPriority[it.Priority] = append(byPriority[it.Priority], it)
	}

	var out []Summary
	for p, group := range byPriority {
		out = append(out, summarize(p, group))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func summarize(p queue.Priority, items []*queue.Item[queue.JobPayload]) Summary {
	durations := make([]int64, 0, len(items))
	waits := make([]int64, 0, len(items))
	var succeeded, timedOut int
	now := time.Now().UTC()

	for _, it := range items {
		durations = append(durations, it.DurationMs)
		waits = append(waits, QueueWaitMs(it, now))
		switch it.Status {
		case queue.StatusCompleted:
			succeeded++
		case queue.StatusFailed:
			if it.Error != nil && timeoutPattern.MatchString(it.Error.Message+" "+it.Error.Detail) {
				timedOut++
			}
		}
	}

	n := len(items)
	s := Summary{Priority: p, Count: n}
	if n == 0 {
		return s
	}
	s.SuccessRate = float64(succeeded) / float64(n)
	s.TimeoutRate = float64(timedOut) / float64(n)
	s.DurationMsP50, s.DurationMsP95, s.DurationMsAvg = percentiles(durations)
	s.QueueWaitMsP50, s.QueueWaitMsP95, s.QueueWaitMsAvg = percentiles(waits)
	return s
}

// percentiles returns p50, p95 and the mean of vals; vals is sorted in
// place (callers own their slice).
func percentiles(vals []int64) (p50, p95, avg int64) {
	if len(vals) == 0 {
		return 0, 0, 0
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	p50 = vals[percentileIndex(len(vals), 0.50)]
	p95 = vals[percentileIndex(len(vals), 0.95)]
	var sum int64
	for _, v := range vals {
		sum += v
	}
	avg = sum / int64(len(vals))
	return
}

func percentileIndex(n int, q float64) int {
	idx := int(q * float64(n))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}
