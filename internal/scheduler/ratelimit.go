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
	"sync"

	"golang.org/x/time/rate"
)

// ClassLimiter throttles Claim calls per queueClass (spec.md §4.3: "the
// scheduler MAY cap claim throughput per queue class so one noisy class
// cannot starve the sweep or other classes of DB time"). One limiter is
// created lazily per class on first use.
type ClassLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewClassLimiter creates a limiter keyed by queue class, each capped at rps
// claims/sec with the given burst (<=0 rps means unlimited: Allow always
// returns true).
func NewClassLimiter(rps float64, burst int) *ClassLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ClassLimiter{limiters: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

// Allow reports whether a claim attempt for queueClass may proceed now.
func (c *ClassLimiter) Allow(queueClass string) bool {
	if c.rps <= 0 {
		return true
	}
	c.mu.Lock()
	lim, ok := c.limiters[queueClass]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(c.rps), c.burst)
		c.limiters[queueClass] = lim
	}
	c.mu.Unlock()
	return lim.Allow()
}
