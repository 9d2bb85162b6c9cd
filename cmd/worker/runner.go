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

package main

import (
	"context"
	"fmt"
	"time"
)

// jobPayload mirrors internal/queue.JobPayload's wire shape; the worker
// never imports internal/queue itself (it only speaks HTTP to the hub).
type jobPayload struct {
	Instruction string         `json:"instruction"`
	RepoRef     string         `json:"repoRef,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// Runner executes one job's opaque instruction. cancelled is polled
// periodically via the isCancelled callback; a Runner implementation is
// expected to check it between logical steps and return early with
// cancelled=true rather than completing.
type Runner interface {
	Run(ctx context.Context, payload jobPayload, cancelled func() bool) (summary string, wasCancelled bool, err error)
}

// echoRunner is the default, pluggable stand-in for a real sandboxed agent
// runner: it simulates a short multi-step job, polling cancelled between
// steps, and echoes back the instruction it was given. Real deployments
// swap this for a Runner that shells out to the actual sandbox (explicitly
// out of scope for this core, spec.md §1 Non-goals).
type echoRunner struct{}

func (echoRunner) Run(ctx context.Context, payload jobPayload, cancelled func() bool) (string, bool, error) {
	const steps = 3
	for i := 0; i < steps; i++ {
		if cancelled() {
			return "", true, nil
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return fmt.Sprintf("echo: %s", payload.Instruction), false, nil
}
