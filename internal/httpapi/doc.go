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

// Package httpapi exposes the coordination core over HTTP (spec.md §6):
// session create/stream/post, the three client-facing queues
// (jobs/completions/requests) and the observability summary endpoints. Built
// on the teacher's own stack, github.com/cloudwego/hertz, with
// github.com/hertz-contrib/websocket for the bidirectional session stream.
package httpapi
