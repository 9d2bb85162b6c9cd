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

// Package hubclient is the HTTP client cmd/worker and cmd/planner use to
// talk to cmd/hub's internal/httpapi surface — the *_SERVER_URL/*_AUTH_TOKEN
// env var pair spec.md §6 names for every daemon that isn't the merge
// pipeline (cmd/pusher instead talks to its own local SQLite file directly).
package hubclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentforge/corehub/pkg/corerr"
)

// Client is a thin, queue-name-parameterized wrapper around net/http: every
// method just POSTs/GETs one of the routes internal/httpapi/router.go
// registers.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// New creates a Client. httpClient may be nil (a default with a 30s timeout
// is used then).
func New(baseURL, authToken string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, authToken: authToken, httpClient: httpClient}
}

// Item mirrors the JSON shape of a queue.Item[T] response — the client has
// no compile-time dependency on internal/queue's generic Item so it can be
// vendored independently of the core's internals, mirroring the teacher's
// own API-client/server separation.
type Item struct {
	ID         string          `json:"ID"`
	Status     string          `json:"Status"`
	OwnerID    string          `json:"OwnerID"`
	Payload    json.RawMessage `json:"Payload"`
	DurationMs int64           `json:"DurationMs"`

	CancelRequestedAt *time.Time `json:"CancelRequestedAt"`
}

// EnqueueResult mirrors queue.EnqueueResult.
type EnqueueResult struct {
	ID            string `json:"ID"`
	QueuePosition int    `json:"QueuePosition"`
	ETAMs         int64  `json:"ETAMs"`
	Created       bool   `json:"Created"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return corerr.Wrap(corerr.KindTransient, err, "hubclient: request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return corerr.Wrap(corerr.KindTransient, err, "hubclient: read response")
	}

	if resp.StatusCode >= 300 {
		var blob struct {
			Error corerr.Blob `json:"error"`
		}
		_ = json.Unmarshal(respBody, &blob)
		if blob.Error.Message == "" {
			blob.Error.Message = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		}
		return statusErr(resp.StatusCode, blob.Error)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// statusErr maps an HTTP status back to the nearest corerr.Kind, the
// inverse of internal/httpapi/queuehandlers.go's writeErr.
func statusErr(status int, blob corerr.Blob) error {
	var kind corerr.Kind
	switch status {
	case http.StatusBadRequest:
		kind = corerr.KindValidation
	case http.StatusNotFound:
		kind = corerr.KindNotFound
	case http.StatusConflict:
		kind = corerr.KindNotClaimed
	case http.StatusServiceUnavailable:
		kind = corerr.KindTransient
	case http.StatusUnprocessableEntity:
		kind = corerr.KindDeterministic
	case http.StatusRequestTimeout:
		kind = corerr.KindBudgetExhausted
	default:
		kind = corerr.KindFatal
	}
	return corerr.New(kind, blob.Message).WithDetail(blob.Detail)
}

// Claim polls queueName's .../claim with the given workerID and optional
// dispatch filters. A nil, nil result means nothing was claimable.
func (c *Client) Claim(ctx context.Context, queueName, workerID, queueClass string, capabilities []string) (*Item, error) {
	var out struct {
		OK   bool `json:"ok"`
		Item
	}
	body := map[string]any{"workerId": workerID}
	if queueClass != "" {
		body["queueClass"] = queueClass
	}
	if len(capabilities) > 0 {
		body["capabilities"] = capabilities
	}
	if err := c.do(ctx, http.MethodPost, "/"+queueName+"/claim", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, nil
	}
	return &out.Item, nil
}

// Get fetches a single item by id, used for cooperative cancellation
// polling (SPEC_FULL.md §10) — nil, nil if not found.
func (c *Client) Get(ctx context.Context, queueName, id string) (*Item, error) {
	var out Item
	err := c.do(ctx, http.MethodGet, "/"+queueName+"/"+id, nil, &out)
	if corerr.KindOf(err) == corerr.KindNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Complete reports a claimed item finished.
func (c *Client) Complete(ctx context.Context, queueName, id, summary string, artifacts []byte) error {
	return c.do(ctx, http.MethodPost, "/"+queueName+"/"+id+"/complete", map[string]any{
		"summary":   summary,
		"artifacts": artifacts,
	}, nil)
}

// Fail reports a claimed item failed.
func (c *Client) Fail(ctx context.Context, queueName, id, message, detail string) error {
	return c.do(ctx, http.MethodPost, "/"+queueName+"/"+id+"/fail", map[string]any{
		"message": message,
		"detail":  detail,
	}, nil)
}

// Heartbeat posts to /jobs/:id/heartbeat, which stamps the job's
// FirstActivityAt if it is unset; repeat calls do not move it further
// (Jobs only, SPEC_FULL.md §10/spec.md §4.3).
func (c *Client) Heartbeat(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/jobs/"+jobID+"/heartbeat", nil, nil)
}

// Enqueue posts body to queueName's base route and decodes the
// EnqueueResult.
func (c *Client) Enqueue(ctx context.Context, queueName string, body any) (EnqueueResult, error) {
	var out EnqueueResult
	err := c.do(ctx, http.MethodPost, "/"+queueName, body, &out)
	return out, err
}
