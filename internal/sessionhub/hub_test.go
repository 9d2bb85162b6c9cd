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

package sessionhub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/corehub/internal/eventstore"
)

func newHub() *Hub {
	return New(eventstore.NewMemStore())
}

func TestCreateOrJoinValidatesID(t *testing.T) {
	h := newHub()
	ctx := context.Background()

	_, _, err := h.CreateOrJoin(ctx, "bad id with spaces")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSessionID)

	id, created, err := h.CreateOrJoin(ctx, "session-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "session-1", id)

	_, created, err = h.CreateOrJoin(ctx, "session-1")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestCreateOrJoinMintsIDWhenEmpty(t *testing.T) {
	h := newHub()
	id, created, err := h.CreateOrJoin(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, id)
}

func TestPostMessageAppendsChatEvent(t *testing.T) {
	h := newHub()
	ctx := context.Background()
	id, _, err := h.CreateOrJoin(ctx, "s1")
	require.NoError(t, err)

	cursor, err := h.PostMessage(ctx, id, "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cursor)

	events, err := h.store.EventsAfter(ctx, id, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, eventstore.KindChat, events[0].Kind)
}

func TestPostCommandAppendsArbitraryKind(t *testing.T) {
	h := newHub()
	ctx := context.Background()
	id, _, err := h.CreateOrJoin(ctx, "s1")
	require.NoError(t, err)

	_, err = h.PostCommand(ctx, id, eventstore.KindTaskLifecycle, []byte(`{"state":"started"}`))
	require.NoError(t, err)

	events, err := h.store.EventsAfter(ctx, id, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, eventstore.KindTaskLifecycle, events[0].Kind)
}

func TestSubscribeReplaysThenTailsLive(t *testing.T) {
	h := newHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, _, err := h.CreateOrJoin(ctx, "s1")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := h.PostMessage(ctx, id, "backlog")
		require.NoError(t, err)
	}

	ch, err := h.Subscribe(ctx, id, 0)
	require.NoError(t, err)

	var cursors []int64
	for i := 0; i < 3; i++ {
		select {
		case e := <-ch:
			cursors = append(cursors, e.Cursor)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for backlog replay")
		}
	}
	assert.Equal(t, []int64{1, 2, 3}, cursors)

	_, err = h.PostMessage(ctx, id, "live")
	require.NoError(t, err)
	select {
	case e := <-ch:
		assert.Equal(t, int64(4), e.Cursor)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live append")
	}
}

func TestSubscribeReplaysOnlyAfterCursor(t *testing.T) {
	h := newHub()
	ctx := context.Background()
	id, _, err := h.CreateOrJoin(ctx, "s1")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := h.PostMessage(ctx, id, "msg")
		require.NoError(t, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := h.Subscribe(subCtx, id, 2)
	require.NoError(t, err)

	var cursors []int64
	for i := 0; i < 3; i++ {
		select {
		case e := <-ch:
			cursors = append(cursors, e.Cursor)
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
	assert.Equal(t, []int64{3, 4, 5}, cursors)
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	h := newHub()
	ctx, cancel := context.WithCancel(context.Background())
	id, _, err := h.CreateOrJoin(ctx, "s1")
	require.NoError(t, err)

	ch, err := h.Subscribe(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, h.SubscriberCount(id))

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
