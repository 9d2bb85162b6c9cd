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

package eventstore

import (
	"context"
	"errors"
	"testing"
)

func TestAppendRejectsMissingSession(t *testing.T) {
	s := NewMemStore()
	_, err := s.Append(context.Background(), "ghost", KindChat, []byte("{}"))
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestAppendCreateOrJoinIdempotent(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	created1, err := s.CreateSession(ctx, "sess-1", "")
	if err != nil || !created1 {
		t.Fatalf("first create: created=%v err=%v", created1, err)
	}
	created2, err := s.CreateSession(ctx, "sess-1", "")
	if err != nil || created2 {
		t.Fatalf("second create: created=%v err=%v", created2, err)
	}
}

func TestCursorMonotonicity(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	if _, err := s.CreateSession(ctx, "s1", ""); err != nil {
		t.Fatal(err)
	}
	var last int64
	for i := 0; i < 50; i++ {
		cursor, err := s.Append(ctx, "s1", KindChat, []byte("{}"))
		if err != nil {
			t.Fatal(err)
		}
		if cursor <= last {
			t.Fatalf("cursor did not increase: prev=%d got=%d", last, cursor)
		}
		last = cursor
	}
}

func TestCursorIsPerStoreNotPerSession(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	if _, err := s.CreateSession(ctx, "a", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateSession(ctx, "b", ""); err != nil {
		t.Fatal(err)
	}
	c1, _ := s.Append(ctx, "a", KindChat, []byte("{}"))
	c2, _ := s.Append(ctx, "b", KindChat, []byte("{}"))
	if c2 <= c1 {
		t.Fatalf("expected cursor to keep increasing across sessions: c1=%d c2=%d", c1, c2)
	}
}

func TestReplayPrefix(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	if _, err := s.CreateSession(ctx, "s1", ""); err != nil {
		t.Fatal(err)
	}
	var cursors []int64
	for i := 0; i < 100; i++ {
		c, err := s.Append(ctx, "s1", KindChat, []byte("{}"))
		if err != nil {
			t.Fatal(err)
		}
		cursors = append(cursors, c)
	}
	full, err := s.EventsAfter(ctx, "s1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(full) != 100 {
		t.Fatalf("expected 100 events, got %d", len(full))
	}
	after42, err := s.EventsAfter(ctx, "s1", cursors[41], 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(after42) != 58 {
		t.Fatalf("expected 58 events after cursor %d, got %d", cursors[41], len(after42))
	}
	for i, ev := range after42 {
		if ev.Cursor != full[42+i].Cursor {
			t.Fatalf("replay prefix mismatch at %d: got %d want %d", i, ev.Cursor, full[42+i].Cursor)
		}
	}
}

func TestEventsAfterLimitClamped(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	if _, err := s.CreateSession(ctx, "s1", ""); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, "s1", KindChat, []byte("{}")); err != nil {
			t.Fatal(err)
		}
	}
	evs, err := s.EventsAfter(ctx, "s1", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected limit=2 to clamp results, got %d", len(evs))
	}
}

func TestLatestCursorZeroWhenEmpty(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	if _, err := s.CreateSession(ctx, "s1", ""); err != nil {
		t.Fatal(err)
	}
	c, err := s.LatestCursor(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if c != 0 {
		t.Fatalf("expected 0, got %d", c)
	}
}
