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

package corerr

import (
	"errors"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := New(KindDeterministic, "merge conflict with unchanged base")
	if !Is(err, KindDeterministic) {
		t.Error("Is should match same kind")
	}
	if Is(err, KindTransient) {
		t.Error("Is should not match different kind")
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if Wrap(KindTransient, nil, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWrapUnwraps(t *testing.T) {
	base := errors.New("connection refused")
	wrapped := Wrap(KindTransient, base, "fetch failed")
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should unwrap to base")
	}
	if KindOf(wrapped) != KindTransient {
		t.Errorf("KindOf: got %q", KindOf(wrapped))
	}
}

func TestToBlob(t *testing.T) {
	err := New(KindBudgetExhausted, "auto-failed after stale worker claim").WithDetail("ttl=90s")
	blob := ToBlob(err)
	if blob.Message != "auto-failed after stale worker claim" {
		t.Errorf("blob.Message: got %q", blob.Message)
	}
	if blob.Detail != "ttl=90s" {
		t.Errorf("blob.Detail: got %q", blob.Detail)
	}
}

func TestToBlobPlainError(t *testing.T) {
	blob := ToBlob(errors.New("plain"))
	if blob.Message != "plain" {
		t.Errorf("blob.Message: got %q", blob.Message)
	}
}
