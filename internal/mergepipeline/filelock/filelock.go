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

// Package filelock provides OS advisory locking (spec.md §5/§9) so exactly
// one merge-pipeline daemon instance owns a repository's working tree at a
// time. No pack dependency wraps syscall.Flock more conveniently than the
// syscall itself, so this is a documented standard-library exception
// (DESIGN.md).
package filelock

import (
	"fmt"
	"os"
	"syscall"
)

// Lock is a held advisory lock on a single file.
type Lock struct {
	f *os.File
}

// TryAcquire attempts a non-blocking exclusive lock on path (created if
// missing). Returns an error immediately if another process holds it —
// callers must exit non-zero rather than block (spec.md §9 "daemons that
// fail to acquire it must exit non-zero with a clear message rather than
// racing with the existing instance").
func TryAcquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filelock: open %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("filelock: %s is held by another process: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// Release unlocks and closes the underlying file handle.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil
	if err != nil {
		return err
	}
	return closeErr
}
