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
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// runGit runs git in dir and fails the test on error, returning trimmed
// stdout.
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

// writeFile writes content to name under dir, creating parent dirs.
func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newTestRepoPair creates a bare remote and a clone with an initial commit
// on main, configured with a local commit identity so commits don't depend
// on global git config. Returns (remoteDir, clonePath).
func newTestRepoPair(t *testing.T) (remoteDir, clonePath string) {
	t.Helper()
	remoteDir = t.TempDir()
	runGit(t, remoteDir, "init", "--bare", "-b", "main")

	clonePath = t.TempDir()
	runGit(t, filepath.Dir(clonePath), "clone", remoteDir, clonePath)
	configureIdentity(t, clonePath)

	writeFile(t, clonePath, "README.md", "hello\n")
	runGit(t, clonePath, "add", "README.md")
	runGit(t, clonePath, "commit", "-m", "initial commit")
	runGit(t, clonePath, "push", "origin", "main")
	return remoteDir, clonePath
}

func configureIdentity(t *testing.T, repoPath string) {
	t.Helper()
	runGit(t, repoPath, "config", "user.email", "test@example.com")
	runGit(t, repoPath, "config", "user.name", "Test User")
}

// cloneRemote creates a second working clone of remoteDir, used to act as
// "another agent" pushing branches or "a concurrent actor" advancing main.
func cloneRemote(t *testing.T, remoteDir string) string {
	t.Helper()
	path := t.TempDir()
	runGit(t, filepath.Dir(path), "clone", remoteDir, path)
	configureIdentity(t, path)
	return path
}
