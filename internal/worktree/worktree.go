// Package worktree manages per-issue isolated git worktrees so concurrent
// pipeline jobs never share a working directory, adapted from the teacher's
// RPI worktree manager to Shipwright's stable issue-keyed naming scheme.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

var (
	// ErrWorktreeCollision is returned when a worktree directory cannot be
	// created because a stale entry with the same name already exists.
	ErrWorktreeCollision = errors.New("worktree path collision")
	// ErrLockTimeout is returned when the serialization lock cannot be
	// acquired within the bound.
	ErrLockTimeout = errors.New("worktree lock timeout")
	// ErrUnsafeRemovePath is returned when a removal target does not match
	// the expected daemon-owned worktree path shape.
	ErrUnsafeRemovePath = errors.New("refusing to remove path outside daemon worktree root")
)

// LockTimeout bounds the worktree create/remove serialization lock, a single
// lock file shared by all issues (§11).
const LockTimeout = 30 * time.Second

// Manager creates and tears down isolated worktrees rooted under a single
// repository checkout's .worktrees/ directory.
type Manager struct {
	RepoRoot string
	Timeout  time.Duration
}

// New returns a Manager for the repository at repoRoot.
func New(repoRoot string, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Manager{RepoRoot: repoRoot, Timeout: timeout}
}

func (m *Manager) dirFor(issueID string) string {
	return filepath.Join(m.RepoRoot, ".worktrees", "daemon-issue-"+sanitize(issueID))
}

func (m *Manager) branchFor(issueID string) string {
	return "daemon/issue-" + sanitize(issueID)
}

func sanitize(issueID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, issueID)
}

func (m *Manager) lockPath() string {
	return filepath.Join(m.RepoRoot, ".worktrees", ".lock")
}

// withLock serializes worktree mutations across concurrently spawned jobs
// using an advisory file lock, since the teacher's in-process sync.Mutex
// cannot coordinate across the supervisor's separate child processes.
func (m *Manager) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Join(m.RepoRoot, ".worktrees"), 0755); err != nil {
		return fmt.Errorf("create worktrees dir: %w", err)
	}
	fl := flock.New(m.lockPath())
	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()
	locked, err := fl.TryLockContext(ctx, 200*time.Millisecond)
	if err != nil || !locked {
		return ErrLockTimeout
	}
	defer fl.Unlock()
	return fn()
}

// Create sets up (or re-attaches to) the worktree for issueID on the branch
// daemon/issue-<id>, created at baseBranch; when the worktree directory is
// missing, an existing branch of that name is reset to baseBranch.
// Up to 3 attempts handle a transient path collision, mirroring the
// teacher's tryCreateWorktree retry loop.
func (m *Manager) Create(ctx context.Context, issueID, baseBranch string) (path, branch string, err error) {
	path = m.dirFor(issueID)
	branch = m.branchFor(issueID)

	err = m.withLock(func() error {
		if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
			return nil // already exists; resumed job reattaches
		}

		for attempt := 0; attempt < 3; attempt++ {
			cctx, cancel := context.WithTimeout(ctx, m.Timeout)
			cmd := exec.CommandContext(cctx, "git", "worktree", "add", "-B", branch, path, baseBranch)
			cmd.Dir = m.RepoRoot
			out, cmdErr := cmd.CombinedOutput()
			cancel()
			if cmdErr == nil {
				return nil
			}
			if strings.Contains(string(out), "already exists") && attempt < 2 {
				continue
			}
			return fmt.Errorf("git worktree add failed: %w (output: %s)", cmdErr, strings.TrimSpace(string(out)))
		}
		return ErrWorktreeCollision
	})
	if err != nil {
		return "", "", err
	}
	return path, branch, nil
}

// Remove deletes the worktree directory and prunes its branch. Path safety
// is validated before any filesystem mutation, mirroring the teacher's
// resolveRemovePaths guard against removing an arbitrary directory.
func (m *Manager) Remove(ctx context.Context, issueID string) error {
	path := m.dirFor(issueID)
	branch := m.branchFor(issueID)

	absPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		absPath = path
	}
	expected := filepath.Join(m.RepoRoot, ".worktrees", "daemon-issue-"+sanitize(issueID))
	if absPath != expected && absPath != path {
		return ErrUnsafeRemovePath
	}

	return m.withLock(func() error {
		cctx, cancel := context.WithTimeout(ctx, m.Timeout)
		cmd := exec.CommandContext(cctx, "git", "worktree", "remove", path, "--force")
		cmd.Dir = m.RepoRoot
		if _, err := cmd.CombinedOutput(); err != nil {
			_ = os.RemoveAll(path)
		}
		cancel()

		cctx2, cancel2 := context.WithTimeout(ctx, m.Timeout)
		defer cancel2()
		branchCmd := exec.CommandContext(cctx2, "git", "branch", "-D", branch)
		branchCmd.Dir = m.RepoRoot
		_ = branchCmd.Run()
		return nil
	})
}

// ListStale returns daemon worktree directories whose modification time is
// older than maxAge, for the stale reaper (§4.13). It does not consult the
// job state, so a directory of a still-active job can be listed.
func (m *Manager) ListStale(maxAge time.Duration) ([]string, error) {
	root := filepath.Join(m.RepoRoot, ".worktrees")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var stale []string
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "daemon-issue-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, filepath.Join(root, e.Name()))
		}
	}
	return stale, nil
}

// ShallowCloneOrg clones repoURL (passed to git clone as given) into dir with depth 1,
// used in org watch-mode (§4.9) where the daemon tracks many repositories
// without maintaining permanent local checkouts of each.
func ShallowCloneOrg(ctx context.Context, repoURL, dir string, timeout time.Duration) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, "git", "clone", "--depth", "1", repoURL, dir)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("shallow clone %s: %w (output: %s)", repoURL, err, strings.TrimSpace(string(out)))
	}
	return nil
}
