package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-b", "main")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644))
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "initial")
	return dir
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
	return string(out)
}

func TestCurrentBranch_ReturnsCheckedOutName(t *testing.T) {
	dir := initRepo(t)
	g := New(dir, time.Second)

	branch, err := g.CurrentBranch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestRepoRoot_ReturnsTopLevelDir(t *testing.T) {
	dir := initRepo(t)
	g := New(dir, time.Second)

	root, err := g.RepoRoot(context.Background())
	require.NoError(t, err)
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, resolved, root)
}

func TestRepoRoot_OutsideGitRepoReturnsErrNotGitRepo(t *testing.T) {
	dir := t.TempDir()
	g := New(dir, time.Second)

	_, err := g.RepoRoot(context.Background())
	assert.ErrorIs(t, err, ErrNotGitRepo)
}

func TestCreateBranch_ChecksOutNewBranchFromBase(t *testing.T) {
	dir := initRepo(t)
	g := New(dir, time.Second)

	require.NoError(t, g.CreateBranch(context.Background(), "feature/x", "main"))

	branch, err := g.CurrentBranch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "feature/x", branch)
}

func TestIsClean_TrueOnFreshCheckout(t *testing.T) {
	dir := initRepo(t)
	g := New(dir, time.Second)

	clean, err := g.IsClean(context.Background())
	require.NoError(t, err)
	assert.True(t, clean)
}

func TestIsClean_FalseAfterUncommittedEdit(t *testing.T) {
	dir := initRepo(t)
	g := New(dir, time.Second)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("changed\n"), 0644))

	clean, err := g.IsClean(context.Background())
	require.NoError(t, err)
	assert.False(t, clean)
}

func TestHeadCommit_ReturnsFullSHA(t *testing.T) {
	dir := initRepo(t)
	g := New(dir, time.Second)

	sha, err := g.HeadCommit(context.Background())
	require.NoError(t, err)
	assert.Len(t, sha, 40)
}

func TestDiffLineCountAndFilesChanged_ReflectNewCommit(t *testing.T) {
	dir := initRepo(t)
	g := New(dir, time.Second)
	base, err := g.HeadCommit(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("a\nb\nc\n"), 0644))
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "add new file")

	lines, err := g.DiffLineCount(context.Background(), base)
	require.NoError(t, err)
	assert.Equal(t, 3, lines)

	files, err := g.FilesChanged(context.Background(), base)
	require.NoError(t, err)
	assert.Equal(t, 1, files)
}

func TestCommit_CreatesNewHeadCommit(t *testing.T) {
	dir := initRepo(t)
	g := New(dir, time.Second)
	before, err := g.HeadCommit(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "another.txt"), []byte("x\n"), 0644))
	runGit(t, dir, "add", ".")
	require.NoError(t, g.Commit(context.Background(), "another commit"))

	after, err := g.HeadCommit(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestRebase_FastForwardsOntoBase(t *testing.T) {
	dir := initRepo(t)
	g := New(dir, time.Second)
	require.NoError(t, g.CreateBranch(context.Background(), "feature/y", "main"))

	runGit(t, dir, "checkout", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.txt"), []byte("base\n"), 0644))
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "base commit")

	runGit(t, dir, "checkout", "feature/y")
	require.NoError(t, g.Rebase(context.Background(), "main"))

	_, err := os.Stat(filepath.Join(dir, "base.txt"))
	assert.NoError(t, err)
}

func TestPush_FailsCleanlyWithoutRemote(t *testing.T) {
	dir := initRepo(t)
	g := New(dir, time.Second)

	err := g.Push(context.Background(), "origin", "main")
	assert.ErrorIs(t, err, ErrPushRejected)
}
