package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipwright-dev/shipwright/internal/types"
)

func TestReadTail_ReturnsFullFileWhenUnderLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))

	assert.Equal(t, "hello world", readTail(path, 4096))
}

func TestReadTail_TruncatesToLastNBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	content := "0123456789"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	assert.Equal(t, "6789", readTail(path, 4))
}

func TestReadTail_MissingFileReturnsEmptyString(t *testing.T) {
	assert.Equal(t, "", readTail(filepath.Join(t.TempDir(), "missing.txt"), 100))
}

func TestContainsSuccessMarker_RequiresBothTypeAndResultFields(t *testing.T) {
	assert.True(t, containsSuccessMarker(`event pipeline.completed issue=1 {"result":"success"}`))
	assert.False(t, containsSuccessMarker(`event pipeline.completed issue=1 {"result":"failure"}`))
	assert.False(t, containsSuccessMarker(`some unrelated log line`))
}

func TestSubprocessReaper_IsAlive_FalseForNonPositivePID(t *testing.T) {
	r := subprocessReaper{}
	assert.False(t, r.IsAlive(0))
	assert.False(t, r.IsAlive(-1))
}

func TestSubprocessReaper_ExitResult_ReadsLogTailFromHomeDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	logDir := filepath.Join(home, ".shipwright", "logs")
	require.NoError(t, os.MkdirAll(logDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(logDir, "issue-7.log"), []byte(`pipeline.completed issue=7 {"result":"success"}`), 0644))

	r := subprocessReaper{}
	success, tail, exitCode := r.ExitResult(context.Background(), types.Job{IssueID: "7"})
	assert.True(t, success)
	assert.Equal(t, 0, exitCode)
	assert.Contains(t, tail, "pipeline.completed")
}

func TestSubprocessReaper_ExitResult_MissingLogDefaultsToFailure(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	r := subprocessReaper{}
	success, _, exitCode := r.ExitResult(context.Background(), types.Job{IssueID: "missing"})
	assert.False(t, success)
	assert.Equal(t, 1, exitCode)
}
