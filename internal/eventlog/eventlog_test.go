package eventlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, log.Append(Event{Type: "job.start", IssueID: "1"}))
	require.NoError(t, log.Append(Event{Type: "job.complete", IssueID: "1"}))

	events, err := log.Tail(10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "job.start", events[0].Type)
	assert.Equal(t, "job.complete", events[1].Type)
	assert.NotEmpty(t, events[0].ID, "Append must assign an id when absent")
	assert.False(t, events[0].TS.IsZero(), "Append must stamp a timestamp when absent")
}

func TestTail_ReturnsOnlyMostRecentN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := Open(path)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, log.Append(Event{Type: "stage.started"}))
	}

	events, err := log.Tail(2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestTail_MissingFileReturnsEmptyNotError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.jsonl")
	log, err := Open(path)
	require.NoError(t, err)

	events, err := log.Tail(10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTail_SkipsUnparsableLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, log.Append(Event{Type: "job.start"}))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("not-json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err := log.Tail(10)
	require.NoError(t, err)
	assert.Len(t, events, 1, "the malformed line must be skipped, not fatal")
}
