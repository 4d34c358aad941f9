package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shipwright-dev/shipwright/internal/eventlog"
)

func TestRunDaemonLogs_PrintsTailWithoutFollowing(t *testing.T) {
	stateDir := t.TempDir()
	t.Setenv("SHIPWRIGHT_STATE_DIR", stateDir)
	t.Setenv("SHIPWRIGHT_CONFIG", "")
	t.Setenv("HOME", t.TempDir())

	log, err := eventlog.Open(filepath.Join(stateDir, "events.jsonl"))
	require.NoError(t, err)
	require.NoError(t, log.Append(eventlog.Event{Type: "daemon.spawn", IssueID: "1"}))

	origFollow := logsFollow
	origTail := logsTail
	logsFollow = false
	logsTail = 10
	defer func() {
		logsFollow = origFollow
		logsTail = origTail
	}()

	require.NoError(t, runDaemonLogs())
}

func TestPrintEvent_DoesNotPanicInEitherOutputMode(t *testing.T) {
	origOutput := flagOutput
	defer func() { flagOutput = origOutput }()

	evt := eventlog.Event{TS: time.Now(), Type: "daemon.spawn", IssueID: "1", Fields: map[string]any{"x": 1}}

	flagOutput = "json"
	printEvent(evt)

	flagOutput = "text"
	printEvent(evt)
}
