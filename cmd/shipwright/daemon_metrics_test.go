package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shipwright-dev/shipwright/internal/eventlog"
)

func TestSummarizeMetrics_CountsEventsWithinPeriod(t *testing.T) {
	stateDir := t.TempDir()
	t.Setenv("SHIPWRIGHT_STATE_DIR", stateDir)
	t.Setenv("SHIPWRIGHT_CONFIG", "")
	t.Setenv("HOME", t.TempDir())

	log, err := eventlog.Open(filepath.Join(stateDir, "events.jsonl"))
	require.NoError(t, err)
	require.NoError(t, log.Append(eventlog.Event{Type: "daemon.spawn"}))
	require.NoError(t, log.Append(eventlog.Event{Type: "daemon.reap", Fields: map[string]any{"success": true}}))
	require.NoError(t, log.Append(eventlog.Event{Type: "daemon.reap", Fields: map[string]any{"success": false}}))
	require.NoError(t, log.Append(eventlog.Event{Type: "daemon.retry"}))

	origPeriod := metricsPeriodHours
	origJSON := metricsJSON
	metricsPeriodHours = 24
	metricsJSON = false
	defer func() {
		metricsPeriodHours = origPeriod
		metricsJSON = origJSON
	}()

	require.NoError(t, summarizeMetrics())
}
