package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPipelineStatus_NoCheckpointPrintsMessageWithoutError(t *testing.T) {
	origWorkspace := statusWorkspace
	origOutput := flagOutput
	statusWorkspace = t.TempDir()
	flagOutput = "text"
	defer func() {
		statusWorkspace = origWorkspace
		flagOutput = origOutput
	}()

	require.NoError(t, pipelineStatusCmd.RunE(pipelineStatusCmd, nil))
}

func TestPipelineStatus_JSONOutputMode(t *testing.T) {
	origWorkspace := statusWorkspace
	origOutput := flagOutput
	statusWorkspace = t.TempDir()
	flagOutput = "json"
	defer func() {
		statusWorkspace = origWorkspace
		flagOutput = origOutput
	}()

	require.NoError(t, pipelineStatusCmd.RunE(pipelineStatusCmd, nil))
}
