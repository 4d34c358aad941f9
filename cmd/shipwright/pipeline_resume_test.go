package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipelineResume_RequiresWorkspaceFlag(t *testing.T) {
	origWorkspace := startWorkspace
	startWorkspace = ""
	defer func() { startWorkspace = origWorkspace }()

	err := pipelineResumeCmd.RunE(pipelineResumeCmd, nil)
	assert.Error(t, err)
}

func TestPipelineResume_ErrorsWhenNoCheckpointExists(t *testing.T) {
	origWorkspace := startWorkspace
	startWorkspace = t.TempDir()
	defer func() { startWorkspace = origWorkspace }()

	err := pipelineResumeCmd.RunE(pipelineResumeCmd, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no checkpointed state")
}
