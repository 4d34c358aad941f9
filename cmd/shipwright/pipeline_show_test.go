package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPipelineShow_UsesPositionalArgWhenWorkspaceFlagEmpty(t *testing.T) {
	dir := t.TempDir()
	origWorkspace := showWorkspace
	origOutput := flagOutput
	showWorkspace = ""
	flagOutput = "text"
	defer func() {
		showWorkspace = origWorkspace
		flagOutput = origOutput
	}()

	require.NoError(t, pipelineShowCmd.RunE(pipelineShowCmd, []string{dir}))
}

func TestPipelineShow_JSONOutputMode(t *testing.T) {
	dir := t.TempDir()
	origWorkspace := showWorkspace
	origOutput := flagOutput
	showWorkspace = dir
	flagOutput = "json"
	defer func() {
		showWorkspace = origWorkspace
		flagOutput = origOutput
	}()

	require.NoError(t, pipelineShowCmd.RunE(pipelineShowCmd, []string{dir}))
}
