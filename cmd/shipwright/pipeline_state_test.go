package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipwright-dev/shipwright/internal/types"
)

func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func TestLoadPipelineState_MissingFileReturnsFreshState(t *testing.T) {
	workspace := t.TempDir()

	st, err := loadPipelineState(workspace)
	require.NoError(t, err)
	assert.Empty(t, st.CurrentStage)
	assert.NotNil(t, st.Stages)
}

func TestSaveAndLoadPipelineState_RoundTrips(t *testing.T) {
	workspace := t.TempDir()

	st := &types.PipelineState{
		IssueID:      "99",
		Goal:         "ship it",
		Template:     "standard",
		CurrentStage: types.StageBuild,
		Stages: map[types.StageID]*types.StageRecord{
			types.StageIntake: {ID: types.StageIntake, Status: types.StageComplete},
		},
	}
	require.NoError(t, savePipelineState(workspace, st))

	loaded, err := loadPipelineState(workspace)
	require.NoError(t, err)
	assert.Equal(t, "99", loaded.IssueID)
	assert.Equal(t, types.StageBuild, loaded.CurrentStage)
	assert.Equal(t, types.StageComplete, loaded.Stages[types.StageIntake].Status)
}

func TestSavePipelineState_AtomicReplaceLeavesNoTempFiles(t *testing.T) {
	workspace := t.TempDir()
	st := &types.PipelineState{IssueID: "1", Stages: map[types.StageID]*types.StageRecord{}}

	require.NoError(t, savePipelineState(workspace, st))
	require.NoError(t, savePipelineState(workspace, st))

	entries, err := readDirNames(workspace)
	require.NoError(t, err)
	for _, name := range entries {
		assert.NotContains(t, name, ".tmp-pipeline-state-")
	}
}
