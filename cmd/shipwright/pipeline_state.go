package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shipwright-dev/shipwright/internal/types"
)

// pipelineStateFile is the per-workspace resumable state file a pipeline
// run checkpoints to after every stage transition, the same atomic
// temp-file-then-rename pattern internal/statestore uses for the daemon's
// own state document.
const pipelineStateFile = ".shipwright-state.json"

func pipelineStatePath(workspace string) string {
	return filepath.Join(workspace, pipelineStateFile)
}

func loadPipelineState(workspace string) (*types.PipelineState, error) {
	data, err := os.ReadFile(pipelineStatePath(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return &types.PipelineState{Stages: map[types.StageID]*types.StageRecord{}}, nil
		}
		return nil, fmt.Errorf("read pipeline state: %w", err)
	}
	var st types.PipelineState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse pipeline state: %w", err)
	}
	if st.Stages == nil {
		st.Stages = map[types.StageID]*types.StageRecord{}
	}
	return &st, nil
}

func saveJobResultSummary(workspace string, summary types.JobResultSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(workspace, types.JobResultFile), data, 0644)
}

func savePipelineState(workspace string, st *types.PipelineState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pipeline state: %w", err)
	}
	tmp, err := os.CreateTemp(workspace, ".tmp-pipeline-state-")
	if err != nil {
		return fmt.Errorf("create temp pipeline state: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write pipeline state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, pipelineStatePath(workspace))
}
