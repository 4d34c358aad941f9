// Package progress implements the per-Job progress sensor (§4.8):
// snapshot collection, verdict assessment, and the patient kill/nudge
// response policy.
package progress

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/shipwright-dev/shipwright/internal/types"
)

// HeartbeatFile and WorkspaceStateFile are the sidecar files a pipeline
// worker writes into its workspace for the supervisor's health check to
// read back (§4.8): the heartbeat is refreshed on every stage attempt,
// the workspace-state file only on checkpoint, so the heartbeat wins
// whenever both exist and disagree.
const (
	HeartbeatFile      = ".shipwright-heartbeat.json"
	WorkspaceStateFile = ".shipwright-progress.json"
)

// HeartbeatPath returns the heartbeat file path for a job's workspace.
func HeartbeatPath(workspace string) string { return filepath.Join(workspace, HeartbeatFile) }

// WorkspaceStatePath returns the workspace-state fallback file path.
func WorkspaceStatePath(workspace string) string { return filepath.Join(workspace, WorkspaceStateFile) }

// Verdict re-exports types.Verdict constants for readability at call sites.
type Verdict = types.Verdict

const (
	Healthy = types.VerdictHealthy
	Slowing = types.VerdictSlowing
	Stalled = types.VerdictStalled
	Stuck   = types.VerdictStuck
)

// VitalsScore is the optional richer external health scorer (§4.8 "vitals").
type VitalsScore struct {
	Available bool
	Verdict   string // continue|warn|intervene|abort
}

// Thresholds configures the counter-based fallback and patience policy.
type Thresholds struct {
	WarnThreshold int
	KillThreshold int
}

// Heartbeat is the file a worker writes with its current progress. It lives
// in the job's workspace (HeartbeatPath) and is keyed by workspace, not by PID.
type Heartbeat struct {
	Stage        types.StageID `json:"stage"`
	Iteration    int           `json:"iteration"`
	ErrSignature string        `json:"last_error_signature"`
	TS           int64         `json:"ts"`
}

// WorkspaceState is the pipeline-state file fallback when no heartbeat exists.
type WorkspaceState struct {
	Stage        types.StageID `json:"stage"`
	Iteration    int           `json:"iteration"`
	ErrSignature string        `json:"last_error_signature"`
}

// ReadHeartbeat loads the heartbeat file at path, if present.
func ReadHeartbeat(path string) (*Heartbeat, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var hb Heartbeat
	if json.Unmarshal(data, &hb) != nil {
		return nil, false
	}
	return &hb, true
}

// ReadWorkspaceState loads the workspace pipeline-state fallback.
func ReadWorkspaceState(path string) (*WorkspaceState, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var ws WorkspaceState
	if json.Unmarshal(data, &ws) != nil {
		return nil, false
	}
	return &ws, true
}

// WriteHeartbeat records a worker's current stage/iteration/last-error to
// its workspace. Overwritten frequently during a run, so a plain write
// (not the lock-and-rename pattern statestore uses for the shared daemon
// document) is sufficient here.
func WriteHeartbeat(workspace string, hb Heartbeat) error {
	data, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	return os.WriteFile(HeartbeatPath(workspace), data, 0644)
}

// WriteWorkspaceState records the coarser checkpoint-driven fallback.
func WriteWorkspaceState(workspace string, ws WorkspaceState) error {
	data, err := json.Marshal(ws)
	if err != nil {
		return err
	}
	return os.WriteFile(WorkspaceStatePath(workspace), data, 0644)
}

// CollectSnapshot builds a ProgressSnapshot. Per the explicit Open Question
// in the spec's Design notes, when both a heartbeat file and a workspace
// state file exist and disagree, the heartbeat wins — this precedence is
// preserved verbatim, not "fixed".
func CollectSnapshot(heartbeatPath, workspacePath string, diffLines, filesChanged int, iteration int, stage types.StageID, ts int64) types.ProgressSnapshot {
	snap := types.ProgressSnapshot{
		Stage:        stage,
		Iteration:    iteration,
		DiffLines:    diffLines,
		FilesChanged: filesChanged,
		TS:           ts,
	}

	if hb, ok := ReadHeartbeat(heartbeatPath); ok {
		snap.Stage = hb.Stage
		snap.Iteration = hb.Iteration
		snap.LastErrorSignature = hb.ErrSignature
		return snap
	}
	if ws, ok := ReadWorkspaceState(workspacePath); ok {
		snap.Stage = ws.Stage
		snap.Iteration = ws.Iteration
		snap.LastErrorSignature = ws.ErrSignature
	}
	return snap
}

// Observe compares a new snapshot against the job's progress state, updates
// no_progress_count/repeated_error_count, and returns the assessed verdict.
// cpuActive reports whether the worker's process tree is consuming CPU.
func Observe(state *types.ProgressState, snap types.ProgressSnapshot, cpuActive bool, vitals VitalsScore, th Thresholds) Verdict {
	prev, hasPrev := state.Last()

	advanced := !hasPrev ||
		snap.Stage != prev.Stage ||
		snap.Iteration > prev.Iteration ||
		snap.DiffLines > prev.DiffLines ||
		snap.FilesChanged > prev.FilesChanged ||
		cpuActive

	if advanced {
		state.NoProgressCount = 0
		state.RepeatedErrorCount = 0
	} else {
		state.NoProgressCount++
	}

	if hasPrev && snap.LastErrorSignature != "" && snap.LastErrorSignature == prev.LastErrorSignature {
		state.RepeatedErrorCount++
	} else if snap.LastErrorSignature != "" {
		state.RepeatedErrorCount = 0
	}

	state.Push(snap)

	return assessVerdict(state, vitals, th)
}

func assessVerdict(state *types.ProgressState, vitals VitalsScore, th Thresholds) Verdict {
	if state.RepeatedErrorCount >= 3 {
		return Stuck
	}
	if vitals.Available {
		switch vitals.Verdict {
		case "continue":
			return Healthy
		case "warn":
			return Slowing
		case "intervene":
			return Stalled
		case "abort":
			return Stuck
		}
	}
	switch {
	case state.NoProgressCount >= th.KillThreshold:
		return Stuck
	case state.NoProgressCount >= th.WarnThreshold:
		return Stalled
	case state.NoProgressCount >= 1:
		return Slowing
	default:
		return Healthy
	}
}

// ShouldKill implements the deliberately patient response policy (§4.8):
// kill only when stuck AND zero CPU AND no_progress_count >= 2*kill_threshold,
// or repeated_error_count >= 5. A stuck verdict with live CPU never kills.
func ShouldKill(verdict Verdict, state *types.ProgressState, cpuActive bool, th Thresholds) bool {
	if state.RepeatedErrorCount >= 5 {
		return true
	}
	if verdict != Stuck {
		return false
	}
	if cpuActive {
		return false
	}
	return state.NoProgressCount >= 2*th.KillThreshold
}

// ShouldNudge reports whether a once-only nudge advisory should be written:
// verdict stuck or stalled (CPU activity is not considered) and not already
// nudged this job.
func ShouldNudge(verdict Verdict, state *types.ProgressState) bool {
	if state.Nudged {
		return false
	}
	return verdict == Stuck || verdict == Stalled
}
