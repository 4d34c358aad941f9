package progress

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipwright-dev/shipwright/internal/types"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestReadHeartbeat_MissingFileReturnsFalse(t *testing.T) {
	_, ok := ReadHeartbeat(filepath.Join(t.TempDir(), "missing.json"))
	assert.False(t, ok)
}

func TestCollectSnapshot_HeartbeatTakesPrecedenceOverWorkspaceState(t *testing.T) {
	dir := t.TempDir()
	hbPath := filepath.Join(dir, "hb.json")
	wsPath := filepath.Join(dir, "ws.json")
	writeJSON(t, hbPath, Heartbeat{Stage: types.StageTest, Iteration: 3, ErrSignature: "hb-err"})
	writeJSON(t, wsPath, WorkspaceState{Stage: types.StageBuild, Iteration: 1, ErrSignature: "ws-err"})

	snap := CollectSnapshot(hbPath, wsPath, 10, 2, 0, types.StageIntake, 100)
	assert.Equal(t, types.StageTest, snap.Stage)
	assert.Equal(t, 3, snap.Iteration)
	assert.Equal(t, "hb-err", snap.LastErrorSignature)
}

func TestCollectSnapshot_FallsBackToWorkspaceStateWhenNoHeartbeat(t *testing.T) {
	dir := t.TempDir()
	wsPath := filepath.Join(dir, "ws.json")
	writeJSON(t, wsPath, WorkspaceState{Stage: types.StageBuild, Iteration: 1, ErrSignature: "ws-err"})

	snap := CollectSnapshot(filepath.Join(dir, "missing.json"), wsPath, 10, 2, 0, types.StageIntake, 100)
	assert.Equal(t, types.StageBuild, snap.Stage)
	assert.Equal(t, 1, snap.Iteration)
}

func TestObserve_AdvancingIterationResetsCounters(t *testing.T) {
	state := &types.ProgressState{}
	th := Thresholds{WarnThreshold: 3, KillThreshold: 6}

	v1 := Observe(state, types.ProgressSnapshot{Stage: types.StageBuild, Iteration: 1}, false, VitalsScore{}, th)
	assert.Equal(t, Healthy, v1)

	v2 := Observe(state, types.ProgressSnapshot{Stage: types.StageBuild, Iteration: 2}, false, VitalsScore{}, th)
	assert.Equal(t, Healthy, v2)
	assert.Zero(t, state.NoProgressCount)
}

func TestObserve_StalledAfterWarnThresholdOfNoProgress(t *testing.T) {
	state := &types.ProgressState{}
	th := Thresholds{WarnThreshold: 2, KillThreshold: 6}

	Observe(state, types.ProgressSnapshot{Stage: types.StageBuild, Iteration: 1}, false, VitalsScore{}, th)
	Observe(state, types.ProgressSnapshot{Stage: types.StageBuild, Iteration: 1}, false, VitalsScore{}, th)
	v := Observe(state, types.ProgressSnapshot{Stage: types.StageBuild, Iteration: 1}, false, VitalsScore{}, th)

	assert.Equal(t, Stalled, v)
}

func TestObserve_StuckAfterKillThresholdOfNoProgress(t *testing.T) {
	state := &types.ProgressState{}
	th := Thresholds{WarnThreshold: 1, KillThreshold: 2}

	for i := 0; i < 3; i++ {
		Observe(state, types.ProgressSnapshot{Stage: types.StageBuild, Iteration: 1}, false, VitalsScore{}, th)
	}
	v := Observe(state, types.ProgressSnapshot{Stage: types.StageBuild, Iteration: 1}, false, VitalsScore{}, th)

	assert.Equal(t, Stuck, v)
}

func TestObserve_RepeatedErrorSignatureEscalatesToStuck(t *testing.T) {
	state := &types.ProgressState{}
	th := Thresholds{WarnThreshold: 10, KillThreshold: 10}

	var v Verdict
	for i := 0; i < 4; i++ {
		v = Observe(state, types.ProgressSnapshot{Stage: types.StageBuild, Iteration: 1, LastErrorSignature: "same error"}, false, VitalsScore{}, th)
	}

	assert.Equal(t, Stuck, v)
}

func TestObserve_VitalsScoreOverridesCounterFallback(t *testing.T) {
	state := &types.ProgressState{}
	th := Thresholds{WarnThreshold: 1, KillThreshold: 2}

	v := Observe(state, types.ProgressSnapshot{Stage: types.StageBuild, Iteration: 1}, false, VitalsScore{Available: true, Verdict: "intervene"}, th)
	assert.Equal(t, Stalled, v)
}

func TestShouldKill_StuckWithLiveCPUNeverKills(t *testing.T) {
	state := &types.ProgressState{NoProgressCount: 100}
	th := Thresholds{WarnThreshold: 2, KillThreshold: 5}

	assert.False(t, ShouldKill(Stuck, state, true, th))
}

func TestShouldKill_StuckWithDeadCPUAndDoubleKillThresholdKills(t *testing.T) {
	state := &types.ProgressState{NoProgressCount: 10}
	th := Thresholds{WarnThreshold: 2, KillThreshold: 5}

	assert.True(t, ShouldKill(Stuck, state, false, th))
}

func TestShouldKill_FiveRepeatedErrorsAlwaysKills(t *testing.T) {
	state := &types.ProgressState{RepeatedErrorCount: 5}
	th := Thresholds{WarnThreshold: 2, KillThreshold: 5}

	assert.True(t, ShouldKill(Slowing, state, true, th))
}

func TestShouldNudge_OnceOnlyForStuckOrStalled(t *testing.T) {
	state := &types.ProgressState{}
	assert.True(t, ShouldNudge(Stuck, state))

	state.Nudged = true
	assert.False(t, ShouldNudge(Stuck, state))
}
