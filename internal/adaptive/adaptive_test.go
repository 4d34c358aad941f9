package adaptive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollInterval_NonEmptyQueueAlwaysThirtySeconds(t *testing.T) {
	assert.Equal(t, 30*time.Second, PollInterval(1, 0))
	assert.Equal(t, 30*time.Second, PollInterval(5, 10))
}

func TestPollInterval_EscalatesAfterFiveEmptyCycles(t *testing.T) {
	assert.Equal(t, 60*time.Second, PollInterval(0, 4))
	assert.Equal(t, 120*time.Second, PollInterval(0, 5))
}

func TestCostPerJob_PrefersTemplateSpecificHistory(t *testing.T) {
	samples := []CostSample{
		{Template: "fast", CostUSD: 1},
		{Template: "standard", CostUSD: 10},
		{Template: "standard", CostUSD: 20},
	}
	assert.Equal(t, 15.0, CostPerJob(samples, "standard"))
}

func TestCostPerJob_FallsBackToOverallMeanWhenNoTemplateHistory(t *testing.T) {
	samples := []CostSample{{Template: "fast", CostUSD: 2}, {Template: "fast", CostUSD: 4}}
	assert.Equal(t, 3.0, CostPerJob(samples, "enterprise"))
}

func TestCostPerJob_CapsAtLastTenSamples(t *testing.T) {
	var samples []CostSample
	for i := 0; i < 20; i++ {
		cost := 1.0
		if i >= 10 {
			cost = 100.0
		}
		samples = append(samples, CostSample{Template: "x", CostUSD: cost})
	}
	assert.Equal(t, 100.0, CostPerJob(samples, "x"))
}

func TestHeartbeatTimeout_FlooredAtSixtySeconds(t *testing.T) {
	assert.Equal(t, 60*time.Second, HeartbeatTimeout(nil))
	assert.Equal(t, 60*time.Second, HeartbeatTimeout([]time.Duration{time.Second}))
}

func TestHeartbeatTimeout_IsOneAndHalfTimesP90(t *testing.T) {
	var durations []time.Duration
	for i := 1; i <= 11; i++ {
		durations = append(durations, time.Duration(i*10)*time.Second)
	}
	got := HeartbeatTimeout(durations)
	assert.Equal(t, 150*time.Second, got)
}

func TestStaleTimeout_ClampedToBounds(t *testing.T) {
	assert.Equal(t, 600*time.Second, StaleTimeout(nil))
	huge := []time.Duration{10000 * time.Second}
	assert.Equal(t, 7200*time.Second, StaleTimeout(huge))
}

func TestWorkerMemoryGiB_ClampedToBounds(t *testing.T) {
	assert.Equal(t, 1.0, WorkerMemoryGiB(nil))
	assert.Equal(t, 16.0, WorkerMemoryGiB([]float64{100}))
	assert.InDelta(t, 2.5, WorkerMemoryGiB([]float64{2}), 0.0001)
}

func TestCanScaleUp_AllowsUntriedLevel(t *testing.T) {
	assert.True(t, CanScaleUp(nil, 4))
}

func TestCanScaleUp_RequiresFiftyPercentSuccessAtTriedLevel(t *testing.T) {
	history := []LevelOutcome{{Level: 4, SuccessRate: 0.4, Samples: 10}}
	assert.False(t, CanScaleUp(history, 4))

	history2 := []LevelOutcome{{Level: 4, SuccessRate: 0.5, Samples: 10}}
	assert.True(t, CanScaleUp(history2, 4))
}

func TestCanScaleUp_ZeroSamplesAllowsProbe(t *testing.T) {
	history := []LevelOutcome{{Level: 4, SuccessRate: 0, Samples: 0}}
	assert.True(t, CanScaleUp(history, 4))
}

func TestPatrolMaxIssues_AdjustsAndFloorsAtThree(t *testing.T) {
	assert.Equal(t, 7, PatrolMaxIssues(5, true, false))
	assert.Equal(t, 4, PatrolMaxIssues(5, false, true))
	assert.Equal(t, 3, PatrolMaxIssues(3, false, true))
}
