package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shipwright-dev/shipwright/internal/types"
)

func TestSignature_TrimsToFirstMeaningfulLineAndLowercases(t *testing.T) {
	sig := Signature(types.StageBuild, "\n  Panic: Nil Pointer Dereference\nmore context\n")
	assert.Equal(t, "build:panic: nil pointer dereference", sig)
}

func TestSignature_TruncatesLongLines(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "x"
	}
	sig := Signature(types.StageTest, long)
	assert.Len(t, sig, len("test:")+120)
}

func TestRecordFailure_UpsertsAndIncrementsSeenCount(t *testing.T) {
	s := New()
	s.RecordFailure(types.StageBuild, "compile error: undefined foo", "missing import")
	s.RecordFailure(types.StageBuild, "compile error: undefined foo", "")

	assert.Equal(t, 2, s.SeenCount(types.StageBuild, "compile error: undefined foo"))
	sig := Signature(types.StageBuild, "compile error: undefined foo")
	assert.Equal(t, "missing import", s.Entries[sig].RootCause)
}

func TestSeenCount_ZeroForUnknownSignature(t *testing.T) {
	s := New()
	assert.Zero(t, s.SeenCount(types.StageBuild, "never seen"))
}

func TestUpdateBaseline_FirstSampleSeedsValueDirectly(t *testing.T) {
	s := New()
	b := s.UpdateBaseline(types.StageTest, "duration_s", 10.0)
	assert.Equal(t, 10.0, b.Value)
	assert.Equal(t, 1, b.Count)
}

func TestUpdateBaseline_SubsequentSamplesApplyEMA(t *testing.T) {
	s := New()
	s.UpdateBaseline(types.StageTest, "duration_s", 10.0)
	b := s.UpdateBaseline(types.StageTest, "duration_s", 20.0)
	assert.InDelta(t, 11.0, b.Value, 0.0001)
}

func TestAnomaly_ClassifiesAgainstLearnedBaseline(t *testing.T) {
	s := New()
	s.UpdateBaseline(types.StageTest, "duration_s", 10.0)

	assert.Equal(t, types.AnomalyNormal, s.Anomaly(types.StageTest, "duration_s", 15.0))
	assert.Equal(t, types.AnomalyWarning, s.Anomaly(types.StageTest, "duration_s", 25.0))
	assert.Equal(t, types.AnomalyCritical, s.Anomaly(types.StageTest, "duration_s", 35.0))
}

func TestRisk_CapsEachSignalAndTotal(t *testing.T) {
	assert.Equal(t, 0, Risk(RiskInputs{}))
	assert.Equal(t, 40, Risk(RiskInputs{PriorFailureCount: 10}))
	assert.Equal(t, 100, Risk(RiskInputs{PriorFailureCount: 10, SimilarSignatureHits: 10, Complexity: 10, RecentCFR: 1.0}))
}

func TestShouldUpgradeModel_ThresholdIsExclusive(t *testing.T) {
	assert.False(t, ShouldUpgradeModel(80))
	assert.True(t, ShouldUpgradeModel(81))
}
