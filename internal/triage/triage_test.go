package triage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_PriorityLabelsDominate(t *testing.T) {
	urgent := Candidate{Labels: []string{"urgent"}, CreatedAt: time.Now()}
	low := Candidate{Labels: []string{"low"}, CreatedAt: time.Now()}

	assert.Greater(t, Score(urgent, nil), Score(low, nil))
}

func TestScore_ZeroValueCandidateScoresAsOld(t *testing.T) {
	var c Candidate
	got := Score(c, nil)
	require.Greater(t, got, 0, "zero-value CreatedAt must score as maximally old, not as no-data")
}

func TestScore_ClampedToRange(t *testing.T) {
	c := Candidate{
		Labels:    []string{"urgent", "security"},
		CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
		Body:      "short",
		Blocks:    []string{"2", "3"},
	}
	got := Score(c, nil)
	assert.GreaterOrEqual(t, got, 0)
	assert.LessOrEqual(t, got, 100)
}

func TestScore_BlockedByOpenIssuePenalized(t *testing.T) {
	open := map[string]bool{"10": true}
	blocked := Candidate{BlockedBy: []string{"10"}}
	free := Candidate{}

	assert.Less(t, Score(blocked, open), Score(free, open))
}

func TestScoreWithAI_RiskAdjustment(t *testing.T) {
	base := AIAnalysis{Complexity: 3, Risk: "low", SuccessProbability: 80}
	critical := AIAnalysis{Complexity: 3, Risk: "critical", SuccessProbability: 80}

	assert.Greater(t, ScoreWithAI(critical), ScoreWithAI(base))
}

func TestSort_QuickWinsFirstDescendingScoreThenID(t *testing.T) {
	items := []Scored{
		{Candidate: Candidate{IssueID: "2"}, Score: 50},
		{Candidate: Candidate{IssueID: "1"}, Score: 50},
		{Candidate: Candidate{IssueID: "3"}, Score: 90},
	}
	Sort(items, QuickWinsFirst)

	require.Equal(t, []string{"3", "1", "2"}, idsOf(items))
}

func TestSort_ComplexFirstAscending(t *testing.T) {
	items := []Scored{
		{Candidate: Candidate{IssueID: "a"}, Score: 90},
		{Candidate: Candidate{IssueID: "b"}, Score: 10},
	}
	Sort(items, ComplexFirst)

	require.Equal(t, []string{"b", "a"}, idsOf(items))
}

func TestResolveDependencyOrder_MovesDependentsAfterDependencies(t *testing.T) {
	items := []Scored{
		{Candidate: Candidate{IssueID: "a", BlockedBy: []string{"b"}}},
		{Candidate: Candidate{IssueID: "b"}},
	}
	ordered := ResolveDependencyOrder(items)

	require.Equal(t, []string{"b", "a"}, idsOf(ordered))
}

func TestResolveDependencyOrder_CycleTerminatesWithinThreePasses(t *testing.T) {
	items := []Scored{
		{Candidate: Candidate{IssueID: "a", BlockedBy: []string{"b"}}},
		{Candidate: Candidate{IssueID: "b", BlockedBy: []string{"a"}}},
	}
	ordered := ResolveDependencyOrder(items)

	require.Len(t, ordered, 2)
}

func idsOf(items []Scored) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Candidate.IssueID
	}
	return out
}
