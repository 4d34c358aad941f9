// Package memory is the daemon's cross-run learning store (§4.14): recorded
// failure-pattern signatures, EMA baselines per (stage, metric), anomaly
// classification against those baselines, and a predictive risk score
// consulted before spawning a candidate.
package memory

import (
	"strings"
	"time"

	"github.com/shipwright-dev/shipwright/internal/types"
)

// Store is an in-process view over the persisted memory entries and
// baselines; callers load/save the backing maps through statestore.
type Store struct {
	Entries   map[string]*types.MemoryEntry // keyed by failure signature
	Baselines map[string]types.Baseline     // keyed by "stage:metric"
}

// New returns an empty Store.
func New() *Store {
	return &Store{Entries: map[string]*types.MemoryEntry{}, Baselines: map[string]types.Baseline{}}
}

// Signature derives a dedup key for a failure's log tail from the first
// non-blank line of the lowercased tail, cut to 120 characters. Volatile
// tokens in that line (timestamps, paths, pids) are kept as they are.
func Signature(stage types.StageID, logTail string) string {
	lower := strings.ToLower(logTail)
	lines := strings.Split(lower, "\n")
	firstMeaningful := ""
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			firstMeaningful = l
			break
		}
	}
	if len(firstMeaningful) > 120 {
		firstMeaningful = firstMeaningful[:120]
	}
	return string(stage) + ":" + firstMeaningful
}

// RecordFailure upserts a failure-pattern entry, bumping its seen count.
func (s *Store) RecordFailure(stage types.StageID, logTail, rootCause string) {
	sig := Signature(stage, logTail)
	entry, ok := s.Entries[sig]
	if !ok {
		entry = &types.MemoryEntry{Signature: sig, Stage: stage, RootCause: rootCause}
		s.Entries[sig] = entry
	}
	entry.SeenCount++
	entry.LastSeen = time.Now()
	if rootCause != "" {
		entry.RootCause = rootCause
	}
}

// SeenCount returns how many times a signature has recurred, 0 if unseen.
func (s *Store) SeenCount(stage types.StageID, logTail string) int {
	if e, ok := s.Entries[Signature(stage, logTail)]; ok {
		return e.SeenCount
	}
	return 0
}

func baselineKey(stage types.StageID, metric string) string {
	return string(stage) + ":" + metric
}

// UpdateBaseline applies the EMA update for (stage, metric) and returns the new value.
func (s *Store) UpdateBaseline(stage types.StageID, metric string, current float64) types.Baseline {
	key := baselineKey(stage, metric)
	next := s.Baselines[key].UpdateEMA(current)
	s.Baselines[key] = next
	return next
}

// Anomaly classifies current against the learned baseline for (stage, metric).
func (s *Store) Anomaly(stage types.StageID, metric string, current float64) types.AnomalyLevel {
	b := s.Baselines[baselineKey(stage, metric)]
	return types.ClassifyAnomaly(current, b.Value)
}

// RiskInputs bundles the signals the predictive risk score consults before
// a candidate is spawned (§4.14 "predictive risk 0-100").
type RiskInputs struct {
	PriorFailureCount  int // times this exact issue previously failed
	SimilarSignatureHits int // times a similar failure signature recurred elsewhere
	Complexity         int // 1-10, from AI analysis if available
	RecentCFR          float64 // fraction, last-7d change failure rate
}

// Risk computes a 0-100 predictive risk score. Each signal contributes a
// capped share so no single input can saturate the score on its own.
func Risk(in RiskInputs) int {
	score := 0
	score += capAt(in.PriorFailureCount*20, 40)
	score += capAt(in.SimilarSignatureHits*10, 20)
	score += capAt(in.Complexity*3, 20)
	score += capAt(int(in.RecentCFR*100*0.2), 20)
	return capAt(score, 100)
}

func capAt(v, max int) int {
	if v > max {
		return max
	}
	if v < 0 {
		return 0
	}
	return v
}

// ShouldUpgradeModel reports whether the predictive risk score crosses the
// threshold (§4.14 ">80 -> upgrade model before first attempt").
func ShouldUpgradeModel(riskScore int) bool {
	return riskScore > 80
}
