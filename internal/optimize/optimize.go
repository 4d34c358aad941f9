// Package optimize implements the periodic self-optimizer (§4.13): reads
// recent DORA signals and proposes config adjustments, persisted back to
// the daemon config atomically.
package optimize

import "time"

// DORA bundles the four keys computed over the trailing window the
// self-optimizer reads (default 7 days).
type DORA struct {
	DeployFreqPerDay  float64
	CycleTimeMedian   time.Duration
	ChangeFailureRate float64 // fraction
	MTTR              time.Duration
}

// Recommendation is one proposed config change, named the way the daemon
// persists it to the tuning file and reports it in the daemon.optimize event.
type Recommendation struct {
	Field  string
	Value  any
	Reason string
}

// Evaluate applies the §4.13 DORA-driven rule table and returns the
// recommendations triggered by d, given the current config values.
func Evaluate(d DORA, currentMaxParallel, currentPollIntervalS int) []Recommendation {
	var recs []Recommendation

	if d.ChangeFailureRate > 0.40 {
		recs = append(recs, Recommendation{Field: "pipeline_template", Value: "full", Reason: "change failure rate above 40%"})
	} else if d.ChangeFailureRate > 0.20 {
		recs = append(recs, Recommendation{Field: "compound_quality_recommended", Value: true, Reason: "change failure rate above 20%"})
	}

	if d.CycleTimeMedian > 4*time.Hour {
		newParallel := currentMaxParallel + 1
		newPoll := currentPollIntervalS / 2
		if newPoll < 30 {
			newPoll = 30
		}
		recs = append(recs,
			Recommendation{Field: "max_parallel", Value: newParallel, Reason: "median cycle time above 4h"},
			Recommendation{Field: "poll_interval", Value: newPoll, Reason: "median cycle time above 4h"},
		)
	} else if d.CycleTimeMedian > 2*time.Hour {
		recs = append(recs, Recommendation{Field: "auto_template", Value: true, Reason: "median cycle time above 2h"})
	}

	if d.DeployFreqPerDay < 1 {
		recs = append(recs, Recommendation{Field: "merge_stage_recommended", Value: true, Reason: "deploy frequency below 1/day"})
	}

	if d.MTTR > 2*time.Hour {
		recs = append(recs, Recommendation{Field: "auto_rollback_recommended", Value: true, Reason: "MTTR above 2h"})
	}

	return recs
}
