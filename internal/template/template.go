// Package template selects a pipeline template from labels, triage score,
// DORA signals, branch protection, and quality memory, in the strict
// 8-step precedence order of §4.5.
package template

import (
	"regexp"
	"strings"
)

// Names of built-in templates.
const (
	Fast       = "fast"
	Standard   = "standard"
	Full       = "full"
	Hotfix     = "hotfix"
	Enterprise = "enterprise"
)

// DORASignals summarizes the supervisor's trailing DORA window, which the
// self-optimizer and template selector both read (§4.5 step 2, §4.13): the
// completions of the last 7 days, or the last 20 completions when none fall
// in those 7 days. It is not limited to the last 5 completions.
type DORASignals struct {
	ChangeFailureRate float64 // fraction, e.g. 0.4 = 40%
	CycleTimeP50Min   float64
	DeployFreqPerWeek float64
}

// QualityMemory is the recent-quality signal from the memory store (§4.5 step 6).
type QualityMemory struct {
	RecentCriticalFindings int
	AvgQuality             float64
}

// WeightEntry is one row of the learned template-weights file (§4.5 step 7).
type WeightEntry struct {
	Template    string
	SuccessRate float64
	Samples     int
}

// Input bundles everything the selector may consult, in precedence order.
type Input struct {
	Labels              []string
	Score               int
	AIComposedTemplate  string // non-empty only if composer enabled and valid
	DORA                DORASignals
	BranchProtectionStrict bool
	TemplateMap         map[string]string // label-regex -> template name, from config
	Quality             QualityMemory
	Weights             []WeightEntry
}

// Select returns the chosen template name, applying the 8-step precedence
// chain from §4.5.
func Select(in Input) string {
	if in.AIComposedTemplate != "" {
		return in.AIComposedTemplate
	}

	if in.DORA.ChangeFailureRate > 0.40 {
		return Enterprise
	}
	if in.DORA.CycleTimeP50Min > 120 {
		return Fast
	}
	if in.DORA.DeployFreqPerWeek < 1 {
		return Standard // cost-aware default
	}

	if in.BranchProtectionStrict {
		return Enterprise
	}

	labels := labelSet(in.Labels)
	if labels["hotfix"] || labels["incident"] {
		return Hotfix
	}
	if labels["security"] {
		return Enterprise
	}

	for pattern, tmpl := range in.TemplateMap {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		for _, l := range in.Labels {
			if re.MatchString(l) {
				return tmpl
			}
		}
	}

	if in.Quality.RecentCriticalFindings > 0 {
		return Enterprise
	}
	if in.Quality.AvgQuality > 0 && in.Quality.AvgQuality < 60 {
		return Full
	}
	if in.Quality.AvgQuality > 80 && in.Score >= 60 {
		return Fast
	}

	if best := bestWeighted(in.Weights); best != "" {
		return best
	}

	switch {
	case in.Score >= 70:
		return Fast
	case in.Score >= 40:
		return Standard
	default:
		return Full
	}
}

// bestWeighted returns the template with the highest success rate among
// entries with sample size >= 3, or "" if none qualify.
func bestWeighted(weights []WeightEntry) string {
	best := ""
	bestRate := -1.0
	for _, w := range weights {
		if w.Samples < 3 {
			continue
		}
		if w.SuccessRate > bestRate {
			bestRate = w.SuccessRate
			best = w.Template
		}
	}
	return best
}

func labelSet(labels []string) map[string]bool {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[strings.ToLower(l)] = true
	}
	return set
}
