// Package triage scores and orders candidate issues (§4.4).
package triage

import (
	"sort"
	"strings"
	"time"
)

// Candidate is the minimal issue shape the scorer needs.
type Candidate struct {
	IssueID    string
	Title      string
	Body       string
	Labels     []string
	CreatedAt  time.Time
	FileRefs   int
	BlockedBy  []string // open issue ids this candidate depends on
	Blocks     []string // open issue ids that depend on this candidate
	PriorMemory MemoryHint
}

// MemoryHint summarizes prior pipeline outcomes for this issue's signature.
type MemoryHint int

const (
	MemoryNone MemoryHint = iota
	MemorySuccess
	MemoryFailure
)

// AIAnalysis is the optional AI-triage result (§4.4 "When the AI analyzer is enabled").
type AIAnalysis struct {
	Complexity         int // 1-10
	Risk               string
	SuccessProbability int // 0-100
}

// Score returns the 0-100 triage score for a candidate using the
// label/age/complexity/dependency/type/memory rubric.
func Score(c Candidate, openIssueIDs map[string]bool) int {
	score := priorityLabelScore(c.Labels) +
		ageScore(c.CreatedAt) +
		complexityScore(c.Body, c.FileRefs) +
		dependencyScore(c, openIssueIDs) +
		typeScore(c.Labels, c.Title) +
		memoryScore(c.PriorMemory)
	return clamp(score, 0, 100)
}

// ScoreWithAI applies the AI-analyzer formula when analysis is available:
// success_probability - 3*complexity, adjusted by risk, clamped.
func ScoreWithAI(a AIAnalysis) int {
	score := a.SuccessProbability - 3*a.Complexity
	switch strings.ToLower(a.Risk) {
	case "critical":
		score += 15
	case "high":
		score += 10
	case "low":
		score -= 5
	}
	return clamp(score, 0, 100)
}

func priorityLabelScore(labels []string) int {
	set := labelSet(labels)
	switch {
	case set["urgent"] || set["p0"]:
		return 30
	case set["high"] || set["p1"]:
		return 20
	case set["normal"] || set["p2"]:
		return 10
	case set["low"] || set["p3"]:
		return 5
	default:
		return 0
	}
}

// ageScore treats a zero-value CreatedAt as maximally old rather than as
// "no age data" — the spec's boundary test expects an empty candidate
// (zero CreatedAt, empty labels/body) to score as if posted long ago.
func ageScore(createdAt time.Time) int {
	age := time.Since(createdAt)
	switch {
	case age > 7*24*time.Hour:
		return 15
	case age > 3*24*time.Hour:
		return 10
	case age > 24*time.Hour:
		return 5
	default:
		return 0
	}
}

// complexityScore rewards short, low-reference bodies (easier to complete quickly).
func complexityScore(body string, fileRefs int) int {
	words := len(strings.Fields(body))
	switch {
	case words <= 40 && fileRefs <= 1:
		return 20
	case words <= 150 && fileRefs <= 4:
		return 10
	default:
		return 0
	}
}

func dependencyScore(c Candidate, openIssueIDs map[string]bool) int {
	score := 0
	for _, dep := range c.BlockedBy {
		if openIssueIDs[dep] {
			score -= 15
			break
		}
	}
	if len(c.Blocks) > 0 {
		score += 15
	}
	return score
}

func typeScore(labels []string, title string) int {
	set := labelSet(labels)
	lower := strings.ToLower(title)
	if set["security"] || set["bug"] || strings.Contains(lower, "security") || strings.Contains(lower, "bug") {
		return 10
	}
	if set["feature"] || set["enhancement"] {
		return 5
	}
	return 0
}

func memoryScore(hint MemoryHint) int {
	switch hint {
	case MemorySuccess:
		return 10
	case MemoryFailure:
		return -5
	default:
		return 0
	}
}

func labelSet(labels []string) map[string]bool {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[strings.ToLower(l)] = true
	}
	return set
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Scored pairs a Candidate with its computed score for sorting/queueing.
type Scored struct {
	Candidate Candidate
	Score     int
}

// Strategy controls sort order: quick-wins-first (default) or complex-first.
type Strategy string

const (
	QuickWinsFirst Strategy = "quick-wins-first"
	ComplexFirst   Strategy = "complex-first"
)

// Sort orders scored candidates per strategy. quick-wins-first sorts score
// descending, issue id ascending on ties; complex-first ascends both (§4.4, §5).
func Sort(items []Scored, strategy Strategy) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if strategy == ComplexFirst {
			if a.Score != b.Score {
				return a.Score < b.Score
			}
			return a.Candidate.IssueID < b.Candidate.IssueID
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Candidate.IssueID < b.Candidate.IssueID
	})
}

// ResolveDependencyOrder applies the bounded three-pass tail-move resolution
// for cyclic "depends on #X" references (§9 Design notes): in each pass, any
// candidate whose unresolved dependencies are still in the candidate set is
// moved to the tail. After three passes the resulting order is accepted,
// tolerating cycles by leaving them in original triage order.
func ResolveDependencyOrder(items []Scored) []Scored {
	remaining := map[string]bool{}
	for _, it := range items {
		remaining[it.Candidate.IssueID] = true
	}

	ordered := append([]Scored(nil), items...)
	for pass := 0; pass < 3; pass++ {
		changed := false
		var next []Scored
		var deferred []Scored
		for _, it := range ordered {
			blocked := false
			for _, dep := range it.Candidate.BlockedBy {
				if remaining[dep] {
					blocked = true
					break
				}
			}
			if blocked {
				deferred = append(deferred, it)
				changed = true
			} else {
				next = append(next, it)
			}
		}
		ordered = append(next, deferred...)
		if !changed {
			break
		}
	}
	return ordered
}
