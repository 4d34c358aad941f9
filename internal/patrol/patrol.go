// Package patrol runs quiet-period proactive scans (§4.14): when the queue
// and active-job list are both empty and the patrol interval has elapsed,
// the daemon looks for work beyond what the tracker surfaced itself.
package patrol

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Finding is one proactive scan result, deduped against the titles of
// already-open issues. The supervisor posts it as a tracker comment under a
// generated patrol-<unixnano> id; no new tracker issue is created for it.
type Finding struct {
	Kind     string // security|stale_dep|unimported|coverage|docs|perf|recurring_failure|dora_regression|untested_script|retry_exhaustion
	Title    string
	Body     string
	Severity string
}

// Scanner runs one category of patrol check against the repository.
type Scanner interface {
	Scan(ctx context.Context) ([]Finding, error)
}

// ScannerFunc adapts a function to the Scanner interface.
type ScannerFunc func(ctx context.Context) ([]Finding, error)

// Scan implements Scanner.
func (f ScannerFunc) Scan(ctx context.Context) ([]Finding, error) { return f(ctx) }

// Due reports whether a patrol run should start this cycle: the queue and
// active job list are both empty and interval has elapsed since the last run.
func Due(queueEmpty, activeEmpty bool, lastRun time.Time, interval time.Duration) bool {
	return queueEmpty && activeEmpty && time.Since(lastRun) >= interval
}

// Run executes every scanner, caps the combined findings at maxIssues, and
// dedupes against titles already open in the tracker.
func Run(ctx context.Context, scanners []Scanner, openTitles map[string]bool, maxIssues int) ([]Finding, int, error) {
	var all []Finding
	for _, sc := range scanners {
		found, err := sc.Scan(ctx)
		if err != nil {
			continue // one scanner's failure must not abort the whole patrol pass
		}
		all = append(all, found...)
	}

	var deduped []Finding
	for _, f := range all {
		if openTitles[normalizeTitle(f.Title)] {
			continue
		}
		deduped = append(deduped, f)
	}

	dropped := 0
	if len(deduped) > maxIssues {
		dropped = len(deduped) - maxIssues
		deduped = deduped[:maxIssues]
	}
	return deduped, dropped, nil
}

func normalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// FormatIssueBody renders a Finding as an issue body the tracker client can post.
func FormatIssueBody(f Finding) string {
	return fmt.Sprintf("**Category:** %s\n**Severity:** %s\n\n%s", f.Kind, f.Severity, f.Body)
}
