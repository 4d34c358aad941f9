// Package classify implements the failure classifier and retry escalator
// (§4.10), using sentinel-error-style constants the way the teacher's
// internal/rpi/errors.go names terminal conditions for errors.Is matching.
package classify

import (
	"math"
	"strings"
	"time"
)

// Class is the failure classification of a reaped Job.
type Class string

const (
	ClassAuthError          Class = "auth_error"
	ClassAPIError           Class = "api_error"
	ClassInvalidIssue       Class = "invalid_issue"
	ClassContextExhaustion  Class = "context_exhaustion"
	ClassBuildFailure       Class = "build_failure"
	ClassUnknown            Class = "unknown"
)

// Signal is the evidence the classifier inspects: the Job's log tail and,
// for context_exhaustion, whether the progress file shows advancing
// iterations with tests never passing.
type Signal struct {
	LogTail             string
	ExitCode            int
	IterationsAdvancing bool
	TestsEverPassed     bool
}

// Classify determines the failure class from log keywords, per the §4.10 table.
func Classify(s Signal) Class {
	lower := strings.ToLower(s.LogTail)

	if containsAny(lower, "unauthorized", "401", "invalid token", "invalid_token") {
		return ClassAuthError
	}
	if containsAny(lower, "429", "502", "503", "timeout", "etimedout", "rate limit", "rate_limit") {
		return ClassAPIError
	}
	if containsAny(lower, "404", "not found", "empty body") {
		return ClassInvalidIssue
	}
	if s.IterationsAdvancing && !s.TestsEverPassed {
		return ClassContextExhaustion
	}
	if containsAny(lower, "test failed", "tests failed", "compile error", "compilation failed", "lint failed", "build failed") || s.ExitCode != 0 {
		return ClassBuildFailure
	}
	return ClassUnknown
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// Retryable reports whether class permits any retry at all.
func Retryable(c Class) bool {
	switch c {
	case ClassAuthError, ClassInvalidIssue:
		return false
	default:
		return true
	}
}

// MaxRetries returns the per-class retry cap. defaultRetries comes from
// config.MaxRetries for build_failure/unknown.
func MaxRetries(c Class, defaultRetries int) int {
	switch c {
	case ClassAuthError, ClassInvalidIssue:
		return 0
	case ClassAPIError:
		return 4
	case ClassContextExhaustion:
		return 2
	default:
		return defaultRetries
	}
}

// Backoff returns the wait before retry attempt n (1-indexed) for class c.
func Backoff(c Class, attempt int) time.Duration {
	switch c {
	case ClassAPIError:
		secs := 300 * math.Pow(2, float64(attempt-1))
		if secs > 3600 {
			secs = 3600
		}
		return time.Duration(secs) * time.Second
	default:
		return 0
	}
}

// Escalation describes the configuration bump applied before a retry spawn.
type Escalation struct {
	UpgradeModel       bool
	RaiseMaxIterations bool
	SwitchToFullTemplate bool
	EnableCompoundCycles bool
}

// EscalationFor returns the escalation to apply before retry attempt
// (1-indexed, the retry number about to run): retry 1 upgrades the model,
// retry >=2 switches to the full template and enables compound cycles (§4.10).
func EscalationFor(attempt int) Escalation {
	if attempt <= 1 {
		return Escalation{UpgradeModel: true, RaiseMaxIterations: true}
	}
	return Escalation{SwitchToFullTemplate: true, EnableCompoundCycles: true}
}

// ConsecutiveFailurePause returns the resume_after duration for n consecutive
// same-class failures across jobs (n>=3 triggers the pause per §4.10):
// 5*2^(n-3) minutes, capped at 8h.
func ConsecutiveFailurePause(n int) time.Duration {
	if n < 3 {
		return 0
	}
	mins := 5 * math.Pow(2, float64(n-3))
	d := time.Duration(mins) * time.Minute
	if cap := 8 * time.Hour; d > cap {
		return cap
	}
	return d
}
