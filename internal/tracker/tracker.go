// Package tracker is the issue tracker client (§4.3): polling, comments,
// labels, a rate-limit circuit breaker, a retry wrapper, and a distributed
// claim with a label-based fallback.
package tracker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	shipbackoff "github.com/shipwright-dev/shipwright/pkg/backoff"
)

// Issue is the tracker-agnostic shape the rest of Shipwright consumes.
type Issue struct {
	ID        string
	Title     string
	Body      string
	Labels    []string
	CreatedAt time.Time
	Assignee  string
}

// Client is the interface the supervisor/triage/stage packages depend on;
// concrete trackers (GitHub, GitLab, Jira, ...) implement it. The core never
// imports a specific tracker SDK, per spec.md's "issue tracker" being an
// out-of-scope external collaborator specified only by interface.
type Client interface {
	ListLabeled(ctx context.Context, label string) ([]Issue, error)
	Comment(ctx context.Context, issueID, body string) error
	AddLabel(ctx context.Context, issueID, label string) error
	RemoveLabel(ctx context.Context, issueID, label string) error
	CloseIssue(ctx context.Context, issueID string) error
	CheckAuth(ctx context.Context) error
}

// ErrRateLimited is returned by a Client implementation when the transient
// error matches a rate-limit or server-overload pattern.
var ErrRateLimited = errors.New("tracker: rate limited")

// transientPatterns are matched against error text to decide retryability.
var transientPatterns = []string{"429", "502", "503", "timeout", "rate limit", "etimedout"}

// IsTransient reports whether err looks like a rate-limit/transient-server error.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	lower := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Breaker wraps a Client with a gobreaker-backed rate-limit circuit breaker
// (§4.3: >=3 consecutive failures trips it; every open period lasts a fixed
// 30s, and the 30->60->120->240->300s ladder is only exposed through
// NextOpenTimeout, not applied to the breaker) and a retry wrapper
// (1->3->9s, up to 3 attempts) for transient errors.
type Breaker struct {
	client Client
	cb     *gobreaker.CircuitBreaker
	ladder *shipbackoff.Ladder
}

// NewBreaker wraps client with the spec's rate-limit breaker settings.
func NewBreaker(client Client) *Breaker {
	ladder := shipbackoff.RateLimitLadder()
	settings := gobreaker.Settings{
		Name:        "tracker",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second, // fixed for the breaker's lifetime
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				// gobreaker only supports a fixed Timeout, so the next half-open
				// probe always comes 30s after the trip; the ladder advances only
				// when NextOpenTimeout is called.
			}
			if to == gobreaker.StateClosed {
				ladder.Reset()
			}
		},
	}
	return &Breaker{client: client, cb: gobreaker.NewCircuitBreaker(settings), ladder: ladder}
}

// NextOpenTimeout returns the next backoff duration in the 30->60->120->240->300s
// ladder, advancing the sequence. The value is not fed back into the
// circuit breaker, whose open state always lasts 30s.
func (b *Breaker) NextOpenTimeout() time.Duration {
	d, err := b.ladder.NextBackOff()
	if err == backoff.Stop || d <= 0 {
		return 300 * time.Second
	}
	return d
}

func retryWrapper(ctx context.Context, fn func() error) error {
	ladder := shipbackoff.TrackerRetryLadder()
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		d, berr := ladder.NextBackOff()
		if berr == backoff.Stop {
			break
		}
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// ListLabeled polls through the circuit breaker and retry wrapper.
func (b *Breaker) ListLabeled(ctx context.Context, label string) ([]Issue, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		var issues []Issue
		err := retryWrapper(ctx, func() error {
			var e error
			issues, e = b.client.ListLabeled(ctx, label)
			return e
		})
		return issues, err
	})
	if err != nil {
		return nil, err
	}
	return res.([]Issue), nil
}

// Comment posts through the breaker/retry wrapper.
func (b *Breaker) Comment(ctx context.Context, issueID, body string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, retryWrapper(ctx, func() error { return b.client.Comment(ctx, issueID, body) })
	})
	return err
}

// AddLabel is a thin passthrough (label edits are not rate-limit sensitive
// enough on their own to warrant the breaker in the source system, but
// still benefit from the retry wrapper for transient errors).
func (b *Breaker) AddLabel(ctx context.Context, issueID, label string) error {
	return retryWrapper(ctx, func() error { return b.client.AddLabel(ctx, issueID, label) })
}

// RemoveLabel mirrors AddLabel.
func (b *Breaker) RemoveLabel(ctx context.Context, issueID, label string) error {
	return retryWrapper(ctx, func() error { return b.client.RemoveLabel(ctx, issueID, label) })
}

// CloseIssue mirrors AddLabel.
func (b *Breaker) CloseIssue(ctx context.Context, issueID string) error {
	return retryWrapper(ctx, func() error { return b.client.CloseIssue(ctx, issueID) })
}

// CheckAuth is never retried: an auth failure should surface immediately
// so the supervisor's preflight can auto-pause (§4.9 step 1, §7).
func (b *Breaker) CheckAuth(ctx context.Context) error {
	return b.client.CheckAuth(ctx)
}

// InBackoff reports whether the breaker is currently open (polls skipped).
func (b *Breaker) InBackoff() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// Claimer acquires a distributed per-issue claim before spawning, falling
// back to a tracker-label-based claim when the coordinator is unreachable
// (§4.3 "Distributed claim"). The coordination endpoint is optional; the
// core must remain correct with only label-based claiming (§9).
type Claimer struct {
	Client     Client
	Coordinate func(ctx context.Context, issueID, machine string) (bool, error) // nil if no coordinator configured
	Machine    string
}

// ClaimLabel is the fallback label format: "claimed:<machine>".
func ClaimLabel(machine string) string {
	return "claimed:" + machine
}

// Claim attempts the coordinator first, then falls back to a tracker label.
func (c *Claimer) Claim(ctx context.Context, issueID string, existingLabels []string) (bool, error) {
	if c.Coordinate != nil {
		ok, err := c.Coordinate(ctx, issueID, c.Machine)
		if err == nil {
			return ok, nil
		}
		// coordinator unreachable: fall through to label-based claim
	}
	label := ClaimLabel(c.Machine)
	for _, l := range existingLabels {
		if strings.HasPrefix(l, "claimed:") && l != label {
			return false, nil
		}
	}
	if err := c.Client.AddLabel(ctx, issueID, label); err != nil {
		return false, err
	}
	return true, nil
}

// Release removes the fallback claim label on reap.
func (c *Claimer) Release(ctx context.Context, issueID string) error {
	return c.Client.RemoveLabel(ctx, issueID, ClaimLabel(c.Machine))
}
