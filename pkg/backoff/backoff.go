// Package backoff implements the daemon's fixed backoff ladders as
// cenkalti/backoff/v4's BackOff interface, so any caller expecting the
// standard interface composes with the spec's bespoke numeric schedules
// directly.
package backoff

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Ladder replays a fixed sequence of durations, repeating (or capping at)
// the final entry once exhausted, and implements backoff.BackOff.
type Ladder struct {
	mu       sync.Mutex
	schedule []time.Duration
	pos      int
	repeatLast bool
}

var _ backoff.BackOff = (*Ladder)(nil)

// NewLadder returns a Ladder over schedule. If repeatLast is true, NextBackOff
// keeps returning the final entry instead of backoff.Stop once exhausted.
func NewLadder(schedule []time.Duration, repeatLast bool) *Ladder {
	return &Ladder{schedule: schedule, repeatLast: repeatLast}
}

// NextBackOff returns the next duration in the ladder.
func (l *Ladder) NextBackOff() (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.schedule) == 0 {
		return backoff.Stop, nil
	}
	if l.pos >= len(l.schedule) {
		if l.repeatLast {
			return l.schedule[len(l.schedule)-1], nil
		}
		return backoff.Stop, nil
	}
	d := l.schedule[l.pos]
	l.pos++
	return d, nil
}

// Reset restarts the ladder from its first entry.
func (l *Ladder) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pos = 0
}

// RateLimitLadder is the tracker circuit breaker's open-state backoff
// progression: 30->60->120->240->300s, then holds at 300s (§4.3).
func RateLimitLadder() *Ladder {
	return NewLadder([]time.Duration{
		30 * time.Second,
		60 * time.Second,
		120 * time.Second,
		240 * time.Second,
		300 * time.Second,
	}, true)
}

// TrackerRetryLadder is the per-call retry wrapper's backoff: 1->3->9s,
// up to 3 attempts (§4.3).
func TrackerRetryLadder() *Ladder {
	return NewLadder([]time.Duration{
		1 * time.Second,
		3 * time.Second,
		9 * time.Second,
	}, false)
}
