package backoff

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLadder_ReplaysScheduleInOrder(t *testing.T) {
	l := NewLadder([]time.Duration{time.Second, 2 * time.Second}, false)

	d1, err := l.NextBackOff()
	require.NoError(t, err)
	assert.Equal(t, time.Second, d1)

	d2, err := l.NextBackOff()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d2)

	d3, err := l.NextBackOff()
	require.NoError(t, err)
	assert.Equal(t, backoff.Stop, d3)
}

func TestLadder_RepeatLastHoldsFinalEntry(t *testing.T) {
	l := NewLadder([]time.Duration{time.Second}, true)

	_, _ = l.NextBackOff()
	d, err := l.NextBackOff()
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)
}

func TestLadder_Reset(t *testing.T) {
	l := NewLadder([]time.Duration{time.Second, 2 * time.Second}, false)
	_, _ = l.NextBackOff()
	l.Reset()

	d, err := l.NextBackOff()
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)
}

func TestRateLimitLadder_MatchesSpecSchedule(t *testing.T) {
	l := RateLimitLadder()
	want := []time.Duration{
		30 * time.Second, 60 * time.Second, 120 * time.Second, 240 * time.Second, 300 * time.Second,
	}
	for i, w := range want {
		d, err := l.NextBackOff()
		require.NoError(t, err, "entry %d", i)
		assert.Equal(t, w, d)
	}
	// exhausted; repeatLast holds at 300s rather than signaling Stop.
	d, err := l.NextBackOff()
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, d)
}

func TestTrackerRetryLadder_StopsAfterThreeAttempts(t *testing.T) {
	l := TrackerRetryLadder()
	for i := 0; i < 3; i++ {
		d, err := l.NextBackOff()
		require.NoError(t, err)
		assert.NotEqual(t, backoff.Stop, d)
	}
	d, err := l.NextBackOff()
	require.NoError(t, err)
	assert.Equal(t, backoff.Stop, d)
}
