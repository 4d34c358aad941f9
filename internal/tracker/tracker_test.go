package tracker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	listErr    error
	commentErr error
	issues     []Issue
	calls      int
	authErr    error
}

func (f *fakeClient) ListLabeled(ctx context.Context, label string) ([]Issue, error) {
	f.calls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.issues, nil
}

func (f *fakeClient) Comment(ctx context.Context, issueID, body string) error {
	f.calls++
	return f.commentErr
}

func (f *fakeClient) AddLabel(ctx context.Context, issueID, label string) error    { return nil }
func (f *fakeClient) RemoveLabel(ctx context.Context, issueID, label string) error { return nil }
func (f *fakeClient) CloseIssue(ctx context.Context, issueID string) error         { return nil }
func (f *fakeClient) CheckAuth(ctx context.Context) error                         { return f.authErr }

func TestIsTransient_MatchesKnownPatterns(t *testing.T) {
	assert.True(t, IsTransient(errors.New("429 too many requests")))
	assert.True(t, IsTransient(errors.New("upstream 503")))
	assert.True(t, IsTransient(ErrRateLimited))
	assert.False(t, IsTransient(errors.New("404 not found")))
	assert.False(t, IsTransient(nil))
}

func TestBreaker_ListLabeled_PassesThroughOnSuccess(t *testing.T) {
	fc := &fakeClient{issues: []Issue{{ID: "1"}}}
	b := NewBreaker(fc)

	issues, err := b.ListLabeled(context.Background(), "ready")
	require.NoError(t, err)
	assert.Len(t, issues, 1)
}

func TestBreaker_ListLabeled_NonTransientErrorIsNotRetried(t *testing.T) {
	fc := &fakeClient{listErr: errors.New("404 not found")}
	b := NewBreaker(fc)

	_, err := b.ListLabeled(context.Background(), "ready")
	assert.Error(t, err)
	assert.Equal(t, 1, fc.calls)
}

func TestBreaker_CheckAuth_NeverRetriedAndPassesThroughError(t *testing.T) {
	authErr := errors.New("unauthorized")
	fc := &fakeClient{authErr: authErr}
	b := NewBreaker(fc)

	err := b.CheckAuth(context.Background())
	assert.ErrorIs(t, err, authErr)
}

func TestBreaker_TripsOpenAfterConsecutiveFailures(t *testing.T) {
	fc := &fakeClient{commentErr: errors.New("503 unavailable")}
	b := NewBreaker(fc)

	for i := 0; i < 3; i++ {
		_ = b.Comment(context.Background(), "1", "hi")
	}

	assert.True(t, b.InBackoff())
}

func TestClaimer_Claim_FallsBackToLabelWhenNoCoordinator(t *testing.T) {
	fc := &fakeClient{}
	c := &Claimer{Client: fc, Machine: "worker-1"}

	ok, err := c.Claim(context.Background(), "1", nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimer_Claim_RejectsWhenAlreadyClaimedByAnotherMachine(t *testing.T) {
	fc := &fakeClient{}
	c := &Claimer{Client: fc, Machine: "worker-1"}

	ok, err := c.Claim(context.Background(), "1", []string{"claimed:worker-2"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimer_Claim_CoordinatorTakesPrecedenceOverLabel(t *testing.T) {
	fc := &fakeClient{}
	called := false
	c := &Claimer{
		Client: fc,
		Coordinate: func(ctx context.Context, issueID, machine string) (bool, error) {
			called = true
			return true, nil
		},
		Machine: "worker-1",
	}

	ok, err := c.Claim(context.Background(), "1", []string{"claimed:worker-2"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, called)
}

func TestClaimLabel_FormatsAsClaimedPrefix(t *testing.T) {
	assert.Equal(t, "claimed:worker-1", ClaimLabel("worker-1"))
}
