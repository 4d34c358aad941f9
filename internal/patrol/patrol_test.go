package patrol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDue_RequiresEmptyQueueAndElapsedInterval(t *testing.T) {
	assert.True(t, Due(true, true, time.Now().Add(-time.Hour), 30*time.Minute))
	assert.False(t, Due(false, true, time.Now().Add(-time.Hour), 30*time.Minute))
	assert.False(t, Due(true, false, time.Now().Add(-time.Hour), 30*time.Minute))
	assert.False(t, Due(true, true, time.Now(), 30*time.Minute))
}

func TestRun_DedupesAgainstOpenTitles(t *testing.T) {
	scanner := ScannerFunc(func(ctx context.Context) ([]Finding, error) {
		return []Finding{
			{Kind: "docs", Title: "Fix Typo In README"},
			{Kind: "docs", Title: "Brand new finding"},
		}, nil
	})
	openTitles := map[string]bool{"fix typo in readme": true}

	found, dropped, err := Run(context.Background(), []Scanner{scanner}, openTitles, 10)
	require.NoError(t, err)
	assert.Zero(t, dropped)
	require.Len(t, found, 1)
	assert.Equal(t, "Brand new finding", found[0].Title)
}

func TestRun_CapsAtMaxIssuesAndReportsDropped(t *testing.T) {
	scanner := ScannerFunc(func(ctx context.Context) ([]Finding, error) {
		return []Finding{
			{Title: "a"}, {Title: "b"}, {Title: "c"},
		}, nil
	})

	found, dropped, err := Run(context.Background(), []Scanner{scanner}, nil, 2)
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.Equal(t, 1, dropped)
}

func TestRun_OneScannerFailureDoesNotAbortOthers(t *testing.T) {
	failing := ScannerFunc(func(ctx context.Context) ([]Finding, error) {
		return nil, errors.New("boom")
	})
	ok := ScannerFunc(func(ctx context.Context) ([]Finding, error) {
		return []Finding{{Title: "survives"}}, nil
	})

	found, _, err := Run(context.Background(), []Scanner{failing, ok}, nil, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "survives", found[0].Title)
}

func TestFormatIssueBody_IncludesKindAndSeverity(t *testing.T) {
	body := FormatIssueBody(Finding{Kind: "security", Severity: "high", Body: "details here"})
	assert.Contains(t, body, "security")
	assert.Contains(t, body, "high")
	assert.Contains(t, body, "details here")
}
