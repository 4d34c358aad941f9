package statestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipwright-dev/shipwright/internal/types"
)

func TestRead_MissingFileReturnsFreshState(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	st, err := store.Read()
	require.NoError(t, err)
	assert.NotNil(t, st.RetryCounts)
	assert.NotNil(t, st.Titles)
}

func TestUpdate_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := Open(path)
	require.NoError(t, err)

	err = store.Update(func(st *State) error {
		st.ActiveJobs = append(st.ActiveJobs, types.Job{IssueID: "42"})
		return nil
	})
	require.NoError(t, err)

	reopened, err := Open(path)
	require.NoError(t, err)
	st, err := reopened.Read()
	require.NoError(t, err)
	require.Len(t, st.ActiveJobs, 1)
	assert.Equal(t, "42", st.ActiveJobs[0].IssueID)
}

func TestAppendCompleted_TrimsToMaxCompleted(t *testing.T) {
	st := New(1)
	for i := 0; i < types.MaxCompleted+10; i++ {
		st.AppendCompleted(types.JobResult{Job: types.Job{IssueID: "x"}, Result: "success"})
	}
	assert.Len(t, st.Completed, types.MaxCompleted)
}

func TestAppendFailure_TrimsToMaxFailureHistory(t *testing.T) {
	st := New(1)
	for i := 0; i < types.MaxFailureHistory+5; i++ {
		st.AppendFailure(types.FailureEvent{Class: "build_failure"})
	}
	assert.Len(t, st.FailureHistory, types.MaxFailureHistory)
}

func TestRemoveActiveJob_RemovesOnlyMatchingID(t *testing.T) {
	st := New(1)
	jobA := types.Job{IssueID: "a", StartEpoch: 1}
	jobB := types.Job{IssueID: "b", StartEpoch: 2}
	st.ActiveJobs = []types.Job{jobA, jobB}

	st.RemoveActiveJob(jobA.ID())

	require.Len(t, st.ActiveJobs, 1)
	assert.Equal(t, "b", st.ActiveJobs[0].IssueID)
}

func TestUpdate_ConcurrentCallersSerialize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := Open(path)
	require.NoError(t, err)

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			errs <- store.Update(func(st *State) error {
				st.RetryCounts["k"]++
				return nil
			})
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	st, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, n, st.RetryCounts["k"])
}
