// Package statestore persists the daemon's single JSON state document
// (§4.1) under a cross-process advisory lock, adapting the teacher's
// atomic temp-file-then-rename write pattern
// (internal/storage/file.go:atomicWrite) from per-entry files to one
// read-modify-write document guarded by gofrs/flock instead of an
// in-process sync.Mutex.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/shipwright-dev/shipwright/internal/types"
)

// LockTimeout bounds how long a reader/writer waits for the state file lock.
const LockTimeout = 5 * time.Second

// ErrLockTimeout is returned when the lock cannot be acquired in time.
// No in-memory snapshot is kept to fall back on: the supervisor logs the
// error and skips that step of the poll cycle rather than blocking the loop.
var ErrLockTimeout = errors.New("state store: lock timeout")

// State is the daemon's single persisted document.
type State struct {
	PID                int                       `json:"pid"`
	StartedAt          time.Time                 `json:"started_at"`
	LastPoll           time.Time                 `json:"last_poll"`
	ConfigEcho         map[string]any            `json:"config_echo,omitempty"`
	ActiveJobs         []types.Job               `json:"active_jobs"`
	Queued             []types.QueueEntry        `json:"queued"`
	Completed          []types.JobResult         `json:"completed"`
	RetryCounts        map[string]int            `json:"retry_counts"`
	FailureHistory     []types.FailureEvent      `json:"failure_history"`
	PriorityLaneActive []string                  `json:"priority_lane_active"`
	Titles             map[string]string         `json:"titles"`
	Baselines          map[string]types.Baseline `json:"baselines,omitempty"`
	MemoryEntries      map[string]*types.MemoryEntry `json:"memory_entries,omitempty"`
	LastPatrolRun      time.Time                 `json:"last_patrol_run,omitempty"`
	PatrolMaxIssues    int                       `json:"patrol_max_issues,omitempty"`
	LastPatrolFoundZero bool                     `json:"last_patrol_found_zero,omitempty"`
}

// New returns an empty State with initialized maps/slices.
func New(pid int) *State {
	return &State{
		PID:         pid,
		StartedAt:   time.Now(),
		RetryCounts: map[string]int{},
		Titles:      map[string]string{},
		Baselines:   map[string]types.Baseline{},
		MemoryEntries: map[string]*types.MemoryEntry{},
	}
}

// Store wraps a single state document at path with a bounded advisory lock.
type Store struct {
	path string
}

// Open returns a Store backed by the JSON file at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{path: path}, nil
}

func (s *Store) lock() (*flock.Flock, error) {
	fl := flock.New(s.path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()
	locked, err := fl.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil || !locked {
		return nil, ErrLockTimeout
	}
	return fl, nil
}

// Read loads the current state document, returning a fresh zero State if
// the file does not yet exist.
func (s *Store) Read() (*State, error) {
	fl, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer fl.Unlock()
	return s.readLocked()
}

func (s *Store) readLocked() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(os.Getpid()), nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	return &st, nil
}

// Update performs a locked read-modify-write: fn mutates the loaded state
// in place and the result is written back atomically (temp file + rename,
// per the teacher's atomicWrite).
func (s *Store) Update(fn func(*State) error) error {
	fl, err := s.lock()
	if err != nil {
		return err
	}
	defer fl.Unlock()

	st, err := s.readLocked()
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	return s.writeLocked(st)
}

func (s *Store) writeLocked(st *State) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tmp-state-")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	success = true
	return nil
}

// AppendCompleted moves a JobResult onto the completed list, trimming to
// types.MaxCompleted (§3 "bounded to last 500").
func (st *State) AppendCompleted(jr types.JobResult) {
	st.Completed = append(st.Completed, jr)
	if len(st.Completed) > types.MaxCompleted {
		st.Completed = st.Completed[len(st.Completed)-types.MaxCompleted:]
	}
}

// AppendFailure records a failure event, trimming to types.MaxFailureHistory.
func (st *State) AppendFailure(fe types.FailureEvent) {
	st.FailureHistory = append(st.FailureHistory, fe)
	if len(st.FailureHistory) > types.MaxFailureHistory {
		st.FailureHistory = st.FailureHistory[len(st.FailureHistory)-types.MaxFailureHistory:]
	}
}

// RemoveActiveJob removes the job matching id from ActiveJobs, if present.
func (st *State) RemoveActiveJob(id string) {
	out := st.ActiveJobs[:0]
	for _, j := range st.ActiveJobs {
		if j.ID() != id {
			out = append(out, j)
		}
	}
	st.ActiveJobs = out
}
