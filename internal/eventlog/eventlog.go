// Package eventlog provides the daemon's append-only JSONL event stream
// (§4.2), grounded on the teacher's atomic appendJSONL helper but adding
// size-based rotation since the daemon runs indefinitely rather than for a
// single session.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxSizeBytes triggers rotation once the active log exceeds this size.
const MaxSizeBytes = 50 * 1024 * 1024

// KeepRotations bounds how many rotated files are retained.
const KeepRotations = 3

// Event is one structured record in the event stream (§4.2 event types:
// job.start, job.complete, job.fail, stage.retry, daemon.scale,
// daemon.optimize, daemon.reap, daemon.auto_pause, daemon.retry_exhausted,
// monitor.rollback, and others named throughout §4).
type Event struct {
	ID      string         `json:"id"`
	TS      time.Time      `json:"ts"`
	Type    string         `json:"type"`
	IssueID string         `json:"issue_id,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Log is an append-only, size-rotated JSONL event stream.
type Log struct {
	path string
	mu   sync.Mutex
}

// Open returns a Log writing to path, creating its directory if needed.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	return &Log{path: path}, nil
}

// Append writes one event, rotating first if the active file is oversized.
// Write failures are logged by the caller but never fatal: event-log
// durability is not load-bearing for correctness (§7 "daemon liveness is
// sacred" — a lost event must not stop the poll loop).
func (l *Log) Append(evt Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now()
	}

	if err := l.rotateIfNeeded(); err != nil {
		return fmt.Errorf("rotate event log: %w", err)
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return f.Sync()
}

func (l *Log) rotateIfNeeded() error {
	info, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() < MaxSizeBytes {
		return nil
	}

	for i := KeepRotations - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", l.path, i)
		dst := fmt.Sprintf("%s.%d", l.path, i+1)
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, dst)
		}
	}
	return os.Rename(l.path, l.path+".1")
}

// Tail reads up to n most recent events from the active file, used by
// `daemon logs` and failure-comment tail truncation (§6, on_failure.comment_log_lines).
func (l *Log) Tail(n int) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var all []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			continue
		}
		all = append(all, evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(all) <= n {
		return all, nil
	}
	return all[len(all)-n:], nil
}
