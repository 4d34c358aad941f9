// Package types defines the data model shared across Shipwright's
// supervisor, stage executor, and storage layers.
package types

import (
	"strconv"
	"time"
)

// StageID identifies a pipeline stage in execution order.
type StageID string

const (
	StageIntake          StageID = "intake"
	StagePlan            StageID = "plan"
	StageDesign          StageID = "design"
	StageBuild           StageID = "build"
	StageTest            StageID = "test"
	StageReview          StageID = "review"
	StageCompoundQuality StageID = "compound_quality"
	StagePR              StageID = "pr"
	StageMerge           StageID = "merge"
	StageDeploy          StageID = "deploy"
	StageValidate        StageID = "validate"
	StageMonitor         StageID = "monitor"
)

// DefaultStageOrder is the canonical stage sequence from the spec.
func DefaultStageOrder() []StageID {
	return []StageID{
		StageIntake, StagePlan, StageDesign, StageBuild, StageTest,
		StageReview, StageCompoundQuality, StagePR, StageMerge,
		StageDeploy, StageValidate, StageMonitor,
	}
}

// StageStatus is the lifecycle state of a single stage record.
type StageStatus string

const (
	StagePending  StageStatus = "pending"
	StageRunning  StageStatus = "running"
	StageComplete StageStatus = "complete"
	StageFailed   StageStatus = "failed"
	StageRetrying StageStatus = "retrying"
	StageSkipped  StageStatus = "skipped"
)

// Gate is the human/automated approval requirement before a stage body runs.
type Gate string

const (
	GateNone    Gate = "none"
	GateApprove Gate = "approve"
)

// StageConfig is one entry of a pipeline template.
type StageConfig struct {
	ID      StageID        `json:"id" yaml:"id"`
	Enabled bool           `json:"enabled" yaml:"enabled"`
	Gate    Gate           `json:"gate,omitempty" yaml:"gate,omitempty"`
	Retries int            `json:"retries" yaml:"retries"`
	Config  map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// StageRecord is the per-stage outcome tracked in pipeline state.
type StageRecord struct {
	ID         StageID     `json:"id"`
	Status     StageStatus `json:"status"`
	StartEpoch int64       `json:"start_epoch,omitempty"`
	EndEpoch   int64       `json:"end_epoch,omitempty"`
	Attempts   int         `json:"attempts"`
	LastError  string      `json:"last_error,omitempty"`
}

// Job is the lifecycle record of a single tracked work item attempt.
type Job struct {
	IssueID    string    `json:"issue_id"`
	StartEpoch int64     `json:"start_epoch"`
	RunID      string    `json:"run_id"`
	Title      string    `json:"title"`
	Goal       string    `json:"goal"`
	PID        int       `json:"pid"`
	Workspace  string    `json:"workspace"`
	Template   string    `json:"template"`
	Repo       string    `json:"repo"`
	Branch     string    `json:"branch"`
	RetryCount int       `json:"retry_count"`
	Resume     bool      `json:"resume,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// ID returns the composite job identity (issue_id, start_epoch).
func (j Job) ID() string {
	return j.IssueID + "@" + strconv.FormatInt(j.StartEpoch, 10)
}

// JobResult is the terminal record moved into the completed list.
type JobResult struct {
	Job
	Result        string      `json:"result"` // success|failure
	DurationS     float64     `json:"duration_s"`
	FailureClass  string      `json:"failure_class,omitempty"`
	SelfHealCount int         `json:"self_heal_count"`
	CompletedAt   time.Time   `json:"completed_at"`
	Provenance    []StageSpan `json:"provenance,omitempty"`
}

// JobResultFile is the per-workspace summary a worker writes on exit so the
// supervisor's reaper can recover self-heal count and stage provenance
// without re-parsing the log tail (§4.9 step 7, §12.4).
const JobResultFile = ".shipwright-result.json"

// JobResultSummary is the worker-side half of JobResult the reaper merges
// into the completed record; everything else (Job, Result, CompletedAt) is
// already known to the supervisor.
type JobResultSummary struct {
	SelfHealCount int         `json:"self_heal_count"`
	Provenance    []StageSpan `json:"provenance,omitempty"`
	DurationS     float64     `json:"duration_s"`
}

// StageSpan records tool-invocation provenance for one stage of a completed job (§12.4).
type StageSpan struct {
	Stage           StageID   `json:"stage"`
	ToolInvocations int       `json:"tool_invocations"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
}

// QueueEntry is an issue awaiting a free worker slot.
type QueueEntry struct {
	IssueID    string `json:"issue_id"`
	Score      int    `json:"score"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

// ProgressSnapshot is a single observed-activity sample for an active Job.
type ProgressSnapshot struct {
	Stage              StageID `json:"stage"`
	Iteration          int     `json:"iteration"`
	DiffLines          int     `json:"diff_lines"`
	FilesChanged       int     `json:"files_changed"`
	LastErrorSignature string  `json:"last_error_signature"`
	TS                 int64   `json:"ts"`
}

// MaxProgressSnapshots bounds the per-issue snapshot ring (§3 "kept as a bounded ring (last 10)").
const MaxProgressSnapshots = 10

// ProgressState is the bounded ring of snapshots plus derived counters for one issue.
type ProgressState struct {
	IssueID            string             `json:"issue_id"`
	Snapshots          []ProgressSnapshot `json:"snapshots"`
	NoProgressCount    int                `json:"no_progress_count"`
	RepeatedErrorCount int                `json:"repeated_error_count"`
	Nudged             bool               `json:"nudged"`
}

// Push appends a snapshot, keeping the ring bounded.
func (p *ProgressState) Push(s ProgressSnapshot) {
	p.Snapshots = append(p.Snapshots, s)
	if len(p.Snapshots) > MaxProgressSnapshots {
		p.Snapshots = p.Snapshots[len(p.Snapshots)-MaxProgressSnapshots:]
	}
}

// Last returns the most recent snapshot, or the zero value if empty.
func (p *ProgressState) Last() (ProgressSnapshot, bool) {
	if len(p.Snapshots) == 0 {
		return ProgressSnapshot{}, false
	}
	return p.Snapshots[len(p.Snapshots)-1], true
}

// Verdict is the progress sensor's health assessment for a Job.
type Verdict string

const (
	VerdictHealthy Verdict = "healthy"
	VerdictSlowing Verdict = "slowing"
	VerdictStalled Verdict = "stalled"
	VerdictStuck   Verdict = "stuck"
)

// RetryRecord tracks per-issue retry state across the failure classifier.
type RetryRecord struct {
	IssueID   string `json:"issue_id"`
	Count     int    `json:"count"`
	LastClass string `json:"last_class,omitempty"`
}

// FailureEvent is one entry in the append-only failure history tail.
type FailureEvent struct {
	TS    int64  `json:"ts"`
	Class string `json:"class"`
}

// MaxFailureHistory bounds the failure history tail (§3).
const MaxFailureHistory = 100

// MaxCompleted bounds the completed jobs list (§3).
const MaxCompleted = 500

// PipelineState is the per-workspace resumable state of one Job's run.
type PipelineState struct {
	IssueID      string                   `json:"issue_id"`
	Goal         string                   `json:"goal"`
	Template     string                   `json:"template"`
	Branch       string                   `json:"branch"`
	CurrentStage StageID                  `json:"current_stage"`
	Stages       map[StageID]*StageRecord `json:"stages"`
	Log          []string                 `json:"log,omitempty"`
	Resume       bool                     `json:"resume,omitempty"`
}

// Baseline is a learned EMA metric for (stage, metric name).
type Baseline struct {
	Value     float64   `json:"value"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EMAAlpha is the exponential moving average smoothing factor (§3, §4.14).
const EMAAlpha = 0.1

// UpdateEMA applies new = 0.9*old + 0.1*current, incrementing Count.
func (b Baseline) UpdateEMA(current float64) Baseline {
	next := b
	if b.Count == 0 {
		next.Value = current
	} else {
		next.Value = (1-EMAAlpha)*b.Value + EMAAlpha*current
	}
	next.Count = b.Count + 1
	next.UpdatedAt = time.Now()
	return next
}

// AnomalyLevel classifies a metric sample against its baseline (§4.14).
type AnomalyLevel string

const (
	AnomalyNormal   AnomalyLevel = "normal"
	AnomalyWarning  AnomalyLevel = "warning"
	AnomalyCritical AnomalyLevel = "critical"
)

// ClassifyAnomaly compares current to baseline: >3x -> critical, >2x -> warning, else normal.
func ClassifyAnomaly(current, baseline float64) AnomalyLevel {
	if baseline <= 0 {
		return AnomalyNormal
	}
	ratio := current / baseline
	switch {
	case ratio > 3:
		return AnomalyCritical
	case ratio > 2:
		return AnomalyWarning
	default:
		return AnomalyNormal
	}
}

// MemoryEntry is a recorded failure pattern consumed by triage and stage prompts.
type MemoryEntry struct {
	Signature string    `json:"signature"`
	Stage     StageID   `json:"stage"`
	SeenCount int       `json:"seen_count"`
	LastSeen  time.Time `json:"last_seen"`
	RootCause string    `json:"root_cause,omitempty"`
}
