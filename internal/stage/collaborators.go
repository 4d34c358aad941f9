package stage

import (
	"context"
	"time"
)

// AIWorker is the per-stage AI code-generation subprocess (§1 "out of
// scope" collaborator): the core only spawns it, monitors its output
// artifacts, and reads its exit code.
type AIWorker interface {
	// Run invokes the subprocess for a stage with the given goal/context
	// and returns its combined output and exit code.
	Run(ctx context.Context, stageName, goal string, env map[string]string) (output string, exitCode int, err error)
}

// CommandRunner executes a shell command in the job's workspace, used for
// detected test commands, smoke commands, deploy commands, etc.
type CommandRunner interface {
	Run(ctx context.Context, dir, command string, timeout time.Duration) (output string, exitCode int, err error)
}

// HealthProber probes an HTTP health endpoint, used by validate/monitor.
type HealthProber interface {
	Probe(ctx context.Context, url string) (healthy bool, err error)
}

// TrackerPoster posts stage-outcome comments and labels back to the issue,
// the narrow slice of the tracker.Client the stage executor needs.
type TrackerPoster interface {
	Comment(ctx context.Context, issueID, body string) error
	AddLabel(ctx context.Context, issueID, label string) error
	RemoveLabel(ctx context.Context, issueID, label string) error
	CloseIssue(ctx context.Context, issueID string) error
}

// ReviewFinding is one severity-tagged item from the AI review action.
type ReviewFinding struct {
	Severity string // critical|bug|warning
	Message  string
}

// Reviewer produces an AI review of a branch diff (§4.7 "review").
type Reviewer interface {
	Review(ctx context.Context, diff string) ([]ReviewFinding, error)
}

// PRCreator creates a pull/merge request (§4.7 "pr").
type PRCreator interface {
	CreatePR(ctx context.Context, branch, base, title, body string, labels []string, reviewers []string) (prID string, err error)
	WaitForCI(ctx context.Context, prID string, timeout time.Duration) (passed bool, err error)
	Merge(ctx context.Context, prID, strategy string, deleteBranch bool) error
}
