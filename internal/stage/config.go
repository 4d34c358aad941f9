package stage

import "time"

// Config holds the per-pipeline-run settings the stage actions consult,
// resolved from the template spec and job metadata before Run starts.
type Config struct {
	BaseBranch        string
	BuildTestRetries  int
	MaxQualityCycles  int
	CoverageMin       float64
	TestCmd           string
	FastTestCmd       string
	SmokeCmd          string
	HealthURL         string
	StagingDeployCmd  string
	ProdDeployCmd     string
	RollbackCmd       string
	LogScanCmd        string
	MonitorDuration   time.Duration
	ErrorThreshold    int
	MergeStrategy     string // squash|merge|rebase
	DeleteBranchOnMerge bool
	AutoApprove       bool
	CIWaitTimeout     time.Duration
	CloseIssueOnValidate bool
	Labels            []string
	Milestone         string
	Reviewers         []string
}

// Stage gate/retry flags, keyed by stage id, as carried in a pipeline
// template (§4.7 "Each stage has flags {enabled, gate, retries}").
type StageFlags struct {
	Enabled bool
	Gate    string // none|approve
	Retries int
}

// Template is an ordered, per-stage-configured pipeline spec (§4.5/§4.7).
type Template struct {
	Name   string
	Stages map[string]StageFlags
}
