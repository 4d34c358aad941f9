// Package config loads Shipwright's daemon configuration.
// Configuration is loaded from (highest to lowest priority):
//  1. Command-line flags
//  2. Environment variables (SHIPWRIGHT_*)
//  3. Per-repo config (.claude/daemon-config.json in cwd)
//  4. Home config (~/.shipwright/config.yaml)
//  5. Defaults
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// OnSuccess describes post-success tracker bookkeeping.
type OnSuccess struct {
	RemoveLabel string `yaml:"remove_label" json:"remove_label"`
	AddLabel    string `yaml:"add_label" json:"add_label"`
	CloseIssue  bool   `yaml:"close_issue" json:"close_issue"`
}

// OnFailure describes post-failure tracker bookkeeping.
type OnFailure struct {
	AddLabel        string `yaml:"add_label" json:"add_label"`
	CommentLogLines int    `yaml:"comment_log_lines" json:"comment_log_lines"`
}

// Notifications holds outbound webhook settings.
type Notifications struct {
	SlackWebhook string `yaml:"slack_webhook" json:"slack_webhook"`
}

// Health holds progress-sensor and supervision thresholds (§4.8).
type Health struct {
	StaleTimeoutS         int  `yaml:"stale_timeout_s" json:"stale_timeout_s"`
	HeartbeatTimeoutS     int  `yaml:"heartbeat_timeout_s" json:"heartbeat_timeout_s"`
	CheckpointEnabled     bool `yaml:"checkpoint_enabled" json:"checkpoint_enabled"`
	ProgressBased         bool `yaml:"progress_based" json:"progress_based"`
	StaleChecksBeforeWarn int  `yaml:"stale_checks_before_warn" json:"stale_checks_before_warn"`
	StaleChecksBeforeKill int  `yaml:"stale_checks_before_kill" json:"stale_checks_before_kill"`
	HardLimitS            int  `yaml:"hard_limit_s" json:"hard_limit_s"`
	NudgeEnabled          bool `yaml:"nudge_enabled" json:"nudge_enabled"`
	NudgeAfterChecks      int  `yaml:"nudge_after_checks" json:"nudge_after_checks"`
}

// PriorityLane reserves extra spawn slots for labeled hotfix work (§4.9).
type PriorityLane struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Labels  []string `yaml:"labels" json:"labels"`
	Max     int      `yaml:"max" json:"max"`
}

// AutoScale configures the auto-scaler (§4.12).
type AutoScale struct {
	Enabled                bool    `yaml:"enabled" json:"enabled"`
	Interval               int     `yaml:"interval" json:"interval"`
	MaxWorkers             int     `yaml:"max_workers" json:"max_workers"`
	MinWorkers             int     `yaml:"min_workers" json:"min_workers"`
	WorkerMemGB            float64 `yaml:"worker_mem_gb" json:"worker_mem_gb"`
	EstimatedCostPerJobUSD float64 `yaml:"estimated_cost_per_job_usd" json:"estimated_cost_per_job_usd"`
	// MonthlyBudgetUSD caps this calendar month's estimated spend. Zero
	// disables the budget cap entirely (autoscale.Inputs.CostPerJobUSD
	// stays 0, which autoscale treats as "uncapped").
	MonthlyBudgetUSD float64 `yaml:"monthly_budget_usd" json:"monthly_budget_usd"`
}

// Intelligence toggles AI-assisted subsystems (§4.4, §4.5, §4.11).
type Intelligence struct {
	Enabled             bool    `yaml:"enabled" json:"enabled"`
	ComposerEnabled     bool    `yaml:"composer_enabled" json:"composer_enabled"`
	OptimizationEnabled bool    `yaml:"optimization_enabled" json:"optimization_enabled"`
	PredictionEnabled   bool    `yaml:"prediction_enabled" json:"prediction_enabled"`
	AdaptiveEnabled     bool    `yaml:"adaptive_enabled" json:"adaptive_enabled"`
	PriorityStrategy    string  `yaml:"priority_strategy" json:"priority_strategy"` // quick-wins-first|complex-first
	AnomalyThreshold    float64 `yaml:"anomaly_threshold" json:"anomaly_threshold"`
}

// StaleReaper periodically removes orphaned long-lived worktrees.
type StaleReaper struct {
	Enabled  bool `yaml:"enabled" json:"enabled"`
	Interval int  `yaml:"interval" json:"interval"`
	AgeDays  int  `yaml:"age_days" json:"age_days"`
}

// Schedule holds supplemental cron-based scheduling (§12.2).
type Schedule struct {
	PatrolCron string `yaml:"patrol_cron" json:"patrol_cron"`
}

// Patrol configures quiet-period proactive scanning (§4.14).
type Patrol struct {
	Enabled   bool `yaml:"enabled" json:"enabled"`
	IntervalS int  `yaml:"interval_s" json:"interval_s"`
	MaxIssues int  `yaml:"max_issues" json:"max_issues"`
}

// Alerts configures degradation alerting (§4.9 step 9).
type Alerts struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	SlackWebhook string `yaml:"slack_webhook" json:"slack_webhook"`
}

// Pipeline holds the per-stage command/endpoint settings a running job
// needs that aren't specific to triage/scheduling (§4.7 stage actions).
type Pipeline struct {
	TestCmd             string   `yaml:"test_cmd" json:"test_cmd"`
	SmokeCmd            string   `yaml:"smoke_cmd" json:"smoke_cmd"`
	HealthURL           string   `yaml:"health_url" json:"health_url"`
	StagingDeployCmd    string   `yaml:"staging_deploy_cmd" json:"staging_deploy_cmd"`
	ProdDeployCmd       string   `yaml:"prod_deploy_cmd" json:"prod_deploy_cmd"`
	RollbackCmd         string   `yaml:"rollback_cmd" json:"rollback_cmd"`
	LogScanCmd          string   `yaml:"log_scan_cmd" json:"log_scan_cmd"`
	MonitorDurationS    int      `yaml:"monitor_duration_s" json:"monitor_duration_s"`
	ErrorThreshold      int      `yaml:"error_threshold" json:"error_threshold"`
	MergeStrategy       string   `yaml:"merge_strategy" json:"merge_strategy"`
	DeleteBranchOnMerge bool     `yaml:"delete_branch_on_merge" json:"delete_branch_on_merge"`
	CIWaitTimeoutS      int      `yaml:"ci_wait_timeout_s" json:"ci_wait_timeout_s"`
	CoverageMin         float64  `yaml:"coverage_min" json:"coverage_min"`
	MaxQualityCycles    int      `yaml:"max_quality_cycles" json:"max_quality_cycles"`
	BuildTestRetries    int      `yaml:"build_test_retries" json:"build_test_retries"`
	CloseIssueOnValidate bool    `yaml:"close_issue_on_validate" json:"close_issue_on_validate"`
	Labels              []string `yaml:"labels" json:"labels"`
	Reviewers           []string `yaml:"reviewers" json:"reviewers"`
	TrackerBaseURL      string   `yaml:"tracker_base_url" json:"tracker_base_url"`
	TrackerToken        string   `yaml:"tracker_token" json:"tracker_token"`
}

// Config holds the complete daemon configuration (§6 "Config file").
type Config struct {
	WatchLabel       string            `yaml:"watch_label" json:"watch_label"`
	PollInterval     int               `yaml:"poll_interval" json:"poll_interval"`
	MaxParallel      int               `yaml:"max_parallel" json:"max_parallel"`
	PipelineTemplate string            `yaml:"pipeline_template" json:"pipeline_template"`
	SkipGates        bool              `yaml:"skip_gates" json:"skip_gates"`
	BranchProtectionStrict bool        `yaml:"branch_protection_strict" json:"branch_protection_strict"`
	Model            string            `yaml:"model" json:"model"`
	BaseBranch       string            `yaml:"base_branch" json:"base_branch"`
	OnSuccess        OnSuccess         `yaml:"on_success" json:"on_success"`
	OnFailure        OnFailure         `yaml:"on_failure" json:"on_failure"`
	Notifications    Notifications     `yaml:"notifications" json:"notifications"`
	Health           Health            `yaml:"health" json:"health"`
	PriorityLabels   []string          `yaml:"priority_labels" json:"priority_labels"`
	Alerts           Alerts            `yaml:"alerts" json:"alerts"`
	Patrol           Patrol            `yaml:"patrol" json:"patrol"`
	AutoTemplate     bool              `yaml:"auto_template" json:"auto_template"`
	TemplateMap      map[string]string `yaml:"template_map" json:"template_map"`
	MaxRetries       int               `yaml:"max_retries" json:"max_retries"`
	RetryEscalation  bool              `yaml:"retry_escalation" json:"retry_escalation"`
	MaxRestarts      int               `yaml:"max_restarts" json:"max_restarts"`
	FastTestCmd      string            `yaml:"fast_test_cmd" json:"fast_test_cmd"`
	SelfOptimize     bool              `yaml:"self_optimize" json:"self_optimize"`
	OptimizeInterval int               `yaml:"optimize_interval" json:"optimize_interval"`
	PriorityLane     PriorityLane      `yaml:"priority_lane" json:"priority_lane"`
	WatchMode        string            `yaml:"watch_mode" json:"watch_mode"` // single-repo|org
	Org              string            `yaml:"org" json:"org"`
	RepoFilter       string            `yaml:"repo_filter" json:"repo_filter"`
	AutoScale        AutoScale         `yaml:"auto_scale" json:"auto_scale"`
	Intelligence     Intelligence      `yaml:"intelligence" json:"intelligence"`
	GHRetry          bool              `yaml:"gh_retry" json:"gh_retry"`
	StaleReaper      StaleReaper       `yaml:"stale_reaper" json:"stale_reaper"`
	DashboardURL     string            `yaml:"dashboard_url" json:"dashboard_url"`
	Schedule         Schedule          `yaml:"schedule" json:"schedule"`
	Pipeline         Pipeline          `yaml:"pipeline" json:"pipeline"`

	LogLevel    string `yaml:"log_level" json:"log_level"`
	LogFormat   string `yaml:"log_format" json:"log_format"` // json|console
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	StateDir    string `yaml:"state_dir" json:"state_dir"`
}

// Default returns documented default values, used by `shipwright daemon init`.
func Default() *Config {
	return &Config{
		WatchLabel:       "ready-to-build",
		PollInterval:     60,
		MaxParallel:      3,
		PipelineTemplate: "standard",
		SkipGates:        false,
		Model:            "default",
		BaseBranch:       "main",
		OnSuccess: OnSuccess{
			RemoveLabel: "ready-to-build",
			AddLabel:    "pipeline/complete",
			CloseIssue:  false,
		},
		OnFailure: OnFailure{
			AddLabel:        "pipeline/failed",
			CommentLogLines: 50,
		},
		Health: Health{
			StaleTimeoutS:         3600,
			HeartbeatTimeoutS:     120,
			CheckpointEnabled:     true,
			ProgressBased:         true,
			StaleChecksBeforeWarn: 6,
			StaleChecksBeforeKill: 12,
			HardLimitS:            0,
			NudgeEnabled:          true,
			NudgeAfterChecks:      12,
		},
		PriorityLabels: []string{"hotfix", "incident", "p0", "urgent"},
		Patrol: Patrol{
			Enabled:   true,
			IntervalS: 3600,
			MaxIssues: 5,
		},
		AutoTemplate:     false,
		TemplateMap:      map[string]string{},
		MaxRetries:       2,
		RetryEscalation:  true,
		MaxRestarts:      3,
		FastTestCmd:      "",
		SelfOptimize:     true,
		OptimizeInterval: 20,
		PriorityLane: PriorityLane{
			Enabled: true,
			Labels:  []string{"hotfix", "incident", "p0", "urgent"},
			Max:     2,
		},
		WatchMode: "single-repo",
		AutoScale: AutoScale{
			Enabled:                true,
			Interval:               10,
			MaxWorkers:             6,
			MinWorkers:             1,
			WorkerMemGB:            2,
			EstimatedCostPerJobUSD: 1.5,
		},
		Intelligence: Intelligence{
			Enabled:          false,
			PriorityStrategy: "quick-wins-first",
			AnomalyThreshold: 2.0,
		},
		GHRetry: true,
		StaleReaper: StaleReaper{
			Enabled:  true,
			Interval: 50,
			AgeDays:  14,
		},
		Pipeline: Pipeline{
			MergeStrategy:    "squash",
			CIWaitTimeoutS:   1800,
			MaxQualityCycles: 2,
			BuildTestRetries: 2,
			MonitorDurationS: 600,
			ErrorThreshold:   5,
		},
		LogLevel:  "info",
		LogFormat: "json",
		StateDir:  defaultStateDir(),
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shipwright"
	}
	return filepath.Join(home, ".shipwright")
}

// Load resolves configuration with full precedence: flags > env > project > home > defaults.
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	if home, err := loadYAML(homeConfigPath()); err == nil && home != nil {
		cfg = merge(cfg, home)
	}
	if project, err := loadJSON(projectConfigPath()); err == nil && project != nil {
		cfg = merge(cfg, project)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".shipwright", "config.yaml")
}

// HomeConfigPath exposes the home config file location to callers (the
// self-optimizer writes learned recommendations back here).
func HomeConfigPath() string { return homeConfigPath() }

func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("SHIPWRIGHT_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".claude", "daemon-config.json")
}

func loadYAML(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadJSON(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv applies SHIPWRIGHT_* environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("SHIPWRIGHT_WATCH_LABEL"); v != "" {
		cfg.WatchLabel = v
	}
	if v := os.Getenv("SHIPWRIGHT_POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollInterval = n
		}
	}
	if v := os.Getenv("SHIPWRIGHT_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxParallel = n
		}
	}
	if v := os.Getenv("SHIPWRIGHT_TEMPLATE"); v != "" {
		cfg.PipelineTemplate = v
	}
	if v := os.Getenv("SHIPWRIGHT_BASE_BRANCH"); v != "" {
		cfg.BaseBranch = v
	}
	if v := os.Getenv("SHIPWRIGHT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SHIPWRIGHT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("SHIPWRIGHT_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	return cfg
}

// merge merges src into dst, with non-zero src values taking precedence.
func merge(dst, src *Config) *Config {
	if src.WatchLabel != "" {
		dst.WatchLabel = src.WatchLabel
	}
	if src.PollInterval != 0 {
		dst.PollInterval = src.PollInterval
	}
	if src.MaxParallel != 0 {
		dst.MaxParallel = src.MaxParallel
	}
	if src.PipelineTemplate != "" {
		dst.PipelineTemplate = src.PipelineTemplate
	}
	if src.SkipGates {
		dst.SkipGates = true
	}
	if src.BranchProtectionStrict {
		dst.BranchProtectionStrict = true
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.BaseBranch != "" {
		dst.BaseBranch = src.BaseBranch
	}
	if src.OnSuccess.AddLabel != "" {
		dst.OnSuccess = src.OnSuccess
	}
	if src.OnFailure.AddLabel != "" {
		dst.OnFailure = src.OnFailure
	}
	if src.Notifications.SlackWebhook != "" {
		dst.Notifications = src.Notifications
	}
	if src.Health.HeartbeatTimeoutS != 0 {
		dst.Health = src.Health
	}
	if len(src.PriorityLabels) > 0 {
		dst.PriorityLabels = src.PriorityLabels
	}
	if src.Patrol.IntervalS != 0 {
		dst.Patrol = src.Patrol
	}
	if src.AutoTemplate {
		dst.AutoTemplate = true
	}
	if len(src.TemplateMap) > 0 {
		dst.TemplateMap = src.TemplateMap
	}
	if src.MaxRetries != 0 {
		dst.MaxRetries = src.MaxRetries
	}
	if src.MaxRestarts != 0 {
		dst.MaxRestarts = src.MaxRestarts
	}
	if src.FastTestCmd != "" {
		dst.FastTestCmd = src.FastTestCmd
	}
	if src.OptimizeInterval != 0 {
		dst.OptimizeInterval = src.OptimizeInterval
	}
	if src.PriorityLane.Max != 0 {
		dst.PriorityLane = src.PriorityLane
	}
	if src.WatchMode != "" {
		dst.WatchMode = src.WatchMode
	}
	if src.Org != "" {
		dst.Org = src.Org
	}
	if src.RepoFilter != "" {
		dst.RepoFilter = src.RepoFilter
	}
	if src.AutoScale.MaxWorkers != 0 {
		dst.AutoScale = src.AutoScale
	}
	if src.Intelligence.PriorityStrategy != "" {
		dst.Intelligence = src.Intelligence
	}
	if src.StaleReaper.Interval != 0 {
		dst.StaleReaper = src.StaleReaper
	}
	if src.DashboardURL != "" {
		dst.DashboardURL = src.DashboardURL
	}
	if src.Schedule.PatrolCron != "" {
		dst.Schedule = src.Schedule
	}
	if src.Pipeline.TestCmd != "" || src.Pipeline.MergeStrategy != "" {
		dst.Pipeline = src.Pipeline
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.LogFormat != "" {
		dst.LogFormat = src.LogFormat
	}
	if src.MetricsAddr != "" {
		dst.MetricsAddr = src.MetricsAddr
	}
	if src.StateDir != "" {
		dst.StateDir = src.StateDir
	}
	return dst
}

// Source identifies where a resolved config value originated.
type Source string

const (
	SourceDefault Source = "default"
	SourceHome    Source = "~/.shipwright/config.yaml"
	SourceProject Source = ".claude/daemon-config.json"
	SourceEnv     Source = "environment"
	SourceFlag    Source = "flag"
)

// Resolved pairs a value with the layer it came from (§10.3, §12.1 `daemon init --explain`).
type Resolved struct {
	Value  any    `json:"value"`
	Source Source `json:"source"`
}

// ExplainField resolves a single string field through the precedence chain,
// mirroring the teacher's config.resolveStringField helper.
func ExplainField(home, project, env, flag, def string) Resolved {
	result := Resolved{Value: def, Source: SourceDefault}
	if home != "" {
		result = Resolved{Value: home, Source: SourceHome}
	}
	if project != "" {
		result = Resolved{Value: project, Source: SourceProject}
	}
	if env != "" {
		result = Resolved{Value: env, Source: SourceEnv}
	}
	if flag != "" {
		result = Resolved{Value: flag, Source: SourceFlag}
	}
	return result
}

// ToYAML renders the config for `daemon init`.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON renders the config for per-repo `.claude/daemon-config.json`.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
