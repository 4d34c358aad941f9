package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/shipwright-dev/shipwright/internal/config"
	"github.com/shipwright-dev/shipwright/internal/eventlog"
	"github.com/shipwright-dev/shipwright/internal/stage"
	"github.com/shipwright-dev/shipwright/internal/tracker"
	"github.com/shipwright-dev/shipwright/internal/types"
	"github.com/shipwright-dev/shipwright/internal/vcs"
)

var (
	startGoal      string
	startIssue     string
	startWorkspace string
	startTemplate  string
	startBranch    string
	startBaseRef   string
)

var pipelineStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run a single issue through its pipeline template to completion",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipelineStart(cmd.Context())
	},
}

func init() {
	pipelineStartCmd.Flags().StringVar(&startGoal, "goal", "", "free-form task goal (local/ad-hoc runs without an issue)")
	pipelineStartCmd.Flags().StringVar(&startIssue, "issue", "", "tracker issue id")
	pipelineStartCmd.Flags().StringVar(&startWorkspace, "workspace", "", "path to the job's isolated worktree")
	pipelineStartCmd.Flags().StringVar(&startTemplate, "template", "standard", "pipeline template: fast|standard|full|hotfix|enterprise")
	pipelineStartCmd.Flags().StringVar(&startBranch, "branch", "", "branch name (defaults to the detected task-type/issue-id branch)")
	pipelineStartCmd.Flags().StringVar(&startBaseRef, "base-branch", "", "override the configured base branch")
}

func runPipelineStart(ctx context.Context) error {
	if startGoal == "" && startIssue == "" {
		return fmt.Errorf("one of --goal or --issue is required")
	}
	cfg, err := config.Load(nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	baseBranch := cfg.BaseBranch
	if startBaseRef != "" {
		baseBranch = startBaseRef
	}

	workspace := startWorkspace
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve workspace: %w", err)
		}
		workspace = wd
	}

	issueID := startIssue
	if issueID == "" {
		issueID = fmt.Sprintf("adhoc-%d", time.Now().Unix())
	}
	goal := startGoal
	if goal == "" {
		goal = fmt.Sprintf("Issue #%s", issueID)
	}

	events, err := eventlog.Open(filepath.Join(cfg.StateDir, "events.jsonl"))
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}

	pst, err := loadPipelineState(workspace)
	if err != nil {
		return fmt.Errorf("load pipeline state: %w", err)
	}
	pst.IssueID = issueID
	pst.Goal = goal
	pst.Template = startTemplate
	if startBranch != "" {
		pst.Branch = startBranch
	}
	if pst.CurrentStage != "" {
		pst.Resume = true
		VerbosePrintf("resuming pipeline for issue %s at stage %s\n", issueID, pst.CurrentStage)
	}

	ai := newCLIAIWorker(cfg.Model)
	brk := tracker.NewBreaker(noopTrackerClient{})

	exec := &stage.Execution{
		Job: types.Job{
			IssueID:   issueID,
			Title:     goal,
			Goal:      goal,
			Workspace: workspace,
			Template:  startTemplate,
			Branch:    pst.Branch,
			StartedAt: time.Now(),
		},
		Workspace: workspace,
		Branch:    pst.Branch,
		Config: stage.Config{
			BaseBranch:           baseBranch,
			BuildTestRetries:     cfg.Pipeline.BuildTestRetries,
			MaxQualityCycles:     cfg.Pipeline.MaxQualityCycles,
			CoverageMin:          cfg.Pipeline.CoverageMin,
			TestCmd:              cfg.Pipeline.TestCmd,
			FastTestCmd:          cfg.FastTestCmd,
			SmokeCmd:             cfg.Pipeline.SmokeCmd,
			HealthURL:            cfg.Pipeline.HealthURL,
			StagingDeployCmd:     cfg.Pipeline.StagingDeployCmd,
			ProdDeployCmd:        cfg.Pipeline.ProdDeployCmd,
			RollbackCmd:          cfg.Pipeline.RollbackCmd,
			LogScanCmd:           cfg.Pipeline.LogScanCmd,
			MonitorDuration:      time.Duration(cfg.Pipeline.MonitorDurationS) * time.Second,
			ErrorThreshold:       cfg.Pipeline.ErrorThreshold,
			MergeStrategy:        cfg.Pipeline.MergeStrategy,
			DeleteBranchOnMerge:  cfg.Pipeline.DeleteBranchOnMerge,
			CIWaitTimeout:        time.Duration(cfg.Pipeline.CIWaitTimeoutS) * time.Second,
			CloseIssueOnValidate: cfg.Pipeline.CloseIssueOnValidate,
			Labels:               cfg.Pipeline.Labels,
			Reviewers:            cfg.Pipeline.Reviewers,
		},
		State:           pst,
		Git:             vcs.New(workspace, 0),
		AI:              ai,
		Cmd:             shellCommandRunner{},
		Health:          newHTTPHealthProber(),
		Tracker:         brk,
		Reviewer:        &aiReviewer{AI: ai},
		PR:              newHTTPPRClient(cfg.Pipeline.TrackerBaseURL, cfg.Pipeline.TrackerToken),
		Events:          events,
		ToolInvocations: map[types.StageID]int{},
		Checkpoint: func(st *types.PipelineState) {
			if err := savePipelineState(workspace, st); err != nil {
				fmt.Fprintf(os.Stderr, "checkpoint failed: %v\n", err)
			}
		},
	}

	tmpl := stage.BuiltinTemplate(startTemplate)
	outcome := stage.Run(ctx, exec, types.DefaultStageOrder(), tmpl)

	if err := savePipelineState(workspace, pst); err != nil {
		fmt.Fprintf(os.Stderr, "final checkpoint failed: %v\n", err)
	}
	if err := saveJobResultSummary(workspace, types.JobResultSummary{
		SelfHealCount: exec.SelfHealCount,
		Provenance:    exec.StageSpans,
		DurationS:     time.Since(exec.Job.StartedAt).Seconds(),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "result summary write failed: %v\n", err)
	}

	if outcome.Kind == stage.Completed {
		fmt.Printf("pipeline.completed issue=%s result=success\n", issueID)
		return nil
	}
	fmt.Printf("pipeline.completed issue=%s result=failure class=%s\n", issueID, outcome.Class)
	os.Exit(1)
	return nil
}
