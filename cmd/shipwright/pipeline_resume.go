package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pipelineResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a pipeline run from its last checkpointed stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		if startWorkspace == "" {
			return fmt.Errorf("--workspace is required to resume")
		}
		pst, err := loadPipelineState(startWorkspace)
		if err != nil {
			return fmt.Errorf("load pipeline state: %w", err)
		}
		if pst.CurrentStage == "" {
			return fmt.Errorf("no checkpointed state found at %s", pipelineStatePath(startWorkspace))
		}
		startIssue = pst.IssueID
		startGoal = pst.Goal
		startTemplate = pst.Template
		startBranch = pst.Branch
		return runPipelineStart(cmd.Context())
	},
}

func init() {
	pipelineResumeCmd.Flags().StringVar(&startWorkspace, "workspace", "", "path to the job's isolated worktree")
}
