package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusWorkspace string

var pipelineStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the checkpointed stage status for a pipeline workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		pst, err := loadPipelineState(statusWorkspace)
		if err != nil {
			return fmt.Errorf("load pipeline state: %w", err)
		}
		if GetOutput() == "json" {
			return json.NewEncoder(os.Stdout).Encode(pst)
		}
		if pst.CurrentStage == "" {
			fmt.Printf("no pipeline state at %s\n", pipelineStatePath(statusWorkspace))
			return nil
		}
		fmt.Printf("issue:    %s\n", pst.IssueID)
		fmt.Printf("goal:     %s\n", pst.Goal)
		fmt.Printf("template: %s\n", pst.Template)
		fmt.Printf("branch:   %s\n", pst.Branch)
		fmt.Printf("current:  %s\n", pst.CurrentStage)
		for id, rec := range pst.Stages {
			fmt.Printf("  %-18s %-10s attempts=%d\n", id, rec.Status, rec.Attempts)
		}
		return nil
	},
}

func init() {
	pipelineStatusCmd.Flags().StringVar(&statusWorkspace, "workspace", ".", "path to the job's isolated worktree")
}
