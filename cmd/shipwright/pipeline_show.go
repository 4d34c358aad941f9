package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var showWorkspace string

var pipelineShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show the full checkpointed record for a named pipeline run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace := showWorkspace
		if workspace == "" {
			workspace = args[0]
		}
		pst, err := loadPipelineState(workspace)
		if err != nil {
			return fmt.Errorf("load pipeline state: %w", err)
		}
		if GetOutput() == "json" {
			return json.NewEncoder(os.Stdout).Encode(pst)
		}
		fmt.Printf("issue:    %s\n", pst.IssueID)
		fmt.Printf("goal:     %s\n", pst.Goal)
		fmt.Printf("template: %s\n", pst.Template)
		fmt.Printf("branch:   %s\n", pst.Branch)
		fmt.Printf("current:  %s\n", pst.CurrentStage)
		for id, rec := range pst.Stages {
			fmt.Printf("  %-18s %-10s attempts=%d last_error=%q\n", id, rec.Status, rec.Attempts, rec.LastError)
		}
		fmt.Println("log:")
		for _, line := range pst.Log {
			fmt.Printf("  %s\n", line)
		}
		return nil
	},
}

func init() {
	pipelineShowCmd.Flags().StringVar(&showWorkspace, "workspace", "", "path to the job's isolated worktree (defaults to the positional name)")
}
