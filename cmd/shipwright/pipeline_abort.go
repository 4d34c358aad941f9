package main

import (
	"fmt"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shipwright-dev/shipwright/internal/config"
	"github.com/shipwright-dev/shipwright/internal/statestore"
)

var abortIssue string

var pipelineAbortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Send SIGTERM to a running pipeline's subprocess",
	RunE: func(cmd *cobra.Command, args []string) error {
		if abortIssue == "" {
			return fmt.Errorf("--issue is required")
		}
		cfg, err := config.Load(nil)
		if err != nil {
			return err
		}
		store, err := statestore.Open(filepath.Join(cfg.StateDir, "daemon-state.json"))
		if err != nil {
			return err
		}
		st, err := store.Read()
		if err != nil {
			return err
		}
		for _, j := range st.ActiveJobs {
			if j.IssueID != abortIssue {
				continue
			}
			if GetDryRun() {
				fmt.Printf("(dry-run) would SIGTERM pid %d for issue %s\n", j.PID, abortIssue)
				return nil
			}
			if err := syscall.Kill(j.PID, syscall.SIGTERM); err != nil {
				return fmt.Errorf("signal pid %d: %w", j.PID, err)
			}
			fmt.Printf("sent SIGTERM to pid %d for issue %s\n", j.PID, abortIssue)
			return nil
		}
		return fmt.Errorf("no active job found for issue %s", abortIssue)
	},
}

func init() {
	pipelineAbortCmd.Flags().StringVar(&abortIssue, "issue", "", "tracker issue id of the running job to abort")
}
