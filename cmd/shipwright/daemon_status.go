package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shipwright-dev/shipwright/internal/config"
	"github.com/shipwright-dev/shipwright/internal/statestore"
)

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the daemon's current queue/active/retry snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemonStatus()
	},
}

func runDaemonStatus() error {
	cfg, err := config.Load(nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := statestore.Open(filepath.Join(cfg.StateDir, "daemon-state.json"))
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	st, err := store.Read()
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}

	running := isDaemonRunning(cfg)

	if GetOutput() == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"running":      running,
			"active_jobs":  st.ActiveJobs,
			"queued":       st.Queued,
			"retry_counts": st.RetryCounts,
			"last_poll":    st.LastPoll,
		})
	}

	fmt.Printf("daemon running: %v\n", running)
	fmt.Printf("last poll:      %s\n", st.LastPoll.Format(time.RFC3339))
	fmt.Printf("active jobs:    %d\n", len(st.ActiveJobs))
	for _, j := range st.ActiveJobs {
		fmt.Printf("  - %-8s pid=%-8d template=%-24s branch=%s\n", j.IssueID, j.PID, j.Template, j.Branch)
	}
	fmt.Printf("queued:         %d\n", len(st.Queued))
	for _, q := range st.Queued {
		fmt.Printf("  - %-8s score=%d\n", q.IssueID, q.Score)
	}
	if len(st.RetryCounts) > 0 {
		fmt.Println("retrying:")
		for id, n := range st.RetryCounts {
			fmt.Printf("  - %-8s attempt=%d\n", id, n)
		}
	}
	return nil
}

func isDaemonRunning(cfg *config.Config) bool {
	data, err := os.ReadFile(filepath.Join(cfg.StateDir, "daemon.pid"))
	if err != nil {
		return false
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
