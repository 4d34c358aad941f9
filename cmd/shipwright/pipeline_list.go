package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/shipwright-dev/shipwright/internal/config"
	"github.com/shipwright-dev/shipwright/internal/statestore"
)

var pipelineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active and queued pipeline jobs known to the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
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
		if GetOutput() == "json" {
			return json.NewEncoder(os.Stdout).Encode(map[string]any{
				"active": st.ActiveJobs,
				"queued": st.Queued,
			})
		}
		fmt.Printf("active (%d):\n", len(st.ActiveJobs))
		for _, j := range st.ActiveJobs {
			fmt.Printf("  #%-8s %-10s pid=%d branch=%s\n", j.IssueID, j.Template, j.PID, j.Branch)
		}
		fmt.Printf("queued (%d):\n", len(st.Queued))
		for _, q := range st.Queued {
			fmt.Printf("  #%-8s score=%d\n", q.IssueID, q.Score)
		}
		return nil
	},
}
