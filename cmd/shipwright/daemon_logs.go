package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/shipwright-dev/shipwright/internal/config"
	"github.com/shipwright-dev/shipwright/internal/eventlog"
)

var (
	logsFollow bool
	logsTail   int
)

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print (or follow) the daemon's structured event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemonLogs()
	},
}

func init() {
	daemonLogsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep polling for new events")
	daemonLogsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "number of most recent events to print")
}

func runDaemonLogs() error {
	cfg, err := config.Load(nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := eventlog.Open(filepath.Join(cfg.StateDir, "events.jsonl"))
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}

	printed := map[string]bool{}
	print := func(evts []eventlog.Event) {
		for _, e := range evts {
			if printed[e.ID] {
				continue
			}
			printed[e.ID] = true
			printEvent(e)
		}
	}

	evts, err := log.Tail(logsTail)
	if err != nil {
		return fmt.Errorf("read event log: %w", err)
	}
	print(evts)

	if !logsFollow {
		return nil
	}

	for {
		time.Sleep(2 * time.Second)
		evts, err := log.Tail(logsTail)
		if err != nil {
			continue
		}
		print(evts)
	}
}

func printEvent(e eventlog.Event) {
	if GetOutput() == "json" {
		data, _ := json.Marshal(e)
		fmt.Println(string(data))
		return
	}
	fmt.Printf("%s  %-24s %-8s %v\n", e.TS.Format(time.RFC3339), e.Type, e.IssueID, e.Fields)
}
