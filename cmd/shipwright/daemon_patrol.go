package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shipwright-dev/shipwright/internal/config"
	"github.com/shipwright-dev/shipwright/internal/patrol"
	"github.com/shipwright-dev/shipwright/internal/tracker"
)

var (
	patrolOnce    bool
	patrolDryRun  bool
)

var daemonPatrolCmd = &cobra.Command{
	Use:   "patrol",
	Short: "Run a quiet-period proactive scan for work the tracker hasn't surfaced",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemonPatrol(cmd.Context())
	},
}

func init() {
	daemonPatrolCmd.Flags().BoolVar(&patrolOnce, "once", true, "run a single pass and exit (the daemon's own loop calls this on its own cadence otherwise)")
	daemonPatrolCmd.Flags().BoolVar(&patrolDryRun, "dry-run", false, "print findings without filing tracker issues")
}

func runDaemonPatrol(ctx context.Context) error {
	cfg, err := config.Load(nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Patrol.Enabled {
		fmt.Println("patrol is disabled in config")
		return nil
	}

	scanners := []patrol.Scanner{
		patrol.TodoScanner(""),
	}

	var client tracker.Client = noopTrackerClient{}
	openIssues, _ := client.ListLabeled(ctx, cfg.WatchLabel)
	openTitles := map[string]bool{}
	for _, i := range openIssues {
		openTitles[strings.ToLower(strings.TrimSpace(i.Title))] = true
	}

	findings, dropped, err := patrol.Run(ctx, scanners, openTitles, cfg.Patrol.MaxIssues)
	if err != nil {
		return fmt.Errorf("run patrol: %w", err)
	}
	if dropped > 0 {
		fmt.Printf("patrol: %d findings dropped over max_issues=%d\n", dropped, cfg.Patrol.MaxIssues)
	}
	if len(findings) == 0 {
		fmt.Println("patrol: no findings")
		return nil
	}

	for _, f := range findings {
		if GetDryRun() || patrolDryRun {
			fmt.Printf("[%s/%s] %s\n%s\n\n", f.Kind, f.Severity, f.Title, patrol.FormatIssueBody(f))
			continue
		}
		body := patrol.FormatIssueBody(f)
		issueID := fmt.Sprintf("patrol-%d", time.Now().UnixNano())
		if err := client.Comment(ctx, issueID, body); err != nil {
			fmt.Fprintf(os.Stderr, "patrol: failed to file finding %q: %v\n", f.Title, err)
		}
	}
	return nil
}
