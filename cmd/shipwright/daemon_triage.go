package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shipwright-dev/shipwright/internal/config"
	"github.com/shipwright-dev/shipwright/internal/tracker"
	"github.com/shipwright-dev/shipwright/internal/triage"
)

var daemonTriageCmd = &cobra.Command{
	Use:   "triage",
	Short: "Show the current triage score/order without spawning anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemonTriage(cmd.Context())
	},
}

func runDaemonTriage(ctx context.Context) error {
	cfg, err := config.Load(nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var client tracker.Client = noopTrackerClient{}
	candidates, err := client.ListLabeled(ctx, cfg.WatchLabel)
	if err != nil {
		return fmt.Errorf("list candidates: %w", err)
	}

	openIDs := map[string]bool{}
	for _, c := range candidates {
		openIDs[c.ID] = true
	}

	var scored []triage.Scored
	for _, c := range candidates {
		cand := triage.Candidate{IssueID: c.ID, Title: c.Title, Body: c.Body, Labels: c.Labels, CreatedAt: c.CreatedAt}
		scored = append(scored, triage.Scored{Candidate: cand, Score: triage.Score(cand, openIDs)})
	}
	strategy := triage.Strategy(cfg.Intelligence.PriorityStrategy)
	if strategy == "" {
		strategy = triage.QuickWinsFirst
	}
	scored = triage.ResolveDependencyOrder(scored)
	triage.Sort(scored, strategy)

	if GetOutput() == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(scored)
	}

	for i, sc := range scored {
		fmt.Printf("%2d. %-10s score=%-4d %s\n", i+1, sc.Candidate.IssueID, sc.Score, sc.Candidate.Title)
	}
	return nil
}
