package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shipwright-dev/shipwright/internal/config"
	"github.com/shipwright-dev/shipwright/internal/eventlog"
	"github.com/shipwright-dev/shipwright/internal/logging"
	"github.com/shipwright-dev/shipwright/internal/notify"
	"github.com/shipwright-dev/shipwright/internal/statestore"
	"github.com/shipwright-dev/shipwright/internal/supervisor"
	"github.com/shipwright-dev/shipwright/internal/tracker"
	"github.com/shipwright-dev/shipwright/internal/worktree"
)

var (
	startDetach    bool
	startNoTracker bool
)

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the supervisor poll loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemonStart(cmd.Context())
	},
}

func init() {
	daemonStartCmd.Flags().BoolVar(&startDetach, "detach", false, "has no effect; the daemon always runs in the foreground")
	daemonStartCmd.Flags().BoolVar(&startNoTracker, "no-tracker", false, "log a warning only; the built-in no-op tracker client is used with or without this flag")
}

func runDaemonStart(ctx context.Context) error {
	cfg, err := config.Load(nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Sync()

	pidPath := filepath.Join(cfg.StateDir, "daemon.pid")
	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := statestore.Open(filepath.Join(cfg.StateDir, "daemon-state.json"))
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	events, err := eventlog.Open(filepath.Join(cfg.StateDir, "events.jsonl"))
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}

	var trackerClient tracker.Client = noopTrackerClient{}
	if startNoTracker {
		logger.Warn("tracker polling disabled via --no-tracker")
	}
	brk := tracker.NewBreaker(trackerClient)

	wt := worktree.New(".", 0)
	notifier := notify.New(cfg.Notifications.SlackWebhook)

	sup := supervisor.New(cfg, store, events, brk, wt, subprocessSpawner{}, subprocessReaper{}, notifier, logger)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-sigCtx.Done()
		logger.Info("shutdown signal received")
		sup.Shutdown()
	}()

	logger.Infow("shipwright daemon starting", "watch_label", cfg.WatchLabel, "max_parallel", cfg.MaxParallel)
	sup.Run(sigCtx)
	return nil
}

// noopTrackerClient is the default Client until a concrete tracker
// integration (GitHub/GitLab/Jira) is configured; CheckAuth fails closed so
// the daemon auto-pauses rather than silently polling nothing forever.
type noopTrackerClient struct{}

func (noopTrackerClient) ListLabeled(ctx context.Context, label string) ([]tracker.Issue, error) {
	return nil, nil
}
func (noopTrackerClient) Comment(ctx context.Context, issueID, body string) error      { return nil }
func (noopTrackerClient) AddLabel(ctx context.Context, issueID, label string) error    { return nil }
func (noopTrackerClient) RemoveLabel(ctx context.Context, issueID, label string) error { return nil }
func (noopTrackerClient) CloseIssue(ctx context.Context, issueID string) error         { return nil }
func (noopTrackerClient) CheckAuth(ctx context.Context) error {
	return fmt.Errorf("no tracker configured")
}
