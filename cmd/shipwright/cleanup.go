package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shipwright-dev/shipwright/internal/config"
	"github.com/shipwright-dev/shipwright/internal/worktree"
)

var (
	cleanupForce  bool
	cleanupReport bool
)

type cleanupReportDoc struct {
	OrphanedWorktrees []string `json:"orphaned_worktrees"`
	StaleHeartbeats   []string `json:"stale_heartbeats"`
	DeadBranches      []string `json:"dead_branches"`
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned worktrees, a stale daemon pid file, and dead branches (no other artifacts)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCleanup(cmd.Context())
	},
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupForce, "force", false, "remove even entries younger than the normal staleness window")
	cleanupCmd.Flags().BoolVar(&cleanupReport, "report", false, "print a JSON summary of everything removed instead of human text")
}

// runCleanup implements the idempotent sweep named in the CLI table: a
// second cleanup immediately after the first removes nothing new.
func runCleanup(ctx context.Context) error {
	cfg, err := config.Load(nil)
	if err != nil {
		return err
	}

	repoRoot, err := os.Getwd()
	if err != nil {
		return err
	}
	wt := worktree.New(repoRoot, 0)

	maxAge := 24 * time.Hour
	if cleanupForce {
		maxAge = 0
	}
	stalePaths, err := wt.ListStale(maxAge)
	if err != nil {
		return fmt.Errorf("list stale worktrees: %w", err)
	}

	report := cleanupReportDoc{}
	for _, p := range stalePaths {
		issueID := filepath.Base(p)
		issueID = trimPrefix(issueID, "daemon-issue-")
		if GetDryRun() {
			report.OrphanedWorktrees = append(report.OrphanedWorktrees, p)
			continue
		}
		if err := wt.Remove(ctx, issueID); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup: remove worktree %s: %v\n", p, err)
			continue
		}
		report.OrphanedWorktrees = append(report.OrphanedWorktrees, p)
	}

	pidPath := filepath.Join(cfg.StateDir, "daemon.pid")
	if data, err := os.ReadFile(pidPath); err == nil {
		var pid int
		fmt.Sscanf(string(data), "%d", &pid)
		if pid > 0 {
			if procErr := syscall.Kill(pid, syscall.Signal(0)); procErr != nil {
				report.StaleHeartbeats = append(report.StaleHeartbeats, pidPath)
				if !GetDryRun() {
					os.Remove(pidPath)
				}
			}
		}
	}

	deadBranches, err := findDeadBranches(ctx, repoRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cleanup: list dead branches: %v\n", err)
	} else if !GetDryRun() {
		for _, b := range deadBranches {
			cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			cmd := exec.CommandContext(cctx, "git", "branch", "-D", b)
			cmd.Dir = repoRoot
			_ = cmd.Run()
			cancel()
		}
		report.DeadBranches = deadBranches
	} else {
		report.DeadBranches = deadBranches
	}

	if cleanupReport {
		return json.NewEncoder(os.Stdout).Encode(report)
	}
	fmt.Printf("removed %d orphaned worktrees, %d stale heartbeats, %d dead branches\n",
		len(report.OrphanedWorktrees), len(report.StaleHeartbeats), len(report.DeadBranches))
	return nil
}

// findDeadBranches returns daemon/issue-* branches with no matching
// checked-out worktree, i.e. branches left behind by a worktree removal
// that failed partway through.
func findDeadBranches(ctx context.Context, repoRoot string) ([]string, error) {
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	branchCmd := exec.CommandContext(cctx, "git", "branch", "--list", "daemon/issue-*")
	branchCmd.Dir = repoRoot
	out, err := branchCmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("git branch --list: %w", err)
	}
	wtCmd := exec.CommandContext(cctx, "git", "worktree", "list", "--porcelain")
	wtCmd.Dir = repoRoot
	wtOut, err := wtCmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("git worktree list: %w", err)
	}
	live := map[string]bool{}
	for _, line := range strings.Split(string(wtOut), "\n") {
		if strings.HasPrefix(line, "branch refs/heads/") {
			live[strings.TrimPrefix(line, "branch refs/heads/")] = true
		}
	}
	var dead []string
	for _, line := range strings.Split(string(out), "\n") {
		name := strings.TrimSpace(strings.TrimLeft(line, "*+ "))
		name = strings.TrimSpace(name)
		if name == "" || live[name] {
			continue
		}
		dead = append(dead, name)
	}
	return dead, nil
}

func trimPrefix(s, prefix string) string {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}
