package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shipwright-dev/shipwright/internal/config"
)

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal a running daemon to shut down gracefully",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemonStop()
	},
}

func runDaemonStop() error {
	cfg, err := config.Load(nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pidPath := filepath.Join(cfg.StateDir, "daemon.pid")
	data, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("no daemon pid file found; nothing to stop")
			return nil
		}
		return fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parse pid file: %w", err)
	}

	if GetDryRun() {
		fmt.Printf("would send SIGTERM to daemon pid %d\n", pid)
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon pid %d: %w", pid, err)
	}

	fmt.Printf("sent SIGTERM to daemon pid %d, waiting for exit\n", pid)
	for i := 0; i < 10; i++ {
		if proc.Signal(syscall.Signal(0)) != nil {
			fmt.Println("daemon stopped")
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	fmt.Println("daemon still running after 5s; it may be draining active jobs")
	return nil
}
