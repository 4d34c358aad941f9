// Package main is the shipwright CLI entrypoint, following the teacher's
// flat cmd/ao package layout: one file per (sub)command, a package-level
// rootCmd, and small Get*/Verbose* accessors shared across files.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagDryRun  bool
	flagVerbose bool
	flagOutput  string
	flagConfig  string
)

var rootCmd = &cobra.Command{
	Use:   "shipwright",
	Short: "Autonomous delivery supervisor",
	Long: `shipwright watches an issue tracker, triages work items, and drives
them through a configurable multi-stage delivery pipeline with self-healing,
retry escalation, and adaptive health supervision.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		syncConfigFlagToEnv()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "describe actions without performing them")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "output format: text|json")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to daemon config file")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func syncConfigFlagToEnv() {
	if flagConfig != "" {
		_ = os.Setenv("SHIPWRIGHT_CONFIG", flagConfig)
	}
}

// GetDryRun reports whether --dry-run was set.
func GetDryRun() bool { return flagDryRun }

// GetVerbose reports whether --verbose was set.
func GetVerbose() bool { return flagVerbose }

// GetOutput returns the requested output format ("text" or "json").
func GetOutput() string { return flagOutput }

// GetConfigFile returns the --config override, or "" if unset.
func GetConfigFile() string { return flagConfig }

// VerbosePrintf writes to stderr only when --verbose is set.
func VerbosePrintf(format string, args ...any) {
	if flagVerbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Execute runs the root command, exiting the process with code 1 on error
// (§6 exit code table: "1 = usage error / unrecoverable condition").
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
