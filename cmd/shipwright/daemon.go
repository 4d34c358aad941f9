package main

import "github.com/spf13/cobra"

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the shipwright supervisor daemon",
}

func init() {
	daemonCmd.AddCommand(daemonInitCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonLogsCmd)
	daemonCmd.AddCommand(daemonMetricsCmd)
	daemonCmd.AddCommand(daemonTriageCmd)
	daemonCmd.AddCommand(daemonPatrolCmd)
}
