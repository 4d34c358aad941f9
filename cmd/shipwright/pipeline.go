package main

import "github.com/spf13/cobra"

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run or inspect a single issue's pipeline execution",
}

func init() {
	pipelineCmd.AddCommand(pipelineStartCmd)
	pipelineCmd.AddCommand(pipelineResumeCmd)
	pipelineCmd.AddCommand(pipelineStatusCmd)
	pipelineCmd.AddCommand(pipelineAbortCmd)
	pipelineCmd.AddCommand(pipelineListCmd)
	pipelineCmd.AddCommand(pipelineShowCmd)
}
