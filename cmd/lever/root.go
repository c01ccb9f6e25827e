package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lever",
	Short: "Task Context Engine",
	Long: `Lever runs long-lived orchestrated tasks as append-only event logs.

A task is created from a template, advanced phase by phase through
specialized agents, paused when an agent needs user input, and resumed
when that input arrives. Every state change is an immutable event;
the current state is always a fold over the log.

Start the engine with 'lever serve', then drive tasks with the client
commands (create, status, respond, resume, cancel, watch).`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(respondCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(annotateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
