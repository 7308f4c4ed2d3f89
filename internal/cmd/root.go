// Package cmd implements the tutor-server command line interface.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tutor-server",
		Short:         "Streaming AI coding tutor backend",
		Long:          "Backend for an AI coding tutor: a websocket chat pipeline with adaptive hinting, attachment support, and daily token quotas.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	cmd.AddCommand(CmdServe())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
