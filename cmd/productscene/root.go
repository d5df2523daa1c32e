package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	return newRootCommandWith(nil)
}

func newRootCommandWith(open opener) *cobra.Command {
	var envFlag string
	var logLevelFlag string

	ctx := newCommandContext(&envFlag, &logLevelFlag, open)

	rootCmd := &cobra.Command{
		Use:           "productscene",
		Short:         "Place product photos into lifestyle scenes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFlag, "env", "", "Path to a .env file (default ./.env when present)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(newScenesCommand())
	rootCmd.AddCommand(newRunCommand(ctx))

	return rootCmd
}
