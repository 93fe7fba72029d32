package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var socketFlag, configFlag string
	ctx := newCommandContext(&socketFlag, &configFlag)

	root := &cobra.Command{
		Use:   "sessionqa",
		Short: "Download tutoring sessions and score them with the quality analyzer",
		Long: `sessionqa drives a background daemon that fetches recorded tutoring
sessions, runs the external analyzer against each one and keeps the results.
Most commands talk to a running daemon over its Unix socket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&socketFlag, "socket", "", "Path to the sessionqa daemon socket")
	flags.StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	for _, build := range []func(*commandContext) *cobra.Command{
		newDaemonCommand,
		newStatusCommand,
		newSessionCommand,
		newRetryCommand,
		newResetCommand,
		newTestNotifyCommand,
		newConfigCommand,
		newHealthCommand,
	} {
		root.AddCommand(build(ctx))
	}
	return root
}
