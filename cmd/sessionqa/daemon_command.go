package main

import (
	"github.com/spf13/cobra"

	"sessionqa/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Daemon process commands",
	}

	var logLevel string
	var development bool
	runCmd := &cobra.Command{
		Use:          "run",
		Short:        "Run the sessionqa daemon in the foreground",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&development, "dev", false, "Enable development logging")
	daemonCmd.AddCommand(runCmd)
	return daemonCmd
}
