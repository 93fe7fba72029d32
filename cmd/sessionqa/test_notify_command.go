package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"sessionqa/internal/ipc"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Ask the daemon to push a test message to the ntfy topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return fmt.Errorf("test notification: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				if !resp.Sent {
					return errors.New("notification not sent")
				}
				return nil
			})
		},
	}
}
