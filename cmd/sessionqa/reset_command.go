package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sessionqa/internal/api"
	"sessionqa/internal/ipc"
)

func newResetCommand(ctx *commandContext) *cobra.Command {
	var confirm string
	var deleteArtifacts bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Cancel all work and delete every session record",
		Long: "Cancels queued and running downloads and analyses, waits for them to stop, " +
			"and wipes all persisted sessions. With --delete-artifacts the sessions directory is removed too.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if confirm == "" && isInteractive(cmd.InOrStdin()) {
				fmt.Fprintf(cmd.OutOrStdout(), "Type %s to delete all sessions: ", api.ResetConfirmation)
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil {
					return fmt.Errorf("read confirmation: %w", err)
				}
				confirm = strings.TrimSpace(line)
			}
			if confirm != api.ResetConfirmation {
				return errors.New("reset aborted: pass --confirm " + api.ResetConfirmation)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Reset(api.ResetRequest{Confirm: confirm, DeleteArtifacts: deleteArtifacts})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Reset complete")
				fmt.Fprintf(out, "  Cancelled downloads: %d\n", resp.CancelledDownloads)
				fmt.Fprintf(out, "  Cleared analyses:    %d\n", resp.ClearedAnalyses)
				fmt.Fprintf(out, "  Stopped analyses:    %d\n", resp.TerminatedAnalyses)
				fmt.Fprintf(out, "  Removed sessions:    %d\n", resp.RemovedSessions)
				fmt.Fprintf(out, "  Artifacts deleted:   %s\n", yesNo(resp.ArtifactsDeleted))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&confirm, "confirm", "", "Confirmation token ("+api.ResetConfirmation+")")
	cmd.Flags().BoolVar(&deleteArtifacts, "delete-artifacts", false, "Also delete downloaded media and reports")
	return cmd
}
