package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sessionqa/internal/api"
	"sessionqa/internal/ipc"
)

func newRetryCommand(ctx *commandContext) *cobra.Command {
	retryCmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-run a session stage",
	}
	retryCmd.AddCommand(newRetryStageCommand(ctx, "download", "Re-download a session and discard its analysis",
		func(c *ipc.Client, req api.RetryRequest) (*api.RetryResponse, error) { return c.RetryDownload(req) }))
	retryCmd.AddCommand(newRetryStageCommand(ctx, "analysis", "Re-queue analysis with fresh retry budgets",
		func(c *ipc.Client, req api.RetryRequest) (*api.RetryResponse, error) { return c.RetryAnalysis(req) }))
	return retryCmd
}

func newRetryStageCommand(ctx *commandContext, stage, short string, call func(*ipc.Client, api.RetryRequest) (*api.RetryResponse, error)) *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   stage + " <id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				var failed int
				for _, id := range args {
					resp, err := call(client, api.RetryRequest{ID: id, Params: parsed})
					if err != nil {
						failed++
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
						continue
					}
					fmt.Fprintf(out, "%s: %s\n", id, resp.Message)
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d %s retries failed", failed, len(args), stage)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "Analyzer parameter as key=value (repeatable)")
	return cmd
}
