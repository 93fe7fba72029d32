package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sessionqa/internal/preflight"
	"sessionqa/internal/store"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check directories, store and external tools without the daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var pinger preflight.Pinger
			backend, openErr := store.Open(cmd.Context(), cfg)
			if openErr == nil {
				defer backend.Close()
				if p, ok := backend.(store.Pinger); ok {
					pinger = p
				}
			}
			results := preflight.RunAll(cmd.Context(), cfg, pinger)
			if openErr != nil {
				results = append([]preflight.Result{{Name: "Store open", Detail: openErr.Error()}}, results...)
			}

			if asJSON {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintln(out, strings.Join(renderSectionHeader("Health", colorize), "\n"))
				for _, r := range results {
					kind := statusOK
					if !r.Passed {
						kind = statusError
						if r.Optional {
							kind = statusWarn
						}
					}
					fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
				}
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return errors.New("health check failed: " + strings.Join(names(failed), ", "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output results as JSON")
	return cmd
}

func names(results []preflight.Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Name)
	}
	return out
}
