package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"sessionqa/internal/api"
	"sessionqa/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, status)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderStatus(*status, shouldColorize(cmd.OutOrStdout()), time.Now()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output status as JSON")
	return cmd
}

func renderStatus(status api.DaemonStatus, colorize bool, now time.Time) string {
	var lines []string
	lines = append(lines, renderSectionHeader("System Status", colorize)...)

	daemonKind, daemonMsg := statusError, "not running"
	if status.Running {
		daemonKind = statusOK
		daemonMsg = fmt.Sprintf("running (pid %d)", status.PID)
		if started, err := time.Parse(time.RFC3339, status.StartedAt); err == nil {
			daemonMsg += ", started " + humanize.RelTime(started, now, "ago", "from now")
		}
	}
	lines = append(lines, renderStatusLine("Daemon", daemonKind, daemonMsg, colorize))

	storeMsg := status.StoreBackend
	if status.StorePath != "" {
		storeMsg += " at " + status.StorePath
	}
	storeKind := statusOK
	if status.PersistFailures > 0 {
		storeKind = statusWarn
		storeMsg += fmt.Sprintf(" (%d failed saves)", status.PersistFailures)
	}
	lines = append(lines, renderStatusLine("Store", storeKind, storeMsg, colorize))
	if status.APIBind != "" {
		lines = append(lines, renderStatusLine("API", statusInfo, fmt.Sprintf("%s, %d subscribers", status.APIBind, status.Subscribers), colorize))
	}
	for _, dep := range status.Dependencies {
		kind := statusOK
		msg := dep.Command
		if !dep.Available {
			kind = statusError
			if dep.Optional {
				kind = statusWarn
			}
			msg = dep.Detail
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, msg, colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Queue Status", colorize)...)
	rows := [][]string{
		queueRow("download", status.Download),
		queueRow("analysis", status.Analysis),
	}
	lines = append(lines, renderTable(
		[]string{"Manager", "Active", "Limit", "Queued", "Waiting", "Generation"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
		"",
	))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Sessions", colorize)...)
	lines = append(lines, renderStatusLine("Total", statusInfo, humanize.Comma(int64(status.Sessions.Total)), colorize))
	lines = append(lines, renderStatusLine("Download", statusInfo, formatCounts(status.Sessions.Download, "queued", "downloading", "completed", "failed"), colorize))
	lines = append(lines, renderStatusLine("Analysis", statusInfo, formatCounts(status.Sessions.Analysis, "pending", "queued", "analyzing", "completed", "failed"), colorize))
	return strings.Join(lines, "\n") + "\n"
}

func queueRow(name string, q api.QueueStatus) []string {
	return []string{
		name,
		strconv.Itoa(q.Active),
		strconv.Itoa(q.Limit),
		strconv.Itoa(q.Queued),
		strconv.Itoa(q.Waiting),
		strconv.FormatUint(q.Generation, 10),
	}
}

func formatCounts(counts map[string]int, order ...string) string {
	parts := make([]string, 0, len(order))
	for _, key := range order {
		parts = append(parts, fmt.Sprintf("%s %d", key, counts[key]))
	}
	return strings.Join(parts, ", ")
}
