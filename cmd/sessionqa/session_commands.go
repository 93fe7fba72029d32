package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"sessionqa/internal/api"
	"sessionqa/internal/ipc"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Ingest and inspect sessions",
	}
	sessionCmd.AddCommand(newSessionAddCommand(ctx))
	sessionCmd.AddCommand(newSessionImportCommand(ctx))
	sessionCmd.AddCommand(newSessionListCommand(ctx))
	sessionCmd.AddCommand(newSessionShowCommand(ctx))
	return sessionCmd
}

func newSessionAddCommand(ctx *commandContext) *cobra.Command {
	var in api.SessionInput
	var skipAnalysis bool
	var params []string
	cmd := &cobra.Command{
		Use:   "add <source>",
		Short: "Ingest one session from a URL, shared-folder link or local path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}
			in.SourceURL = args[0]
			if strings.TrimSpace(in.ID) == "" {
				in.ID = uuid.NewString()
			}
			return submitSessions(cmd, ctx, api.AddSessionsRequest{
				Sessions:     []api.SessionInput{in},
				SkipAnalysis: skipAnalysis,
				Params:       parsed,
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "Session id (generated when omitted)")
	cmd.Flags().StringVar(&in.TranscriptURL, "transcript", "", "Transcript URL or path")
	cmd.Flags().StringVar(&in.TutorID, "tutor", "", "Tutor id")
	cmd.Flags().StringVar(&in.Title, "title", "", "Session title")
	cmd.Flags().BoolVar(&skipAnalysis, "skip-analysis", false, "Download only; do not queue analysis")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Analyzer parameter as key=value (repeatable)")
	return cmd
}

func newSessionImportCommand(ctx *commandContext) *cobra.Command {
	var skipAnalysis bool
	var params []string
	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Ingest sessions from a JSON array or JSON-lines file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}
			var reader io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open import file: %w", err)
				}
				defer file.Close()
				reader = file
			}
			inputs, err := readSessionInputs(reader)
			if err != nil {
				return err
			}
			if len(inputs) == 0 {
				return errors.New("import file holds no sessions")
			}
			return submitSessions(cmd, ctx, api.AddSessionsRequest{
				Sessions:     inputs,
				SkipAnalysis: skipAnalysis,
				Params:       parsed,
			})
		},
	}
	cmd.Flags().BoolVar(&skipAnalysis, "skip-analysis", false, "Download only; do not queue analysis")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Analyzer parameter as key=value (repeatable)")
	return cmd
}

func submitSessions(cmd *cobra.Command, ctx *commandContext, req api.AddSessionsRequest) error {
	return ctx.withClient(func(client *ipc.Client) error {
		resp, err := client.SessionAdd(req)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Added %d session(s)\n", len(resp.Added))
		for _, id := range resp.Added {
			fmt.Fprintf(out, "  + %s\n", id)
		}
		for _, id := range resp.Existing {
			fmt.Fprintf(out, "  = %s (already known)\n", id)
		}
		for _, msg := range resp.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "  ! %s\n", msg)
		}
		if len(resp.Added) == 0 && len(resp.Errors) > 0 {
			return errors.New("no sessions were added")
		}
		return nil
	})
}

// readSessionInputs accepts either a JSON array of records or one record per
// line.
func readSessionInputs(r io.Reader) ([]api.SessionInput, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	if first == '[' {
		var inputs []api.SessionInput
		if err := json.NewDecoder(br).Decode(&inputs); err != nil {
			return nil, fmt.Errorf("parse session array: %w", err)
		}
		return inputs, nil
	}

	var inputs []api.SessionInput
	dec := json.NewDecoder(br)
	for line := 1; ; line++ {
		var in api.SessionInput
		if err := dec.Decode(&in); err != nil {
			if errors.Is(err, io.EOF) {
				return inputs, nil
			}
			return nil, fmt.Errorf("parse session record %d: %w", line, err)
		}
		inputs = append(inputs, in)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

func parseParams(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(values))
	for _, raw := range values {
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", raw)
		}
		params[key] = strings.TrimSpace(value)
	}
	return params, nil
}

func newSessionListCommand(ctx *commandContext) *cobra.Command {
	var req ipc.SessionListRequest
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SessionList(req)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Sessions)
				}
				out := cmd.OutOrStdout()
				if len(resp.Sessions) == 0 {
					fmt.Fprintln(out, "No sessions")
					return nil
				}
				fmt.Fprintln(out, renderSessionTable(resp.Sessions, time.Now()))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.DownloadStatus, "download", "", "Filter by download status")
	cmd.Flags().StringVar(&req.AnalysisStatus, "analysis", "", "Filter by analysis status")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output sessions as JSON")
	return cmd
}

func renderSessionTable(sessions []api.Session, now time.Time) string {
	rows := make([][]string, 0, len(sessions))
	scored := 0
	for _, s := range sessions {
		if s.AIScore != nil {
			scored++
		}
		rows = append(rows, []string{
			s.ID,
			s.DisplayTitle,
			downloadCell(s),
			analysisCell(s),
			scoreCell(s.AIScore),
			strconv.Itoa(s.RetryCount),
			relativeTime(s.UpdatedAt, now),
		})
	}
	footer := fmt.Sprintf("%d sessions, %d scored", len(sessions), scored)
	return renderTable(
		[]string{"ID", "Title", "Download", "Analysis", "Score", "Retries", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
		footer,
	)
}

func downloadCell(s api.Session) string {
	if s.DownloadStatus == "downloading" {
		return fmt.Sprintf("downloading %d%%", s.Progress)
	}
	return s.DownloadStatus
}

func analysisCell(s api.Session) string {
	value := s.AnalysisStatus
	if s.QueuePosition != nil {
		value += fmt.Sprintf(" #%d", *s.QueuePosition)
	}
	if s.FailureReason != "" && (s.AnalysisStatus == "failed" || s.DownloadStatus == "failed") {
		value += " (" + s.FailureReason + ")"
	}
	return value
}

func scoreCell(score *float64) string {
	if score == nil {
		return "-"
	}
	return strconv.FormatFloat(*score, 'f', 2, 64)
}

func relativeTime(value string, now time.Time) string {
	if value == "" {
		return "-"
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	return humanize.RelTime(parsed, now, "ago", "from now")
}

func newSessionShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one session in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SessionDescribe(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Session)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderSessionDetail(resp.Session, time.Now()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the session as JSON")
	return cmd
}

func renderSessionDetail(s api.Session, now time.Time) string {
	var b strings.Builder
	field := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "%-16s %s\n", label+":", value)
	}
	field("ID", s.ID)
	field("Title", s.DisplayTitle)
	field("Tutor", s.TutorID)
	field("Source", s.SourceURL)
	field("Transcript URL", s.TranscriptURL)
	field("Download", downloadCell(s))
	field("Analysis", analysisCell(s))
	field("Score", scoreCell(s.AIScore))
	field("Retries", fmt.Sprintf("%d (parse %d)", s.RetryCount, s.ParseRetryCount))
	field("Failure", s.FailureDetail)
	field("Media", s.MediaPath)
	field("Transcript", s.TranscriptPath)
	field("Report", s.ReportPath)
	field("Created", relativeTime(s.CreatedAt, now))
	field("Updated", relativeTime(s.UpdatedAt, now))
	return b.String()
}
