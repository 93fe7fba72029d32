package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"sessionqa/internal/services"
)

var commandContext = exec.CommandContext

// Input is one analyzer invocation.
type Input struct {
	SessionID      string
	MediaPath      string
	TranscriptPath string
	ReportPath     string
	Params         map[string]string
}

// Outcome describes what the analyzer wrote.
type Outcome struct {
	ReportPath string
	Duration   time.Duration
}

// Analyzer runs quality analysis to completion or failure.
type Analyzer interface {
	Submit(ctx context.Context, in Input) (Outcome, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, in Input) (Outcome, error)

// Submit implements Analyzer.
func (f AnalyzerFunc) Submit(ctx context.Context, in Input) (Outcome, error) {
	return f(ctx, in)
}

// ProcessAnalyzer shells out to the analyzer command.
type ProcessAnalyzer struct {
	command   string
	extraArgs []string
	killGrace time.Duration
}

// NewProcessAnalyzer builds an analyzer that runs
// command extraArgs... --input <media> [--transcript <t>] --output_report <report> [--key value]...
func NewProcessAnalyzer(command string, extraArgs []string) *ProcessAnalyzer {
	return &ProcessAnalyzer{
		command:   command,
		extraArgs: append([]string(nil), extraArgs...),
		killGrace: 5 * time.Second,
	}
}

// Args returns the argv (without the command) for in.
func (p *ProcessAnalyzer) Args(in Input) []string {
	args := append([]string(nil), p.extraArgs...)
	args = append(args, "--input", in.MediaPath)
	if strings.TrimSpace(in.TranscriptPath) != "" {
		args = append(args, "--transcript", in.TranscriptPath)
	}
	args = append(args, "--output_report", in.ReportPath)

	keys := make([]string, 0, len(in.Params))
	for k := range in.Params {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--"+strings.TrimLeft(k, "-"), in.Params[k])
	}
	return args
}

// Submit implements Analyzer. Stale artifacts are removed before the run so a
// missing report always means this invocation failed to write one. Combined
// output is kept in analyzer.log beside the report.
func (p *ProcessAnalyzer) Submit(ctx context.Context, in Input) (Outcome, error) {
	if strings.TrimSpace(in.MediaPath) == "" {
		return Outcome{}, services.Wrap(services.ErrNoMedia, "analysis", "submit", "media path required", nil)
	}
	if strings.TrimSpace(in.ReportPath) == "" {
		return Outcome{}, services.Wrap(services.ErrConfiguration, "analysis", "submit", "report path required", nil)
	}
	reportDir := filepath.Dir(in.ReportPath)
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return Outcome{}, services.Wrap(services.ErrProcess, "analysis", "prepare", "create report directory", err)
	}
	for _, stale := range []string{in.ReportPath, StructuredPath(in.ReportPath)} {
		_ = os.Remove(stale)
	}

	logFile, err := os.Create(filepath.Join(reportDir, "analyzer.log"))
	if err != nil {
		return Outcome{}, services.Wrap(services.ErrProcess, "analysis", "prepare", "create analyzer log", err)
	}
	defer logFile.Close()

	var tailBuf bytes.Buffer
	output := io.MultiWriter(logFile, &limitedBuffer{buf: &tailBuf, limit: 4096})

	cmd := commandContext(ctx, p.command, p.Args(in)...) //nolint:gosec
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return killGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = p.killGrace

	started := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(started)

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return Outcome{Duration: elapsed}, services.Wrap(services.ErrTimeout, "analysis", "run",
				fmt.Sprintf("analyzer exceeded %s", elapsed.Round(time.Second)), ctxErr)
		}
		return Outcome{Duration: elapsed}, ctxErr
	}
	if runErr != nil {
		return Outcome{Duration: elapsed}, services.Wrap(services.ErrProcess, "analysis", "run",
			fmt.Sprintf("analyzer failed: %s", lastLine(tailBuf.String())), runErr)
	}
	return Outcome{ReportPath: in.ReportPath, Duration: elapsed}, nil
}

func killGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}

// limitedBuffer keeps only the last limit bytes written.
type limitedBuffer struct {
	buf   *bytes.Buffer
	limit int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	l.buf.Write(p)
	if over := l.buf.Len() - l.limit; over > 0 {
		l.buf.Next(over)
	}
	return len(p), nil
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "no output"
}
