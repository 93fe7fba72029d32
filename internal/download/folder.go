package download

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"sessionqa/internal/services"
)

var commandContext = exec.CommandContext

// FolderSource resolves shared-folder links by running an external helper
// that downloads the folder and prints a JSON summary as its last stdout line.
type FolderSource struct {
	command  []string
	prefixes []string
	timeout  time.Duration
}

type folderSummary struct {
	OK              bool     `json:"ok"`
	OutputDir       string   `json:"output_dir"`
	VideoFiles      []string `json:"video_files"`
	TranscriptFiles []string `json:"transcript_files"`
	Error           string   `json:"error"`
	Hint            string   `json:"hint"`
}

// NewFolderSource builds the resolver. command is the helper argv prefix; the
// source appends --drive_link and --output_dir. A helper still running after
// timeout is killed and the fetch fails with a timeout; zero disables the limit.
func NewFolderSource(command, prefixes []string, timeout time.Duration) *FolderSource {
	return &FolderSource{
		command:  append([]string(nil), command...),
		prefixes: append([]string(nil), prefixes...),
		timeout:  timeout,
	}
}

// Name implements Source.
func (f *FolderSource) Name() string { return "folder" }

// Match implements Source.
func (f *FolderSource) Match(reference string) bool {
	reference = strings.TrimSpace(reference)
	for _, prefix := range f.prefixes {
		if prefix != "" && strings.HasPrefix(reference, prefix) {
			return true
		}
	}
	return false
}

// Fetch implements Source.
func (f *FolderSource) Fetch(ctx context.Context, req Request) (Result, error) {
	if len(f.command) == 0 {
		return Result{}, services.Wrap(services.ErrConfiguration, "download", "folder", "download.folder_helper is empty", nil)
	}
	if err := os.MkdirAll(req.DestDir, 0o755); err != nil {
		return Result{}, services.Wrap(services.ErrNetwork, "download", "prepare", "create session directory", err)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	args := append([]string(nil), f.command[1:]...)
	args = append(args, "--drive_link", strings.TrimSpace(req.Reference), "--output_dir", req.DestDir)
	cmd := commandContext(ctx, f.command[0], args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return Result{}, services.Wrap(services.ErrTimeout, "download", "folder", "folder helper exceeded "+f.timeout.String(), ctxErr)
		}
		return Result{}, ctxErr
	}

	summary, parseErr := parseFolderSummary(stdout.Bytes())
	if parseErr != nil {
		if runErr != nil {
			return Result{}, services.Wrap(services.ErrNetwork, "download", "folder",
				fmt.Sprintf("folder helper failed: %s", tail(stderr.String(), 512)), runErr)
		}
		return Result{}, services.Wrap(services.ErrNetwork, "download", "folder", "folder helper printed no summary", parseErr)
	}
	if !summary.OK {
		msg := strings.TrimSpace(summary.Error)
		if msg == "" {
			msg = "folder helper reported failure"
		}
		if summary.Hint != "" {
			msg += " (" + summary.Hint + ")"
		}
		return Result{}, services.Wrap(services.ErrFolderNotFound, "download", "folder", msg, runErr)
	}

	if err := req.checkpoint(); err != nil {
		return Result{}, err
	}
	baseDir := summary.OutputDir
	if baseDir == "" {
		baseDir = req.DestDir
	}
	media := firstExisting(baseDir, summary.VideoFiles)
	if media == "" {
		return Result{}, services.Wrap(services.ErrNoMedia, "download", "folder", "shared folder contains no media files", nil)
	}
	result := Result{MediaPath: media, TranscriptPath: firstExisting(baseDir, summary.TranscriptFiles)}
	if info, err := os.Stat(media); err == nil {
		result.Bytes = info.Size()
		_ = req.progress(result.Bytes, result.Bytes)
	}
	return result, nil
}

// parseFolderSummary reads the last JSON object line of the helper's stdout.
func parseFolderSummary(out []byte) (folderSummary, error) {
	var (
		summary folderSummary
		found   bool
	)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var candidate folderSummary
		if err := json.Unmarshal(line, &candidate); err != nil {
			continue
		}
		summary = candidate
		found = true
	}
	if err := scanner.Err(); err != nil {
		return folderSummary{}, err
	}
	if !found {
		return folderSummary{}, errors.New("no json summary line")
	}
	return summary, nil
}

func firstExisting(baseDir string, candidates []string) string {
	paths := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(baseDir, candidate)
		}
		paths = append(paths, candidate)
	}
	sort.Strings(paths)
	for _, path := range paths {
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path
		}
	}
	return ""
}

func tail(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	return value[len(value)-limit:]
}
