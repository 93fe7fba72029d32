package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"sessionqa/internal/config"
	"sessionqa/internal/daemon"
	"sessionqa/internal/ipc"
	"sessionqa/internal/store"
	"sessionqa/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	socketPath string
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithAnalyzer("77"))
	base := testsupport.BaseDir(cfg)
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	cfg.Paths.APIBind = ""
	d, err := daemon.New(cfg, store.NewMemory(), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon.Start: %v", err)
	}

	socketPath := filepath.Join(cfg.Paths.LogDir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, nil)
	if err != nil {
		cancel()
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		socketPath: socketPath,
		configPath: configPath,
		baseDir:    base,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	var flags []string
	if socket != "" {
		flags = append(flags, "--socket", socket)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestSessionAddListShow(t *testing.T) {
	env := setupCLITestEnv(t)
	media := testsupport.WriteMedia(t, env.baseDir, "incoming/lesson.mp4", 1024)

	out, _, err := runCLI(t, []string{"session", "add", media, "--id", "cli-1", "--title", "fractions"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("session add: %v", err)
	}
	requireContains(t, out, "Added 1 session(s)")
	requireContains(t, out, "cli-1")

	waitFor(t, 5*time.Second, func() bool {
		s, err := env.daemon.GetSession("cli-1")
		return err == nil && s.AnalysisStatus == "completed"
	})

	out, _, err = runCLI(t, []string{"session", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("session list: %v", err)
	}
	requireContains(t, out, "cli-1")
	requireContains(t, out, "Fractions")
	requireContains(t, out, "77.00")
	requireContains(t, out, "1 sessions, 1 scored")

	out, _, err = runCLI(t, []string{"session", "show", "cli-1"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("session show: %v", err)
	}
	requireContains(t, out, "Score:")
	requireContains(t, out, "report.txt")
}

func TestSessionImportJSONLines(t *testing.T) {
	env := setupCLITestEnv(t)
	missing := filepath.Join(env.baseDir, "absent.mp4")
	file := filepath.Join(env.baseDir, "import.jsonl")
	body := `{"id":"i-1","sourceUrl":"` + missing + `"}` + "\n" + `{"id":"i-2","sourceUrl":"` + missing + `"}` + "\n"
	if err := os.WriteFile(file, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"session", "import", file, "--skip-analysis"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("session import: %v", err)
	}
	requireContains(t, out, "Added 2 session(s)")

	out, _, err = runCLI(t, []string{"session", "import", file}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	requireContains(t, out, "Added 0 session(s)")
	requireContains(t, out, "i-1 (already known)")
}

func TestReadSessionInputsArray(t *testing.T) {
	inputs, err := readSessionInputs(strings.NewReader(`  [{"id":"a","sourceUrl":"x"},{"id":"b","sourceUrl":"y"}]`))
	if err != nil {
		t.Fatalf("readSessionInputs: %v", err)
	}
	if len(inputs) != 2 || inputs[1].ID != "b" {
		t.Fatalf("inputs = %+v", inputs)
	}
	if _, err := readSessionInputs(strings.NewReader(`{"id":`)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"model=gpt", " rubric = v2 "})
	if err != nil {
		t.Fatalf("parseParams: %v", err)
	}
	if params["model"] != "gpt" || params["rubric"] != "v2" {
		t.Fatalf("params = %v", params)
	}
	if _, err := parseParams([]string{"novalue"}); err == nil {
		t.Fatal("expected error for missing '='")
	}
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "System Status")
	requireContains(t, out, "Queue Status")
	requireContains(t, out, "running (pid")
	requireContains(t, out, "analysis")
}

func TestResetRequiresConfirmFlag(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"reset"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected reset without confirmation to fail")
	}
	out, _, err := runCLI(t, []string{"reset", "--confirm", "RESET"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	requireContains(t, out, "Reset complete")
}

func TestRetryUnknownSessionFails(t *testing.T) {
	env := setupCLITestEnv(t)
	_, stderr, err := runCLI(t, []string{"retry", "analysis", "ghost"}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("expected retry of unknown session to fail")
	}
	requireContains(t, stderr, "ghost")
}

func TestStatusWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	_, _, err := runCLI(t, []string{"status"}, filepath.Join(cfg.Paths.LogDir, "missing.sock"), configPath)
	if err == nil {
		t.Fatal("expected status to fail without a daemon")
	}
	requireContains(t, err.Error(), "sessionqa daemon run")
}

func TestConfigInitAndShow(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sessionqa.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, target)
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", ""); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}

	t.Setenv("HOME", dir)
	out, _, err = runCLI(t, []string{"config", "show"}, "", target)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "[analysis]")
	requireContains(t, out, "max_retries")
}

func TestHealthCommandReportsAnalyzer(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAnalyzer("10"))
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	out, _, err := runCLI(t, []string{"health"}, "", configPath)
	if err != nil {
		t.Fatalf("health: %v\n%s", err, out)
	}
	requireContains(t, out, "Data directory")
	requireContains(t, out, "Analyzer")
}
