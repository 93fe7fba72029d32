package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"sessionqa/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("SESSIONQA_REDIS_URL", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "sessionqa")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.SessionDir("abc") != filepath.Join(wantData, "sessions", "abc") {
		t.Fatalf("unexpected session dir: %q", cfg.SessionDir("abc"))
	}
	if cfg.Paths.APIBind != "127.0.0.1:7488" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Fatalf("expected sqlite backend by default, got %q", cfg.Store.Backend)
	}
	if cfg.Download.MaxConcurrent != 3 || cfg.Analysis.MaxConcurrent != 3 {
		t.Fatalf("unexpected concurrency defaults: download=%d analysis=%d", cfg.Download.MaxConcurrent, cfg.Analysis.MaxConcurrent)
	}
	if cfg.DownloadTimeout() != 30*time.Second {
		t.Fatalf("unexpected download timeout: %s", cfg.DownloadTimeout())
	}
	if cfg.FolderTimeout() != 30*time.Minute {
		t.Fatalf("unexpected folder helper timeout: %s", cfg.FolderTimeout())
	}
	if cfg.AnalysisTimeout() != 15*time.Minute {
		t.Fatalf("unexpected analysis timeout: %s", cfg.AnalysisTimeout())
	}
	if cfg.BackoffBase() != time.Second || cfg.BackoffMax() != time.Minute {
		t.Fatalf("unexpected backoff: base=%s max=%s", cfg.BackoffBase(), cfg.BackoffMax())
	}
	if cfg.Analysis.MaxRetries != cfg.Analysis.ParseErrorMaxRetries {
		t.Fatalf("expected equal retry budgets by default, got %d and %d", cfg.Analysis.MaxRetries, cfg.Analysis.ParseErrorMaxRetries)
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(tempDir, "data") + `"
log_dir = "` + filepath.Join(tempDir, "logs") + `"

[download]
max_concurrent = 5

[analysis]
max_retries = 2
parse_error_max_retries = 1
extra_args = ["  analyze.py ", ""]

[logging]
format = "JSON"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if cfg.Download.MaxConcurrent != 5 {
		t.Fatalf("expected download concurrency 5, got %d", cfg.Download.MaxConcurrent)
	}
	if cfg.Analysis.MaxRetries != 2 || cfg.Analysis.ParseErrorMaxRetries != 1 {
		t.Fatalf("unexpected retry budgets: %+v", cfg.Analysis)
	}
	if len(cfg.Analysis.ExtraArgs) != 1 || cfg.Analysis.ExtraArgs[0] != "analyze.py" {
		t.Fatalf("expected trimmed extra args, got %#v", cfg.Analysis.ExtraArgs)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected json log format, got %q", cfg.Logging.Format)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero download concurrency", func(c *config.Config) { c.Download.MaxConcurrent = 0 }, "download.max_concurrent"},
		{"zero analysis concurrency", func(c *config.Config) { c.Analysis.MaxConcurrent = 0 }, "analysis.max_concurrent"},
		{"negative retries", func(c *config.Config) { c.Analysis.MaxRetries = -1 }, "analysis.max_retries"},
		{"unknown backend", func(c *config.Config) { c.Store.Backend = "mongo" }, "store.backend"},
		{"redis without url", func(c *config.Config) { c.Store.Backend = "redis"; c.Store.RedisURL = "" }, "store.redis_url"},
		{"missing analyzer", func(c *config.Config) { c.Analysis.Command = "" }, "analysis.command"},
		{"bad level", func(c *config.Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestRedisURLFromEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SESSIONQA_REDIS_URL", "redis://localhost:6379/2")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[store]\nbackend = \"redis\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Store.RedisURL != "redis://localhost:6379/2" {
		t.Fatalf("expected redis url from env, got %q", cfg.Store.RedisURL)
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded config.Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample config is not valid TOML: %v", err)
	}
	if decoded.Analysis.MaxRetries != 3 {
		t.Fatalf("expected sample max_retries 3, got %d", decoded.Analysis.MaxRetries)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
}

func TestEnsureDirectoriesCreatesSessionsDir(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories returned error: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir, cfg.SessionsDir()} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
	}
}
