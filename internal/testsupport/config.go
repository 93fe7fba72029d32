package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"sessionqa/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The store defaults to the in-memory backend, backoff to milliseconds, and
// the API binds an ephemeral port. Directories are created.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Store.Backend = "memory"
	cfgVal.Analysis.BackoffBaseMS = 1
	cfgVal.Analysis.BackoffMaxMS = 5
	cfgVal.Notifications.NtfyTopic = ""
	cfgVal.Notifications.SnapshotInterval = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithStoreBackend selects the persistence backend.
func WithStoreBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Store.Backend = backend
	}
}

// WithAPIToken sets the bearer token required by the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithAnalyzer points the analysis command at a stub script that writes a
// report scoring score for every session.
func WithAnalyzer(score string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := "#!/bin/sh\n" +
			"report=\"\"\n" +
			"while [ $# -gt 0 ]; do\n" +
			"  if [ \"$1\" = \"--output_report\" ]; then report=\"$2\"; fi\n" +
			"  shift\n" +
			"done\n" +
			"echo \"Final weighted score: " + score + "\" > \"$report\"\n"
		target := filepath.Join(binDir, "analyzer")
		if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
			b.t.Fatalf("write analyzer stub: %v", err)
		}
		b.cfg.Analysis.Command = target
		b.cfg.Analysis.ExtraArgs = nil
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
