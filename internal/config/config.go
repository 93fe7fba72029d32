package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Store selects the persistence backend for session records.
type Store struct {
	Backend  string `toml:"backend"`
	RedisURL string `toml:"redis_url"`
	RedisKey string `toml:"redis_key"`
}

// Download contains configuration for the download dispatcher.
type Download struct {
	MaxConcurrent  int      `toml:"max_concurrent"`
	RequestTimeout int      `toml:"request_timeout"`
	UserAgent      string   `toml:"user_agent"`
	FolderHelper   []string `toml:"folder_helper"`
	FolderTimeout  int      `toml:"folder_timeout"`
	FolderPrefixes []string `toml:"folder_prefixes"`
	CopyLocal      bool     `toml:"copy_local"`
}

// Analysis contains configuration for the analysis queue and the external analyzer.
type Analysis struct {
	Command              string   `toml:"command"`
	ExtraArgs            []string `toml:"extra_args"`
	MaxConcurrent        int      `toml:"max_concurrent"`
	TimeoutMinutes       int      `toml:"timeout_minutes"`
	MaxRetries           int      `toml:"max_retries"`
	ParseErrorMaxRetries int      `toml:"parse_error_max_retries"`
	BackoffBaseMS        int      `toml:"backoff_base_ms"`
	BackoffMaxMS         int      `toml:"backoff_max_ms"`
	DeleteMediaOnSuccess bool     `toml:"delete_media_on_success"`
}

// Notifications contains configuration for ntfy push notifications and the
// periodic queue snapshot broadcast.
type Notifications struct {
	NtfyTopic         string `toml:"ntfy_topic"`
	RequestTimeout    int    `toml:"request_timeout"`
	SnapshotInterval  int    `toml:"snapshot_interval"`
	CompletedTemplate string `toml:"completed_template"`
	FailedTemplate    string `toml:"failed_template"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for sessionqa.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories, API bind address
//   - Store: session persistence backend (sqlite, redis, memory)
//   - Download: dispatcher concurrency, HTTP timeouts, shared-folder helper
//   - Analysis: analyzer command, concurrency, timeout, and retry policy
//   - Notifications: ntfy push settings and snapshot cadence
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Store         Store         `toml:"store"`
	Download      Download      `toml:"download"`
	Analysis      Analysis      `toml:"analysis"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("sessionqa.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.SessionsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SessionsDir is the root under which each session gets its own artifact directory.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.Paths.DataDir, "sessions")
}

// SessionDir returns the artifact directory for a single session.
// Separators and dot segments in id are replaced so the result stays under SessionsDir.
func (c *Config) SessionDir(id string) string {
	return filepath.Join(c.SessionsDir(), sessionDirReplacer.Replace(strings.TrimSpace(id)))
}

var sessionDirReplacer = strings.NewReplacer("/", "_", "\\", "_", "..", "_")

// DatabasePath is the SQLite file used by the sqlite store backend.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "sessionqa.db")
}

// SocketPath is the unix socket the daemon serves IPC on.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.LogDir, "sessionqa.sock")
}

// LockPath is the flock file guarding single-instance daemons.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "sessionqa.lock")
}

// DownloadTimeout is the per-request deadline applied to remote fetches.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.RequestTimeout) * time.Second
}

// FolderTimeout bounds one run of the shared-folder helper.
func (c *Config) FolderTimeout() time.Duration {
	return time.Duration(c.Download.FolderTimeout) * time.Minute
}

// AnalysisTimeout is the wall-clock limit for one analyzer invocation.
func (c *Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.Analysis.TimeoutMinutes) * time.Minute
}

// BackoffBase is the first retry delay of the analysis backoff curve.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Analysis.BackoffBaseMS) * time.Millisecond
}

// BackoffMax caps the analysis retry delay.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Analysis.BackoffMaxMS) * time.Millisecond
}

// SnapshotInterval is how often the daemon broadcasts a queue snapshot.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Notifications.SnapshotInterval) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
