package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateLimits(); err != nil {
		return err
	}
	if err := c.validateAnalysis(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "sqlite", "memory":
		return nil
	case "redis":
		if strings.TrimSpace(c.Store.RedisURL) == "" {
			return errors.New("store.redis_url must be set when store.backend is redis (or set SESSIONQA_REDIS_URL)")
		}
		return nil
	default:
		return fmt.Errorf("store.backend: unsupported value %q (want sqlite, redis, or memory)", c.Store.Backend)
	}
}

func (c *Config) validateLimits() error {
	return ensurePositiveMap(map[string]int{
		"download.max_concurrent":         c.Download.MaxConcurrent,
		"download.request_timeout":        c.Download.RequestTimeout,
		"download.folder_timeout":         c.Download.FolderTimeout,
		"analysis.max_concurrent":         c.Analysis.MaxConcurrent,
		"analysis.timeout_minutes":        c.Analysis.TimeoutMinutes,
		"analysis.backoff_base_ms":        c.Analysis.BackoffBaseMS,
		"analysis.backoff_max_ms":         c.Analysis.BackoffMaxMS,
		"notifications.request_timeout":   c.Notifications.RequestTimeout,
		"notifications.snapshot_interval": c.Notifications.SnapshotInterval,
	})
}

func (c *Config) validateAnalysis() error {
	if c.Analysis.Command == "" {
		return errors.New("analysis.command must be set")
	}
	if c.Analysis.MaxRetries < 0 {
		return errors.New("analysis.max_retries must be >= 0")
	}
	if c.Analysis.ParseErrorMaxRetries < 0 {
		return errors.New("analysis.parse_error_max_retries must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
