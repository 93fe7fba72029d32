package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStore()
	c.normalizeDownload()
	c.normalizeAnalysis()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("SESSIONQA_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeStore() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = defaultStoreBackend
	}
	c.Store.RedisURL = strings.TrimSpace(c.Store.RedisURL)
	if c.Store.RedisURL == "" {
		if value, ok := os.LookupEnv("SESSIONQA_REDIS_URL"); ok {
			c.Store.RedisURL = strings.TrimSpace(value)
		}
	}
	c.Store.RedisKey = strings.TrimSpace(c.Store.RedisKey)
	if c.Store.RedisKey == "" {
		c.Store.RedisKey = defaultRedisKey
	}
}

func (c *Config) normalizeDownload() {
	c.Download.UserAgent = strings.TrimSpace(c.Download.UserAgent)
	if c.Download.UserAgent == "" {
		c.Download.UserAgent = defaultUserAgent
	}
	c.Download.FolderHelper = trimList(c.Download.FolderHelper)
	prefixes := trimList(c.Download.FolderPrefixes)
	if len(prefixes) == 0 {
		prefixes = append([]string(nil), defaultFolderPrefixes...)
	}
	c.Download.FolderPrefixes = prefixes
}

func (c *Config) normalizeAnalysis() {
	c.Analysis.Command = strings.TrimSpace(c.Analysis.Command)
	c.Analysis.ExtraArgs = trimList(c.Analysis.ExtraArgs)
	if c.Analysis.BackoffMaxMS > 0 && c.Analysis.BackoffMaxMS < c.Analysis.BackoffBaseMS {
		c.Analysis.BackoffMaxMS = c.Analysis.BackoffBaseMS
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("SESSIONQA_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Notifications.CompletedTemplate) == "" {
		c.Notifications.CompletedTemplate = defaultCompletedTemplate
	}
	if strings.TrimSpace(c.Notifications.FailedTemplate) == "" {
		c.Notifications.FailedTemplate = defaultFailedTemplate
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func trimList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
