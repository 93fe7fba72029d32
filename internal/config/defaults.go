package config

const (
	defaultConfigPath             = "~/.config/sessionqa/config.toml"
	defaultDataDir                = "~/.local/share/sessionqa"
	defaultLogDir                 = "~/.local/share/sessionqa/logs"
	defaultAPIBind                = "127.0.0.1:7488"
	defaultStoreBackend           = "sqlite"
	defaultRedisKey               = "sessionqa:sessions"
	defaultDownloadConcurrency    = 3
	defaultDownloadTimeoutSeconds = 30
	defaultFolderTimeoutMinutes   = 30
	defaultUserAgent              = "sessionqa/0.1"
	defaultAnalyzerCommand        = "python3"
	defaultAnalysisConcurrency    = 3
	defaultAnalysisTimeoutMinutes = 15
	defaultMaxRetries             = 3
	defaultBackoffBaseMS          = 1000
	defaultBackoffMaxMS           = 60000
	defaultNotifyTimeoutSeconds   = 10
	defaultSnapshotSeconds        = 5
	defaultCompletedTemplate      = "Session {{id}} scored {{score}}"
	defaultFailedTemplate         = "Session {{id}} failed: {{reason}}"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30
)

var (
	defaultAnalyzerArgs   = []string{"rag_video_analysis.py"}
	defaultFolderHelper   = []string{"python3", "drive_download.py"}
	defaultFolderPrefixes = []string{
		"https://drive.google.com/drive/folders/",
		"https://drive.google.com/file/",
	}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Store: Store{
			Backend:  defaultStoreBackend,
			RedisKey: defaultRedisKey,
		},
		Download: Download{
			MaxConcurrent:  defaultDownloadConcurrency,
			RequestTimeout: defaultDownloadTimeoutSeconds,
			UserAgent:      defaultUserAgent,
			FolderHelper:   append([]string(nil), defaultFolderHelper...),
			FolderTimeout:  defaultFolderTimeoutMinutes,
			FolderPrefixes: append([]string(nil), defaultFolderPrefixes...),
		},
		Analysis: Analysis{
			Command:              defaultAnalyzerCommand,
			ExtraArgs:            append([]string(nil), defaultAnalyzerArgs...),
			MaxConcurrent:        defaultAnalysisConcurrency,
			TimeoutMinutes:       defaultAnalysisTimeoutMinutes,
			MaxRetries:           defaultMaxRetries,
			ParseErrorMaxRetries: defaultMaxRetries,
			BackoffBaseMS:        defaultBackoffBaseMS,
			BackoffMaxMS:         defaultBackoffMaxMS,
		},
		Notifications: Notifications{
			RequestTimeout:    defaultNotifyTimeoutSeconds,
			SnapshotInterval:  defaultSnapshotSeconds,
			CompletedTemplate: defaultCompletedTemplate,
			FailedTemplate:    defaultFailedTemplate,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
