package config

const (
	defaultConfigPath        = "~/.config/traceapi/config.toml"
	defaultStorageDir        = "~/.local/share/traceapi/storage"
	defaultDataDir           = "~/.local/share/traceapi"
	defaultScratchDir        = "~/.cache/traceapi/scratch"
	defaultAPIBind           = "127.0.0.1:8484"
	defaultCompressionLevel  = 6
	defaultWorkers           = 2
	defaultQueueSize         = 64
	defaultTaskTimeout       = 1800
	defaultHeartbeatInterval = 15
	defaultHeartbeatTimeout  = 120
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultLogRetentionDays  = 14
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StorageDir: defaultStorageDir,
			DataDir:    defaultDataDir,
			ScratchDir: defaultScratchDir,
			APIBind:    defaultAPIBind,
		},
		Storage: Storage{
			CompressionLevel: defaultCompressionLevel,
			Subdirectories:   true,
		},
		Generation: Generation{
			Workers:            defaultWorkers,
			QueueSize:          defaultQueueSize,
			TaskTimeoutSeconds: defaultTaskTimeout,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
