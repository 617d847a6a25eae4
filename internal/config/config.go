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
	StorageDir string `toml:"storage_dir"`
	DataDir    string `toml:"data_dir"`
	ScratchDir string `toml:"scratch_dir"`
	APIBind    string `toml:"api_bind"`
}

// Storage controls how blobs are laid out on disk.
type Storage struct {
	CompressionLevel int  `toml:"compression_level"`
	Subdirectories   bool `toml:"subdirectories"`
}

// Generation contains configuration for the mix generation worker pool.
type Generation struct {
	Workers            int `toml:"workers"`
	QueueSize          int `toml:"queue_size"`
	TaskTimeoutSeconds int `toml:"task_timeout_seconds"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for the trace service.
//
// Configuration sections by subsystem:
//   - Paths: blob storage, database, scratch space and API bind address
//   - Storage: blob compression and directory layout
//   - Generation: worker pool sizing, timeouts and heartbeats
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Storage    Storage    `toml:"storage"`
	Generation Generation `toml:"generation"`
	Logging    Logging    `toml:"logging"`
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

	projectPath, err := filepath.Abs("traceapi.toml")
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
	for _, dir := range []string{c.Paths.StorageDir, c.Paths.DataDir, c.Paths.ScratchDir, c.LockDir()} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "traceapi.db")
}

// LogDir holds the daemon's per-run log files.
func (c *Config) LogDir() string {
	return filepath.Join(c.Paths.DataDir, "logs")
}

// LogPath returns the daemon log file location. The daemon points it at the
// log of the current run.
func (c *Config) LogPath() string {
	return filepath.Join(c.LogDir(), "tracesd.log")
}

// LockDir holds advisory lock files for the daemon and per-mix generation.
func (c *Config) LockDir() string {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return ""
	}
	return filepath.Join(c.Paths.DataDir, "locks")
}

// DaemonLockPath returns the single-instance lock file.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.LockDir(), "tracesd.lock")
}

// TaskTimeout returns the generation task deadline.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.Generation.TaskTimeoutSeconds) * time.Second
}

// HeartbeatInterval returns how often running generations refresh their heartbeat.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Generation.HeartbeatInterval) * time.Second
}

// HeartbeatTimeout returns how long a generation may go without a heartbeat.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Generation.HeartbeatTimeout) * time.Second
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
