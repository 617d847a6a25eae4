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
	c.normalizeGeneration()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.StorageDir) == "" {
		if value, ok := os.LookupEnv("TRACEAPI_STORAGE_DIR"); ok && strings.TrimSpace(value) != "" {
			c.Paths.StorageDir = strings.TrimSpace(value)
		} else {
			c.Paths.StorageDir = defaultStorageDir
		}
	}
	var err error
	if c.Paths.StorageDir, err = expandPath(c.Paths.StorageDir); err != nil {
		return fmt.Errorf("paths.storage_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ScratchDir) == "" {
		c.Paths.ScratchDir = defaultScratchDir
	}
	if c.Paths.ScratchDir, err = expandPath(c.Paths.ScratchDir); err != nil {
		return fmt.Errorf("paths.scratch_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if value, ok := os.LookupEnv("TRACEAPI_API_BIND"); ok && strings.TrimSpace(value) != "" {
		c.Paths.APIBind = strings.TrimSpace(value)
	}
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeGeneration() {
	if c.Generation.Workers <= 0 {
		c.Generation.Workers = defaultWorkers
	}
	if c.Generation.QueueSize <= 0 {
		c.Generation.QueueSize = defaultQueueSize
	}
	if c.Generation.TaskTimeoutSeconds <= 0 {
		c.Generation.TaskTimeoutSeconds = defaultTaskTimeout
	}
	if c.Generation.HeartbeatInterval <= 0 {
		c.Generation.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Generation.HeartbeatTimeout <= 0 {
		c.Generation.HeartbeatTimeout = defaultHeartbeatTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
