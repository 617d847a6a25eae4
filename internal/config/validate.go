package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateGeneration(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StorageDir) == "" {
		return errors.New("paths.storage_dir must be set")
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.ScratchDir) == "" {
		return errors.New("paths.scratch_dir must be set")
	}
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind must be host:port: %w", err)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.CompressionLevel < -1 || c.Storage.CompressionLevel > 9 {
		return errors.New("storage.compression_level must be between -1 and 9")
	}
	return nil
}

func (c *Config) validateGeneration() error {
	if c.Generation.Workers < 1 {
		return errors.New("generation.workers must be positive")
	}
	if c.Generation.QueueSize < 1 {
		return errors.New("generation.queue_size must be positive")
	}
	if c.Generation.TaskTimeoutSeconds < 1 {
		return errors.New("generation.task_timeout_seconds must be positive")
	}
	if c.Generation.HeartbeatInterval < 1 {
		return errors.New("generation.heartbeat_interval must be positive")
	}
	if c.Generation.HeartbeatTimeout <= c.Generation.HeartbeatInterval {
		return errors.New("generation.heartbeat_timeout must exceed generation.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}
