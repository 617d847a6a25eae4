package testsupport

import (
	"path/filepath"
	"testing"

	"traceapi/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StorageDir = filepath.Join(base, "storage")
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.ScratchDir = filepath.Join(base, "scratch")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Generation.HeartbeatInterval = 1
	cfgVal.Generation.HeartbeatTimeout = 30

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure test directories: %v", err)
	}
	return builder.cfg
}

// WithWorkers overrides the generation worker count.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Generation.Workers = n
	}
}

// WithQueueSize overrides the generation queue capacity.
func WithQueueSize(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Generation.QueueSize = n
	}
}

// WithTaskTimeout overrides the per-generation deadline in seconds.
func WithTaskTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Generation.TaskTimeoutSeconds = seconds
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StorageDir)
}
