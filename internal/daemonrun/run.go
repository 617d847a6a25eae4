package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"traceapi/internal/blobstore"
	"traceapi/internal/config"
	"traceapi/internal/daemon"
	"traceapi/internal/logging"
	"traceapi/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the tracesd runtime loop and blocks until the context is
// cancelled or the process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logDir := cfg.LogDir()
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(logDir, fmt.Sprintf("tracesd-%s.log", runID))

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.LogPath(), logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update tracesd.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: logDir, Pattern: "tracesd-*.log", Exclude: []string{logPath}},
	)

	pidPath := pidFilePath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return err
	}
	defer st.Close()

	blobs, err := blobstore.NewFromConfig(cfg)
	if err != nil {
		logger.Error("open blob store", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, st, blobs, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	logStartup(logger, cfg, logPath)
	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration, directory permissions and that no other tracesd is running"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("tracesd shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	d.Stop()
	return nil
}

func pidFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, "tracesd.pid")
}

// ensureCurrentLogPointer points the stable log path at the current run log.
func ensureCurrentLogPointer(current, target string) error {
	if current == "" || target == "" {
		return nil
	}
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logStartup(logger *slog.Logger, cfg *config.Config, logPath string) {
	logger.Info("tracesd starting",
		logging.String(logging.FieldEventType, "daemon_starting"),
		logging.String("api_bind", cfg.Paths.APIBind),
		logging.String("database_path", cfg.DatabasePath()),
		logging.String("storage_dir", cfg.Paths.StorageDir),
		logging.String("scratch_dir", cfg.Paths.ScratchDir),
		logging.Int("workers", cfg.Generation.Workers),
		logging.Int("queue_size", cfg.Generation.QueueSize),
		logging.String("log_path", logPath),
	)
}
