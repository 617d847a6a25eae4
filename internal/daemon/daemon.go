package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"traceapi/internal/annotated"
	"traceapi/internal/api"
	"traceapi/internal/blobstore"
	"traceapi/internal/config"
	"traceapi/internal/generation"
	"traceapi/internal/logging"
	"traceapi/internal/mix"
	"traceapi/internal/preflight"
	"traceapi/internal/store"
	"traceapi/internal/unit"
)

// Daemon coordinates the background generation workers and the HTTP API and
// enforces single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	blobs      *blobstore.Store
	generation *generation.Orchestrator
	services   api.Services
	api        *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DatabasePath string
	StorageDir   string
	LockFilePath string
	Generation   generation.Summary
	Checks       []preflight.Result
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, blobs *blobstore.Store, logger *slog.Logger, opts ...generation.Option) (*Daemon, error) {
	if cfg == nil || st == nil || blobs == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, blob store, and logger")
	}

	orchestrator, err := generation.New(cfg, st, blobs, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("create generation orchestrator: %w", err)
	}
	annotatedUnits := annotated.NewRegistry(st, blobs, cfg.Paths.ScratchDir, logger)

	lockPath := cfg.DaemonLockPath()
	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      st,
		blobs:      blobs,
		generation: orchestrator,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}
	d.services = api.Services{
		Units:          unit.NewRegistry(st, blobs, annotatedUnits, cfg.Paths.ScratchDir, logger),
		AnnotatedUnits: annotatedUnits,
		Mixes:          mix.NewRegistry(st, blobs, logger),
		Generations:    orchestrator,
		Status:         d.apiStatus,
	}
	d.api = newAPIServer(cfg, d.services, logger)
	return d, nil
}

// Start acquires the daemon lock, verifies the environment, and launches the
// generation workers and the API listener.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another trace daemon instance is already running (lock %s)", d.lockPath)
	}

	if failed := preflight.Failed(d.runChecks(ctx)); len(failed) > 0 {
		_ = d.lock.Unlock()
		names := make([]string, 0, len(failed))
		for _, result := range failed {
			names = append(names, fmt.Sprintf("%s: %s", result.Name, result.Detail))
		}
		return fmt.Errorf("preflight failed: %s", strings.Join(names, "; "))
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.generation.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start generation workers: %w", err)
	}
	if err := d.api.start(d.ctx); err != nil {
		d.generation.Stop()
		d.abortStart()
		return err
	}

	d.running.Store(true)
	d.logger.Info("trace daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

func (d *Daemon) abortStart() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

// Stop stops the API and the workers and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.generation.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("trace daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddress returns the address the API listens on, or "" when stopped.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Services exposes the registries and orchestrator behind the API.
func (d *Daemon) Services() api.Services {
	return d.services
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		StorageDir:   d.blobs.Root(),
		LockFilePath: d.lockPath,
		Generation:   d.generation.Summary(ctx),
		Checks:       d.runChecks(ctx),
	}
}

func (d *Daemon) runChecks(ctx context.Context) []preflight.Result {
	results := preflight.RunAll(ctx, d.cfg)
	return append(results, preflight.CheckDatabase(ctx, "Database", d.store))
}
