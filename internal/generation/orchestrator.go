package generation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"traceapi/internal/blobstore"
	"traceapi/internal/config"
	"traceapi/internal/logging"
	"traceapi/internal/pcaptool"
	"traceapi/internal/store"
)

// Normalizer rewrites a capture according to a prepared configuration.
type Normalizer interface {
	PrepareConfiguration(ipMapping, macMapping []pcaptool.AddressPair, timestamp float64) (pcaptool.Configuration, error)
	Normalize(ctx context.Context, src, dst string, cfg pcaptool.Configuration) error
}

// Mixer accumulates captures into one time-ordered output.
type Mixer interface {
	Mix(ctx context.Context, input string) error
	Output() string
}

// Merger creates a Mixer writing to output.
type Merger interface {
	NewMixer(output string) Mixer
}

type toolMerger struct {
	merger *pcaptool.Merger
}

func (t toolMerger) NewMixer(output string) Mixer {
	return t.merger.NewMixer(output)
}

// Orchestrator owns the generation worker pool.
type Orchestrator struct {
	store      *store.Store
	blobs      *blobstore.Store
	normalizer Normalizer
	merger     Merger
	logger     *slog.Logger

	scratchDir  string
	lockDir     string
	workers     int
	taskTimeout time.Duration
	heartbeat   *HeartbeatMonitor

	flight singleflight.Group
	queue  chan task

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	owned    map[int64]struct{}
	active   int
	lastErr  error
	lastTask *store.Generation
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithNormalizer replaces the capture normalizer.
func WithNormalizer(n Normalizer) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.normalizer = n
		}
	}
}

// WithMerger replaces the capture merger.
func WithMerger(m Merger) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.merger = m
		}
	}
}

// New constructs an Orchestrator from the generation section of cfg.
func New(cfg *config.Config, st *store.Store, blobs *blobstore.Store, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if err := os.MkdirAll(cfg.LockDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	if err := os.MkdirAll(cfg.Paths.ScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	workers := cfg.Generation.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := cfg.Generation.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	logger = logging.NewComponentLogger(logger, "generation")
	o := &Orchestrator{
		store:       st,
		blobs:       blobs,
		normalizer:  pcaptool.NewNormalizer(),
		merger:      toolMerger{merger: pcaptool.NewMerger()},
		logger:      logger,
		scratchDir:  cfg.Paths.ScratchDir,
		lockDir:     cfg.LockDir(),
		workers:     workers,
		taskTimeout: cfg.TaskTimeout(),
		heartbeat:   NewHeartbeatMonitor(st, logger, cfg.HeartbeatInterval(), cfg.HeartbeatTimeout()),
		queue:       make(chan task, queueSize),
		owned:       make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Orchestrator) own(id int64) {
	o.mu.Lock()
	o.owned[id] = struct{}{}
	o.mu.Unlock()
}

func (o *Orchestrator) disown(id int64) {
	o.mu.Lock()
	delete(o.owned, id)
	o.mu.Unlock()
}

func (o *Orchestrator) ownedIDs() []int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]int64, 0, len(o.owned))
	for id := range o.owned {
		ids = append(ids, id)
	}
	return ids
}

func (o *Orchestrator) setLastError(err error) {
	o.mu.Lock()
	o.lastErr = err
	o.mu.Unlock()
}
