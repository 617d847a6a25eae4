package generation

import (
	"context"
	"fmt"
	"io"

	"traceapi/internal/logging"
	"traceapi/internal/store"
)

// Status returns the current generation of mixID.
func (o *Orchestrator) Status(ctx context.Context, mixID int64) (*store.Generation, error) {
	m, err := o.store.GetMix(ctx, mixID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %d", ErrMixNotFound, mixID)
	}
	gen, err := o.store.CurrentGeneration(ctx, mixID)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, fmt.Errorf("%w: mix %d", ErrNoGeneration, mixID)
	}
	return gen, nil
}

// Download opens the output of the current generation of mixID. The
// generation is returned alongside ErrGenerationInProgress and
// ErrGenerationFailed so callers can report its state.
func (o *Orchestrator) Download(ctx context.Context, mixID int64) (io.ReadCloser, *store.Generation, error) {
	gen, err := o.Status(ctx, mixID)
	if err != nil {
		return nil, nil, err
	}
	switch gen.State {
	case store.GenerationComplete:
	case store.GenerationFailed:
		return nil, gen, fmt.Errorf("%w: %s", ErrGenerationFailed, gen.ErrorMessage)
	default:
		return nil, gen, fmt.Errorf("%w: %d%%", ErrGenerationInProgress, gen.Progress)
	}
	rc, err := o.blobs.Open(gen.FileLocation)
	if err != nil {
		return nil, gen, err
	}
	return rc, gen, nil
}

// Summary represents lightweight orchestrator diagnostics.
type Summary struct {
	Running        bool
	Workers        int
	Queued         int
	Active         int
	QueueCapacity  int
	LastError      string
	LastGeneration *store.Generation
	Stats          map[store.GenerationState]int
}

// Summary returns the latest orchestrator information.
func (o *Orchestrator) Summary(ctx context.Context) Summary {
	o.mu.RLock()
	summary := Summary{
		Running:       o.running,
		Workers:       o.workers,
		Queued:        len(o.queue),
		Active:        o.active,
		QueueCapacity: cap(o.queue),
	}
	if o.lastErr != nil {
		summary.LastError = o.lastErr.Error()
	}
	if o.lastTask != nil {
		gen := *o.lastTask
		summary.LastGeneration = &gen
	}
	o.mu.RUnlock()

	stats, err := o.store.GenerationStats(ctx)
	if err != nil {
		o.logger.Warn("failed to read generation stats", logging.Error(err))
	}
	summary.Stats = stats
	return summary
}
