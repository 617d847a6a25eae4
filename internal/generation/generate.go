package generation

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"traceapi/internal/logging"
	"traceapi/internal/services"
	"traceapi/internal/store"
)

const (
	lockRetryDelay = 25 * time.Millisecond
	// generateCallTimeout bounds the shared call that callers of the same mix join.
	generateCallTimeout = 30 * time.Second
)

// workItem is one origin of the snapshot a task consumes.
type workItem struct {
	annotatedUnitID int64
	ipMapping       []store.AddressPair
	macMapping      []store.AddressPair
	timestamp       float64
}

type task struct {
	generationID int64
	mixID        int64
	items        []workItem
}

func snapshot(origins []store.Origin) []workItem {
	items := make([]workItem, 0, len(origins))
	for _, origin := range origins {
		items = append(items, workItem{
			annotatedUnitID: origin.AnnotatedUnitID,
			ipMapping:       append([]store.AddressPair(nil), origin.IPMapping...),
			macMapping:      append([]store.AddressPair(nil), origin.MACMapping...),
			timestamp:       origin.Timestamp,
		})
	}
	return items
}

// Generate starts building the output of mixID and returns its generation
// record without waiting. When a generation of the mix is already in flight
// that record is returned instead. When the queue is full the new record is
// failed immediately and returned in that state.
//
// Concurrent callers for one mix share a single call detached from their
// contexts. A cancelled caller returns its own context error only.
func (o *Orchestrator) Generate(ctx context.Context, mixID int64) (*store.Generation, error) {
	shared := context.WithoutCancel(ctx)
	ch := o.flight.DoChan(strconv.FormatInt(mixID, 10), func() (any, error) {
		callCtx, cancel := context.WithTimeout(shared, generateCallTimeout)
		defer cancel()
		return o.generateLocked(callCtx, mixID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		gen := *res.Val.(*store.Generation)
		return &gen, nil
	}
}

func (o *Orchestrator) generateLocked(ctx context.Context, mixID int64) (*store.Generation, error) {
	m, err := o.store.GetMix(ctx, mixID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %d", ErrMixNotFound, mixID)
	}
	items := snapshot(m.Origins)

	lock := flock.New(filepath.Join(o.lockDir, fmt.Sprintf("mix-%d.lock", mixID)))
	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil || !locked {
		if err == nil {
			err = ErrBusy
		}
		return nil, services.Wrap(services.ErrConflict, "generation", "lock mix", strconv.FormatInt(mixID, 10), err)
	}
	defer func() { _ = lock.Unlock() }()

	current, err := o.store.CurrentGeneration(ctx, mixID)
	if err != nil {
		return nil, err
	}
	if current.InFlight() {
		return current, nil
	}

	gen, err := o.store.CreateGeneration(ctx, mixID)
	if err != nil {
		return nil, err
	}
	ctx = services.WithGenerationID(services.WithMixID(ctx, mixID), gen.ID)
	logger := logging.WithContext(ctx, o.logger)

	o.own(gen.ID)
	select {
	case o.queue <- task{generationID: gen.ID, mixID: mixID, items: items}:
		queueDepth.Inc()
		logger.Info("generation queued",
			logging.Int("origins", len(items)),
			logging.String(logging.FieldEventType, "generation_queued"),
		)
		return gen, nil
	default:
	}

	o.disown(gen.ID)
	tasksTotal.WithLabelValues(resultRejected).Inc()
	if _, err := o.store.FailGeneration(ctx, gen.ID, reasonQueueFull); err != nil {
		return nil, err
	}
	logging.WarnWithContext(logger, "generation rejected", "generation_rejected",
		logging.String("reason", reasonQueueFull),
		logging.String(logging.FieldErrorHint, "raise generation.queue_size or generation.workers"),
	)
	failed, err := o.store.GetGeneration(ctx, gen.ID)
	if err != nil {
		return nil, err
	}
	if failed == nil {
		return nil, fmt.Errorf("%w: %d", ErrMixNotFound, mixID)
	}
	return failed, nil
}
