package generation

import (
	"context"
	"errors"

	"traceapi/internal/logging"
)

// Start launches the worker pool. Records left in flight by an earlier
// process are failed first, since no worker can own them.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errors.New("generation orchestrator already running")
	}
	o.mu.Unlock()

	interrupted, err := o.store.FailInFlightGenerations(ctx, reasonInterrupted, o.ownedIDs()...)
	if err != nil {
		return err
	}
	if interrupted > 0 {
		reclaimedTotal.WithLabelValues(reasonInterrupted).Add(float64(interrupted))
		o.logger.Warn("failed generations interrupted by a previous shutdown",
			logging.Int64("count", interrupted),
			logging.String(logging.FieldEventType, "generation_interrupted"),
			logging.String(logging.FieldErrorHint, "trigger generation again for affected mixes"),
		)
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errors.New("generation orchestrator already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true
	o.wg.Add(o.workers + 1)
	o.mu.Unlock()

	for i := 0; i < o.workers; i++ {
		go o.runWorker(runCtx, i)
	}
	go o.runReaper(runCtx)

	o.logger.Info("generation workers started",
		logging.Int("workers", o.workers),
		logging.Int("queue_capacity", cap(o.queue)),
		logging.String(logging.FieldEventType, "generation_workers_started"),
	)
	return nil
}

// Stop cancels running tasks and waits for the workers to exit. Tasks still
// queued stay queued and run on the next Start.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	o.running = false
	o.cancel = nil
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
}

func (o *Orchestrator) runWorker(ctx context.Context, index int) {
	defer o.wg.Done()
	logger := o.logger.With(logging.Int("worker", index))
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-o.queue:
			queueDepth.Dec()
			o.execute(ctx, logger, t)
		}
	}
}

func (o *Orchestrator) runReaper(ctx context.Context) {
	defer o.wg.Done()
	o.heartbeat.ReclaimLoop(ctx, o.ownedIDs)
}
