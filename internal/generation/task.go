package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"traceapi/internal/annotated"
	"traceapi/internal/logging"
	"traceapi/internal/services"
	"traceapi/internal/store"
)

const failureWriteTimeout = 10 * time.Second

// mergeProgress is the progress published after origin index of total has
// been merged. It stays within 2..98 so validating (1) and finalizing (99)
// remain distinct.
func mergeProgress(index, total int) int {
	if total <= 0 {
		return 98
	}
	return max(2, 1+97*(index+1)/total)
}

func (o *Orchestrator) execute(runCtx context.Context, workerLogger *slog.Logger, t task) {
	defer o.disown(t.generationID)

	ctx := services.WithGenerationID(services.WithMixID(runCtx, t.mixID), t.generationID)
	var cancel context.CancelFunc
	if o.taskTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, o.taskTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	logger := logging.WithContext(ctx, workerLogger)

	o.mu.Lock()
	o.active++
	o.mu.Unlock()
	activeTasks.Inc()
	defer func() {
		o.mu.Lock()
		o.active--
		o.mu.Unlock()
		activeTasks.Dec()
	}()

	var hbWG sync.WaitGroup
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbWG.Add(1)
	go o.heartbeat.StartLoop(hbCtx, &hbWG, t.generationID)

	started := time.Now()
	logger.Info("generation started",
		logging.Int("origins", len(t.items)),
		logging.String(logging.FieldEventType, "generation_started"),
	)
	location, err := o.run(ctx, logger, t)
	stopHeartbeat()
	hbWG.Wait()
	elapsed := time.Since(started)
	taskDuration.Observe(elapsed.Seconds())

	if err == nil {
		tasksTotal.WithLabelValues(resultComplete).Inc()
		logger.Info("generation complete",
			logging.String("location", location),
			logging.Duration("duration", elapsed),
			logging.String(logging.FieldEventType, "generation_complete"),
		)
		o.rememberTask(ctx, t.generationID)
		return
	}
	if errors.Is(err, store.ErrGenerationClosed) {
		tasksTotal.WithLabelValues(resultClosed).Inc()
		logger.Info("generation abandoned; record no longer accepts updates",
			logging.String(logging.FieldEventType, "generation_abandoned"),
		)
		return
	}
	o.fail(runCtx, ctx, logger, t, err, elapsed)
}

func (o *Orchestrator) fail(runCtx, taskCtx context.Context, logger *slog.Logger, t task, cause error, elapsed time.Duration) {
	reason := failureReason(runCtx, taskCtx, cause, o.taskTimeout)
	o.setLastError(cause)
	tasksTotal.WithLabelValues(resultFailed).Inc()

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(runCtx), failureWriteTimeout)
	defer cancel()
	if _, err := o.store.FailGeneration(writeCtx, t.generationID, reason); err != nil {
		logger.Error("failed to persist generation failure", logging.Error(err))
	}
	logging.ErrorWithContext(logger, "generation failed", "generation_failed",
		logging.String("reason", reason),
		logging.Duration("duration", elapsed),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, hintFor(cause)),
	)
	o.rememberTask(writeCtx, t.generationID)
}

func failureReason(runCtx, taskCtx context.Context, cause error, timeout time.Duration) string {
	switch {
	case runCtx.Err() != nil:
		return reasonInterrupted
	case errors.Is(taskCtx.Err(), context.DeadlineExceeded), errors.Is(cause, context.DeadlineExceeded):
		return fmt.Sprintf("timed out after %s", timeout)
	}
	return strings.TrimSpace(cause.Error())
}

func hintFor(err error) string {
	switch services.Marker(err) {
	case services.ErrNotFound:
		return "an annotated unit referenced by the mix is missing"
	case services.ErrNormalization:
		return "check the origin's address mappings and the stored capture"
	case services.ErrMerge:
		return "origins must share the same link type"
	case services.ErrStorage:
		return "check free space and permissions of the storage and scratch directories"
	}
	return "check logs for details"
}

func (o *Orchestrator) rememberTask(ctx context.Context, id int64) {
	gen, err := o.store.GetGeneration(ctx, id)
	if err != nil || gen == nil {
		return
	}
	o.mu.Lock()
	o.lastTask = gen
	o.mu.Unlock()
}

// run executes one generation and returns the stored output location.
func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, t task) (string, error) {
	units := make([]*store.AnnotatedUnit, len(t.items))
	for i, item := range t.items {
		au, err := o.store.GetAnnotatedUnit(ctx, item.annotatedUnitID)
		if err != nil {
			return "", err
		}
		if au == nil {
			return "", fmt.Errorf("origin %d: %w: %d", i, annotated.ErrAnnotatedUnitNotFound, item.annotatedUnitID)
		}
		units[i] = au
	}
	if err := o.advance(ctx, t.generationID, store.GenerationValidating, 1); err != nil {
		return "", err
	}

	workDir, err := os.MkdirTemp(o.scratchDir, fmt.Sprintf("generation-%d-", t.generationID))
	if err != nil {
		return "", services.Wrap(services.ErrStorage, "generation", "scratch", "create work directory", err)
	}
	defer os.RemoveAll(workDir)

	mixer := o.merger.NewMixer(filepath.Join(workDir, "merged.pcap"))
	for i, item := range t.items {
		if err := o.mergeOrigin(ctx, workDir, mixer, i, item, units[i]); err != nil {
			return "", err
		}
		progress := mergeProgress(i, len(t.items))
		if err := o.advance(ctx, t.generationID, store.GenerationMerging, progress); err != nil {
			return "", err
		}
		logger.Debug("origin merged",
			logging.Int("origin", i),
			logging.Int64(logging.FieldAnnotatedUnitID, item.annotatedUnitID),
			logging.Int("progress", progress),
		)
	}

	if err := o.advance(ctx, t.generationID, store.GenerationFinalizing, 99); err != nil {
		return "", err
	}
	location, err := o.blobs.PutFile(ctx, mixer.Output(), "pcap")
	if err != nil {
		return "", err
	}
	if err := o.store.CompleteGeneration(ctx, t.generationID, location); err != nil {
		if rmErr := o.blobs.Remove(location); rmErr != nil {
			logger.Warn("failed to remove orphaned output", logging.String("location", location), logging.Error(rmErr))
		}
		return "", err
	}
	return location, nil
}

func (o *Orchestrator) mergeOrigin(ctx context.Context, workDir string, mixer Mixer, index int, item workItem, au *store.AnnotatedUnit) error {
	fetched := filepath.Join(workDir, fmt.Sprintf("origin-%d.pcap", index))
	normalized := filepath.Join(workDir, fmt.Sprintf("origin-%d.normalized.pcap", index))
	defer os.Remove(fetched)
	defer os.Remove(normalized)

	if err := o.blobs.Fetch(ctx, au.FileLocation, fetched); err != nil {
		return fmt.Errorf("origin %d: %w", index, err)
	}
	cfg, err := o.normalizer.PrepareConfiguration(annotated.ToolPairs(item.ipMapping), annotated.ToolPairs(item.macMapping), item.timestamp)
	if err != nil {
		return fmt.Errorf("origin %d: %w", index, err)
	}
	if err := o.normalizer.Normalize(ctx, fetched, normalized, cfg); err != nil {
		return fmt.Errorf("origin %d: %w", index, err)
	}
	if err := mixer.Mix(ctx, normalized); err != nil {
		return fmt.Errorf("origin %d: %w", index, err)
	}
	return nil
}

// advance publishes a running state. A record that refuses the update was
// closed elsewhere (failed, or removed with its mix) and the task stops.
func (o *Orchestrator) advance(ctx context.Context, id int64, state store.GenerationState, progress int) error {
	ok, err := o.store.UpdateGenerationProgress(ctx, id, state, progress)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", store.ErrGenerationClosed, id)
	}
	return nil
}
