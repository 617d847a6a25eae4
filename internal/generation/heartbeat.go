package generation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"traceapi/internal/logging"
	"traceapi/internal/store"
)

// HeartbeatMonitor refreshes heartbeats of running generations and fails
// records whose heartbeat stopped.
type HeartbeatMonitor struct {
	store             *store.Store
	logger            *slog.Logger
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(st *store.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:             st,
		logger:            logger,
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
	}
}

// ReclaimStale fails running records without a recent heartbeat, skipping
// the ids in exclude.
func (h *HeartbeatMonitor) ReclaimStale(ctx context.Context, exclude []int64) (int64, error) {
	if h.heartbeatTimeout <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-h.heartbeatTimeout)
	reclaimed, err := h.store.FailStaleGenerations(ctx, cutoff, reasonStale, exclude...)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		reclaimedTotal.WithLabelValues(reasonStale).Add(float64(reclaimed))
		h.logger.Warn("failed stale generations",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldEventType, "generation_reclaimed"),
			logging.String(logging.FieldErrorHint, "another process stopped updating these generations"),
		)
	}
	return reclaimed, nil
}

// ReclaimLoop runs ReclaimStale every heartbeat timeout until ctx ends.
func (h *HeartbeatMonitor) ReclaimLoop(ctx context.Context, exclude func() []int64) {
	if h.heartbeatTimeout <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(h.heartbeatTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.ReclaimStale(ctx, exclude()); err != nil && !errors.Is(err, context.Canceled) {
				h.logger.Warn("reclaim stale generations failed; stuck records may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "generation_reclaim_failed"),
					logging.String(logging.FieldErrorHint, "check database access"),
				)
			}
		}
	}
}

// StartLoop touches the generation's heartbeat until ctx is cancelled.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, generationID int64) {
	defer wg.Done()
	if h.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String(logging.FieldComponent, "generation-heartbeat")))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.TouchGeneration(ctx, generationID); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Debug("heartbeat update cancelled")
				} else {
					logger.Warn("heartbeat update failed", logging.Error(err))
				}
			}
		}
	}
}
