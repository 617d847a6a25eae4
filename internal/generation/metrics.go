package generation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "traceapi_generation_tasks_total",
		Help: "Generation tasks by result",
	}, []string{"result"})

	taskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "traceapi_generation_duration_seconds",
		Help:    "Wall time of finished generation tasks",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7m
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "traceapi_generation_queue_depth",
		Help: "Generation tasks waiting for a worker",
	})

	activeTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "traceapi_generation_active",
		Help: "Generation tasks currently running",
	})

	reclaimedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "traceapi_generation_reclaimed_total",
		Help: "Generation records failed because no worker owned them",
	}, []string{"reason"})
)

const (
	resultComplete = "complete"
	resultFailed   = "failed"
	resultRejected = "rejected"
	resultClosed   = "closed"
)
