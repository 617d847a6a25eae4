package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "traceapi_http_requests_total",
		Help: "HTTP requests by route, method and status code",
	}, []string{"route", "method", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "traceapi_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)
