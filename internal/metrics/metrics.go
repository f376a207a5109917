// Package metrics provides Prometheus metrics for pagesnap.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts cache lookups by outcome (hit, miss).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagesnap",
			Name:      "cache_lookups_total",
			Help:      "Total number of screenshot cache lookups",
		},
		[]string{"outcome"},
	)

	// Captures counts capture requests by status and error code.
	Captures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagesnap",
			Name:      "captures_total",
			Help:      "Total number of capture requests",
		},
		[]string{"status", "code"},
	)

	// StageDuration measures render and encode stages.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pagesnap",
			Name:      "stage_duration_seconds",
			Help:      "Duration of capture stages in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"stage"},
	)

	// CacheAvailable tracks cache backend connectivity.
	CacheAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pagesnap",
			Name:      "cache_available",
			Help:      "Cache backend status (1 = available, 0 = unavailable)",
		},
	)
)

func RecordCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	CacheLookups.WithLabelValues(outcome).Inc()
}

// RecordCapture records a finished request. code is empty on success.
func RecordCapture(code string) {
	status := "ok"
	if code != "" {
		status = "error"
	}
	CaptureTotal(status, code).Inc()
}

// CaptureTotal returns the capture counter for a status and code.
func CaptureTotal(status, code string) prometheus.Counter {
	return Captures.WithLabelValues(status, code)
}

func ObserveStage(stage string, started time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}

// SetCacheAvailable records cache connectivity.
func SetCacheAvailable(available bool) {
	if available {
		CacheAvailable.Set(1)
		return
	}
	CacheAvailable.Set(0)
}
