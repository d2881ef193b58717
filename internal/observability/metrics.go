// Package observability holds the process metrics exposed on /metrics.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timetable",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Pipeline runs by terminal status.",
	}, []string{"status"})

	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "timetable",
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a pipeline run from read to settle.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	RecordsExtracted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "timetable",
		Subsystem: "pipeline",
		Name:      "records_extracted_total",
		Help:      "Activity records produced by the structurer.",
	})

	RegionsDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "timetable",
		Subsystem: "pipeline",
		Name:      "regions_detected_total",
		Help:      "Table regions accepted by the detector.",
	})

	LayoutRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "timetable",
		Subsystem: "pipeline",
		Name:      "layout_rejected_total",
		Help:      "Regions whose day axis could not be resolved.",
	})

	CellWarnings = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "timetable",
		Subsystem: "pipeline",
		Name:      "cell_warnings_total",
		Help:      "Per-cell problems reported while structuring.",
	})

	OrchestrationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "timetable",
		Subsystem: "orchestrate",
		Name:      "duration_seconds",
		Help:      "Time from dispatch to response, labeled by outcome.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"outcome"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timetable",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route pattern and status code.",
	}, []string{"route", "code"})

	JanitorExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "timetable",
		Subsystem: "janitor",
		Name:      "sources_expired_total",
		Help:      "Pending sources marked failed after their run was abandoned.",
	})
)

func init() {
	prometheus.MustRegister(RunsTotal, RunDuration, RecordsExtracted, RegionsDetected, LayoutRejected,
		CellWarnings, OrchestrationDuration, HTTPRequests, JanitorExpired)
}

func Handler() http.Handler { return promhttp.Handler() }

// ObserveRun records one settled pipeline run.
func ObserveRun(status string, started time.Time) {
	RunsTotal.WithLabelValues(status).Inc()
	RunDuration.Observe(time.Since(started).Seconds())
}

func ObserveRequest(route string, code int) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
