// Package metrics exposes the Prometheus counters and histograms the
// scheduler, ingest endpoint, and HTTP service increment.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dayline_jobs_started_total",
		Help: "Number of jobs dispatched by the scheduler, by kind.",
	}, []string{"kind"})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dayline_jobs_finished_total",
		Help: "Number of jobs that reached a terminal state, by kind and state.",
	}, []string{"kind", "state"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dayline_job_duration_seconds",
		Help:    "Job execution duration in seconds, by kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	IngestRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dayline_ingest_requests_total",
		Help: "Device ingest requests, by stream kind and outcome.",
	}, []string{"stream_kind", "outcome"})

	IngestRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dayline_ingest_records_total",
		Help: "Device ingest records, by stream kind and disposition (accepted/rejected).",
	}, []string{"stream_kind", "disposition"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dayline_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds, by route and status class.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status_class"})
)

// InstrumentHandler wraps an http.Handler, recording HTTPRequestDuration for
// every request under the route label the caller passes in.
func InstrumentHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		HTTPRequestDuration.WithLabelValues(route, statusClass(rec.status)).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
