package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Tutor pipeline Prometheus metrics.
var (
	RemoteCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mathtutor",
			Name:      "remote_calls_total",
			Help:      "Total number of calls to the embedding and chat APIs",
		},
		[]string{"operation", "status"},
	)

	RemoteCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mathtutor",
			Name:      "remote_call_duration_seconds",
			Help:      "Embedding and chat API call duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	DocumentsDownloadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mathtutor",
			Name:      "documents_downloaded_total",
			Help:      "Course documents downloaded from the object store",
		},
		[]string{"status"},
	)

	IndexLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mathtutor",
			Name:      "index_loads_total",
			Help:      "Vector index load-or-create outcomes",
		},
		[]string{"result"}, // "cached" / "loaded" / "built" / "empty" / "error"
	)

	RetrievedChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mathtutor",
			Name:      "retrieved_chunks",
			Help:      "Number of chunks returned per retrieval",
			Buckets:   []float64{0, 1, 2, 3, 5, 10},
		},
	)

	StepSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mathtutor",
			Name:      "step_submissions_total",
			Help:      "Step-by-step tutor submissions by outcome",
		},
		[]string{"outcome"},
	)
)

// Register adds every tutor metric to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		RemoteCallsTotal,
		RemoteCallDuration,
		DocumentsDownloadedTotal,
		IndexLoadsTotal,
		RetrievedChunks,
		StepSubmissionsTotal,
	)
}

// ObserveRemoteCall records the outcome and latency of one remote API call.
func ObserveRemoteCall(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	RemoteCallsTotal.WithLabelValues(operation, status).Inc()
	RemoteCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
