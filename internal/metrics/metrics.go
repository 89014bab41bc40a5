// Package metrics exposes Prometheus instrumentation for meli's
// backend and threading operations, following the teacher's
// internal/metrics/metrics.go pattern of promauto-registered
// package-level collectors plus small Record* helpers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Folder load metrics (internal/host.LoadFolder, both backends)
	FolderLoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meli_folder_load_duration_seconds",
		Help:    "Time taken to load a folder's envelopes",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	}, []string{"backend"})

	EnvelopesLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meli_envelopes_loaded_total",
		Help: "Total number of envelopes parsed during folder loads",
	}, []string{"backend"})

	FolderLoadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meli_folder_load_errors_total",
		Help: "Total folder load failures by backend and error kind",
	}, []string{"backend", "kind"})

	// Threading metrics (internal/thread.Build)
	ThreadBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meli_thread_build_duration_seconds",
		Help:    "Time taken to build a thread tree from a folder's envelopes",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	ThreadsBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meli_threads_built_total",
		Help: "Total number of thread-build passes",
	})

	// IMAP connection metrics (internal/imap)
	IMAPReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meli_imap_reconnects_total",
		Help: "Total IMAP reconnect attempts by outcome",
	}, []string{"outcome"}) // "success" or "failure"

	IMAPCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meli_imap_commands_total",
		Help: "Total IMAP commands issued",
	}, []string{"command"})

	IMAPConnectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meli_imap_connection_state",
		Help: "Current IMAP connection state per account (1=connected, 0=disconnected)",
	}, []string{"account"})

	// Sieve metrics (internal/sieve)
	SieveEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meli_sieve_evaluations_total",
		Help: "Total sieve script evaluations by disposition",
	}, []string{"disposition"})

	SieveParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meli_sieve_parse_errors_total",
		Help: "Total sieve script parse failures",
	})

	// Error metrics (internal/merrors)
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meli_errors_total",
		Help: "Total errors by component and kind",
	}, []string{"component", "kind"})
)

// RecordFolderLoad records a folder load's duration and envelope
// count for backend ("maildir" or "imap").
func RecordFolderLoad(backend string, durationSeconds float64, envelopeCount int) {
	FolderLoadDuration.WithLabelValues(backend).Observe(durationSeconds)
	EnvelopesLoaded.WithLabelValues(backend).Add(float64(envelopeCount))
}

// RecordFolderLoadError records a folder load failure.
func RecordFolderLoadError(backend, kind string) {
	FolderLoadErrors.WithLabelValues(backend, kind).Inc()
}

// RecordThreadBuild records one thread.Build pass's duration.
func RecordThreadBuild(durationSeconds float64) {
	ThreadBuildDuration.Observe(durationSeconds)
	ThreadsBuilt.Inc()
}

// RecordIMAPReconnect records the outcome of the single reconnect
// attempt internal/imap's Client.withConn makes after a transient IMAP
// I/O error.
func RecordIMAPReconnect(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	IMAPReconnects.WithLabelValues(outcome).Inc()
}

// SetIMAPConnected reflects an account's current IMAP connection
// state in the gauge.
func SetIMAPConnected(account string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	IMAPConnectionState.WithLabelValues(account).Set(v)
}

// RecordSieveEvaluation records an evaluation's resulting
// disposition ("keep", "discard", "fileinto", "reject", "vacation").
func RecordSieveEvaluation(disposition string) {
	SieveEvaluations.WithLabelValues(disposition).Inc()
}

// RecordError records an error by component and merrors.Kind string.
func RecordError(component, kind string) {
	Errors.WithLabelValues(component, kind).Inc()
}
