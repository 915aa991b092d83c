// Package observability exposes Driver activity as Prometheus metrics.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crawlkeep/crawlkeep/internal/driver"
	"github.com/crawlkeep/crawlkeep/internal/scrapeerr"
	"github.com/crawlkeep/crawlkeep/internal/store"
	"github.com/crawlkeep/crawlkeep/internal/validate"
)

// Metrics tracks run-level counters and gauges in a private registry, so
// that multiple Metrics instances (one per test, one per scraper) never
// collide on prometheus's default global registry.
type Metrics struct {
	registry *prometheus.Registry
	logger   *slog.Logger

	RequestsCompleted prometheus.Counter
	RequestsFailed    prometheus.Counter
	RequestsRetried   *prometheus.CounterVec // labeled by error kind

	ItemsStored  prometheus.Counter
	ItemsInvalid prometheus.Counter

	StructuralErrors prometheus.Counter
	ArchivedFiles    prometheus.Counter
	ArchivedBytes    prometheus.Counter

	ActiveWorkers prometheus.Gauge
	PendingQueue  prometheus.Gauge
	CurrentRate   prometheus.Gauge

	RunsStarted  prometheus.Counter
	RunsFinished *prometheus.CounterVec // labeled by final status
}

// New builds a Metrics instance with its own registry.
func New(logger *slog.Logger) *Metrics {
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		logger:   logger.With("component", "observability"),

		RequestsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "crawlkeep_requests_completed_total",
			Help: "Total requests that completed successfully.",
		}),
		RequestsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "crawlkeep_requests_failed_total",
			Help: "Total requests marked permanently failed after exhausting their transient-error retries.",
		}),
		RequestsRetried: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crawlkeep_requests_retried_total",
			Help: "Total retry decisions, labeled by the error kind that triggered them.",
		}, []string{"kind"}),

		ItemsStored: f.NewCounter(prometheus.CounterOpts{
			Name: "crawlkeep_items_stored_total",
			Help: "Total parsed data items persisted to the result store.",
		}),
		ItemsInvalid: f.NewCounter(prometheus.CounterOpts{
			Name: "crawlkeep_items_invalid_total",
			Help: "Total parsed data items that failed deferred schema validation.",
		}),

		StructuralErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "crawlkeep_structural_errors_total",
			Help: "Total structural errors raised by continuations (selector count assumptions).",
		}),
		ArchivedFiles: f.NewCounter(prometheus.CounterOpts{
			Name: "crawlkeep_archived_files_total",
			Help: "Total binary payloads written to the archive directory.",
		}),
		ArchivedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "crawlkeep_archived_bytes_total",
			Help: "Total bytes written to the archive directory.",
		}),

		ActiveWorkers: f.NewGauge(prometheus.GaugeOpts{
			Name: "crawlkeep_active_workers",
			Help: "Current number of live worker goroutines.",
		}),
		PendingQueue: f.NewGauge(prometheus.GaugeOpts{
			Name: "crawlkeep_pending_queue_depth",
			Help: "Approximate number of pending requests last reported by the pool monitor.",
		}),
		CurrentRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "crawlkeep_rate_limiter_tokens_per_second",
			Help: "Current adaptive token bucket rate limiter rate.",
		}),

		RunsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "crawlkeep_runs_started_total",
			Help: "Total runs started.",
		}),
		RunsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crawlkeep_runs_finished_total",
			Help: "Total runs finished, labeled by final status.",
		}, []string{"status"}),
	}
}

// Handler returns the http.Handler serving this instance's registry in
// Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer exposes the metrics handler and a liveness endpoint on
// port, returning the *http.Server so the caller can shut it down.
func (m *Metrics) StartServer(port int, path string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	m.logger.Info("metrics server starting", "addr", srv.Addr, "path", path)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("metrics server error", "error", err)
		}
	}()
	return srv
}

// Shutdown stops a server started by StartServer.
func (m *Metrics) Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}

// Wrap composes cb with metric-recording hooks for every event Metrics
// tracks, leaving cb's own callbacks to run as well. Pass the result to
// driver.New.
func (m *Metrics) Wrap(cb driver.Callbacks) driver.Callbacks {
	wrapped := cb

	userOnData := cb.OnData
	wrapped.OnData = func(data any) {
		m.ItemsStored.Inc()
		if userOnData != nil {
			userOnData(data)
		}
	}

	userOnInvalidData := cb.OnInvalidData
	wrapped.OnInvalidData = func(deferred *validate.Deferred) {
		m.ItemsInvalid.Inc()
		if userOnInvalidData != nil {
			userOnInvalidData(deferred)
		}
	}

	userOnStructuralError := cb.OnStructuralError
	wrapped.OnStructuralError = func(err *scrapeerr.Error) bool {
		m.StructuralErrors.Inc()
		if userOnStructuralError != nil {
			return userOnStructuralError(err)
		}
		return false
	}

	userOnTransient := cb.OnTransientException
	wrapped.OnTransientException = func(err *scrapeerr.Error, retryCount int, permanent bool) {
		if permanent {
			m.RequestsFailed.Inc()
		} else {
			m.RequestsRetried.WithLabelValues(err.Kind.String()).Inc()
		}
		if userOnTransient != nil {
			userOnTransient(err, retryCount, permanent)
		}
	}

	userOnArchive := cb.OnArchive
	wrapped.OnArchive = func(file *store.ArchivedFile) {
		m.ArchivedFiles.Inc()
		m.ArchivedBytes.Add(float64(file.FileSize))
		if userOnArchive != nil {
			userOnArchive(file)
		}
	}

	userOnRunStart := cb.OnRunStart
	wrapped.OnRunStart = func(runID string) {
		m.RunsStarted.Inc()
		if userOnRunStart != nil {
			userOnRunStart(runID)
		}
	}

	userOnRunComplete := cb.OnRunComplete
	wrapped.OnRunComplete = func(runID string, status store.RunStatus) {
		m.RunsFinished.WithLabelValues(string(status)).Inc()
		if userOnRunComplete != nil {
			userOnRunComplete(runID, status)
		}
	}

	userOnProgress := cb.OnProgress
	wrapped.OnProgress = func(ev driver.ProgressEvent) {
		switch ev.Type {
		case driver.EventRequestCompleted:
			m.RequestsCompleted.Inc()
		case driver.EventWorkerScaled:
			m.ActiveWorkers.Set(float64(ev.Active))
			m.PendingQueue.Set(float64(ev.Pending))
			m.CurrentRate.Set(ev.Rate)
		}
		if userOnProgress != nil {
			userOnProgress(ev)
		}
	}

	return wrapped
}
