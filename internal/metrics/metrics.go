// Package metrics provides Prometheus metrics for the ingestion pipeline.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"swapi-archive/internal/service"
)

const namespace = "swapi"

// Run statuses recorded by RecordRun.
const (
	StatusSuccess    = "success"
	StatusEmpty      = "empty"
	StatusInProgress = "in_progress"
	StatusFailed     = "failed"
)

// Metrics holds the pipeline collectors. It implements service.Observer.
type Metrics struct {
	// PagesFetched counts listing pages read.
	PagesFetched prometheus.Counter

	// EntitiesResolved counts characters fully assembled and resolved,
	// including ones later dropped as invalid or duplicate. LastPersisted
	// holds what was stored.
	EntitiesResolved prometheus.Counter

	// RunsTotal counts ingestion runs by status.
	RunsTotal *prometheus.CounterVec

	// RunDuration tracks successful run duration in seconds.
	RunDuration prometheus.Histogram

	// LastPersisted is the size of the most recently persisted snapshot.
	LastPersisted prometheus.Gauge

	// LastDropped is the number of entities dropped by the most recent run.
	LastDropped prometheus.Gauge

	// FetchesTotal counts outbound requests by outcome.
	FetchesTotal *prometheus.CounterVec

	// FetchDuration tracks outbound request duration by outcome.
	FetchDuration *prometheus.HistogramVec

	reg prometheus.Registerer
}

// New registers the pipeline collectors with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PagesFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "pages_fetched_total",
			Help:      "Total number of listing pages fetched",
		}),
		EntitiesResolved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "entities_resolved_total",
			Help:      "Total number of characters assembled and resolved, before invalid or duplicate records are dropped",
		}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Total number of ingestion runs by status",
		}, []string{"status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "run_duration_seconds",
			Help:      "Duration of successful ingestion runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 900},
		}),
		LastPersisted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "last_persisted_records",
			Help:      "Number of records persisted by the last successful run",
		}),
		LastDropped: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "last_dropped_records",
			Help:      "Number of entities dropped by the last successful run",
		}),
		FetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound requests by outcome",
		}, []string{"outcome"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		reg: reg,
	}
}

// WatchGate exposes the number of held admission slots as a gauge.
func (m *Metrics) WatchGate(inFlight func() int) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http_client",
		Name:      "gate_in_flight",
		Help:      "Number of admission gate slots currently held",
	}, func() float64 { return float64(inFlight()) })
}

// OnPageFetched implements service.Observer.
func (m *Metrics) OnPageFetched(int) {
	m.PagesFetched.Inc()
}

// OnEntityResolved implements service.Observer.
func (m *Metrics) OnEntityResolved(int64) {
	m.EntitiesResolved.Inc()
}

// ObserveFetch records one outbound request. Its signature matches
// client.ResponseHook.
func (m *Metrics) ObserveFetch(outcome string, d time.Duration) {
	m.FetchesTotal.WithLabelValues(outcome).Inc()
	m.FetchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordRun records the outcome of one ingestion run.
func (m *Metrics) RecordRun(result *service.RunResult, err error) {
	switch {
	case errors.Is(err, service.ErrNothingDiscovered):
		m.RunsTotal.WithLabelValues(StatusEmpty).Inc()
	case errors.Is(err, service.ErrRunInProgress):
		m.RunsTotal.WithLabelValues(StatusInProgress).Inc()
	case err != nil || result == nil:
		m.RunsTotal.WithLabelValues(StatusFailed).Inc()
	default:
		m.RunsTotal.WithLabelValues(StatusSuccess).Inc()
		m.RunDuration.Observe(result.Duration().Seconds())
		m.LastPersisted.Set(float64(result.Persisted))
		m.LastDropped.Set(float64(result.Dropped))
	}
}

// Instrument wraps r so that every run outcome is recorded.
func (m *Metrics) Instrument(r service.Runner) service.Runner {
	return instrumentedRunner{runner: r, metrics: m}
}

type instrumentedRunner struct {
	runner  service.Runner
	metrics *Metrics
}

func (r instrumentedRunner) Run(ctx context.Context) (*service.RunResult, error) {
	result, err := r.runner.Run(ctx)
	r.metrics.RecordRun(result, err)
	return result, err
}

var _ service.Observer = (*Metrics)(nil)
