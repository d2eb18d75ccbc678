package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/logflow/dfgflow/pkg/errors"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Metrics holds the Prometheus collectors for discovery runs.
type Metrics struct {
	Registry *prometheus.Registry

	EventsIngested    prometheus.Counter
	RowsSkipped       prometheus.Counter
	Discoveries       *prometheus.CounterVec
	DiscoveryDuration *prometheus.HistogramVec
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	HTTPRequests      *prometheus.CounterVec
	RateLimited       prometheus.Counter
}

// NewMetrics registers the dfgflow collectors on a fresh registry along with
// the Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		EventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dfgflow",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total number of events read from event logs.",
		}),
		RowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dfgflow",
			Subsystem: "ingest",
			Name:      "rows_skipped_total",
			Help:      "Rows dropped under the skip error policy.",
		}),
		Discoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dfgflow",
			Subsystem: "discovery",
			Name:      "runs_total",
			Help:      "Discovery runs by engine and outcome.",
		}, []string{"engine", "outcome"}), // outcome: ok, invalid_input, error, cached
		DiscoveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dfgflow",
			Subsystem: "discovery",
			Name:      "duration_seconds",
			Help:      "Wall time of discovery runs, measured by the caller.",
			Buckets:   durationBuckets,
		}, []string{"engine"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dfgflow",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Result cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dfgflow",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Result cache misses.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dfgflow",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dfgflow",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected with 429.",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EventsIngested,
		m.RowsSkipped,
		m.Discoveries,
		m.DiscoveryDuration,
		m.CacheHits,
		m.CacheMisses,
		m.HTTPRequests,
		m.RateLimited,
	)
	return m
}

// ObserveDiscovery records one discovery run.
func (m *Metrics) ObserveDiscovery(engine string, elapsed time.Duration, err error) {
	m.Discoveries.WithLabelValues(engine, Outcome(err)).Inc()
	if err == nil {
		m.DiscoveryDuration.WithLabelValues(engine).Observe(elapsed.Seconds())
	}
}

// ObserveCache records a cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// Outcome classifies a discovery error for the runs_total label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.IsInvalidInput(err):
		return "invalid_input"
	default:
		return "error"
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
