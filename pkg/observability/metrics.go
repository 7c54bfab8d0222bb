package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the access core. Everything
// registers on a private registry so tests can create as many instances as
// they like without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	// Access evaluator
	AccessChecksTotal    *prometheus.CounterVec
	AccessCheckDuration  *prometheus.HistogramVec
	AccessCheckFailures  *prometheus.CounterVec

	// Cache
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheErrorsTotal *prometheus.CounterVec

	// Invalidation
	InvalidationsTotal *prometheus.CounterVec

	// Lifecycle services
	GrantsTotal      *prometheus.CounterVec
	RevocationsTotal *prometheus.CounterVec

	// Event bus
	EventsPublished    *prometheus.CounterVec
	EventsHandled      *prometheus.CounterVec
	EventHandlerErrors *prometheus.CounterVec
}

// NewMetrics creates and registers all instruments on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		AccessChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "araponga_access_checks_total",
				Help: "Total authorization checks by query and outcome",
			},
			[]string{"query", "outcome"},
		),
		AccessCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "araponga_access_check_duration_seconds",
				Help:    "Authorization check duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"query"},
		),
		AccessCheckFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "araponga_access_check_failures_total",
				Help: "Authorization checks that failed with a backend error",
			},
			[]string{"query"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "araponga_cache_hits_total",
				Help: "Cache hits by query",
			},
			[]string{"query"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "araponga_cache_misses_total",
				Help: "Cache misses by query",
			},
			[]string{"query"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "araponga_cache_errors_total",
				Help: "Cache backend errors treated as misses",
			},
			[]string{"operation"},
		),

		InvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "araponga_cache_invalidations_total",
				Help: "Cache key invalidations by triggering event",
			},
			[]string{"event"},
		),

		GrantsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "araponga_grants_total",
				Help: "Grant operations by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		RevocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "araponga_revocations_total",
				Help: "Revoke operations by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "araponga_events_published_total",
				Help: "Domain events published to the bus",
			},
			[]string{"event"},
		),
		EventsHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "araponga_events_handled_total",
				Help: "Domain events handled successfully",
			},
			[]string{"event"},
		),
		EventHandlerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "araponga_event_handler_errors_total",
				Help: "Event handler failures",
			},
			[]string{"event"},
		),
	}

	registry.MustRegister(
		m.AccessChecksTotal,
		m.AccessCheckDuration,
		m.AccessCheckFailures,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheErrorsTotal,
		m.InvalidationsTotal,
		m.GrantsTotal,
		m.RevocationsTotal,
		m.EventsPublished,
		m.EventsHandled,
		m.EventHandlerErrors,
	)

	return m
}

// Handler returns the HTTP handler serving this registry in Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
