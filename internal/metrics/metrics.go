package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the dispatcher.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Dispatch metrics
	DispatchTotal       *prometheus.CounterVec
	DispatchDuration    *prometheus.HistogramVec
	DispatchErrorsTotal *prometheus.CounterVec
	DuplicatesTotal     *prometheus.CounterVec

	// Provider metrics
	ProviderCallDuration *prometheus.HistogramVec

	// Tool cache metrics
	ToolCacheLookupsTotal *prometheus.CounterVec
	ToolCacheFetchesTotal *prometheus.CounterVec

	// Dedup metrics
	DedupLeasesActive prometheus.Gauge

	// Audit metrics
	AuditWriteDuration      prometheus.Histogram
	AuditWriteFailuresTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgate_dispatch_total",
				Help: "Total number of tool call dispatches by final outcome",
			},
			[]string{"tool_name", "outcome"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolgate_dispatch_duration_seconds",
				Help:    "End to end duration of tool call dispatches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool_name"},
		),
		DispatchErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgate_dispatch_errors_total",
				Help: "Total number of failed dispatches by error kind",
			},
			[]string{"tool_name", "error_kind"},
		),
		DuplicatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgate_duplicates_suppressed_total",
				Help: "Total number of tool calls answered from a sibling or recent execution",
			},
			[]string{"tool_name"},
		),

		ProviderCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolgate_provider_call_duration_seconds",
				Help:    "Duration of provider executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider_id", "status"},
		),

		ToolCacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgate_tool_cache_lookups_total",
				Help: "Tool discovery cache lookups by result",
			},
			[]string{"provider_id", "result"},
		),
		ToolCacheFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgate_tool_cache_fetches_total",
				Help: "Tool discovery fetches against providers by status",
			},
			[]string{"provider_id", "status"},
		),

		DedupLeasesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "toolgate_dedup_leases_active",
				Help: "Number of fingerprints currently executing",
			},
		),

		AuditWriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "toolgate_audit_write_duration_seconds",
				Help:    "Duration of execution record writes in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		AuditWriteFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "toolgate_audit_write_failures_total",
				Help: "Total number of execution records that could not be written",
			},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.DispatchTotal)
	m.registry.MustRegister(m.DispatchDuration)
	m.registry.MustRegister(m.DispatchErrorsTotal)
	m.registry.MustRegister(m.DuplicatesTotal)

	m.registry.MustRegister(m.ProviderCallDuration)

	m.registry.MustRegister(m.ToolCacheLookupsTotal)
	m.registry.MustRegister(m.ToolCacheFetchesTotal)

	m.registry.MustRegister(m.DedupLeasesActive)

	m.registry.MustRegister(m.AuditWriteDuration)
	m.registry.MustRegister(m.AuditWriteFailuresTotal)
}

// ObserveDispatch records the final outcome of one dispatch.
func (m *Metrics) ObserveDispatch(toolName, outcome, errorKind string, duplicate bool, d time.Duration) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(toolName, outcome).Inc()
	m.DispatchDuration.WithLabelValues(toolName).Observe(d.Seconds())
	if errorKind != "" {
		m.DispatchErrorsTotal.WithLabelValues(toolName, errorKind).Inc()
	}
	if duplicate {
		m.DuplicatesTotal.WithLabelValues(toolName).Inc()
	}
}

// ObserveProviderCall records one provider execution.
func (m *Metrics) ObserveProviderCall(providerID string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ProviderCallDuration.WithLabelValues(providerID, status).Observe(d.Seconds())
}

// CacheLookup records a tool cache hit or miss.
func (m *Metrics) CacheLookup(providerID string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ToolCacheLookupsTotal.WithLabelValues(providerID, result).Inc()
}

// CacheFetch records a discovery fetch.
func (m *Metrics) CacheFetch(providerID string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ToolCacheFetchesTotal.WithLabelValues(providerID, status).Inc()
}

// LeaseAcquired increments the active lease gauge.
func (m *Metrics) LeaseAcquired() {
	if m == nil {
		return
	}
	m.DedupLeasesActive.Inc()
}

// LeaseReleased decrements the active lease gauge.
func (m *Metrics) LeaseReleased() {
	if m == nil {
		return
	}
	m.DedupLeasesActive.Dec()
}

// ObserveAuditWrite records one execution record write.
func (m *Metrics) ObserveAuditWrite(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.AuditWriteDuration.Observe(d.Seconds())
	if err != nil {
		m.AuditWriteFailuresTotal.Inc()
	}
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
