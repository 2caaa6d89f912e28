// Package metrics exposes Prometheus collectors for the page cache and the
// render pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var renderBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

type Metrics struct {
	registry *prometheus.Registry

	cacheLookups       *prometheus.CounterVec
	cacheWrites        *prometheus.CounterVec
	renders            *prometheus.CounterVec
	renderDuration     prometheus.Histogram
	invalidations      *prometheus.CounterVec
	invalidatedEntries prometheus.Counter
	pendingWrites      prometheus.Gauge
}

func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Output cache lookups by result (hit, miss, error)",
			},
			[]string{"result"},
		),

		cacheWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_writes_total",
				Help:      "Output cache writes by result (ok, error, dropped)",
			},
			[]string{"result"},
		),

		renders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "renders_total",
				Help:      "Page renders by final state",
			},
			[]string{"state"},
		),

		renderDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "render_duration_ms",
				Help:      "Render engine latency in milliseconds",
				Buckets:   renderBuckets,
			},
		),

		invalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalidations_total",
				Help:      "Tag invalidations by result (ok, error, skipped)",
			},
			[]string{"result"},
		),

		invalidatedEntries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalidated_entries_total",
				Help:      "Cache entries removed by tag invalidation",
			},
		),

		pendingWrites: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_pending_writes",
				Help:      "Background cache writes in flight",
			},
		),
	}

	registry.MustRegister(
		m.cacheLookups,
		m.cacheWrites,
		m.renders,
		m.renderDuration,
		m.invalidations,
		m.invalidatedEntries,
		m.pendingWrites,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheWrite(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cacheWrites.WithLabelValues(result).Inc()
}

// CacheWriteDropped counts a background write skipped because every write
// slot was busy.
func (m *Metrics) CacheWriteDropped() {
	if m == nil {
		return
	}
	m.cacheWrites.WithLabelValues("dropped").Inc()
}

func (m *Metrics) WriteStarted() {
	if m == nil {
		return
	}
	m.pendingWrites.Inc()
}

func (m *Metrics) WriteFinished() {
	if m == nil {
		return
	}
	m.pendingWrites.Dec()
}

func (m *Metrics) Render(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.renders.WithLabelValues(state).Inc()
	if d > 0 {
		m.renderDuration.Observe(float64(d.Milliseconds()))
	}
}

func (m *Metrics) Invalidation(result string, removed int) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(result).Inc()
	if removed > 0 {
		m.invalidatedEntries.Add(float64(removed))
	}
}
