// Package metrics exposes the registry's prometheus instruments.
//
// Every method is safe on a nil *Metrics so that components built without
// metrics (tests, the CLI) do not need to special-case it.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "discoveryd"

type Metrics struct {
	registry *prometheus.Registry

	servicesAdded   prometheus.Counter
	servicesRemoved prometheus.Counter
	duplicates      prometheus.Counter
	invalidURLs     prometheus.Counter
	revivals        prometheus.Counter
	requests        *prometheus.CounterVec
	selectionMisses *prometheus.CounterVec
	saves           *prometheus.CounterVec
	loads           *prometheus.CounterVec
	hostsLearned    prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New builds a Metrics instance with its own registry, so several instances
// can coexist in one process.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.servicesAdded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "registry", Name: "services_added_total",
		Help: "Services accepted into the registry",
	})
	m.servicesRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "registry", Name: "services_removed_total",
		Help: "Services removed from the registry",
	})
	m.duplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "registry", Name: "duplicates_rejected_total",
		Help: "Add attempts rejected as duplicates",
	})
	m.invalidURLs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "registry", Name: "invalid_urls_total",
		Help: "Add attempts rejected by URL validation",
	})
	m.revivals = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "selection", Name: "revivals_total",
		Help: "Zero-rated services revived by the selection engine",
	})
	m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "requests", Name: "total",
		Help: "Service requests by operation and result",
	}, []string{"op", "result"})
	m.selectionMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "selection", Name: "misses_total",
		Help: "Selections that found no eligible service",
	}, []string{"op"})
	m.saves = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "persistence", Name: "saves_total",
		Help: "Synchronous saves by result",
	}, []string{"result"})
	m.loads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "persistence", Name: "loads_total",
		Help: "Loads by source file",
	}, []string{"source"})
	m.hostsLearned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "requests", Name: "hosts_learned_total",
		Help: "Hosts returned by discovery services",
	})
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "api", Name: "requests_total",
		Help: "Admin API requests",
	}, []string{"method", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "api", Name: "request_duration_seconds",
		Help:    "Admin API request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
	}, []string{"method"})

	m.registry.MustRegister(
		m.servicesAdded, m.servicesRemoved, m.duplicates, m.invalidURLs, m.revivals,
		m.requests, m.selectionMisses, m.saves, m.loads, m.hostsLearned,
		m.httpRequests, m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterServicesGauge publishes the live service count computed by fn.
func (m *Metrics) RegisterServicesGauge(fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "registry", Name: "services",
		Help: "Services currently held by the registry",
	}, fn))
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the underlying registry, mostly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) ServiceAdded() {
	if m != nil {
		m.servicesAdded.Inc()
	}
}

func (m *Metrics) ServiceRemoved() {
	if m != nil {
		m.servicesRemoved.Inc()
	}
}

func (m *Metrics) DuplicateRejected() {
	if m != nil {
		m.duplicates.Inc()
	}
}

func (m *Metrics) InvalidURL() {
	if m != nil {
		m.invalidURLs.Inc()
	}
}

func (m *Metrics) Revival() {
	if m != nil {
		m.revivals.Inc()
	}
}

func (m *Metrics) Request(op, result string) {
	if m != nil {
		m.requests.WithLabelValues(op, result).Inc()
	}
}

func (m *Metrics) SelectionMiss(op string) {
	if m != nil {
		m.selectionMisses.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Save(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.saves.WithLabelValues(result).Inc()
}

func (m *Metrics) Load(source string) {
	if m != nil {
		m.loads.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) HostsLearned(n int) {
	if m != nil && n > 0 {
		m.hostsLearned.Add(float64(n))
	}
}

func (m *Metrics) HTTPRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}
