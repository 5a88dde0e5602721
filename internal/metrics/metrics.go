// Package metrics holds the Prometheus collectors shared by the backend and
// the live stores. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orderlyflow"

type Metrics struct {
	registry *prometheus.Registry

	changeEventsPublished *prometheus.CounterVec
	realtimeSubscribers   prometheus.Gauge
	storeMerges           *prometheus.CounterVec
	storeFetchFailures    *prometheus.CounterVec
}

// New creates a Metrics backed by a private registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		changeEventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "change_events_published_total",
			Help:      "Change events published to the realtime hub.",
		}, []string{"table", "event"}),
		realtimeSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "subscribers",
			Help:      "Connected realtime subscribers.",
		}),
		storeMerges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "livestore",
			Name:      "merges_total",
			Help:      "Change events that altered a live store.",
		}, []string{"table", "event"}),
		storeFetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "livestore",
			Name:      "fetch_failures_total",
			Help:      "Failed live store fetches.",
		}, []string{"table"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.changeEventsPublished,
		m.realtimeSubscribers,
		m.storeMerges,
		m.storeFetchFailures,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ChangeEventPublished(table, event string) {
	if m == nil {
		return
	}
	m.changeEventsPublished.WithLabelValues(table, event).Inc()
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.realtimeSubscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.realtimeSubscribers.Dec()
}

func (m *Metrics) StoreMerged(table, event string) {
	if m == nil {
		return
	}
	m.storeMerges.WithLabelValues(table, event).Inc()
}

func (m *Metrics) StoreFetchFailed(table string) {
	if m == nil {
		return
	}
	m.storeFetchFailures.WithLabelValues(table).Inc()
}
