// Package metric provides the Prometheus instrumentation for the scene
// synchronization engine: connection lifecycle, control requests, metadata
// flow, scene broadcasts, and store events.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all engine-level metrics. A nil *Metrics is valid
// everywhere: record helpers are no-ops so components never need a guard.
type Metrics struct {
	// Connection metrics
	ConnectionsActive *prometheus.GaugeVec
	HandshakesTotal   *prometheus.CounterVec

	// Control protocol metrics
	RequestsTotal    *prometheus.CounterVec
	CodecErrorsTotal prometheus.Counter

	// Streaming metrics
	MetadataSendsTotal *prometheus.CounterVec
	ScenePublishes     prometheus.Counter

	// Store metrics
	StoreEventsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all engine metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "scenesync",
				Subsystem: "connections",
				Name:      "active",
				Help:      "Number of registered connections by type",
			},
			[]string{"type"},
		),

		HandshakesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scenesync",
				Subsystem: "connections",
				Name:      "handshakes_total",
				Help:      "Total handshake attempts by role and outcome",
			},
			[]string{"role", "outcome"},
		),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scenesync",
				Subsystem: "control",
				Name:      "requests_total",
				Help:      "Total control requests by kind and status",
			},
			[]string{"kind", "status"},
		),

		CodecErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "scenesync",
				Subsystem: "control",
				Name:      "codec_errors_total",
				Help:      "Total frames rejected by the codec",
			},
		),

		MetadataSendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scenesync",
				Subsystem: "metadata",
				Name:      "sends_total",
				Help:      "Total metadata uploads by status",
			},
			[]string{"status"},
		),

		ScenePublishes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "scenesync",
				Subsystem: "scene",
				Name:      "publishes_total",
				Help:      "Total scene snapshot broadcasts",
			},
		),

		StoreEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scenesync",
				Subsystem: "store",
				Name:      "events_total",
				Help:      "Total store events fired by event name",
			},
			[]string{"event"},
		),
	}
}

// Collectors returns every metric for bulk registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectionsActive,
		m.HandshakesTotal,
		m.RequestsTotal,
		m.CodecErrorsTotal,
		m.MetadataSendsTotal,
		m.ScenePublishes,
		m.StoreEventsTotal,
	}
}

// RecordConnectionAdded increments the active connection gauge
func (m *Metrics) RecordConnectionAdded(connType string) {
	if m == nil {
		return
	}
	m.ConnectionsActive.WithLabelValues(connType).Inc()
}

// RecordConnectionRemoved decrements the active connection gauge
func (m *Metrics) RecordConnectionRemoved(connType string) {
	if m == nil {
		return
	}
	m.ConnectionsActive.WithLabelValues(connType).Dec()
}

// RecordHandshake increments the handshake counter
func (m *Metrics) RecordHandshake(role, outcome string) {
	if m == nil {
		return
	}
	m.HandshakesTotal.WithLabelValues(role, outcome).Inc()
}

// RecordRequest increments the control request counter
func (m *Metrics) RecordRequest(kind, status string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(kind, status).Inc()
}

// RecordCodecError increments the codec rejection counter
func (m *Metrics) RecordCodecError() {
	if m == nil {
		return
	}
	m.CodecErrorsTotal.Inc()
}

// RecordMetadataSend increments the metadata upload counter
func (m *Metrics) RecordMetadataSend(status string) {
	if m == nil {
		return
	}
	m.MetadataSendsTotal.WithLabelValues(status).Inc()
}

// RecordScenePublish increments the scene broadcast counter
func (m *Metrics) RecordScenePublish() {
	if m == nil {
		return
	}
	m.ScenePublishes.Inc()
}

// RecordStoreEvent increments the store event counter
func (m *Metrics) RecordStoreEvent(event string) {
	if m == nil {
		return
	}
	m.StoreEventsTotal.WithLabelValues(event).Inc()
}
