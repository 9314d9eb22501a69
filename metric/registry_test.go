package metric

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	// None of these may panic
	m.RecordConnectionAdded("input")
	m.RecordConnectionRemoved("input")
	m.RecordHandshake("input", "ok")
	m.RecordRequest("new_connection", "ok")
	m.RecordCodecError()
	m.RecordMetadataSend("ok")
	m.RecordScenePublish()
	m.RecordStoreEvent("input_added")
}

func TestConnectionGauge(t *testing.T) {
	m := NewMetrics()

	m.RecordConnectionAdded("input")
	m.RecordConnectionAdded("input")
	m.RecordConnectionAdded("monitoring")
	m.RecordConnectionRemoved("input")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsActive.WithLabelValues("input")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsActive.WithLabelValues("monitoring")))
}

func TestCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordRequest("close_connection", "ok")
	m.RecordRequest("close_connection", "error")
	m.RecordRequest("close_connection", "ok")
	m.RecordScenePublish()
	m.RecordStoreEvent("input_updated")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("close_connection", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("close_connection", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScenePublishes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreEventsTotal.WithLabelValues("input_updated")))
}

func TestRegistryHandlerServesMetrics(t *testing.T) {
	registry := NewRegistry()
	registry.Metrics().RecordScenePublish()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "scenesync_scene_publishes_total")
}
