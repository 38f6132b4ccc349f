package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	rec := NewRecorder(prometheus.NewRegistry())

	rec.ObserveRequest("getUser", 200, OutcomeRule, 12*time.Millisecond)
	rec.ObserveRequest("getUser", 200, OutcomeRule, 8*time.Millisecond)
	rec.ObserveRequest("", 404, OutcomeNotFound, time.Millisecond)

	families, err := rec.Gatherer().Gather()
	require.NoError(t, err)

	byName := map[string]bool{}
	for _, f := range families {
		byName[f.GetName()] = true
		if f.GetName() == "sandboxd_http_requests_total" {
			var total float64
			for _, m := range f.GetMetric() {
				total += m.GetCounter().GetValue()
			}
			assert.Equal(t, float64(3), total)
		}
	}
	assert.True(t, byName["sandboxd_http_requests_total"])
	assert.True(t, byName["sandboxd_http_request_duration_seconds"])
	assert.True(t, byName["go_goroutines"], "runtime collectors registered")
}

func TestObserveRequestNormalizesLabels(t *testing.T) {
	rec := NewRecorder(prometheus.NewRegistry())
	rec.ObserveRequest("  ", -1, "", time.Millisecond)

	families, err := rec.Gatherer().Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() != "sandboxd_http_requests_total" {
			continue
		}
		labels := map[string]string{}
		for _, l := range f.GetMetric()[0].GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		assert.Equal(t, "unknown", labels["operation"])
		assert.Equal(t, "unknown", labels["status"])
		assert.Equal(t, "unknown", labels["outcome"])
	}
}

func TestHandlerServesExposition(t *testing.T) {
	rec := NewRecorder(prometheus.NewRegistry())
	rec.ObserveRequest("listPets", 200, OutcomeGenerated, time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	rec.Handler().ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "sandboxd_http_requests_total")
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveRequest("x", 200, OutcomeRule, time.Millisecond)

	w := httptest.NewRecorder()
	rec.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 503, w.Code)
}
