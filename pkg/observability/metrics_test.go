package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	require.NotNil(t, metrics)

	metrics.HashQueriesTotal.WithLabelValues("remote-hub", "ok").Inc()
	metrics.HashQueriesTotal.WithLabelValues("remote-hub", "ok").Inc()
	metrics.CatalogRecords.Set(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.HashQueriesTotal.WithLabelValues("remote-hub", "ok")))
	assert.Equal(t, 7.0, testutil.ToFloat64(metrics.CatalogRecords))
}

func TestNewMetrics_DoubleRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)
	assert.Panics(t, func() { NewMetrics(registry) })
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.InvalidationsTotal.Inc()

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "modhub_cache_invalidations_total 1")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSync("local-hub", "cache", 0)
		m.ObserveHashQuery("remote-hub", nil)
		m.ObserveCacheFallback("remote-hub", "hash-failed")
		m.ObserveTombstones("remote-hub", 3)
		m.ObserveLoad("source", "updated", 0)
		m.ObserveInvalidation()
		m.SetCatalogRecords(1)
		m.SetBuildReferences(1)
	})
}

func TestMetrics_ObserveHelpers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveHashQuery("remote-hub", nil)
	m.ObserveHashQuery("remote-hub", assert.AnError)
	m.ObserveTombstones("remote-hub", 2)
	m.ObserveTombstones("remote-hub", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HashQueriesTotal.WithLabelValues("remote-hub", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HashQueriesTotal.WithLabelValues("remote-hub", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TombstonesDropped.WithLabelValues("remote-hub")))
}
