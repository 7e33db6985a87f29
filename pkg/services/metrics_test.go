package services

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerServesRegistry(t *testing.T) {
	m := NewMetrics()
	m.QueriesTotal.WithLabelValues("ok").Inc()
	m.ServiceHealthy.WithLabelValues("vector_store").Set(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "zerorag_queries_total")
	assert.Contains(t, body, "zerorag_service_healthy")
}

func TestMetricsRegistriesAreIndependent(t *testing.T) {
	// Two instances must not collide on registration.
	a := NewMetrics()
	b := NewMetrics()
	a.QueriesTotal.WithLabelValues("ok").Inc()
	b.QueriesTotal.WithLabelValues("ok").Inc()
}
