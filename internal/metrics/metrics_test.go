package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest("execute", "ok", 20*time.Millisecond)
	m.ObserveRequest("execute", "policy_violation", time.Millisecond)
	m.ObserveRequest("execute", "ok", time.Millisecond)
	m.AddViolation("column")
	m.ObserveBytesScanned(4096)
	m.SetPolicyVersion(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("execute", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("execute", "policy_violation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.violations.WithLabelValues("column")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.policyVersion))
	assert.Equal(t, 1, testutil.CollectAndCount(m.bytesScanned))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("execute", "ok", time.Second)
		m.AddViolation("table")
		m.ObserveBytesScanned(1)
		m.SetPolicyVersion(1)
	})
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SetPolicyVersion(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "sqlgate_policy_version 7"), body)
}
