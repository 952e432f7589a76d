package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Collectors(t *testing.T) {
	m := New()

	m.Transition("engine", nil)
	m.Transition("engine", nil)
	m.Transition("engine", errors.New("boom"))
	m.EngineRunning(true)
	m.Rollback()
	m.EngineRequest("matched")
	m.EngineRequest("forwarded")
	m.EngineRequest("matched")
	m.Recordings(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("engine", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("engine", ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.engineRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rollbacks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.engineRequests.WithLabelValues("matched")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.recordings))

	m.EngineRunning(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.engineRunning))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Transition("engine", nil)
		m.EngineRunning(true)
		m.Rollback()
		m.EngineRequest("matched")
		m.Recordings(1)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Transition("record_missing", nil)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `mockctl_transitions_total{operation="record_missing",result="ok"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	a, b := New(), New()
	a.Rollback()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.rollbacks))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.rollbacks))
}
