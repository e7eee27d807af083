package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Recorders(t *testing.T) {
	r := NewIsolated()

	r.RecordInit(10*time.Millisecond, nil)
	r.RecordInit(0, errors.New("boom"))
	r.RecordBroadcast("rules-update", 100, 3)
	r.RecordRestart("plain", nil)
	r.RecordRestart("plain", errors.New("in use"))
	r.SetListenerUp("secure", true)
	r.RecordRecording("start", "disabled")
	r.RecordDiagRequest("plain", "/ping", http.StatusOK)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.InitFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Broadcasts.WithLabelValues("rules-update")))
	assert.Equal(t, 300.0, testutil.ToFloat64(r.BroadcastBytes.WithLabelValues("rules-update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ListenerRestarts.WithLabelValues("plain", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ListenerRestarts.WithLabelValues("plain", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ListenerUp.WithLabelValues("secure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RecordingRequests.WithLabelValues("start", "disabled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.DiagRequests.WithLabelValues("plain", "/ping", "200")))
}

func TestRegistry_NilSafe(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.RecordInit(time.Second, nil)
		r.RecordBroadcast("x", 1, 1)
		r.SetListenerUp("plain", false)
	})
}

func TestRegistry_Handler(t *testing.T) {
	r := NewIsolated()
	r.IdleEvictions.Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tether_idle_evictions_total 1")
}
