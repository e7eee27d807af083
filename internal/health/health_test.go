package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/tether/internal/clock"
	"grimm.is/tether/internal/scheduler"
	"grimm.is/tether/internal/transport"
)

func fixed(s Status) CheckFunc {
	return func(context.Context) Check { return Check{Status: s} }
}

func TestChecker_Aggregates(t *testing.T) {
	c := NewChecker(0)
	c.Register("a", fixed(StatusHealthy))
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	c.Register("b", fixed(StatusDegraded))
	assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)

	c.Register("c", fixed(StatusUnhealthy))
	report := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Len(t, report.Checks, 3)
	assert.Equal(t, "b", report.Checks["b"].Name)
}

func TestChecker_Caches(t *testing.T) {
	var calls atomic.Int32
	c := NewChecker(time.Minute)
	c.Register("count", func(context.Context) Check {
		calls.Add(1)
		return Check{Status: StatusHealthy}
	})

	c.Check(context.Background())
	c.Check(context.Background())
	assert.Equal(t, int32(1), calls.Load())
}

func TestHandler(t *testing.T) {
	c := NewChecker(0)
	c.Register("down", fixed(StatusUnhealthy))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusUnhealthy, report.Status)
}

func TestListenersCheck(t *testing.T) {
	tests := []struct {
		name string
		in   []transport.ListenerStatus
		want Status
	}{
		{"both up", []transport.ListenerStatus{
			{Kind: transport.KindPlain, State: transport.StateListening},
			{Kind: transport.KindSecure, State: transport.StateListening},
		}, StatusHealthy},
		{"tls off by config", []transport.ListenerStatus{
			{Kind: transport.KindPlain, State: transport.StateListening},
			{Kind: transport.KindSecure, State: transport.StateDisabled},
		}, StatusHealthy},
		{"cert failure", []transport.ListenerStatus{
			{Kind: transport.KindPlain, State: transport.StateListening},
			{Kind: transport.KindSecure, State: transport.StateDisabled, LastError: "boom"},
		}, StatusDegraded},
		{"retrying", []transport.ListenerStatus{
			{Kind: transport.KindPlain, State: transport.StateRetrying},
			{Kind: transport.KindSecure, State: transport.StateListening},
		}, StatusDegraded},
		{"nothing up", []transport.ListenerStatus{
			{Kind: transport.KindPlain, State: transport.StateFailed},
			{Kind: transport.KindSecure, State: transport.StateDisabled},
		}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := ListenersCheck(func() []transport.ListenerStatus { return tt.in })(context.Background())
			assert.Equal(t, tt.want, check.Status, check.Message)
		})
	}
}

func TestCertificateAndClientChecks(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, StatusDegraded, CertificateCheck(true, func() string { return "" })(ctx).Status)
	assert.Equal(t, StatusHealthy, CertificateCheck(true, func() string { return "AB:CD" })(ctx).Status)
	assert.Equal(t, StatusHealthy, CertificateCheck(false, nil)(ctx).Status)

	check := ClientsCheck(func() (int, int) { return 3, 2 })(ctx)
	assert.Equal(t, "3 connected, 2 ready", check.Message)

	assert.Equal(t, StatusHealthy, DataDirCheck(t.TempDir())(ctx).Status)
}

func TestChecker_CacheExpiresWithClock(t *testing.T) {
	mock := clock.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var calls atomic.Int32
	c := NewChecker(2 * time.Second)
	c.SetClock(mock)
	c.Register("count", func(context.Context) Check {
		calls.Add(1)
		return Check{Status: StatusHealthy}
	})

	c.Check(context.Background())
	mock.Advance(time.Second)
	c.Check(context.Background())
	assert.Equal(t, int32(1), calls.Load())

	mock.Advance(2 * time.Second)
	report := c.Check(context.Background())
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, mock.Now(), report.Timestamp)
}

func TestStatus_Worse(t *testing.T) {
	assert.Equal(t, StatusDegraded, StatusHealthy.Worse(StatusDegraded))
	assert.Equal(t, StatusUnhealthy, StatusUnhealthy.Worse(StatusDegraded))
	assert.Equal(t, StatusHealthy, StatusHealthy.Worse(StatusHealthy))
}

func TestReport_Names(t *testing.T) {
	r := Report{Checks: map[string]Check{"tasks": {}, "clients": {}, "listeners": {}}}
	assert.Equal(t, []string{"clients", "listeners", "tasks"}, r.Names())
}

func TestTasksCheck(t *testing.T) {
	ctx := context.Background()
	ok := TasksCheck(func() []scheduler.TaskStatus {
		return []scheduler.TaskStatus{{ID: "liveness-sweep"}, {ID: "status-publish"}}
	})(ctx)
	assert.Equal(t, StatusHealthy, ok.Status)
	assert.Equal(t, "2 task(s) ok", ok.Message)

	bad := TasksCheck(func() []scheduler.TaskStatus {
		return []scheduler.TaskStatus{{ID: "status-publish", LastError: "boom"}}
	})(ctx)
	assert.Equal(t, StatusDegraded, bad.Status)
	assert.Equal(t, "status-publish: boom", bad.Message)
}
