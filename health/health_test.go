package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromConnection(t *testing.T) {
	tests := []struct {
		state    string
		expected string
	}{
		{StateConnected, "healthy"},
		{StateConnecting, "degraded"},
		{StateDisconnected, "unhealthy"},
		{"bogus", "unhealthy"},
	}

	for _, test := range tests {
		t.Run(test.state, func(t *testing.T) {
			status := FromConnection("db1", test.state, "")
			assert.Equal(t, test.expected, status.Status)
			assert.Equal(t, "db1", status.Component)
		})
	}
}

func TestFromConnection_SanitizesError(t *testing.T) {
	status := FromConnection("lgr", StateDisconnected, "dial nats://10.0.0.4:4222 failed password=hunter2")
	assert.NotContains(t, status.Message, "10.0.0.4")
	assert.NotContains(t, status.Message, "hunter2")
	assert.Contains(t, status.Message, "[URL]")
}

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "", sanitizeErrorMessage(""))
	assert.Equal(t, "open [PATH]: no such file", sanitizeErrorMessage("open /data/logger/a.dat: no such file"))
	assert.Equal(t, "host [IP] down", sanitizeErrorMessage("host 192.168.1.100 down"))
}

func TestAggregate(t *testing.T) {
	assert.True(t, Aggregate("x", nil).IsHealthy())

	degraded := Aggregate("x", []Status{NewHealthy("a", ""), NewDegraded("b", "")})
	assert.True(t, degraded.IsDegraded())
	assert.Len(t, degraded.SubStatuses, 2)

	assert.Equal(t, "degraded: b", degraded.Message)

	unhealthy := Aggregate("x", []Status{NewDegraded("a", ""), NewUnhealthy("b", ""), NewUnhealthy("c", "")})
	assert.True(t, unhealthy.IsUnhealthy())
	assert.False(t, unhealthy.Healthy)
	assert.Equal(t, "unhealthy: b, c", unhealthy.Message)

	healthy := Aggregate("x", []Status{NewHealthy("a", ""), NewHealthy("b", "")})
	assert.True(t, healthy.Healthy)
	assert.Equal(t, "all 2 healthy", healthy.Message)
}

func TestStatus_WithSubStatusDoesNotShare(t *testing.T) {
	base := NewHealthy("root", "").WithSubStatus(NewHealthy("a", ""))
	first := base.WithSubStatus(NewHealthy("b", ""))
	second := base.WithSubStatus(NewHealthy("c", ""))

	assert.Equal(t, "b", first.SubStatuses[1].Component)
	assert.Equal(t, "c", second.SubStatuses[1].Component)
}

func TestMonitor(t *testing.T) {
	m := NewMonitor()
	m.Update("zeta", FromConnection("ignored", StateConnected, ""))
	m.Update("alpha", FromConnection("alpha", StateConnecting, ""))

	status, ok := m.Get("zeta")
	require.True(t, ok)
	assert.Equal(t, "zeta", status.Component)
	assert.False(t, status.Timestamp.IsZero())

	agg := m.AggregateHealth("lgraccess")
	assert.True(t, agg.IsDegraded())
	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "alpha", agg.SubStatuses[0].Component)

	m.Remove("alpha")
	assert.Equal(t, 1, m.Count())
	assert.True(t, m.AggregateHealth("lgraccess").IsHealthy())
}

func TestHandler(t *testing.T) {
	m := NewMonitor()
	m.Update("db1", FromConnection("db1", StateDisconnected, ""))

	rec := httptest.NewRecorder()
	Handler(func() Status { return m.AggregateHealth("lgraccess") }).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var decoded Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, "unhealthy", decoded.Status)

	m.Update("db1", FromConnection("db1", StateConnected, ""))
	rec = httptest.NewRecorder()
	Handler(func() Status { return m.AggregateHealth("lgraccess") }).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
