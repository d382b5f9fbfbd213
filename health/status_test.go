package health

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name    string
		status  Status
		state   string
		healthy bool
	}{
		{"healthy", NewHealthy("ingest", "ok"), StateHealthy, true},
		{"degraded", NewDegraded("ingest", "slow"), StateDegraded, false},
		{"unhealthy", NewUnhealthy("ingest", "down"), StateUnhealthy, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, "ingest", tt.status.Component)
			assert.Equal(t, tt.state, tt.status.Status)
			assert.Equal(t, tt.healthy, tt.status.Healthy)
			assert.False(t, tt.status.Timestamp.IsZero())
		})
	}
}

func TestAggregate(t *testing.T) {
	h := NewHealthy("a", "")
	d := NewDegraded("b", "")
	u := NewUnhealthy("c", "")

	assert.True(t, Aggregate("sys", nil).IsHealthy())
	assert.True(t, Aggregate("sys", []Status{h, h}).IsHealthy())
	assert.True(t, Aggregate("sys", []Status{h, d}).IsDegraded())
	assert.True(t, Aggregate("sys", []Status{h, d, u}).IsUnhealthy())

	subs := []Status{h, u}
	agg := Aggregate("sys", subs)
	subs[0].Message = "mutated"
	assert.Empty(t, agg.SubStatuses[0].Message, "aggregate keeps its own copy")
}

func TestFromError(t *testing.T) {
	assert.True(t, FromError("transport", nil).IsHealthy())

	s := FromError("transport", errors.New("dial nats://user:pw@10.0.0.4:4222 failed"))
	assert.True(t, s.IsUnhealthy())
	assert.NotContains(t, s.Message, "10.0.0.4")
	assert.NotContains(t, s.Message, "pw@")
	assert.Contains(t, s.Message, "[URL]")
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		contains string
		absent   string
	}{
		{"empty", "", "", ""},
		{"http url", "GET http://publisher:8900/get_announcement_id refused", "[URL]", "publisher:8900"},
		{"unix path", "open /var/lib/semtrust/readings.json: permission denied", "[PATH]", "/var/lib"},
		{"ip", "connect 192.168.1.20 refused", "[IP]", "192.168.1.20"},
		{"passphrase", "backup passphrase=hunter2 rejected", "[REDACTED]", "hunter2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := sanitizeErrorMessage(tt.in)
			if tt.in == "" {
				assert.Empty(t, out)
				return
			}
			assert.Contains(t, out, tt.contains)
			assert.NotContains(t, out, tt.absent)
		})
	}
}
