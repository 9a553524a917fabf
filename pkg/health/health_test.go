package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusUpdateMarksUnhealthyAfterRetriesExceeded(t *testing.T) {
	cfg := Config{Retries: 2}
	s := NewStatus("apic1.example.com")

	s.Update(Result{Healthy: false, CheckedAt: time.Now()}, cfg)
	assert.True(t, s.Healthy, "should stay healthy before reaching Retries")

	s.Update(Result{Healthy: false, CheckedAt: time.Now()}, cfg)
	assert.False(t, s.Healthy)
}

func TestStatusUpdateRecoversOnSuccess(t *testing.T) {
	cfg := Config{Retries: 1}
	s := NewStatus("apic1.example.com")

	s.Update(Result{Healthy: false, CheckedAt: time.Now()}, cfg)
	assert.False(t, s.Healthy)

	s.Update(Result{Healthy: true, CheckedAt: time.Now()}, cfg)
	assert.True(t, s.Healthy)
	assert.Equal(t, 0, s.ConsecutiveFailures)
}

func TestMonitorHealthyIsANDAcrossHosts(t *testing.T) {
	m := NewMonitor(DefaultConfig(), []string{"a", "b"})
	assert.True(t, m.Healthy())

	m.statuses["b"].Update(Result{Healthy: false}, Config{Retries: 1})
	assert.False(t, m.Healthy())
}

func TestProbeUnreachableHostReportsUnhealthy(t *testing.T) {
	res := Probe(context.Background(), "127.0.0.1:1", 50*time.Millisecond)
	assert.False(t, res.Healthy)
	assert.NotEmpty(t, res.Message)
}
