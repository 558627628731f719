package events

import (
	"context"
	"testing"
	"time"

	"github.com/gxo-labs/converge/internal/logger"
	"github.com/gxo-labs/converge/pkg/converge/v1/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelEventBus_DropsWhenFull(t *testing.T) {
	bus := NewChannelEventBus(1, logger.NewDiscardLogger())
	bus.Emit(events.Event{Type: events.TaskStarted})
	bus.Emit(events.Event{Type: events.TaskFinished})

	got := <-bus.GetChannel()
	assert.Equal(t, events.TaskStarted, got.Type)
	select {
	case extra := <-bus.GetChannel():
		t.Fatalf("unexpected event %v", extra.Type)
	default:
	}
}

func TestChannelEventBus_EmitAfterClose(t *testing.T) {
	bus := NewChannelEventBus(4, logger.NewDiscardLogger())
	bus.Close()
	bus.Close()
	assert.NotPanics(t, func() { bus.Emit(events.Event{Type: events.RunFinished}) })
}

func TestMetricsEventListener_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	bus := NewChannelEventBus(16, logger.NewDiscardLogger())
	listener := NewMetricsEventListener(bus, m, logger.NewDiscardLogger())

	done := make(chan struct{})
	go func() {
		listener.Start(context.Background())
		close(done)
	}()

	bus.Emit(events.Event{Type: events.TaskFinished, Payload: map[string]interface{}{"outcome": "changed"}})
	bus.Emit(events.Event{Type: events.TaskFinished, Payload: map[string]interface{}{"outcome": "changed"}})
	bus.Emit(events.Event{Type: events.TaskFinished, Payload: map[string]interface{}{"outcome": "failed"}})
	bus.Emit(events.Event{Type: events.HostFinished, Payload: map[string]interface{}{"failed": true}})
	bus.Emit(events.Event{Type: events.HostFinished, Payload: map[string]interface{}{"failed": false}})
	bus.Emit(events.Event{Type: events.SecretAccessed})
	bus.Emit(events.Event{Type: events.RunFinished, Payload: map[string]interface{}{"mode": "apply", "failed": true}})
	bus.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop after bus close")
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TasksTotal.WithLabelValues("changed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HostsFailedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SecretsAccessed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("apply", "failure")))
}

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}
