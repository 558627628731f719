package events

import "github.com/gxo-labs/converge/pkg/converge/v1/events"

// NoOpEventBus discards every event. It is the engine's default bus.
type NoOpEventBus struct{}

// NewNoOpEventBus creates a NoOpEventBus.
func NewNoOpEventBus() events.Bus {
	return &NoOpEventBus{}
}

func (n *NoOpEventBus) Emit(events.Event) {}

var _ events.Bus = (*NoOpEventBus)(nil)
