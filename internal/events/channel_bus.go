package events

import (
	"sync"

	"github.com/gxo-labs/converge/pkg/converge/v1/events"
	convergelog "github.com/gxo-labs/converge/pkg/converge/v1/log"
)

// ChannelEventBus implements events.Bus with a buffered channel. Emit never
// blocks: when the buffer is full the event is dropped and a warning logged.
type ChannelEventBus struct {
	channel chan events.Event
	log     convergelog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewChannelEventBus creates a bus. A non-positive bufferSize selects 256.
func NewChannelEventBus(bufferSize int, log convergelog.Logger) *ChannelEventBus {
	const defaultBufferSize = 256
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if log == nil {
		panic("ChannelEventBus requires a non-nil logger")
	}
	return &ChannelEventBus{
		channel: make(chan events.Event, bufferSize),
		log:     log.With("component", "ChannelEventBus"),
	}
}

// Emit publishes event without blocking. Events emitted after Close are
// discarded.
func (c *ChannelEventBus) Emit(event events.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.channel <- event:
	default:
		c.log.Warnf("Event channel buffer full, dropping event type '%s'", event.Type)
	}
}

// GetChannel returns the channel consumers read from.
func (c *ChannelEventBus) GetChannel() <-chan events.Event {
	return c.channel
}

// Close closes the channel. It is safe to call more than once.
func (c *ChannelEventBus) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.channel)
}

var _ events.Bus = (*ChannelEventBus)(nil)
