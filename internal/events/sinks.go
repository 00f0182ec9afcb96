package events

import "sync"

// NopSink drops everything. The engine falls back to it when no sink
// is configured so publish sites never need a nil check.
type NopSink struct{}

// Publish discards the event.
func (NopSink) Publish(Event) {}

// MultiSink fans one event out to several sinks in order.
type MultiSink struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewMultiSink builds a fan-out over the given sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Attach adds a sink to the fan-out.
func (m *MultiSink) Attach(s Sink) {
	if s == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
}

// Publish delivers the event to every attached sink.
func (m *MultiSink) Publish(e Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sinks {
		s.Publish(e)
	}
}

// ChannelSink buffers events on a channel for an external consumer.
// When the buffer is full the oldest event is dropped, never the
// publisher blocked.
type ChannelSink struct {
	ch chan Event
}

// NewChannelSink builds a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Publish enqueues the event, evicting the oldest entry when full.
func (c *ChannelSink) Publish(e Event) {
	for {
		select {
		case c.ch <- e:
			return
		default:
			select {
			case <-c.ch:
			default:
			}
		}
	}
}

// Events exposes the consumer side of the buffer.
func (c *ChannelSink) Events() <-chan Event {
	return c.ch
}

// FuncSink adapts a function to the Sink interface.
type FuncSink func(Event)

// Publish calls the function.
func (f FuncSink) Publish(e Event) { f(e) }
