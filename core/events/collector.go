package events

import "sync"

// Collector is an Emitter that records every event it receives. It backs the
// RPC event feed and is the capture mechanism used throughout the engine
// tests.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (c *Collector) Emit(evt Event) {
	if c == nil || evt == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

// Events returns a snapshot of the collected events in emission order.
func (c *Collector) Events() []Event {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Reset discards all collected events.
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// Tee forwards every event to each of the wrapped emitters, skipping nil
// entries. The daemon uses it to feed both the metrics recorder and the RPC
// feed from a single engine emitter.
type Tee []Emitter

// Emit implements the Emitter interface.
func (t Tee) Emit(evt Event) {
	for _, emitter := range t {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
