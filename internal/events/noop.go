package events

import (
	"context"
	"sync"
)

// NoopPublisher is a Publisher that does nothing (used when NATS is not configured).
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(context.Context, string, any) error { return nil }

func (n *NoopPublisher) Close() error { return nil }

// Published is one event captured by a RecordingPublisher.
type Published struct {
	Topic string
	Event any
}

// RecordingPublisher keeps every published event in memory. It backs the
// in-memory deployment mode and tests that assert on emitted events.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []Published
}

func (r *RecordingPublisher) Publish(_ context.Context, topic string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Published{Topic: topic, Event: event})
	return nil
}

func (r *RecordingPublisher) Close() error { return nil }

// Events returns a copy of the captured events in publish order.
func (r *RecordingPublisher) Events() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Published(nil), r.events...)
}

// Topics returns the captured topics in publish order.
func (r *RecordingPublisher) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Topic
	}
	return out
}
