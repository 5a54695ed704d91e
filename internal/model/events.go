package model

// Event represents a model lifecycle event.
// Minimal and stable: name plus optional fields.
type Event struct {
	Name   string
	Fields map[string]any
}

// EventPublisher receives events from the resource. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
