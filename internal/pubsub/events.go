// Package pubsub provides a generic publish/subscribe event system.
package pubsub

import (
	"context"
	"time"
)

// EventType names the kind of event being published.
type EventType string

const (
	// LogEntry carries a formatted log line.
	LogEntry EventType = "log"
	// SnapshotSwapped is published when a new repository snapshot goes live.
	SnapshotSwapped EventType = "snapshot.swapped"
	// SnapshotUnchanged is published when a refresh kept the current snapshot.
	SnapshotUnchanged EventType = "snapshot.unchanged"
	// SnapshotFailed is published when a refresh could not load its source.
	SnapshotFailed EventType = "snapshot.failed"
)

// Event is a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context, types ...EventType) <-chan Event[T]
}

// Publisher publishes events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
