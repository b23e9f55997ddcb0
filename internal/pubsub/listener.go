package pubsub

import "context"

// Listener wraps a subscription for callers that pull events one at a time.
type Listener[T any] struct {
	ch <-chan Event[T]
}

// NewListener subscribes to broker. The subscription ends with ctx.
func NewListener[T any](ctx context.Context, broker *Broker[T], types ...EventType) *Listener[T] {
	return &Listener[T]{ch: broker.Subscribe(ctx, types...)}
}

// Next blocks until an event arrives. ok is false once ctx is done or the
// subscription has been closed.
func (l *Listener[T]) Next(ctx context.Context) (Event[T], bool) {
	select {
	case <-ctx.Done():
		return Event[T]{}, false
	case ev, ok := <-l.ch:
		return ev, ok
	}
}
