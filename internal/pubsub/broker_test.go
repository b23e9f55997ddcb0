package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, ch <-chan Event[T]) Event[T] {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		require.Fail(t, "timeout waiting for event")
		return Event[T]{}
	}
}

func TestBroker_Subscribe(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := broker.Subscribe(ctx)
	broker.Publish(SnapshotSwapped, "hello")

	event := receive(t, ch)
	require.Equal(t, "hello", event.Payload)
	require.Equal(t, SnapshotSwapped, event.Type)
	require.False(t, event.Timestamp.IsZero())
}

func TestBroker_MultipleSubscribers(t *testing.T) {
	broker := NewBroker[int]()
	defer broker.Close()

	ctx := context.Background()
	chans := []<-chan Event[int]{broker.Subscribe(ctx), broker.Subscribe(ctx), broker.Subscribe(ctx)}
	require.Equal(t, 3, broker.SubscriberCount())

	broker.Publish(SnapshotFailed, 42)

	for _, ch := range chans {
		event := receive(t, ch)
		require.Equal(t, 42, event.Payload)
		require.Equal(t, SnapshotFailed, event.Type)
	}
}

func TestBroker_TypeFilter(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx := context.Background()
	swaps := broker.Subscribe(ctx, SnapshotSwapped)
	all := broker.Subscribe(ctx)

	broker.Publish(SnapshotUnchanged, "same")
	broker.Publish(SnapshotSwapped, "new")

	require.Equal(t, "new", receive(t, swaps).Payload)
	require.Equal(t, "same", receive(t, all).Payload)
	require.Equal(t, "new", receive(t, all).Payload)
	require.Empty(t, swaps)
}

func TestBroker_ContextCancellation(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := broker.Subscribe(ctx)
	require.Equal(t, 1, broker.SubscriberCount())

	cancel()
	require.Eventually(t, func() bool { return broker.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)

	_, ok := <-ch
	require.False(t, ok, "channel should be closed")
}

func TestBroker_NonBlocking(t *testing.T) {
	broker := NewBrokerWithBuffer[int](1)
	defer broker.Close()

	ch := broker.Subscribe(context.Background())

	done := make(chan struct{})
	go func() {
		broker.Publish(SnapshotSwapped, 1)
		broker.Publish(SnapshotSwapped, 2)
		broker.Publish(SnapshotSwapped, 3)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "Publish blocked")
	}

	require.Equal(t, 1, receive(t, ch).Payload)
	require.Equal(t, uint64(2), broker.Dropped())
}

func TestBroker_Close(t *testing.T) {
	broker := NewBroker[string]()
	ctx := context.Background()

	ch1 := broker.Subscribe(ctx)
	ch2 := broker.Subscribe(ctx)
	require.Equal(t, 2, broker.SubscriberCount())

	broker.Close()
	broker.Close()

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	require.False(t, ok1)
	require.False(t, ok2)
	require.Equal(t, 0, broker.SubscriberCount())

	_, ok3 := <-broker.Subscribe(ctx)
	require.False(t, ok3, "subscribe after close yields a closed channel")

	broker.Publish(SnapshotSwapped, "ignored")
}

func TestListener_Next(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	l := NewListener(ctx, broker, SnapshotFailed)

	broker.Publish(SnapshotSwapped, "skip")
	broker.Publish(SnapshotFailed, "boom")

	ev, ok := l.Next(ctx)
	require.True(t, ok)
	require.Equal(t, "boom", ev.Payload)

	cancel()
	_, ok = l.Next(ctx)
	require.False(t, ok)
}

func TestListener_NextAfterClose(t *testing.T) {
	broker := NewBroker[int]()
	l := NewListener(context.Background(), broker)
	broker.Close()

	_, ok := l.Next(context.Background())
	require.False(t, ok)
}
