package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitReachesSubscribers(t *testing.T) {
	bus := NewEventBus()
	var got atomic.Int32
	bus.Subscribe(EventPlayerLogin, "a", func(ctx context.Context, e Event) error {
		p := e.Payload.(PlayerPayload)
		got.Add(int32(p.Index))
		return nil
	})
	bus.Subscribe(EventPlayerLogin, "b", func(ctx context.Context, e Event) error {
		got.Add(100)
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventPlayerLogin, Payload: PlayerPayload{Index: 3}})
	bus.Wait()

	assert.Equal(t, int32(103), got.Load())
	assert.Equal(t, uint64(1), bus.Emitted())
	assert.Equal(t, 2, bus.HandlerCount(EventPlayerLogin))
}

func TestEmitSyncReturnsError(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("boom")
	bus.Subscribe(EventTickOverload, "fails", func(ctx context.Context, e Event) error { return boom })
	bus.Subscribe(EventTickOverload, "panics", func(ctx context.Context, e Event) error { panic("x") })

	err := bus.EmitSync(context.Background(), Event{Type: EventTickOverload})
	assert.ErrorIs(t, err, boom)
}

func TestUnsubscribeAndStop(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32
	bus.Subscribe(EventShutdown, "x", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})
	bus.Unsubscribe(EventShutdown, "x")
	bus.Emit(context.Background(), Event{Type: EventShutdown})
	bus.Wait()
	assert.Zero(t, calls.Load())

	bus.Stop()
	bus.Stop()
	select {
	case <-bus.StopCh():
	default:
		require.Fail(t, "stop channel not closed")
	}
	assert.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventShutdown}))
}

func TestSubscriberSeesEmitOrder(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var got []int
	bus.Subscribe(EventPlayerLogin, "order", func(ctx context.Context, e Event) error {
		got = append(got, e.Payload.(PlayerPayload).Index)
		return nil
	})

	for i := range 50 {
		bus.Emit(context.Background(), Event{Type: EventPlayerLogin, Payload: PlayerPayload{Index: i}})
	}
	bus.Wait()

	require.Len(t, got, 50)
	for i, idx := range got {
		assert.Equal(t, i, idx)
	}
}

func TestFullMailboxDropsWithoutBlocking(t *testing.T) {
	bus := NewEventBusSize(1)
	release := make(chan struct{})
	var handled atomic.Int32
	bus.Subscribe(EventTickOverload, "slow", func(ctx context.Context, e Event) error {
		<-release
		handled.Add(1)
		return nil
	})
	var fast atomic.Int32
	bus.Subscribe(EventTickOverload, "fast", func(ctx context.Context, e Event) error {
		fast.Add(1)
		return nil
	})

	// The slow handler holds one event and buffers one; the rest are dropped.
	for range 10 {
		bus.Emit(context.Background(), Event{Type: EventTickOverload})
	}
	close(release)
	bus.Wait()

	assert.LessOrEqual(t, handled.Load(), int32(2))
	assert.Positive(t, handled.Load())
	assert.Positive(t, fast.Load())
	bus.Stop()
}

func TestDisconnectCauseJSON(t *testing.T) {
	data, err := CauseIdleTimeout.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"idle_timeout"`, string(data))
	assert.Equal(t, "unknown", DisconnectCause(99).String())
}
