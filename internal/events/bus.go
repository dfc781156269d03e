package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/ember-project/ember/internal/metrics"
)

// DefaultMailboxSize is how many undelivered events a subscriber may have
// before further ones are dropped.
const DefaultMailboxSize = 256

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus delivers events to subscribers asynchronously. Every subscriber
// has its own mailbox and goroutine, so it sees events in emit order and a
// slow one (MQTT publishing, for instance) only delays itself. Emit never
// blocks: when a mailbox is full the event is dropped for that subscriber
// and counted.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]*subscriber
	mailboxSize int
	stopCh      chan struct{}
	stopped     bool

	pending sync.WaitGroup // queued but not yet handled
	workers sync.WaitGroup // subscriber goroutines
	emitted atomic.Uint64
}

type delivery struct {
	ctx   context.Context
	event Event
}

type subscriber struct {
	name    string
	handler HandlerFunc
	mailbox chan delivery
}

// NewEventBus creates a bus with DefaultMailboxSize mailboxes.
func NewEventBus() *EventBus {
	return NewEventBusSize(DefaultMailboxSize)
}

// NewEventBusSize creates a bus whose subscribers buffer up to size events.
func NewEventBusSize(size int) *EventBus {
	if size < 1 {
		size = 1
	}
	return &EventBus{
		subscribers: make(map[EventType][]*subscriber),
		mailboxSize: size,
		stopCh:      make(chan struct{}),
	}
}

// Subscribe registers a handler for an event type. The name identifies the
// handler in logs, metrics and Unsubscribe.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.stopped {
		return
	}

	sub := &subscriber{
		name:    name,
		handler: handler,
		mailbox: make(chan delivery, eb.mailboxSize),
	}
	eb.subscribers[eventType] = append(eb.subscribers[eventType], sub)

	eb.workers.Add(1)
	go eb.deliver(eventType, sub)

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes a named handler. Events already in its mailbox are
// still delivered.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[eventType]
	kept := subs[:0]
	for _, s := range subs {
		if s.name == name {
			close(s.mailbox)
			continue
		}
		kept = append(kept, s)
	}
	eb.subscribers[eventType] = kept

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("unsubscribed from event")
}

// Emit queues an event for every subscriber of its type.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}

	subs := eb.subscribers[event.Type]
	if len(subs) == 0 {
		return
	}
	eb.emitted.Add(1)

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(subs)).
		Msg("emitting event")

	for _, s := range subs {
		eb.pending.Add(1)
		select {
		case s.mailbox <- delivery{ctx: ctx, event: event}:
		default:
			eb.pending.Done()
			metrics.EventsDroppedTotal.WithLabelValues(string(event.Type), s.name).Inc()
			log.Warn().
				Str("event", string(event.Type)).
				Str("handler", s.name).
				Msg("subscriber mailbox full, event dropped")
		}
	}
}

// EmitSync runs every handler for the event on the caller's goroutine, in
// subscription order, and returns the first error.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return nil
	}
	subs := append([]*subscriber(nil), eb.subscribers[event.Type]...)
	eb.mu.RUnlock()

	var firstErr error
	for _, s := range subs {
		if err := s.call(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (eb *EventBus) deliver(eventType EventType, s *subscriber) {
	defer eb.workers.Done()
	for d := range s.mailbox {
		_ = s.call(d.ctx, d.event)
		eb.pending.Done()
	}
	log.Trace().Str("event", string(eventType)).Str("handler", s.name).Msg("subscriber stopped")
}

// call runs the handler, logging its error or panic.
func (s *subscriber) call(ctx context.Context, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", s.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = s.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", s.name).
			Msg("handler returned error")
	}
	return err
}

// Stop refuses further events, lets every subscriber drain its mailbox and
// waits for them.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	for t, subs := range eb.subscribers {
		for _, s := range subs {
			close(s.mailbox)
		}
		delete(eb.subscribers, t)
	}
	eb.mu.Unlock()

	eb.workers.Wait()
	log.Info().Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers registered for an event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers[eventType])
}

// Wait blocks until every event queued so far has been handled.
func (eb *EventBus) Wait() {
	eb.pending.Wait()
}

// Emitted returns how many events reached at least one subscriber's
// mailbox queue.
func (eb *EventBus) Emitted() uint64 {
	return eb.emitted.Load()
}
