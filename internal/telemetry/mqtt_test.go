package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ember-project/ember/internal/config"
	"github.com/ember-project/ember/internal/events"
)

type doneToken struct {
	mqtt.Token
}

func (doneToken) Wait() bool   { return true }
func (doneToken) Error() error { return nil }

type published struct {
	topic string
	body  map[string]interface{}
}

// fakeClient records publishes. Methods the handler does not call are left
// to the embedded nil interface.
type fakeClient struct {
	mqtt.Client

	mu        sync.Mutex
	connected bool
	messages  []published
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	var body map[string]interface{}
	_ = json.Unmarshal(payload.([]byte), &body)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, body: body})
	return doneToken{}
}

func (c *fakeClient) published() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

func TestNewMQTTHandlerDisabled(t *testing.T) {
	_, err := NewMQTTHandler(config.DefaultConfig(), events.NewEventBus())
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestEventsAreRoutedToTopics(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	client := &fakeClient{}
	h := newHandler(config.DefaultConfig(), bus, client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Start(ctx) }()
	require.Eventually(t, client.IsConnected, time.Second, 5*time.Millisecond)
	// Subscriptions happen right after connecting.
	require.Eventually(t, func() bool {
		bus.Emit(ctx, events.Event{Type: events.EventTickOverload, Payload: events.TickOverloadPayload{Tick: 9}})
		bus.Wait()
		return len(client.published()) > 0
	}, time.Second, 5*time.Millisecond)

	bus.Emit(ctx, events.Event{Type: events.EventPlayerLogin, Payload: events.PlayerPayload{Username: "alice"}})
	bus.Emit(ctx, events.Event{Type: events.EventNotifyMQTT, Payload: events.NotifyPayload{Title: "heartbeat"}})
	bus.Wait()

	cancel()
	require.NoError(t, <-done)

	msgs := client.published()
	topics := map[string]int{}
	for _, m := range msgs {
		topics[m.topic]++
		assert.Contains(t, m.body, "timestamp")
		assert.Equal(t, "Ember", m.body["server"])
	}
	assert.Positive(t, topics["ember/tick"])
	assert.Equal(t, 1, topics["ember/players"])
	// The heartbeat plus the shutdown notice.
	assert.Equal(t, 2, topics["ember/status"])

	var login published
	for _, m := range msgs {
		if m.topic == "ember/players" {
			login = m
		}
	}
	require.NotNil(t, login.body)
	event, ok := login.body["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "player_login", event["event"])
}

func TestPublishSkipsWhenDisconnected(t *testing.T) {
	client := &fakeClient{}
	h := newHandler(config.DefaultConfig(), events.NewEventBus(), client)

	h.publish(TopicStatus, "hello")
	assert.Empty(t, client.published())
	assert.Equal(t, "ember/status", h.Topic(TopicStatus))
}
