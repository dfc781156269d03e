// Package telemetry publishes server events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/ember-project/ember/internal/config"
	"github.com/ember-project/ember/internal/events"
	"github.com/ember-project/ember/internal/util"
)

// Topics, relative to the configured prefix.
const (
	TopicPlayers = "players"
	TopicTick    = "tick"
	TopicStatus  = "status"
)

// ErrDisabled is returned when MQTT is turned off in the configuration.
var ErrDisabled = errors.New("MQTT is disabled")

// MQTTHandler forwards bus events to the broker as JSON messages.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      *config.Config
	eventBus *events.EventBus
	client   mqtt.Client
	prefix   string

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT
	if !mqttCfg.Enabled {
		return nil, ErrDisabled
	}

	sysInfo := util.GetSystemInfo()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("ember-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		// mTLS: load client certificate
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	return newHandler(cfg, eventBus, mqtt.NewClient(opts)), nil
}

func newHandler(cfg *config.Config, eventBus *events.EventBus, client mqtt.Client) *MQTTHandler {
	sysInfo := util.GetSystemInfo()
	prefix := cfg.GetApplicationData().MQTT.Topic
	if prefix == "" {
		prefix = "ember"
	}
	return &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		client:   client,
		prefix:   prefix,
		metadata: map[string]interface{}{
			"hostname": sysInfo.Hostname,
			"os":       sysInfo.OS,
			"server":   cfg.GetServer().Name,
			"world":    cfg.GetServer().WorldID,
		},
	}
}

// Start connects to the broker, publishes bus events until ctx is done and
// then disconnects.
func (h *MQTTHandler) Start(ctx context.Context) error {
	mqttCfg := h.cfg.GetApplicationData().MQTT
	log.Info().
		Str("broker", mqttCfg.BrokerURL).
		Int("port", mqttCfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()
	defer h.unsubscribeEvents()

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

var subscriptions = []struct {
	event events.EventType
	name  string
}{
	{events.EventPlayerLogin, "mqtt.playerLogin"},
	{events.EventPlayerLogout, "mqtt.playerLogout"},
	{events.EventTickOverload, "mqtt.tickOverload"},
	{events.EventPlayersSaved, "mqtt.playersSaved"},
	{events.EventNotifyMQTT, "mqtt.notify"},
}

func (h *MQTTHandler) subscribeEvents() {
	for _, s := range subscriptions {
		h.eventBus.Subscribe(s.event, s.name, h.onEvent)
	}
}

func (h *MQTTHandler) unsubscribeEvents() {
	for _, s := range subscriptions {
		h.eventBus.Unsubscribe(s.event, s.name)
	}
}

// onEvent routes a bus event to its topic.
func (h *MQTTHandler) onEvent(_ context.Context, event events.Event) error {
	switch event.Type {
	case events.EventPlayerLogin, events.EventPlayerLogout:
		h.publish(TopicPlayers, map[string]interface{}{
			"event":   string(event.Type),
			"payload": event.Payload,
		})
	case events.EventTickOverload:
		h.publish(TopicTick, event.Payload)
	case events.EventPlayersSaved:
		h.publish(TopicStatus, map[string]interface{}{
			"event":   string(event.Type),
			"payload": event.Payload,
		})
	case events.EventNotifyMQTT:
		h.publish(TopicStatus, event.Payload)
	}
	return nil
}

// Topic returns the full topic name for a suffix.
func (h *MQTTHandler) Topic(suffix string) string {
	return h.prefix + "/" + suffix
}

// publish sends a JSON message to a topic under the prefix.
func (h *MQTTHandler) publish(suffix string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	topic := h.Topic(suffix)
	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	h.mu.Lock()
	token := h.client.Publish(topic, 1, false, data) // QoS 1
	h.mu.Unlock()
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// PublishShutdown announces the server going down on the status topic.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicStatus, map[string]interface{}{
		"event": "shutdown",
	})
}
