// Package telemetry publishes client activity to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchlink/internal/config"
	"github.com/energizer-project/matchlink/internal/events"
	"github.com/energizer-project/matchlink/internal/util"
)

// MQTT topics
const (
	TopicAdmin      = "matchlink/admin"
	TopicState      = "matchlink/client/state"
	TopicRoom       = "matchlink/client/room"
	TopicDisconnect = "matchlink/client/disconnect"
	TopicRegions    = "matchlink/client/regions"
	TopicHeartbeat  = "matchlink/client/heartbeat"
)

// Identity is attached to every published message.
type Identity struct {
	Version   string
	SessionID string
	UserID    string
}

// MQTTHandler manages the MQTT connection and publishes client events.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      *config.Config
	eventBus *events.EventBus
	client   mqtt.Client

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler. It does not connect.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus, id Identity) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		metadata: buildMetadata(sysInfo, id),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(mqttCfg))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("matchlink-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig, err := buildTLSConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)

	return handler, nil
}

func brokerURL(c config.MQTTConfig) string {
	scheme := "tcp"
	if c.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.BrokerURL, c.Port)
}

func buildTLSConfig(c config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in MQTT CA file %s", c.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	// mTLS
	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func buildMetadata(sysInfo util.SystemInfo, id Identity) map[string]interface{} {
	return map[string]interface{}{
		"hostname":    sysInfo.Hostname,
		"os":          sysInfo.OS,
		"cpu_model":   sysInfo.CPUModel,
		"cpu_threads": sysInfo.CPUThreads,
		"memory_mb":   sysInfo.TotalMemory,
		"app_version": id.Version,
		"session_id":  id.SessionID,
		"user_id":     id.UserID,
	}
}

// Start connects to the MQTT broker and publishes bus events until ctx is
// done.
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

	<-ctx.Done()

	for _, t := range publishedEvents {
		h.eventBus.Unsubscribe(t, "mqtt")
	}
	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

var publishedEvents = []events.EventType{
	events.EventStateChanged,
	events.EventDisconnected,
	events.EventRegionsPinged,
	events.EventJoinedRoom,
	events.EventLeftRoom,
	events.EventRoomEntryFailed,
	events.EventPlayerEntered,
	events.EventPlayerLeft,
	events.EventMasterSwitched,
	events.EventHeartbeat,
}

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.SubscribeMany(publishedEvents, "mqtt", h.onEvent)
}

func (h *MQTTHandler) onEvent(_ context.Context, event events.Event) error {
	if topic, payload, ok := route(event); ok {
		h.publish(topic, payload)
	}
	return nil
}

// route maps a bus event to its topic and payload.
func route(event events.Event) (string, interface{}, bool) {
	switch event.Type {
	case events.EventStateChanged:
		return TopicState, event.Payload, true
	case events.EventDisconnected:
		return TopicDisconnect, event.Payload, true
	case events.EventRegionsPinged:
		return TopicRegions, event.Payload, true
	case events.EventHeartbeat:
		return TopicHeartbeat, event.Payload, true
	case events.EventJoinedRoom, events.EventLeftRoom, events.EventRoomEntryFailed,
		events.EventPlayerEntered, events.EventPlayerLeft, events.EventMasterSwitched:
		return TopicRoom, map[string]interface{}{
			"event":   string(event.Type),
			"payload": event.Payload,
		}, true
	}
	return "", nil, false
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
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

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicAdmin, map[string]interface{}{
		"event": "shutdown",
	})
}
