// Package telemetry publishes lobby events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/multisnake-project/multisnake/internal/config"
	"github.com/multisnake-project/multisnake/internal/events"
	"github.com/multisnake-project/multisnake/internal/util"
)

// MQTT topics
const (
	TopicPlayer       = "lobby/player"
	TopicGame         = "lobby/game"
	TopicStatus       = "lobby/status"
	TopicManagerAdmin = "manager/admin"
)

// AppVersion is reported in the metadata of every message.
const AppVersion = "1.0.0"

// ErrDisabled is returned by NewMQTTHandler when MQTT is switched off.
var ErrDisabled = errors.New("MQTT is disabled")

const subscriberName = "mqtt"

var playerEvents = []events.EventType{
	events.EventPlayerLogin,
	events.EventPlayerLoginRejected,
	events.EventPlayerReady,
	events.EventPlayerLogout,
}

// brokerClient is the part of mqtt.Client the handler uses.
type brokerClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTHandler manages the MQTT connection and publishes telemetry events.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   brokerClient

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

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("multisnake-%s", sysInfo.Hostname))
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

	return newHandler(mqttCfg, eventBus, mqtt.NewClient(opts), sysInfo), nil
}

func newHandler(cfg config.MQTTConfig, eventBus *events.EventBus, client brokerClient, sysInfo util.SystemInfo) *MQTTHandler {
	return &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		client:   client,
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"platform":    sysInfo.OS,
			"cpu_model":   sysInfo.CPUModel,
			"cpu_cores":   sysInfo.CPUCores,
			"memory_mb":   sysInfo.TotalMemory,
			"app_version": AppVersion,
		},
	}
}

// Start connects to the MQTT broker and publishes lobby events until ctx
// is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
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

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.SubscribeMany(playerEvents, subscriberName, h.onPlayer)
	h.eventBus.Subscribe(events.EventGameStart, subscriberName, h.onGameStart)
	h.eventBus.Subscribe(events.EventLobbyStatus, subscriberName, h.onLobbyStatus)
}

func (h *MQTTHandler) unsubscribeEvents() {
	h.eventBus.UnsubscribeMany(playerEvents, subscriberName)
	h.eventBus.Unsubscribe(events.EventGameStart, subscriberName)
	h.eventBus.Unsubscribe(events.EventLobbyStatus, subscriberName)
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic, event string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(event, payload))
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
func (h *MQTTHandler) buildMessage(event string, payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+3)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["event"] = event
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// Event handlers

func (h *MQTTHandler) onPlayer(_ context.Context, event events.Event) error {
	h.publish(TopicPlayer, string(event.Type), event.Payload)
	return nil
}

func (h *MQTTHandler) onGameStart(_ context.Context, event events.Event) error {
	h.publish(TopicGame, string(event.Type), event.Payload)
	return nil
}

func (h *MQTTHandler) onLobbyStatus(_ context.Context, event events.Event) error {
	h.publish(TopicStatus, string(event.Type), event.Payload)
	return nil
}

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicManagerAdmin, string(events.EventShutdown), nil)
}
