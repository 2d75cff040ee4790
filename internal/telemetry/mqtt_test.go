package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/go-cmp/cmp"

	"github.com/multisnake-project/multisnake/internal/config"
	"github.com/multisnake-project/multisnake/internal/events"
	"github.com/multisnake-project/multisnake/internal/util"
)

type fakeToken struct {
	mqtt.Token
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic string
	msg   map[string]interface{}
}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	disconnected bool
	messages     []published
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr == nil {
		c.connected = true
	}
	return &fakeToken{err: c.connectErr}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	c.connected = false
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	var msg map[string]interface{}
	_ = json.Unmarshal(payload.([]byte), &msg)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, msg: msg})
	return &fakeToken{}
}

func (c *fakeClient) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, m.topic+" "+m.msg["event"].(string))
	}
	return out
}

func newTestHandler(client *fakeClient) (*MQTTHandler, *events.EventBus) {
	bus := events.NewEventBus()
	h := newHandler(config.MQTTConfig{BrokerURL: "localhost", Port: 1883}, bus, client, util.SystemInfo{Hostname: "host-1"})
	return h, bus
}

func TestNewMQTTHandler_Disabled(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := NewMQTTHandler(cfg, events.NewEventBus()); !errors.Is(err, ErrDisabled) {
		t.Errorf("NewMQTTHandler() error = %v, want ErrDisabled", err)
	}

	appData := cfg.GetApplicationData()
	appData.MQTT.Enabled = true
	cfg.SetApplicationData(appData)
	h, err := NewMQTTHandler(cfg, events.NewEventBus())
	if err != nil || h == nil {
		t.Fatalf("NewMQTTHandler() = %v, %v", h, err)
	}
}

func TestEventsAreRoutedToTopics(t *testing.T) {
	client := &fakeClient{connected: true}
	h, bus := newTestHandler(client)
	h.subscribeEvents()

	ctx := context.Background()
	bus.EmitSync(ctx, events.Event{Type: events.EventConnectionOpened})
	bus.EmitSync(ctx, events.Event{Type: events.EventPlayerLogin, Payload: events.PlayerPayload{Username: "alice"}})
	bus.EmitSync(ctx, events.Event{Type: events.EventPlayerReady, Payload: events.PlayerPayload{Username: "alice", Ready: true}})
	bus.EmitSync(ctx, events.Event{Type: events.EventGameStart, Payload: events.GameStartPayload{Players: []string{"alice"}}})
	bus.EmitSync(ctx, events.Event{Type: events.EventLobbyStatus, Payload: events.LobbyStatusPayload{Players: 1}})

	want := []string{
		"lobby/player player_login",
		"lobby/player player_ready",
		"lobby/game game_start",
		"lobby/status lobby_status",
	}
	if diff := cmp.Diff(want, client.topics()); diff != "" {
		t.Errorf("published topics differ, diff:\n%s", diff)
	}

	first := client.messages[0].msg
	if first["hostname"] != "host-1" || first["app_version"] != AppVersion {
		t.Errorf("metadata missing from message: %v", first)
	}
	if payload, _ := first["payload"].(map[string]interface{}); payload["username"] != "alice" {
		t.Errorf("payload = %v", first["payload"])
	}
}

func TestPublishSkippedWhileDisconnected(t *testing.T) {
	client := &fakeClient{}
	h, _ := newTestHandler(client)

	h.PublishShutdown()
	if n := len(client.topics()); n != 0 {
		t.Errorf("published %d messages while disconnected", n)
	}
}

func TestStart(t *testing.T) {
	client := &fakeClient{}
	h, bus := newTestHandler(client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for bus.HandlerCount(events.EventGameStart) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler did not subscribe")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}

	if diff := cmp.Diff([]string{"manager/admin shutdown"}, client.topics()); diff != "" {
		t.Errorf("published topics differ, diff:\n%s", diff)
	}
	if !client.disconnected {
		t.Error("client was not disconnected")
	}
	if n := bus.HandlerCount(events.EventPlayerLogin); n != 0 {
		t.Errorf("HandlerCount() after Start returned = %d, want 0", n)
	}
}

func TestStart_ConnectFailure(t *testing.T) {
	boom := errors.New("connection refused")
	h, _ := newTestHandler(&fakeClient{connectErr: boom})

	if err := h.Start(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Start() error = %v, want %v", err, boom)
	}
}
