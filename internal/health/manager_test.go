package health

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/go-test/deep"

	"github.com/multisnake-project/multisnake/internal/config"
	"github.com/multisnake-project/multisnake/internal/events"
	"github.com/multisnake-project/multisnake/internal/lobby"
	"github.com/multisnake-project/multisnake/internal/network"
	"github.com/multisnake-project/multisnake/internal/util"
)

func newTestManager(t *testing.T, heartbeatSec int) (*Manager, *network.Reactor, *events.EventBus) {
	t.Helper()

	cfg := config.DefaultConfig()
	appData := cfg.GetApplicationData()
	appData.Timers.HeartbeatInterval = heartbeatSec
	cfg.SetApplicationData(appData)

	bus := events.NewEventBus()
	lb := lobby.New(lobby.Options{})
	r, err := network.Open(network.Options{Sessions: lb.NewSession})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Listen(ctx, "127.0.0.1:0"); err != nil {
		cancel()
		t.Fatalf("Listen() error = %v", err)
	}
	go r.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		<-r.Done()
		bus.Stop()
	})

	return NewManager(cfg, bus, r, lb), r, bus
}

func login(t *testing.T, r *network.Reactor, username string) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", r.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if _, err := conn.Write(append([]byte{0x00, 0, 0, 0, byte(len(username))}, username...)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(conn, make([]byte, 1)); err != nil {
		t.Fatalf("read failed: %v", err)
	}
}

func TestSnapshot(t *testing.T) {
	m, r, _ := newTestManager(t, 0)
	login(t, r, "alice")
	login(t, r, "bob")

	got, err := m.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	want := events.LobbyStatusPayload{Connections: 2, Players: 2}
	if diff := deep.Equal(got, want); diff != nil {
		t.Error(diff)
	}
}

func TestSnapshot_ReactorClosed(t *testing.T) {
	m, r, _ := newTestManager(t, 0)
	r.Close()
	<-r.Done()

	if _, err := m.Snapshot(context.Background()); !errors.Is(err, network.ErrReactorClosed) {
		t.Errorf("Snapshot() error = %v, want ErrReactorClosed", err)
	}
}

func TestStart_EmitsHeartbeat(t *testing.T) {
	m, r, bus := newTestManager(t, 1)
	login(t, r, "alice")

	beats := make(chan events.Event, 4)
	bus.Subscribe(events.EventLobbyStatus, "test", func(_ context.Context, e events.Event) error {
		beats <- e
		return nil
	})

	sampled := make(chan struct{}, 4)
	m.resources = func() util.ResourceUsage {
		sampled <- struct{}{}
		return util.ResourceUsage{HostMemoryPercent: 95}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx)

	select {
	case e := <-beats:
		if e.Source != "heartbeat" {
			t.Errorf("Source = %q, want heartbeat", e.Source)
		}
		p, ok := e.Payload.(events.LobbyStatusPayload)
		if !ok || p.Players != 1 || p.Connections != 1 {
			t.Errorf("unexpected payload %#v", e.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no heartbeat emitted")
	}

	select {
	case <-sampled:
	case <-time.After(3 * time.Second):
		t.Fatal("resource usage was not sampled")
	}
}

func TestStart_DisabledChecks(t *testing.T) {
	m, _, _ := newTestManager(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}
