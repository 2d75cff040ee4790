package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestEventBus_EmitSync(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	var got []string
	record := func(name string) HandlerFunc {
		return func(_ context.Context, e Event) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, name+":"+string(e.Type))
			return nil
		}
	}
	bus.Subscribe(EventPlayerLogin, "a", record("a"))
	bus.Subscribe(EventPlayerLogin, "b", record("b"))
	bus.Subscribe(EventGameStart, "c", record("c"))

	if err := bus.EmitSync(context.Background(), Event{Type: EventPlayerLogin}); err != nil {
		t.Fatalf("EmitSync() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %v", got)
	}
	seen := map[string]bool{got[0]: true, got[1]: true}
	want := map[string]bool{"a:player_login": true, "b:player_login": true}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("unexpected deliveries, diff:\n%s", diff)
	}
}

func TestEventBus_EmitSyncReturnsHandlerError(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("boom")
	bus.Subscribe(EventGameStart, "failing", func(context.Context, Event) error { return boom })
	bus.Subscribe(EventGameStart, "panicking", func(context.Context, Event) error { panic("oops") })

	if err := bus.EmitSync(context.Background(), Event{Type: EventGameStart}); !errors.Is(err, boom) {
		t.Errorf("EmitSync() error = %v, want %v", err, boom)
	}
}

func TestEventBus_EmitStampsTime(t *testing.T) {
	bus := NewEventBus()
	ch := make(chan Event, 1)
	bus.Subscribe(EventLobbyStatus, "probe", func(_ context.Context, e Event) error {
		ch <- e
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventLobbyStatus, Payload: LobbyStatusPayload{Players: 2}})

	select {
	case e := <-ch:
		if e.Time.IsZero() {
			t.Error("expected Emit to stamp the event time")
		}
		if p, ok := e.Payload.(LobbyStatusPayload); !ok || p.Players != 2 {
			t.Errorf("unexpected payload %#v", e.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
	}
}

func TestEventBus_UnsubscribeAndStop(t *testing.T) {
	bus := NewEventBus()
	called := false
	handler := func(context.Context, Event) error { called = true; return nil }

	bus.SubscribeMany(LobbyEvents, "observer", handler)
	if n := bus.HandlerCount(EventPlayerReady); n != 1 {
		t.Fatalf("HandlerCount() = %d, want 1", n)
	}

	bus.UnsubscribeMany(LobbyEvents, "observer")
	if n := bus.HandlerCount(EventPlayerReady); n != 0 {
		t.Errorf("HandlerCount() after unsubscribe = %d, want 0", n)
	}

	bus.Subscribe(EventPlayerReady, "late", handler)
	bus.Stop()
	bus.Stop()
	if err := bus.EmitSync(context.Background(), Event{Type: EventPlayerReady}); err != nil {
		t.Errorf("EmitSync() on a stopped bus error = %v", err)
	}
	if called {
		t.Error("handler ran after Stop")
	}
}
