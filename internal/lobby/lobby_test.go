package lobby

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/google/go-cmp/cmp"

	"github.com/multisnake-project/multisnake/internal/network"
	"github.com/multisnake-project/multisnake/internal/protocol"
)

type fakeConn struct {
	net.Conn
	out      bytes.Buffer
	closed   bool
	writeErr error
	port     int
}

func (f *fakeConn) Write(b []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.out.Write(b)
}

func (f *fakeConn) Close() error { f.closed = true; return nil }
func (f *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: f.port}
}
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

type harness struct {
	t     *testing.T
	lobby *Lobby
	conns *network.ConnectionRegistry
	next  int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	packets, err := protocol.NewDefaultRegistry()
	if err != nil {
		t.Fatalf("NewDefaultRegistry() error = %v", err)
	}
	l := New(Options{})
	return &harness{
		t:     t,
		lobby: l,
		conns: network.NewConnectionRegistry(packets, network.Options{Sessions: l.NewSession}),
	}
}

func (h *harness) connect() (*network.Connection, *fakeConn) {
	h.next++
	fc := &fakeConn{port: 40000 + h.next}
	return h.conns.Create(fc), fc
}

func (h *harness) login(name string) (*network.Connection, *fakeConn) {
	c, fc := h.connect()
	c.Listener().OnLogin(&protocol.LoginPacket{Username: name})
	return c, fc
}

func TestLobby_Login(t *testing.T) {
	h := newHarness(t)

	a, fa := h.login("alice")
	if diff := cmp.Diff([]byte{protocol.PktServerLoginSuccess}, fa.out.Bytes()); diff != "" {
		t.Errorf("unexpected reply to a fresh login, diff:\n%s", diff)
	}
	if a.State() != "player" {
		t.Errorf("State() = %q, want player", a.State())
	}

	b, fb := h.login("alice")
	if diff := cmp.Diff([]byte{0x00, 0x01}, fb.out.Bytes()); diff != "" {
		t.Errorf("unexpected reply to a duplicate login, diff:\n%s", diff)
	}
	if !b.Closed() || !fb.closed {
		t.Error("duplicate login did not close the connection")
	}
	if h.lobby.Players().Count() != 1 {
		t.Errorf("Count() = %d, want 1", h.lobby.Players().Count())
	}

	// case-sensitive
	if _, fc := h.login("Alice"); fc.closed {
		t.Error("login differing only in case was rejected")
	}
}

func TestLobby_SecondLoginIsIgnored(t *testing.T) {
	h := newHarness(t)
	a, fa := h.login("alice")
	fa.out.Reset()

	a.Listener().OnLogin(&protocol.LoginPacket{Username: "mallory"})
	if fa.out.Len() != 0 {
		t.Errorf("second login produced a reply: %v", fa.out.Bytes())
	}
	if _, ok := h.lobby.Players().ByUsername("mallory"); ok {
		t.Error("second login registered a new player")
	}
}

func TestLobby_LoginSendFailureDisconnects(t *testing.T) {
	h := newHarness(t)
	c, fc := h.connect()
	fc.writeErr = errors.New("connection reset")

	c.Listener().OnLogin(&protocol.LoginPacket{Username: "alice"})
	if !c.Closed() {
		t.Error("connection stayed open after the login reply failed")
	}
	if h.lobby.Players().Count() != 0 {
		t.Error("player survived a failed login reply")
	}
}

func TestLobby_ReadyStartLaw(t *testing.T) {
	tests := []struct {
		name        string
		players     []string
		ready       []bool
		wantStarted bool
	}{
		{"single ready player", []string{"alice"}, []bool{true}, false},
		{"two players one ready", []string{"alice", "bob"}, []bool{true, false}, false},
		{"two players both ready", []string{"alice", "bob"}, []bool{true, true}, true},
		{"three players all ready", []string{"a", "b", "c"}, []bool{true, true, true}, true},
		{"ready then unready", []string{"alice", "bob"}, []bool{false, true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			var conns []*network.Connection
			var fakes []*fakeConn
			for _, name := range tt.players {
				c, fc := h.login(name)
				fc.out.Reset()
				conns = append(conns, c)
				fakes = append(fakes, fc)
			}
			for i, ready := range tt.ready {
				conns[i].Listener().OnReady(&protocol.ReadyPacket{Ready: ready})
			}

			if h.lobby.Running() != tt.wantStarted {
				t.Errorf("Running() = %v, want %v", h.lobby.Running(), tt.wantStarted)
			}
			for i, fc := range fakes {
				var want []byte
				if tt.wantStarted {
					want = []byte{protocol.PktServerGameStart}
				}
				if diff := cmp.Diff(want, fc.out.Bytes(), cmpEmptyBytes); diff != "" {
					t.Errorf("player %d received unexpected bytes, diff:\n%s", i, diff)
				}
			}
		})
	}
}

var cmpEmptyBytes = cmp.Comparer(func(a, b []byte) bool { return bytes.Equal(a, b) })

func TestLobby_StartGame(t *testing.T) {
	h := newHarness(t)
	if h.lobby.StartGame(false) {
		t.Fatal("StartGame(false) succeeded in an empty lobby")
	}
	if h.lobby.Running() {
		t.Fatal("failed StartGame changed state")
	}

	_, fa := h.login("alice")
	fa.out.Reset()
	if !h.lobby.StartGame(true) {
		t.Fatal("StartGame(true) returned false")
	}
	if !h.lobby.Running() {
		t.Error("Running() = false after a forced start")
	}
	if h.lobby.CanStart() {
		t.Error("CanStart() = true while running")
	}
	if h.lobby.StartGame(false) {
		t.Error("StartGame(false) succeeded while running")
	}
	if !h.lobby.Running() {
		t.Error("running flag was reset")
	}
	if diff := cmp.Diff([]byte{protocol.PktServerGameStart}, fa.out.Bytes()); diff != "" {
		t.Errorf("unexpected broadcast, diff:\n%s", diff)
	}
}

func TestLobby_BroadcastContinuesPastFailures(t *testing.T) {
	h := newHarness(t)
	a, fa := h.login("alice")
	_, fb := h.login("bob")
	_, fc := h.login("carol")
	for _, f := range []*fakeConn{fa, fb, fc} {
		f.out.Reset()
	}
	fb.writeErr = errors.New("broken pipe")

	if !h.lobby.StartGame(true) {
		t.Fatal("StartGame(true) returned false")
	}
	if !fb.closed {
		t.Error("connection with a failed send was not closed")
	}
	if _, ok := h.lobby.Players().ByUsername("bob"); ok {
		t.Error("player with a failed send is still registered")
	}
	for _, f := range []*fakeConn{fa, fc} {
		if diff := cmp.Diff([]byte{protocol.PktServerGameStart}, f.out.Bytes()); diff != "" {
			t.Errorf("healthy player missed the broadcast, diff:\n%s", diff)
		}
	}
	if a.Closed() {
		t.Error("healthy connection was closed")
	}
}

func TestLobby_DisconnectFreesUsername(t *testing.T) {
	h := newHarness(t)
	a, _ := h.login("alice")
	a.Disconnect()

	if h.lobby.Players().Count() != 0 {
		t.Fatalf("Count() = %d after disconnect", h.lobby.Players().Count())
	}
	b, fb := h.login("alice")
	if b.Closed() {
		t.Error("relogin with a freed username was rejected")
	}
	if diff := cmp.Diff([]byte{protocol.PktServerLoginSuccess}, fb.out.Bytes()); diff != "" {
		t.Errorf("unexpected reply, diff:\n%s", diff)
	}
}

func TestLobby_Kick(t *testing.T) {
	h := newHarness(t)
	a, _ := h.login("alice")

	if h.lobby.Kick("bob") {
		t.Error("Kick() of an unknown player returned true")
	}
	if !h.lobby.Kick("alice") {
		t.Fatal("Kick() returned false")
	}
	if !a.Closed() || h.lobby.Players().Count() != 0 {
		t.Error("kicked player is still connected")
	}
}

func TestLobby_Status(t *testing.T) {
	h := newHarness(t)
	a, _ := h.login("alice")
	h.login("bob")
	a.Listener().OnReady(&protocol.ReadyPacket{Ready: true})

	s := h.lobby.Status()
	for i := range s.Roster {
		s.Roster[i].ConnectionID = ""
		s.Roster[i].JoinedAt = time.Time{}
	}
	want := Status{
		Players: 2,
		Ready:   1,
		Roster: []PlayerInfo{
			{Username: "alice", Ready: true, RemoteAddr: "127.0.0.1:40001"},
			{Username: "bob", RemoteAddr: "127.0.0.1:40002"},
		},
	}
	if diff := deep.Equal(want, s); diff != nil {
		t.Errorf("Status() mismatch: %v", diff)
	}
}

func TestLobby_LoginTimeout(t *testing.T) {
	packets, err := protocol.NewDefaultRegistry()
	if err != nil {
		t.Fatalf("NewDefaultRegistry() error = %v", err)
	}
	l := New(Options{LoginTimeout: time.Hour})
	conns := network.NewConnectionRegistry(packets, network.Options{Sessions: l.NewSession})

	c := conns.Create(&fakeConn{port: 1})
	s, ok := c.Listener().(*loginListener)
	if !ok {
		t.Fatalf("initial listener is %T", c.Listener())
	}
	if s.stop == nil {
		t.Fatal("login timer was not armed")
	}

	s.expire()
	if !c.Closed() {
		t.Error("expired login did not close the connection")
	}

	logged := conns.Create(&fakeConn{port: 2})
	ls := logged.Listener().(*loginListener)
	ls.OnLogin(&protocol.LoginPacket{Username: "alice"})
	ls.expire()
	if logged.Closed() {
		t.Error("login timer closed a logged-in connection")
	}
}
