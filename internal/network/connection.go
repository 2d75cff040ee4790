// Package network implements the lobby's TCP front-end: the reactor that owns
// every client connection and the registry that tracks them.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/multisnake-project/multisnake/internal/events"
	"github.com/multisnake-project/multisnake/internal/protocol"
)

// ErrConnectionClosed is returned by Send on a connection that was closed.
var ErrConnectionClosed = errors.New("connection is closed")

// SessionFactory produces the initial protocol state of a new connection.
type SessionFactory func(c *Connection) protocol.PacketListener

// Connection is one accepted client socket. It is owned by the reactor
// goroutine; none of its methods may be called from elsewhere.
type Connection struct {
	id       uuid.UUID
	conn     net.Conn
	registry *ConnectionRegistry
	out      *protocol.Message
	listener protocol.PacketListener
	logger   zerolog.Logger

	// Timestamps
	connectedAt  time.Time
	lastActivity time.Time

	// State
	closed   bool
	readDone chan struct{}
}

// ConnectionInfo is a copy of a connection's observable state.
type ConnectionInfo struct {
	ID           string    `json:"id"`
	RemoteAddr   string    `json:"remote_addr"`
	State        string    `json:"state"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() uuid.UUID { return c.id }

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Listener returns the current protocol state.
func (c *Connection) Listener() protocol.PacketListener { return c.listener }

// SetListener replaces the protocol state. A nil listener ignores all packets.
func (c *Connection) SetListener(l protocol.PacketListener) {
	if l == nil {
		l = protocol.Ignore
	}
	c.listener = l
}

// State names the current protocol state.
func (c *Connection) State() string { return protocol.StateName(c.listener) }

// Closed reports whether the close path has run.
func (c *Connection) Closed() bool { return c.closed }

// ConnectedAt returns the time the connection was accepted.
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// LastActivity returns the time of the last read or write.
func (c *Connection) LastActivity() time.Time { return c.lastActivity }

// Logger returns the connection-scoped logger.
func (c *Connection) Logger() *zerolog.Logger { return &c.logger }

// Info returns a snapshot of the connection.
func (c *Connection) Info() ConnectionInfo {
	return ConnectionInfo{
		ID:           c.id.String(),
		RemoteAddr:   c.conn.RemoteAddr().String(),
		State:        c.State(),
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastActivity,
	}
}

// Send encodes packet into the connection's output buffer and writes it in
// a single call. Encoding failures are registry misuse and leave the socket
// untouched; a deadline or write failure means the peer is gone and the
// caller should Disconnect.
func (c *Connection) Send(packet protocol.ServerPacket) error {
	if c.closed {
		return ErrConnectionClosed
	}

	c.out.Reset()
	if err := c.registry.packets.Encode(c.out, packet); err != nil {
		return err
	}

	// the deadline bounds how long a peer that stopped reading can hold the
	// reactor; never write without it
	if c.registry.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.registry.writeTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline for %s packet: %w", packet.Kind(), err)
		}
	}
	if _, err := c.conn.Write(c.out.Bytes()); err != nil {
		return fmt.Errorf("failed to write %s packet: %w", packet.Kind(), err)
	}

	c.lastActivity = time.Now()
	c.logger.Trace().Str("packet", packet.Kind().String()).Int("bytes", c.out.Len()).Msg("packet sent")
	return nil
}

// SendError sends an error packet carrying code.
func (c *Connection) SendError(code protocol.ErrorCode) error {
	return c.Send(protocol.ErrorPacket{Code: code})
}

// Disconnect runs the close path. Calling it more than once is harmless.
func (c *Connection) Disconnect() {
	c.registry.close(c, nil)
}

// AfterFunc runs fn on the owning goroutine after d, unless the connection
// has been closed by then. The returned function cancels the timer.
func (c *Connection) AfterFunc(d time.Duration, fn func()) (stop func() bool) {
	t := time.AfterFunc(d, func() {
		c.registry.schedule(func() {
			if c.closed {
				return
			}
			fn()
		})
	})
	return t.Stop
}

// ConnectionRegistry tracks live connections keyed by their transport.
// Like Connection it is confined to the reactor goroutine.
type ConnectionRegistry struct {
	packets      *protocol.Registry
	sessions     SessionFactory
	outputSize   int
	writeTimeout time.Duration
	eventBus     *events.EventBus

	conns map[net.Conn]*Connection
	order []*Connection

	// schedule runs a function on the owning goroutine. A standalone
	// registry runs it inline.
	schedule func(fn func())
}

// NewConnectionRegistry creates a registry that encodes outbound packets
// with packets and assigns new connections the state produced by
// opts.Sessions.
func NewConnectionRegistry(packets *protocol.Registry, opts Options) *ConnectionRegistry {
	opts = opts.withDefaults()
	return &ConnectionRegistry{
		packets:      packets,
		sessions:     opts.Sessions,
		outputSize:   opts.OutputBufferSize,
		writeTimeout: opts.WriteTimeout,
		eventBus:     opts.EventBus,
		conns:        make(map[net.Conn]*Connection),
		schedule:     func(fn func()) { fn() },
	}
}

// Create returns the connection for conn, creating it on first sight.
func (r *ConnectionRegistry) Create(conn net.Conn) *Connection {
	if c, ok := r.conns[conn]; ok {
		return c
	}

	now := time.Now()
	id := uuid.New()
	c := &Connection{
		id:           id,
		conn:         conn,
		registry:     r,
		out:          protocol.NewWriter(r.outputSize),
		listener:     protocol.Ignore,
		connectedAt:  now,
		lastActivity: now,
		readDone:     make(chan struct{}, 1),
		logger: log.With().
			Str("component", "connection").
			Str("connection", id.String()).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
	r.conns[conn] = c
	r.order = append(r.order, c)

	if r.sessions != nil {
		c.SetListener(r.sessions(c))
	}

	c.logger.Debug().Str("state", c.State()).Msg("connection registered")
	r.emit(events.EventConnectionOpened, c)
	return c
}

// Get returns the connection for conn.
func (r *ConnectionRegistry) Get(conn net.Conn) (*Connection, bool) {
	c, ok := r.conns[conn]
	return c, ok
}

// Find returns the live connection with the given id.
func (r *ConnectionRegistry) Find(id uuid.UUID) (*Connection, bool) {
	for _, c := range r.order {
		if c.id == id {
			return c, true
		}
	}
	return nil, false
}

// Remove forgets conn. It does not close anything.
func (r *ConnectionRegistry) Remove(conn net.Conn) bool {
	c, ok := r.conns[conn]
	if !ok {
		return false
	}
	delete(r.conns, conn)
	for i, o := range r.order {
		if o == c {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// All returns the live connections in accept order.
func (r *ConnectionRegistry) All() []*Connection {
	out := make([]*Connection, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of live connections.
func (r *ConnectionRegistry) Count() int {
	return len(r.conns)
}

// CloseAll runs the close path for every connection.
func (r *ConnectionRegistry) CloseAll() {
	for _, c := range r.All() {
		r.close(c, nil)
	}
}

// close notifies the listener exactly once, then forgets and closes the socket.
func (r *ConnectionRegistry) close(c *Connection, cause error) {
	if c.closed {
		return
	}
	c.closed = true

	ev := c.logger.Debug()
	if cause != nil {
		ev = c.logger.Info().Err(cause)
	}
	ev.Str("state", c.State()).Msg("closing connection")

	r.notifyDisconnect(c)
	r.Remove(c.conn)
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Debug().Err(err).Msg("socket close failed")
	}
	r.emit(events.EventConnectionClosed, c)
}

func (r *ConnectionRegistry) notifyDisconnect(c *Connection) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("disconnect handler panicked")
		}
	}()
	c.listener.OnDisconnect()
}

func (r *ConnectionRegistry) emit(t events.EventType, c *Connection) {
	if r.eventBus == nil {
		return
	}
	r.eventBus.Emit(context.Background(), events.Event{
		Type:   t,
		Source: "network",
		Payload: events.ConnectionPayload{
			ConnectionID: c.id.String(),
			RemoteAddr:   c.conn.RemoteAddr().String(),
		},
	})
}
