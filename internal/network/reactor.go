package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/multisnake-project/multisnake/internal/events"
	"github.com/multisnake-project/multisnake/internal/protocol"
)

const (
	// DefaultWriteTimeout bounds a single packet write.
	DefaultWriteTimeout = 5 * time.Second

	// acceptBackoff is the pause after a failed Accept.
	acceptBackoff = 50 * time.Millisecond
)

var (
	// ErrReactorClosed is returned by Do once the reactor has stopped.
	ErrReactorClosed = errors.New("reactor is closed")

	// ErrNotListening is returned by Serve before Listen succeeded.
	ErrNotListening = errors.New("reactor is not listening")
)

// Options configures a Reactor.
type Options struct {
	// Sessions produces the initial protocol state of each accepted connection.
	Sessions SessionFactory

	// Packets overrides the default packet registry.
	Packets *protocol.Registry

	InputBufferSize  int
	OutputBufferSize int
	WriteTimeout     time.Duration

	// EventBus receives connection events. Optional.
	EventBus *events.EventBus
}

func (o Options) withDefaults() Options {
	if o.InputBufferSize <= 0 {
		o.InputBufferSize = protocol.DefaultBufferSize
	}
	if o.OutputBufferSize <= 0 {
		o.OutputBufferSize = protocol.DefaultBufferSize
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	return o
}

// readEvent carries one completed read from a connection's reader goroutine.
type readEvent struct {
	conn *Connection
	data []byte
	err  error
}

// Reactor accepts client connections and drives all protocol state from a
// single goroutine. Helper goroutines only wait on sockets and timers and
// hand their results over through channels, so nothing the reactor owns is
// guarded by a lock.
type Reactor struct {
	opts     Options
	packets  *protocol.Registry
	conns    *ConnectionRegistry
	listener net.Listener
	logger   zerolog.Logger

	accepts chan net.Conn
	reads   chan readEvent
	tasks   chan func()

	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	served    bool
}

// Open creates a reactor. It fails only when the packet tables are misconfigured.
func Open(opts Options) (*Reactor, error) {
	opts = opts.withDefaults()

	packets := opts.Packets
	if packets == nil {
		var err error
		packets, err = protocol.NewDefaultRegistry()
		if err != nil {
			return nil, fmt.Errorf("failed to build packet registry: %w", err)
		}
	}

	r := &Reactor{
		opts:    opts,
		packets: packets,
		logger:  log.With().Str("component", "reactor").Logger(),
		accepts: make(chan net.Conn),
		reads:   make(chan readEvent),
		tasks:   make(chan func()),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	r.conns = NewConnectionRegistry(packets, opts)
	r.conns.schedule = r.post
	return r, nil
}

// Listen binds the listening socket.
func (r *Reactor) Listen(ctx context.Context, address string) error {
	// SO_REUSEADDR allows immediate rebinding after a restart
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	r.listener = ln
	r.logger.Info().Str("addr", ln.Addr().String()).Msg("listening for clients")
	return nil
}

// Start binds address and serves until ctx is cancelled or Close is called.
func (r *Reactor) Start(ctx context.Context, address string) error {
	if err := r.Listen(ctx, address); err != nil {
		return err
	}
	return r.Serve(ctx)
}

// Addr returns the bound address, or nil before Listen.
func (r *Reactor) Addr() net.Addr {
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Connections returns the connection registry. Use it only from Do.
func (r *Reactor) Connections() *ConnectionRegistry { return r.conns }

// Registry returns the packet registry.
func (r *Reactor) Registry() *protocol.Registry { return r.packets }

// Close stops the reactor. Serve returns after closing every connection.
func (r *Reactor) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closing)
		if r.listener != nil {
			err = r.listener.Close()
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
		}
	})
	return err
}

// Done is closed when Serve has returned.
func (r *Reactor) Done() <-chan struct{} { return r.done }

// Serve runs the reactor loop. It returns nil on cancellation or Close.
func (r *Reactor) Serve(ctx context.Context) error {
	if r.listener == nil {
		return ErrNotListening
	}
	if r.served {
		return ErrReactorClosed
	}
	r.served = true

	defer close(r.done)
	defer r.shutdown()

	go r.acceptLoop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("context cancelled, reactor stopping")
			return nil
		case <-r.closing:
			r.logger.Info().Msg("reactor stopping")
			return nil
		case nc := <-r.accepts:
			r.handleAccept(nc)
		case ev := <-r.reads:
			r.handleRead(ev)
		case task := <-r.tasks:
			task()
		}
	}
}

// Do runs fn on the reactor goroutine and waits for it to return. It is the
// only safe way for other goroutines to read or change reactor state. Calling
// Do from the reactor goroutine itself deadlocks.
func (r *Reactor) Do(ctx context.Context, fn func()) error {
	finished := make(chan error, 1)
	task := func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("task panicked")
				finished <- fmt.Errorf("task panicked: %v", rec)
			}
		}()
		fn()
		finished <- nil
	}

	select {
	case r.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrReactorClosed
	}

	select {
	case err := <-finished:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting. Used by timers.
func (r *Reactor) post(fn func()) {
	go func() {
		select {
		case r.tasks <- fn:
		case <-r.done:
		}
	}()
}

func (r *Reactor) acceptLoop() {
	for {
		nc, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.closing:
				return
			case <-r.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.logger.Error().Err(err).Msg("failed to accept connection")
			time.Sleep(acceptBackoff)
			continue
		}

		select {
		case r.accepts <- nc:
		case <-r.done:
			nc.Close()
			return
		}
	}
}

func (r *Reactor) handleAccept(nc net.Conn) {
	c := r.conns.Create(nc)
	c.logger.Info().Msg("client connected")
	go r.readLoop(c)
}

// readLoop keeps exactly one read outstanding for c, reusing one buffer.
func (r *Reactor) readLoop(c *Connection) {
	buf := make([]byte, r.opts.InputBufferSize)
	for {
		n, err := c.conn.Read(buf)

		select {
		case r.reads <- readEvent{conn: c, data: buf[:n], err: err}:
		case <-r.done:
			return
		}
		if err != nil {
			return
		}

		select {
		case <-c.readDone:
		case <-r.done:
			return
		}
	}
}

func (r *Reactor) handleRead(ev readEvent) {
	c := ev.conn
	defer func() {
		// release the reader for the next chunk
		select {
		case c.readDone <- struct{}{}:
		default:
		}
	}()

	if c.closed {
		return
	}

	if len(ev.data) > 0 {
		c.lastActivity = time.Now()
		r.dispatch(c, ev.data)
	}

	if ev.err != nil && !c.closed {
		if errors.Is(ev.err, io.EOF) {
			c.logger.Info().Msg("client disconnected")
			r.conns.close(c, nil)
		} else {
			r.conns.close(c, ev.err)
		}
	}
}

// dispatch decodes one packet from data and hands it to the connection's
// listener. Bytes after the first packet are ignored.
func (r *Reactor) dispatch(c *Connection, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("listener panicked, closing connection")
			r.conns.close(c, fmt.Errorf("listener panic: %v", rec))
		}
	}()

	msg := protocol.NewReader(data)
	decoded, err := r.packets.Decode(msg)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Uint8("identifier", decoded.Identifier).
			Int("bytes", len(data)).
			Msg("dropping malformed packet")
		return
	}

	if !decoded.Known() {
		c.logger.Debug().Uint8("identifier", decoded.Identifier).Msg("unknown packet identifier")
		if err := c.SendError(protocol.ErrorInvalidPacketIdentifier); err != nil {
			var unregistered *protocol.UnregisteredPacketError
			if errors.As(err, &unregistered) {
				c.logger.Error().Err(err).Msg("error packet is not registered")
				return
			}
			c.logger.Warn().Err(err).Msg("failed to report invalid packet identifier")
			r.conns.close(c, err)
		}
		return
	}

	if msg.Remaining() > 0 {
		c.logger.Trace().Int("ignored", msg.Remaining()).Msg("trailing bytes after packet")
	}
	decoded.Packet.Apply(c.listener)
}

func (r *Reactor) shutdown() {
	if r.listener != nil {
		r.listener.Close()
	}
	n := r.conns.Count()
	r.conns.CloseAll()
	r.logger.Info().Int("connections", n).Msg("reactor stopped")
}
