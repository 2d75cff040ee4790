package lobby

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/multisnake-project/multisnake/internal/events"
	"github.com/multisnake-project/multisnake/internal/network"
	"github.com/multisnake-project/multisnake/internal/protocol"
)

// Options configures a Lobby.
type Options struct {
	// LoginTimeout disconnects connections that have not logged in by then.
	// Zero disables it.
	LoginTimeout time.Duration

	// EventBus receives player and game events. Optional.
	EventBus *events.EventBus
}

// Lobby is the game-start coordinator. Like the connections it serves, it
// is confined to the reactor goroutine.
type Lobby struct {
	opts    Options
	players *PlayerManager
	running bool
	logger  zerolog.Logger
}

// Status is a point-in-time summary of the lobby.
type Status struct {
	Running  bool         `json:"running"`
	CanStart bool         `json:"can_start"`
	Players  int          `json:"players"`
	Ready    int          `json:"ready"`
	Roster   []PlayerInfo `json:"roster"`
}

// New creates an empty lobby.
func New(opts Options) *Lobby {
	return &Lobby{
		opts:    opts,
		players: NewPlayerManager(),
		logger:  log.With().Str("component", "lobby").Logger(),
	}
}

// NewSession returns the login state for a freshly accepted connection.
// It is the lobby's network.SessionFactory.
func (l *Lobby) NewSession(conn *network.Connection) protocol.PacketListener {
	s := &loginListener{lobby: l, conn: conn}
	if l.opts.LoginTimeout > 0 {
		s.stop = conn.AfterFunc(l.opts.LoginTimeout, s.expire)
	}
	return s
}

// Players returns the player registry.
func (l *Lobby) Players() *PlayerManager { return l.players }

// Running reports whether the game has started.
func (l *Lobby) Running() bool { return l.running }

// CanStart reports whether a non-forced start would succeed now: the game is
// not running and more than one player is present, all of them ready.
func (l *Lobby) CanStart() bool {
	if l.running || l.players.Count() <= 1 {
		return false
	}
	return l.players.ReadyCount() == l.players.Count()
}

// StartGame starts the game and broadcasts GameStart to every player. Unless
// force is set it does nothing and returns false when CanStart does not hold.
// Once started the lobby stays running.
func (l *Lobby) StartGame(force bool) bool {
	if !force && !l.CanStart() {
		return false
	}
	l.running = true

	roster := l.players.All()
	names := make([]string, 0, len(roster))
	for _, p := range roster {
		names = append(names, p.username)
	}
	l.logger.Info().Bool("forced", force).Strs("players", names).Msg("starting game")

	for _, p := range roster {
		if p.conn.Closed() {
			continue
		}
		if err := p.conn.Send(protocol.GameStartPacket{}); err != nil {
			p.conn.Logger().Warn().Err(err).Str("username", p.username).Msg("failed to send game start")
			p.conn.Disconnect()
		}
	}

	l.emit(events.EventGameStart, events.GameStartPayload{Players: names, Forced: force})
	return true
}

// Kick disconnects the player holding username.
func (l *Lobby) Kick(username string) bool {
	p, ok := l.players.ByUsername(username)
	if !ok {
		return false
	}
	l.logger.Info().Str("username", username).Msg("kicking player")
	p.conn.Disconnect()
	return true
}

// Status returns a snapshot of the lobby.
func (l *Lobby) Status() Status {
	roster := l.players.All()
	s := Status{
		Running:  l.running,
		CanStart: l.CanStart(),
		Players:  len(roster),
		Ready:    l.players.ReadyCount(),
		Roster:   make([]PlayerInfo, 0, len(roster)),
	}
	for _, p := range roster {
		s.Roster = append(s.Roster, p.Info())
	}
	return s
}

func (l *Lobby) login(conn *network.Connection, username string) {
	logger := conn.Logger().With().Str("username", username).Logger()

	p, err := l.players.Create(conn, username)
	if err != nil {
		logger.Info().Err(err).Msg("login rejected")
		if err := conn.SendError(protocol.ErrorUsernameTaken); err != nil {
			logger.Warn().Err(err).Msg("failed to send username taken")
		}
		l.emit(events.EventPlayerLoginRejected, events.PlayerPayload{
			ConnectionID: conn.ID().String(),
			Username:     username,
		})
		conn.Disconnect()
		return
	}

	conn.SetListener(&playerListener{lobby: l, player: p})
	if err := conn.Send(protocol.LoginSuccessPacket{}); err != nil {
		logger.Warn().Err(err).Msg("failed to send login success")
		conn.Disconnect()
		return
	}

	logger.Info().Int("players", l.players.Count()).Msg("player logged in")
	l.emit(events.EventPlayerLogin, playerPayload(p))
}

func (l *Lobby) setReady(p *Player, ready bool) {
	p.ready = ready
	p.conn.Logger().Debug().Str("username", p.username).Bool("ready", ready).Msg("ready changed")
	l.emit(events.EventPlayerReady, playerPayload(p))

	if ready {
		l.StartGame(false)
	}
}

func (l *Lobby) logout(p *Player) {
	if !l.players.Remove(p) {
		return
	}
	p.conn.Logger().Info().Str("username", p.username).Int("players", l.players.Count()).Msg("player left")
	l.emit(events.EventPlayerLogout, playerPayload(p))
}

func (l *Lobby) emit(t events.EventType, payload interface{}) {
	if l.opts.EventBus == nil {
		return
	}
	l.opts.EventBus.Emit(context.Background(), events.Event{
		Type:    t,
		Source:  "lobby",
		Payload: payload,
	})
}

func playerPayload(p *Player) events.PlayerPayload {
	return events.PlayerPayload{
		ConnectionID: p.conn.ID().String(),
		Username:     p.username,
		Ready:        p.ready,
	}
}
