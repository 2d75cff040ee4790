package lobby

import (
	"github.com/multisnake-project/multisnake/internal/network"
	"github.com/multisnake-project/multisnake/internal/protocol"
)

// loginListener is the initial state of every connection. It accepts only
// the login packet.
type loginListener struct {
	protocol.NopListener
	lobby *Lobby
	conn  *network.Connection
	stop  func() bool
}

func (l *loginListener) StateName() string { return "login" }

func (l *loginListener) OnLogin(packet *protocol.LoginPacket) {
	if l.stop != nil {
		l.stop()
	}
	l.lobby.login(l.conn, packet.Username)
}

func (l *loginListener) OnDisconnect() {
	if l.stop != nil {
		l.stop()
	}
}

// expire closes the connection if it never completed the login.
func (l *loginListener) expire() {
	if l.conn.Listener() != l {
		return
	}
	l.conn.Logger().Info().Dur("timeout", l.lobby.opts.LoginTimeout).Msg("login timed out")
	l.conn.Disconnect()
}

// playerListener is the state of a logged-in connection.
type playerListener struct {
	protocol.NopListener
	lobby  *Lobby
	player *Player
}

func (l *playerListener) StateName() string { return "player" }

func (l *playerListener) OnReady(packet *protocol.ReadyPacket) {
	l.lobby.setReady(l.player, packet.Ready)
}

func (l *playerListener) OnDisconnect() {
	l.lobby.logout(l.player)
}
