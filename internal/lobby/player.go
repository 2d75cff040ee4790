// Package lobby implements the lobby rules on top of the network layer: the
// login handshake, the player registry, per-player ready flags and the
// decision to start the game.
package lobby

import (
	"time"

	"github.com/multisnake-project/multisnake/internal/network"
)

// Player is a logged-in participant bound to exactly one connection.
type Player struct {
	conn     *network.Connection
	username string
	ready    bool
	joinedAt time.Time
}

// PlayerInfo is a copy of a player's observable state.
type PlayerInfo struct {
	Username     string    `json:"username"`
	Ready        bool      `json:"ready"`
	ConnectionID string    `json:"connection_id"`
	RemoteAddr   string    `json:"remote_addr"`
	JoinedAt     time.Time `json:"joined_at"`
}

func (p *Player) Connection() *network.Connection { return p.conn }
func (p *Player) Username() string                { return p.username }
func (p *Player) Ready() bool                     { return p.ready }
func (p *Player) SetReady(ready bool)             { p.ready = ready }
func (p *Player) JoinedAt() time.Time             { return p.joinedAt }

// Info returns a snapshot of the player.
func (p *Player) Info() PlayerInfo {
	return PlayerInfo{
		Username:     p.username,
		Ready:        p.ready,
		ConnectionID: p.conn.ID().String(),
		RemoteAddr:   p.conn.RemoteAddr().String(),
		JoinedAt:     p.joinedAt,
	}
}
