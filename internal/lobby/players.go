package lobby

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/multisnake-project/multisnake/internal/network"
)

// ErrUsernameTaken is returned by Create when another player holds the name.
var ErrUsernameTaken = errors.New("username is already taken")

// PlayerManager holds the logged-in players in login order. Usernames are
// unique and compared case-sensitively.
type PlayerManager struct {
	players []*Player
}

// NewPlayerManager creates an empty player registry.
func NewPlayerManager() *PlayerManager {
	return &PlayerManager{}
}

// Create registers a new player for conn.
func (m *PlayerManager) Create(conn *network.Connection, username string) (*Player, error) {
	if _, taken := m.ByUsername(username); taken {
		return nil, ErrUsernameTaken
	}
	p := &Player{
		conn:     conn,
		username: username,
		joinedAt: time.Now(),
	}
	m.players = append(m.players, p)
	return p, nil
}

// Remove drops p. Removing an absent player is a no-op.
func (m *PlayerManager) Remove(p *Player) bool {
	for i, o := range m.players {
		if o == p {
			m.players = append(m.players[:i], m.players[i+1:]...)
			return true
		}
	}
	return false
}

// ByUsername returns the player holding username.
func (m *PlayerManager) ByUsername(username string) (*Player, bool) {
	for _, p := range m.players {
		if p.username == username {
			return p, true
		}
	}
	return nil, false
}

// ByConnection returns the player bound to the connection with id.
func (m *PlayerManager) ByConnection(id uuid.UUID) (*Player, bool) {
	for _, p := range m.players {
		if p.conn.ID() == id {
			return p, true
		}
	}
	return nil, false
}

// All returns the players in login order.
func (m *PlayerManager) All() []*Player {
	out := make([]*Player, len(m.players))
	copy(out, m.players)
	return out
}

// Count returns the number of players.
func (m *PlayerManager) Count() int { return len(m.players) }

// ReadyCount returns the number of players whose ready flag is set.
func (m *PlayerManager) ReadyCount() int {
	n := 0
	for _, p := range m.players {
		if p.ready {
			n++
		}
	}
	return n
}
