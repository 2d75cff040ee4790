// Package events defines the lobby events and the bus that carries them to
// observers (telemetry, the HTTP event stream, the heartbeat).
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Connection events
	EventConnectionOpened EventType = "connection_opened"
	EventConnectionClosed EventType = "connection_closed"

	// Player events
	EventPlayerLogin         EventType = "player_login"
	EventPlayerLoginRejected EventType = "player_login_rejected"
	EventPlayerReady         EventType = "player_ready"
	EventPlayerLogout        EventType = "player_logout"

	// Game events
	EventGameStart   EventType = "game_start"
	EventLobbyStatus EventType = "lobby_status"

	// System events
	EventShutdown EventType = "shutdown"
)

// LobbyEvents lists every event an observer of the lobby may want.
var LobbyEvents = []EventType{
	EventConnectionOpened,
	EventConnectionClosed,
	EventPlayerLogin,
	EventPlayerLoginRejected,
	EventPlayerReady,
	EventPlayerLogout,
	EventGameStart,
	EventLobbyStatus,
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType   `json:"type"`
	Source  string      `json:"source"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload,omitempty"`
}

// ConnectionPayload describes an accepted or closed client connection.
type ConnectionPayload struct {
	ConnectionID string `json:"connection_id"`
	RemoteAddr   string `json:"remote_addr"`
}

// PlayerPayload describes a player at the moment the event happened.
type PlayerPayload struct {
	ConnectionID string `json:"connection_id"`
	Username     string `json:"username"`
	Ready        bool   `json:"ready"`
}

// GameStartPayload is emitted once, when the lobby starts the game.
type GameStartPayload struct {
	Players []string `json:"players"`
	Forced  bool     `json:"forced"`
}

// LobbyStatusPayload is a point-in-time summary of the lobby.
type LobbyStatusPayload struct {
	Running     bool `json:"running"`
	Connections int  `json:"connections"`
	Players     int  `json:"players"`
	Ready       int  `json:"ready"`
	CanStart    bool `json:"can_start"`
}
