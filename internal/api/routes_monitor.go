package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/multisnake-project/multisnake/internal/events"
	"github.com/multisnake-project/multisnake/internal/lobby"
	intnet "github.com/multisnake-project/multisnake/internal/network"
	"github.com/multisnake-project/multisnake/internal/util"
)

const (
	// eventQueueSize bounds the events buffered for one slow stream client.
	eventQueueSize = 64

	streamWriteWait  = 5 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// handleGetLobbyStatus returns the lobby summary and roster.
func (s *Server) handleGetLobbyStatus(c *gin.Context) {
	var status lobby.Status
	var connections int
	if !s.do(c, func() {
		status = s.lobby.Status()
		connections = s.reactor.Connections().Count()
	}) {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"running":     status.Running,
		"can_start":   status.CanStart,
		"players":     status.Players,
		"ready":       status.Ready,
		"connections": connections,
		"roster":      status.Roster,
	})
}

// handleGetPlayers returns every logged-in player.
func (s *Server) handleGetPlayers(c *gin.Context) {
	var players []lobby.PlayerInfo
	if !s.do(c, func() {
		all := s.lobby.Players().All()
		players = make([]lobby.PlayerInfo, 0, len(all))
		for _, p := range all {
			players = append(players, p.Info())
		}
	}) {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"players": players,
		"total":   len(players),
	})
}

// handleGetConnections returns every open client connection.
func (s *Server) handleGetConnections(c *gin.Context) {
	var conns []intnet.ConnectionInfo
	if !s.do(c, func() {
		all := s.reactor.Connections().All()
		conns = make([]intnet.ConnectionInfo, 0, len(all))
		for _, conn := range all {
			conns = append(conns, conn.Info())
		}
	}) {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"connections": conns,
		"total":       len(conns),
	})
}

// handleGetResourceUsage returns host and process resource usage.
func (s *Server) handleGetResourceUsage(c *gin.Context) {
	c.JSON(http.StatusOK, util.GetResourceUsage())
}

func (s *Server) upgrader() websocket.Upgrader {
	allowed := s.cfg.GetApplicationData().Security.AllowedOrigins
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), allowed)
		},
	}
}

// originAllowed reports whether a browser origin may open an event stream.
// Requests without an Origin header come from non-browser clients.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	if u, err := url.Parse(origin); err == nil {
		for _, a := range allowed {
			if a == u.Host {
				return true
			}
		}
	}
	return false
}

// handleEvents streams lobby events to a websocket client as JSON text
// messages until the client goes away or the server stops. Events that do
// not fit in the client's queue are dropped.
func (s *Server) handleEvents(c *gin.Context) {
	name := "api-stream-" + uuid.NewString()
	queue := make(chan events.Event, eventQueueSize)
	// subscribe before the handshake completes
	s.eventBus.SubscribeMany(events.LobbyEvents, name, func(_ context.Context, e events.Event) error {
		select {
		case queue <- e:
		default:
			log.Debug().Str("stream", name).Str("event", string(e.Type)).Msg("event stream queue full, dropping event")
		}
		return nil
	})
	defer s.eventBus.UnsubscribeMany(events.LobbyEvents, name)

	upgrader := s.upgrader()
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Msg("API: event stream upgrade failed")
		return
	}
	defer ws.Close()

	log.Info().Str("stream", name).Str("client_ip", c.ClientIP()).Msg("event stream opened")
	defer log.Info().Str("stream", name).Msg("event stream closed")

	// the read pump only keeps deadlines fresh and notices the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		ws.SetReadLimit(512)
		_ = ws.SetReadDeadline(time.Now().Add(streamPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case <-s.stopping:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(streamWriteWait))
			return
		case e := <-queue:
			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := ws.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
