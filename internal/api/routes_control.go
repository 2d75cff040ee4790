package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// handleStartGame starts the game. Without force=true the start only happens
// when every player of a multi-player lobby is ready.
func (s *Server) handleStartGame(c *gin.Context) {
	force, err := parseForce(c)
	if err != nil {
		return
	}

	var started bool
	if !s.do(c, func() { started = s.lobby.StartGame(force) }) {
		return
	}

	operator, _ := c.Get(operatorKey)
	log.Info().
		Bool("force", force).
		Bool("started", started).
		Interface("operator", operator).
		Msg("API: start game requested")

	c.JSON(http.StatusOK, gin.H{"started": started})
}

// handleKick disconnects the player with the given username.
func (s *Server) handleKick(c *gin.Context) {
	username := c.Param("username")

	var kicked bool
	if !s.do(c, func() { kicked = s.lobby.Kick(username) }) {
		return
	}
	if !kicked {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not found", "username": username})
		return
	}

	operator, _ := c.Get(operatorKey)
	log.Info().Str("username", username).Interface("operator", operator).Msg("API: player kicked")
	c.JSON(http.StatusOK, gin.H{"status": "kicked", "username": username})
}

// parseForce reads the optional force query parameter.
func parseForce(c *gin.Context) (bool, error) {
	raw := c.DefaultQuery("force", "false")
	force, err := strconv.ParseBool(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid force value"})
		return false, err
	}
	return force, nil
}
