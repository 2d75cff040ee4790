package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// redacted replaces secrets in configuration responses.
const redacted = "********"

// handleGetConfig returns the effective configuration with the API token hidden.
func (s *Server) handleGetConfig(c *gin.Context) {
	appData := s.cfg.GetApplicationData()
	if appData.Security.APIToken != "" {
		appData.Security.APIToken = redacted
	}

	c.JSON(http.StatusOK, gin.H{
		"path":             s.cfg.Path(),
		"server":           s.cfg.GetServer(),
		"application_data": appData,
	})
}
