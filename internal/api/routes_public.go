package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"

	"github.com/multisnake-project/multisnake/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "multisnake",
		"version": Version,
	})
}

// handleGetServerInfo returns host information and a lobby summary.
func (s *Server) handleGetServerInfo(c *gin.Context) {
	var (
		running     bool
		players     int
		connections int
	)
	if !s.do(c, func() {
		running = s.lobby.Running()
		players = s.lobby.Players().Count()
		connections = s.reactor.Connections().Count()
	}) {
		return
	}

	sysInfo := s.systemInfo()
	c.JSON(http.StatusOK, gin.H{
		"version":         Version,
		"game_port":       s.cfg.GetServer().Port,
		"uptime_seconds":  int64(time.Since(s.startedAt).Seconds()),
		"game_running":    running,
		"players":         players,
		"connections":     connections,
		"hostname":        sysInfo.Hostname,
		"platform":        sysInfo.OS,
		"architecture":    sysInfo.Architecture,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
	})
}

// systemInfo returns the host description, sampling gopsutil at most once
// per systemInfoTTL.
func (s *Server) systemInfo() util.SystemInfo {
	if cached, ok := s.cache.Get("system_info"); ok {
		return cached.(util.SystemInfo)
	}
	info := util.GetSystemInfo()
	s.cache.Set("system_info", info, gocache.DefaultExpiration)
	return info
}
