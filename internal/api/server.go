package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/multisnake-project/multisnake/internal/config"
	"github.com/multisnake-project/multisnake/internal/events"
	"github.com/multisnake-project/multisnake/internal/lobby"
	intnet "github.com/multisnake-project/multisnake/internal/network"
)

// Version is reported by the ping and server info endpoints.
const Version = "1.0.0"

// systemInfoTTL bounds how long host facts are served from memory.
const systemInfoTTL = time.Minute

// Server is the HTTP API server of the lobby.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	reactor  *intnet.Reactor
	lobby    *lobby.Lobby

	startedAt time.Time
	cache     *gocache.Cache

	// HTTP server
	httpServer *http.Server
	router     *gin.Engine
	routerOnce sync.Once

	// closed when Stop runs; ends open event streams
	stopping chan struct{}
	stopOnce sync.Once
}

// NewServer creates a new API server. All lobby state is read and changed
// through reactor.Do.
func NewServer(cfg *config.Config, eventBus *events.EventBus, reactor *intnet.Reactor, lb *lobby.Lobby) *Server {
	// Set Gin mode based on log level
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:       cfg,
		eventBus:  eventBus,
		reactor:   reactor,
		lobby:     lb,
		startedAt: time.Now(),
		cache:     gocache.New(systemInfoTTL, 5*time.Minute),
		stopping:  make(chan struct{}),
	}
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	s.routerOnce.Do(func() { s.router = s.buildRouter() })
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort("", strconv.Itoa(s.cfg.GetApplicationData().API.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Create listener with SO_REUSEADDR for immediate rebinding after restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("REST API server starting")

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	security := s.cfg.GetApplicationData().Security

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	// CORS
	allowedOrigins := security.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(security.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	auth := NewAuthMiddleware(s.cfg)

	// ---- Public endpoints (no auth required) ----
	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/get_server_info", s.handleGetServerInfo)
	}

	// ---- Protected endpoints ----
	protected := router.Group("/api")
	protected.Use(auth.RequireAuth())

	monitor := protected.Group("/monitor")
	{
		monitor.GET("/get_lobby_status", s.handleGetLobbyStatus)
		monitor.GET("/get_players", s.handleGetPlayers)
		monitor.GET("/get_connections", s.handleGetConnections)
		monitor.GET("/get_resource_usage", s.handleGetResourceUsage)
		monitor.GET("/events", s.handleEvents)
	}

	control := protected.Group("/control")
	{
		control.POST("/start_game", s.handleStartGame)
		control.POST("/kick/:username", s.handleKick)
	}

	configure := protected.Group("/configure")
	{
		configure.GET("/get_config", s.handleGetConfig)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() { close(s.stopping) })
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// do runs fn on the reactor goroutine, answering 503 when that fails.
func (s *Server) do(c *gin.Context, fn func()) bool {
	if err := s.reactor.Do(c.Request.Context(), fn); err != nil {
		log.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("API: lobby unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lobby unavailable"})
		return false
	}
	return true
}
