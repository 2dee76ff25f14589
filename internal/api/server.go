package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchlink/internal/config"
	"github.com/energizer-project/matchlink/internal/control"
	"github.com/energizer-project/matchlink/internal/events"
	"github.com/energizer-project/matchlink/internal/metrics"
)

// BuildInfo identifies the running process in /api/public responses.
type BuildInfo struct {
	Version   string
	SessionID string
	StartedAt time.Time
}

// Server is the local HTTP API of a matchlink client.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	control  *control.Controller

	metrics *metrics.Collector
	build   BuildInfo

	routerOnce sync.Once
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, eventBus *events.EventBus, ctl *control.Controller) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:      cfg,
		eventBus: eventBus,
		control:  ctl,
		build:    BuildInfo{Version: "dev", StartedAt: time.Now()},
	}
}

// SetDependencies injects optional runtime dependencies. m may be nil, in
// which case /metrics is not served.
func (s *Server) SetDependencies(m *metrics.Collector, build BuildInfo) {
	s.metrics = m
	if build.StartedAt.IsZero() {
		build.StartedAt = s.build.StartedAt
	}
	s.build = build
}

// Handler returns the router, building it on first use.
func (s *Server) Handler() http.Handler {
	s.routerOnce.Do(func() { s.router = s.buildRouter() })
	return s.router
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetApplicationData().API
	addr := net.JoinHostPort(apiCfg.Host, strconv.Itoa(apiCfg.Port))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info().Str("addr", ln.Addr().String()).Msg("REST API server starting")

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.cfg.GetApplicationData().API
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(apiCfg.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
	}

	client := router.Group("/api/client")
	{
		client.GET("/status", s.handleStatus)
		client.GET("/regions", s.handleRegions)
		client.GET("/rooms", s.handleRooms)
		client.GET("/friends", s.handleFriends)
		client.GET("/history", s.handleHistory)

		client.POST("/connect", s.handleConnect)
		client.POST("/disconnect", s.handleDisconnect)
		client.POST("/reconnect", s.handleReconnect)
		client.POST("/rejoin", s.handleRejoin)
		client.POST("/join_lobby", s.handleJoinLobby)
		client.POST("/leave_lobby", s.handleLeaveLobby)
		client.POST("/create_room", s.handleCreateRoom)
		client.POST("/join_room/:name", s.handleJoinRoom)
		client.POST("/join_random", s.handleJoinRandom)
		client.POST("/leave_room", s.handleLeaveRoom)
		client.POST("/find_friends", s.handleFindFriends)
	}

	configure := router.Group("/api/configure")
	{
		configure.GET("/get_config", s.handleGetConfig)
		configure.POST("/set_client_data", s.handleSetClientData)
	}

	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "matchlink API is running"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
