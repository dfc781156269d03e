package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ember-project/ember/internal/config"
	"github.com/ember-project/ember/internal/engine"
	"github.com/ember-project/ember/internal/events"
	"github.com/ember-project/ember/internal/metrics"
	intnet "github.com/ember-project/ember/internal/network"
	"github.com/ember-project/ember/internal/util"
)

// Version is reported by the ping and server info endpoints.
const Version = "1.0.0"

// ConnectionCounter reports open client sockets.
type ConnectionCounter interface {
	Count() int
	Pending() int
}

// Server is the admin REST API.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	engine   *engine.Engine
	conns    ConnectionCounter
	started  time.Time

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server. conns may be nil.
func NewServer(cfg *config.Config, eventBus *events.EventBus, eng *engine.Engine, conns ConnectionCounter) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		engine:   eng,
		conns:    conns,
		started:  time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router, for serving without a listener.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves the API until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	app := s.cfg.GetApplicationData()
	addr := fmt.Sprintf("%s:%d", app.API.Host, app.API.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	if app.Security.TLSEnabled {
		tlsConfig, err := loadTLSConfig(app.Security)
		if err != nil {
			ln.Close()
			return err
		}
		s.httpServer.TLSConfig = tlsConfig
		ln = tls.NewListener(ln, tlsConfig)
	}

	log.Info().Str("addr", addr).Bool("tls", app.Security.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// loadTLSConfig loads the API certificate, generating a self-signed one
// when none exists.
func loadTLSConfig(sec config.SecurityConfig) (*tls.Config, error) {
	if err := util.EnsureCertificate(sec.TLSCertFile, sec.TLSKeyFile); err != nil {
		return nil, fmt.Errorf("failed to prepare API certificate: %w", err)
	}
	cert, err := tls.LoadX509KeyPair(sec.TLSCertFile, sec.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load API certificate: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		},
	}, nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	sec := s.cfg.GetApplicationData().Security

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := sec.AllowedOrigins
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

	rateLimiter := NewRateLimiter(sec.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	auth := NewAuthMiddleware(s.cfg)
	router.Use(auth.IPWhitelist())

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// ---- Public endpoints (no auth required) ----
	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/server_info", s.handleServerInfo)
	}

	// ---- Protected endpoints ----
	protected := router.Group("/api")
	protected.Use(auth.RequireAuth())

	monitor := protected.Group("/monitor")
	{
		monitor.GET("/players", s.handlePlayers)
		monitor.GET("/tick", s.handleTick)
		monitor.GET("/overloads", s.handleOverloads)
		monitor.GET("/cpu_usage", s.handleCPUUsage)
		monitor.GET("/memory_usage", s.handleMemoryUsage)
		monitor.GET("/log_entries", s.handleLogEntries)
	}

	control := protected.Group("/control")
	{
		control.POST("/kick/:name", s.handleKick)
		control.POST("/broadcast", s.handleBroadcast)
		control.POST("/save", s.handleSave)
	}

	configure := protected.Group("/configure")
	{
		configure.GET("/config", s.handleGetConfig)
		configure.POST("/app_data", s.handleSetAppData)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
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

// requestTimeout bounds calls that wait for the tick goroutine.
const requestTimeout = 5 * time.Second

func tickContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

// tickError maps an engine call failure to a response.
func tickError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
