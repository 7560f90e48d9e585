// Package api provides the HTTP API server for Kiwi.
// It uses the Echo framework to serve REST endpoints for backup, restore and
// installation operations, and a WebSocket stream of job and installation
// events.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"eve.evalgo.org/db"

	"evalgo.org/kiwi/internal/auth"
	"evalgo.org/kiwi/internal/config"
	"evalgo.org/kiwi/internal/logging"
	"evalgo.org/kiwi/internal/orchestration"
	"evalgo.org/kiwi/internal/validation"
	"evalgo.org/kiwi/internal/version"
)

// DatabaseInfoProvider reports on the job ledger database. It is nil when
// jobs are kept in memory.
type DatabaseInfoProvider interface {
	GetDatabaseInfo() (*db.DatabaseInfo, error)
}

// Server represents the Kiwi API server.
type Server struct {
	echo       *echo.Echo
	orch       *orchestration.Orchestrator
	config     *config.Config
	wsHub      *Hub
	authMiddle *auth.Middleware
	validator  *validation.Validator
	dbInfo     DatabaseInfoProvider

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new API server instance. The hub must be the orchestrator's
// notifier for job events to reach WebSocket clients; dbInfo may be nil.
func New(cfg *config.Config, orch *orchestration.Orchestrator, hub *Hub, dbInfo DatabaseInfoProvider) *Server {
	e := echo.New()

	// Configure Echo
	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Server.Debug

	// Set custom error handler
	e.HTTPErrorHandler = HTTPErrorHandler

	// Create server instance
	ctx, cancel := context.WithCancel(context.Background())
	server := &Server{
		echo:       e,
		orch:       orch,
		config:     cfg,
		wsHub:      hub,
		authMiddle: auth.NewMiddleware(cfg),
		validator:  validation.New(),
		dbInfo:     dbInfo,
		cancel:     cancel,
	}

	// Installation changes reach WebSocket clients through the hub
	orch.Tracker().OnChange(hub.InstallationChanged)

	// Start WebSocket hub and session expiry in background
	server.wg.Add(2)
	go func() {
		defer server.wg.Done()
		hub.Run(ctx)
	}()
	go func() {
		defer server.wg.Done()
		server.expireSessions(ctx)
	}()

	// Setup middleware
	server.setupMiddleware()

	// Setup routes
	server.setupRoutes()

	return server
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	// Logger middleware, routed through the shared logger
	s.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
		Output: logging.L.StandardLog().Writer(),
	}))

	// Recover middleware
	s.echo.Use(middleware.Recover())

	// Security headers middleware
	s.echo.Use(SecurityHeaders)

	// CORS middleware
	if len(s.config.Security.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.Security.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, auth.HeaderAPIKey},
		}))
	}

	// Request ID middleware
	s.echo.Use(middleware.RequestID())

	// Rate limiting
	if s.config.Security.RateLimit > 0 {
		s.echo.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(s.config.Security.RateLimit),
		)))
	}
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	// Health check and metrics stay public
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	// WebSocket event stream
	s.echo.GET("/ws", s.HandleWebSocket, s.authMiddle.RequireRead)
	s.echo.GET("/ws/stats", s.GetWebSocketStats, s.authMiddle.RequireRead)

	// API v1 group
	v1 := s.echo.Group("/api/v1", ValidateContentType, ValidateAcceptHeader)
	read := s.authMiddle.RequireRead
	write := s.authMiddle.RequireWrite

	// Infrastructure routes, :id is the infra id
	infras := v1.Group("/infras/:id", ValidateInfraID)
	infras.GET("/installation", s.getInstallation, read)
	infras.POST("/installation/refresh", s.refreshInstallation, write)
	infras.POST("/install", s.install, write)
	infras.POST("/install-minio", s.installMinio, write)
	infras.POST("/uninstall", s.uninstall, write)
	infras.POST("/backups", s.createBackup, write)
	infras.POST("/backups/delete", s.deleteBackup, write)
	infras.POST("/restores", s.createRestore, write)
	infras.POST("/namespaces", s.fetchNamespaces, read)
	infras.GET("/storages", s.listMappings, read)
	infras.POST("/storages", s.linkStorage, write)
	infras.DELETE("/storages/:storageId", s.unlinkStorage, write)

	v1.GET("/installations", s.listInstallations, read)

	// Storage registry routes
	v1.POST("/storage-mappings/batch", s.batchMappings, read)
	v1.POST("/storage-mappings/disconnected", s.disconnectedInfras, read)
	v1.GET("/storages", s.listStorages, read)
	v1.GET("/storages/:id", s.getStorage, read)

	// Parked credential sessions
	sessions := v1.Group("/auth-sessions")
	sessions.GET("", s.listSessions, read)
	sessions.GET("/:id", s.getSession, ValidateIDFormat, read)
	sessions.POST("/:id/submit", s.submitSession, ValidateIDFormat, write)
	sessions.DELETE("/:id", s.cancelSession, ValidateIDFormat, write)

	// Job ledger and watch control
	jobs := v1.Group("/jobs")
	jobs.GET("", s.listJobs, ValidateJobQuery, read)
	jobs.GET("/:id", s.getJob, ValidateIDFormat, read)
	jobs.POST("/:id/watch", s.watchJob, ValidateIDFormat, write)
	jobs.DELETE("/:id/watch", s.stopWatchingJob, ValidateIDFormat, write)

	v1.GET("/stats", s.getStatistics, read)
}

// expireSessions cancels auth sessions older than the configured TTL.
func (s *Server) expireSessions(ctx context.Context) {
	ttl := s.config.Security.SessionTTL
	if ttl <= 0 {
		return
	}
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.orch.Credentials().Expire(ttl); n > 0 {
				logging.Infof("expired %d auth sessions older than %s", n, ttl)
			}
		}
	}
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	logging.L.Info("starting Kiwi API server",
		"address", addr,
		"backend", s.config.Backend.URL,
		"ledger", s.ledgerName(),
		"auth", s.config.Security.AuthEnabled,
	)

	// Configure server timeouts
	s.echo.Server.ReadTimeout = s.config.Server.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.Server.WriteTimeout

	var err error
	if s.config.Server.TLSEnabled {
		err = s.echo.StartTLS(addr, s.config.Server.TLSCert, s.config.Server.TLSKey)
	} else {
		err = s.echo.Start(addr)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, then stops every poll and the
// background workers. Remote jobs keep running.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Infof("shutting down Kiwi API server")

	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}

	// Stop hub and session expiry, then the polls
	s.cancel()
	if err := s.orch.Shutdown(ctx); err != nil {
		return fmt.Errorf("error stopping polls: %w", err)
	}
	s.wg.Wait()

	logging.Infof("server shutdown complete")
	return nil
}

func (s *Server) ledgerName() string {
	if s.dbInfo != nil {
		return "couchdb:" + s.config.CouchDB.Database
	}
	return "memory"
}

// healthCheck handles GET /health.
func (s *Server) healthCheck(c echo.Context) error {
	body := map[string]interface{}{
		"status":   "healthy",
		"service":  "kiwi",
		"version":  version.Version,
		"ledger":   s.ledgerName(),
		"polls":    len(s.orch.Watching()),
		"sessions": len(s.orch.Sessions()),
	}

	// Check database connectivity when a CouchDB ledger is configured
	if s.dbInfo != nil {
		info, err := s.dbInfo.GetDatabaseInfo()
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status":  "unhealthy",
				"error":   "database connection failed",
				"details": err.Error(),
			})
		}
		body["database"] = info.DBName
		body["documents"] = map[string]interface{}{
			"total":   info.DocCount,
			"deleted": info.DocDelCount,
		}
	}

	return c.JSON(http.StatusOK, body)
}

// ServeHTTP allows Server to implement http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
