// Package http exposes the approval workflow over HTTP: the requester and
// approver JSON API and the deep-link action entrypoint.
package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/access-approval/internal/application/service"
	"github.com/garyjia/access-approval/internal/application/workflow"
	"github.com/garyjia/access-approval/pkg/utils"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// DefaultIdentityHeader carries the caller's email, set by the
// authenticating proxy in front of the service.
const DefaultIdentityHeader = "X-Forwarded-Email"

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdentityHeader string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdentityHeader: DefaultIdentityHeader,
	}
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	handlers   *Handlers
	logger     Logger
}

// ServerOption configures optional server collaborators
type ServerOption func(*Server)

// WithHealthChecker makes GET /health report component reachability
func WithHealthChecker(checker HealthChecker) ServerOption {
	return func(s *Server) {
		s.handlers.health = checker
	}
}

// NewServer creates a new HTTP server with the given services
func NewServer(
	config ServerConfig,
	engine workflow.WorkflowEngine,
	submissions *service.SubmissionService,
	decisions *service.DecisionService,
	logger Logger,
	opts ...ServerOption,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	if config.IdentityHeader == "" {
		config.IdentityHeader = DefaultIdentityHeader
	}

	server := &Server{
		config:   config,
		router:   gin.New(),
		handlers: NewHandlers(engine, submissions, decisions, logger),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(server)
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
			"caller", c.GetString(callerKey),
		)
	}
}

const callerKey = "caller"

// identityMiddleware requires the authenticated caller header. The value is
// trusted because only the proxy can set it.
func (s *Server) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := strings.TrimSpace(c.GetHeader(s.config.IdentityHeader))
		if caller == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Code:    "UNAUTHENTICATED",
				Error:   "caller identity missing",
			})
			return
		}
		if err := utils.ValidateEmail(caller); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Code:    "UNAUTHENTICATED",
				Error:   "caller identity is not an email address",
			})
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.HealthCheck)

	authed := s.router.Group("/", s.identityMiddleware())
	authed.GET("/action", h.Action)

	api := authed.Group("/api")
	{
		api.POST("/requests", h.SubmitRequest)
		api.GET("/requests/mine", h.ListMine)
		api.GET("/requests/:id", h.GetRequest)
		api.GET("/requests/:id/history", h.GetHistory)

		api.GET("/approvals/pending", h.ListPending)
		api.GET("/approvals/roles", h.GetRoles)
		api.POST("/approvals/decide", h.Decide)
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
