// Package api serves the monitor over HTTP with gin.
//
// Routes:
//
//	GET /healthz           liveness and latest status
//	GET /v1/state          current composite state
//	GET /v1/metrics        monitor counters
//	GET /v1/history        recent states, ?limit=N
//	GET /v1/processes      active and recent recovery processes
//	GET /v1/config         running configuration (YAML, token redacted)
//	PUT /v1/config         replace the configuration (bearer token)
//	GET /metrics           Prometheus exposition
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/steveyegge/vigil/internal/config"
	"github.com/steveyegge/vigil/internal/types"
)

// Monitor is the part of the monitor engine the API exposes
type Monitor interface {
	CurrentState() *types.CompositeState
	Metrics() map[string]float64
	History(n int) []*types.CompositeState
	Processes() []types.RecoveryProcess
	Configuration() *config.Configuration
	UpdateConfiguration(cfg *config.Configuration, origin string) error
}

// Options configures the router
type Options struct {
	// Token guards configuration changes. Empty disables the check.
	Token string
	// Metrics serves /metrics when set
	Metrics http.Handler
	Logger  *zap.Logger
}

// NewRouter builds the gin engine for m
func NewRouter(m Monitor, opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	h := &handlers{monitor: m, logger: logger}

	router.GET("/healthz", h.health)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	v1 := router.Group("/v1")
	{
		v1.GET("/state", h.state)
		v1.GET("/metrics", h.metrics)
		v1.GET("/history", h.history)
		v1.GET("/processes", h.processes)
		v1.GET("/config", h.getConfig)
		v1.PUT("/config", BearerAuth(opts.Token), h.putConfig)
	}

	return router
}

// requestLogger logs one line per request at debug level
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// Server runs the router on an address
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates an HTTP server for handler
func NewServer(addr string, handler http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.Named("api"),
	}
}

// Start listens and serves in the background. Listen errors are returned
// directly; serve errors after that are logged.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}

	s.logger.Info("api listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server failed", zap.Error(err))
		}
	}()
	return ln.Addr(), nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}
