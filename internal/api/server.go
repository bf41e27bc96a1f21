// Package api exposes a read-only HTTP surface over the running engine.
// It never mutates engine state; every endpoint is a view.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/marketvigil/vigil/internal/fsm"
	"github.com/marketvigil/vigil/internal/guardian"
	"github.com/marketvigil/vigil/internal/paper"
	"github.com/marketvigil/vigil/internal/state"
)

// Server represents the REST API server.
type Server struct {
	router   *gin.Engine
	addr     string
	server   *http.Server
	sys      *state.SystemState
	machine  *fsm.Machine
	guardian *guardian.SystemGuardian
	ledger   *paper.Ledger

	startTime time.Time
}

// Config contains server configuration.
type Config struct {
	Host     string
	Port     int
	Sys      *state.SystemState
	Machine  *fsm.Machine
	Guardian *guardian.SystemGuardian
	Ledger   *paper.Ledger
}

// NewServer creates a new API server.
func NewServer(config Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)

	server := &Server{
		router:    router,
		addr:      addr,
		sys:       config.Sys,
		machine:   config.Machine,
		guardian:  config.Guardian,
		ledger:    config.Ledger,
		startTime: time.Now(),
	}

	server.setupRoutes()

	return server
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}

	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// LoggerMiddleware is a custom logging middleware for Gin.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method

		logEvent := log.Info().
			Str("method", method).
			Str("path", path).
			Str("query", query).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("client_ip", clientIP)

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}
