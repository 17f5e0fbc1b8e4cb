// Package api provides the HTTP surface for the engine.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/kato-io/kato/pkg/cache"
	"github.com/kato-io/kato/pkg/engine"
	"github.com/kato-io/kato/pkg/storage"
	"github.com/kato-io/kato/pkg/vector"
	"github.com/kato-io/kato/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	router     *engine.Router
	store      storage.PatternStore
	cacheC     cache.MetadataCache
	vectors    vector.Store

	defaultNodeID string
}

// NewServer creates the API server over the engine router and its
// backends (the latter only for health checks).
func NewServer(router *engine.Router, store storage.PatternStore, metadataCache cache.MetadataCache, vectors vector.Store, defaultNodeID string) *Server {
	e := echo.New()

	s := &Server{
		echo:          e,
		router:        router,
		store:         store,
		cacheC:        metadataCache,
		vectors:       vectors,
		defaultNodeID: defaultNodeID,
	}

	s.setupRoutes()
	return s
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	// Observations carry vectors; 8 MB leaves headroom for a batch of
	// 768-dim float payloads while still rejecting runaway bodies at the
	// HTTP read level.
	s.echo.Use(middleware.BodyLimit(8 * 1024 * 1024))

	s.echo.GET("/health", s.healthHandler)

	s.echo.POST("/sessions", s.createSessionHandler)
	s.echo.GET("/sessions/:id", s.getSessionHandler)
	s.echo.DELETE("/sessions/:id", s.deleteSessionHandler)

	s.echo.POST("/sessions/:id/observe", s.observeHandler)
	s.echo.POST("/sessions/:id/observe-sequence", s.observeSequenceHandler)
	s.echo.POST("/sessions/:id/learn", s.learnHandler)

	s.echo.GET("/sessions/:id/predictions", s.predictionsHandler)
	s.echo.GET("/sessions/:id/stm", s.stmHandler)
	s.echo.GET("/sessions/:id/percept-data", s.perceptDataHandler)
	s.echo.GET("/sessions/:id/pattern/:name", s.patternHandler)

	s.echo.POST("/sessions/:id/clear-stm", s.clearSTMHandler)
	s.echo.POST("/sessions/:id/clear-all", s.clearAllHandler)
	s.echo.POST("/sessions/:id/config", s.updateConfigHandler)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
// Used by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	response := &HealthResponse{
		Status:  "healthy",
		Version: version.Full(),
		Checks:  map[string]HealthCheck{},
	}

	checks := []struct {
		name string
		ping func(context.Context) error
	}{
		{"pattern_store", s.store.Ping},
		{"metadata_cache", s.cacheC.Ping},
		{"vector_store", s.vectors.Ping},
	}
	for _, check := range checks {
		if err := check.ping(reqCtx); err != nil {
			response.Status = "degraded"
			response.Checks[check.name] = HealthCheck{Status: "unhealthy", Message: err.Error()}
			continue
		}
		response.Checks[check.name] = HealthCheck{Status: "healthy"}
	}

	code := http.StatusOK
	if response.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, response)
}
