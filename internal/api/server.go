package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/gltrack/telemetry-server/internal/bus"
	"github.com/gltrack/telemetry-server/internal/config"
	"github.com/gltrack/telemetry-server/internal/gateway"
	"github.com/gltrack/telemetry-server/internal/metrics"
	"github.com/gltrack/telemetry-server/internal/publisher"
	"github.com/gltrack/telemetry-server/internal/storage"
	"github.com/gltrack/telemetry-server/internal/validation"
)

// SessionCache is told about session changes made through the API
type SessionCache interface {
	Set(id int64)
	Forget(id int64)
}

// Options selects the parts of the API a binary serves. Nil members
// disable their routes.
type Options struct {
	Store    storage.Store
	Bus      bus.Bus
	Sessions SessionCache
	Registry *gateway.ConnectionRegistry
	Downlink *gateway.Downlink
	History  *publisher.History
	Live     http.Handler
	Metrics  *metrics.Metrics
}

// RESTServer represents the REST API server
type RESTServer struct {
	config    *config.Config
	opts      Options
	store     storage.Store
	validator *validation.Validator
	router    chi.Router
	server    *http.Server
	started   time.Time
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, opts Options) *RESTServer {
	s := &RESTServer{
		config:    cfg,
		opts:      opts,
		store:     opts.Store,
		validator: validation.NewValidator(),
		router:    chi.NewRouter(),
		started:   time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Handler returns the root handler
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.API.AllowOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))

	// websocket and metrics stay outside the request timeout
	if s.opts.Live != nil {
		s.router.Handle("/ws", s.opts.Live)
	}
	if s.opts.Metrics != nil && s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, s.opts.Metrics.Handler())
	}

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		s.setupAPIRoutes(r)
	})
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
