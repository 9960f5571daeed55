// Package gateway exposes a running sync engine over HTTP: the current view,
// a websocket feed of view changes and the operator intents.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Config holds configuration for the gateway
type Config struct {
	Addr           string
	AllowedOrigins []string
	Hub            HubConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		Addr:           ":8090",
		AllowedOrigins: []string{"*"},
		Hub:            DefaultHubConfig(),
	}
}

// Service ties the intent handler and the view hub to one engine.
type Service struct {
	engine  Engine
	hub     *ViewHub
	handler *Handler
	config  Config
}

// NewService creates a new gateway service
func NewService(e Engine, config Config) *Service {
	return &Service{
		engine:  e,
		hub:     NewViewHub(e, config.Hub),
		handler: NewHandler(e),
		config:  config,
	}
}

// Start runs the view hub until ctx is done.
func (s *Service) Start(ctx context.Context) {
	log.Info().Str("session_id", s.engine.ID()).Msg("starting gateway service")
	s.hub.Start(ctx)
	log.Info().Msg("gateway service stopped")
}

// RegisterRoutes registers every gateway route
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.handler.RegisterRoutes(mux)
	s.hub.RegisterRoutes(mux)
	mux.HandleFunc("GET /api/stats", s.HandleStats)
	log.Info().Msg("gateway routes registered")
}

// HandleStats handles GET /api/stats
func (s *Service) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Stats())
}

// Stats returns statistics about the gateway service
func (s *Service) Stats() map[string]interface{} {
	view := s.engine.Snapshot()
	return map[string]interface{}{
		"service":    "mafia_sync",
		"session_id": s.engine.ID(),
		"connection": view.State.Connection,
		"version":    view.Version,
		"viewers":    s.hub.Viewers(),
	}
}

// NewServer wraps mux with CORS and HTTP/2 cleartext support.
func NewServer(config Config, mux *http.ServeMux) *http.Server {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: config.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:              config.Addr,
		Handler:           h2c.NewHandler(c.Handler(mux), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
