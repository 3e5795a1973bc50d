// Package gateway exposes experiment sessions over WebSocket and a small
// HTTP API, and fans session events out to connected clients.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/mcdev12/marketlab/go/internal/models"
	"github.com/rs/zerolog/log"
)

type Config struct {
	ConnectionConfig ConnectionConfig
	RequestTimeout   time.Duration
	// Defaults fills unset fields of session configurations created over HTTP.
	Defaults func(models.SessionConfig) models.SessionConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		RequestTimeout:   5 * time.Second,
	}
}

// Service bundles the connection manager and the HTTP handlers.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	sessionsHandler   *SessionsHandler
}

// NewService creates the gateway. The connection manager exists before the
// registry, so sessions are bound afterwards with Bind.
func NewService(config Config) *Service {
	cm := NewConnectionManager(config.ConnectionConfig)
	return &Service{
		connectionManager: cm,
		wsHandler:         &WebSocketHandler{connectionManager: cm, requestTimeout: config.RequestTimeout},
		sessionsHandler:   &SessionsHandler{defaults: config.Defaults},
	}
}

// Emitter returns the connection manager to hand to the registry.
func (s *Service) Emitter() *ConnectionManager {
	return s.connectionManager
}

// Bind attaches the session registry.
func (s *Service) Bind(sessions Sessions) {
	s.wsHandler = NewWebSocketHandler(s.connectionManager, sessions, s.wsHandler.requestTimeout)
	s.sessionsHandler = NewSessionsHandler(sessions, s.sessionsHandler.defaults)
}

// Start runs the delivery loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting experiment gateway")
	s.connectionManager.Start(ctx)
	log.Info().Msg("experiment gateway stopped")
}

func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.sessionsHandler.RegisterRoutes(mux)
	log.Info().Msg("experiment gateway routes registered")
}

func (s *Service) Stats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}
