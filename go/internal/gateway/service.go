package gateway

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/landauction/go/internal/auction"
	"github.com/mcdev12/landauction/go/internal/presence"
)

// Service wires the websocket room, the admin API and the read API together
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	adminHandler      *AdminHandler
	stateHandler      *StateHandler
}

// Config holds configuration for the gateway service. ConnectionConfig
// builds the room the service is handed in NewService.
type Config struct {
	ConnectionConfig ConnectionConfig
	AdminToken       string
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a gateway serving conns. The engine must already
// publish to conns and the registry report roster changes to it
func NewService(ctx context.Context, cfg Config, conns *ConnectionManager, engine *auction.Engine, registry *presence.Registry, pinger Pinger) *Service {
	dispatcher := NewDispatcher(engine, registry, clockwork.NewRealClock())
	return &Service{
		connectionManager: conns,
		wsHandler:         NewWebSocketHandler(ctx, conns, dispatcher),
		adminHandler:      NewAdminHandler(engine, registry, cfg.AdminToken),
		stateHandler:      NewStateHandler(engine, registry, conns, pinger),
	}
}

// Start runs the broadcast loop until ctx is done
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting auction gateway")
	s.connectionManager.Start(ctx)
	log.Info().Msg("auction gateway stopped")
	return nil
}

// RegisterRoutes registers every gateway route
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.adminHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterRoutes(mux)
	log.Info().Msg("auction gateway routes registered")
}
