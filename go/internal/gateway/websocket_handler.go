package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for the auction room
type WebSocketHandler struct {
	ctx               context.Context
	connectionManager *ConnectionManager
	dispatcher        *Dispatcher
}

// NewWebSocketHandler creates a new WebSocket handler. Connections live until
// the client leaves or ctx is done
func NewWebSocketHandler(ctx context.Context, cm *ConnectionManager, dispatcher *Dispatcher) *WebSocketHandler {
	return &WebSocketHandler{ctx: ctx, connectionManager: cm, dispatcher: dispatcher}
}

// HandleConnection upgrades the request. Identity is established afterwards
// with a join message
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	// The request context ends when this handler returns, so the pumps use
	// the server's.
	if _, err := h.connectionManager.UpgradeConnection(h.ctx, w, r, h.dispatcher); err != nil {
		log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("failed to upgrade WebSocket connection")
		return
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.HandleConnection)
}
