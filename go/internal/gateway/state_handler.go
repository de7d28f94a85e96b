package gateway

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/landauction/go/internal/auction"
	"github.com/mcdev12/landauction/go/internal/events"
	"github.com/mcdev12/landauction/go/internal/presence"
)

// Pinger reports whether the ledger is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// StateHandler serves the read-only endpoints
type StateHandler struct {
	engine   *auction.Engine
	presence *presence.Registry
	conns    *ConnectionManager
	pinger   Pinger
}

// NewStateHandler creates a new state handler
func NewStateHandler(engine *auction.Engine, registry *presence.Registry, conns *ConnectionManager, pinger Pinger) *StateHandler {
	return &StateHandler{engine: engine, presence: registry, conns: conns, pinger: pinger}
}

type loginRequest struct {
	TeamName string `json:"team_name"`
	Passcode string `json:"passcode"`
}

type connectedResponse struct {
	events.RosterPayload
	Connections int `json:"connections"`
}

// RegisterRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /api/state", h.handleState)
	mux.HandleFunc("GET /api/plots", h.handlePlots)
	mux.HandleFunc("GET /api/plots/{n}/bids", h.handleBids)
	mux.HandleFunc("GET /api/teams", h.handleTeams)
	mux.HandleFunc("GET /api/offers", h.handleOffers)
	mux.HandleFunc("GET /api/connected", h.handleConnected)
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
}

func (h *StateHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			log.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "ledger": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *StateHandler) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.State(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *StateHandler) handlePlots(w http.ResponseWriter, r *http.Request) {
	plots, err := h.engine.Plots(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plots)
}

func (h *StateHandler) handleBids(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n <= 0 {
		badRequest(w, "invalid plot number")
		return
	}
	bids, err := h.engine.Bids(r.Context(), n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

func (h *StateHandler) handleTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.engine.Teams(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

func (h *StateHandler) handleOffers(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	offers, err := h.engine.Offers(r.Context(), activeOnly)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offers)
}

func (h *StateHandler) handleConnected(w http.ResponseWriter, r *http.Request) {
	resp := connectedResponse{RosterPayload: h.presence.Roster()}
	if h.conns != nil {
		resp.Connections = h.conns.Count()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *StateHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil || req.TeamName == "" {
		badRequest(w, "team_name and passcode are required")
		return
	}
	team, err := h.engine.Login(r.Context(), req.TeamName, req.Passcode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}
