package gateway

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/landauction/go/internal/auction"
	"github.com/mcdev12/landauction/go/internal/models"
	"github.com/mcdev12/landauction/go/internal/presence"
)

// AdminTokenHeader carries the administrator token
const AdminTokenHeader = "X-Admin-Token"

// AdminHandler exposes the authority actions over REST
type AdminHandler struct {
	engine   *auction.Engine
	presence *presence.Registry
	token    string
}

// NewAdminHandler creates an admin handler guarded by token
func NewAdminHandler(engine *auction.Engine, registry *presence.Registry, token string) *AdminHandler {
	return &AdminHandler{engine: engine, presence: registry, token: token}
}

type roundRequest struct {
	Round int `json:"round"`
}

type plotRequest struct {
	PlotNumber int `json:"plot_number"`
}

type adjustRequest struct {
	PlotNumbers []int           `json:"plot_numbers"`
	Percent     decimal.Decimal `json:"percent"`
}

type questionRequest struct {
	Question string `json:"question"`
}

type snapshotRequest struct {
	Name string `json:"name"`
}

// RegisterRoutes registers the admin routes with an HTTP mux
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, h.requireToken(fn))
	}

	handle("POST /api/admin/verify", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	handle("POST /api/admin/start", h.stateAction(h.engine.Start))
	handle("POST /api/admin/pause", h.stateAction(h.engine.Pause))
	handle("POST /api/admin/sell", h.stateAction(h.engine.Sell))
	handle("POST /api/admin/next", h.stateAction(h.engine.Next))
	handle("POST /api/admin/prev", h.stateAction(h.engine.Prev))
	handle("POST /api/admin/end-game", h.stateAction(h.engine.EndGame))
	handle("POST /api/admin/reset", h.stateAction(h.engine.Reset))
	handle("POST /api/admin/round4/sell", h.stateAction(h.engine.StartRound4Sell))
	handle("POST /api/admin/round4/bid", h.stateAction(h.engine.StartRound4Bid))

	handle("POST /api/admin/round", h.handleRound)
	handle("POST /api/admin/force-resell", h.handleForceResell)
	handle("POST /api/admin/adjust-plot", h.handleAdjust)
	handle("POST /api/admin/undo-adjustment", h.handleUndo)
	handle("POST /api/admin/question", h.handleQuestion)

	handle("POST /api/admin/teams/{id}/ban", h.handleBan(true))
	handle("POST /api/admin/teams/{id}/unban", h.handleBan(false))

	handle("GET /api/admin/snapshots", h.handleListSnapshots)
	handle("POST /api/admin/snapshots", h.handleSaveSnapshot)
	handle("POST /api/admin/snapshots/{name}/restore", h.handleRestoreSnapshot)
}

// requireToken rejects requests without the admin token
func (h *AdminHandler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(AdminTokenHeader)
		if h.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			log.Warn().Str("path", r.URL.Path).Str("remote_addr", r.RemoteAddr).Msg("rejected admin request")
			writeJSON(w, http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Error: "invalid admin token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandler) stateAction(fn func(context.Context) (models.AuctionState, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := fn(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func (h *AdminHandler) handleRound(w http.ResponseWriter, r *http.Request) {
	var req roundRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, "invalid round request")
		return
	}
	st, err := h.engine.SetRound(r.Context(), req.Round)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *AdminHandler) handleForceResell(w http.ResponseWriter, r *http.Request) {
	var req plotRequest
	if err := decodeBody(w, r, &req); err != nil || req.PlotNumber <= 0 {
		badRequest(w, "plot_number is required")
		return
	}
	st, err := h.engine.ForceResell(r.Context(), req.PlotNumber)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *AdminHandler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, "invalid adjustment request")
		return
	}
	res, err := h.engine.AdjustPlots(r.Context(), req.PlotNumbers, req.Percent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AdminHandler) handleUndo(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.UndoAdjustment(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AdminHandler) handleQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, "invalid question request")
		return
	}
	st, err := h.engine.PushQuestion(r.Context(), req.Question)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *AdminHandler) handleBan(banned bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			badRequest(w, "invalid team id")
			return
		}
		team, err := h.engine.BanTeam(r.Context(), id, banned)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if banned {
			h.presence.Ban(id)
		} else {
			h.presence.Unban(id)
		}
		writeJSON(w, http.StatusOK, team.Public())
	}
}

func (h *AdminHandler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.engine.ListSnapshots(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (h *AdminHandler) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, "invalid snapshot request")
		return
	}
	snap, err := h.engine.SaveSnapshot(r.Context(), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *AdminHandler) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.RestoreSnapshot(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
