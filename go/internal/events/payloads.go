package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mcdev12/landauction/go/internal/models"
)

// Event payload types shared between the auction engine, presence and gateway

// StatePayload is the payload for a state-changed event and the join snapshot
type StatePayload struct {
	State       models.AuctionState `json:"state"`
	CurrentPlot *models.Plot        `json:"current_plot,omitempty"`
	Reason      string              `json:"reason,omitempty"`
}

// PlotPayload is the payload for a plot-changed event
type PlotPayload struct {
	Plot       models.Plot `json:"plot"`
	WinnerName string      `json:"winner_name,omitempty"`
}

// TeamLedgerPayload is the payload for a team-ledger-changed event
type TeamLedgerPayload struct {
	TeamID    string          `json:"team_id"`
	TeamName  string          `json:"team_name"`
	Budget    decimal.Decimal `json:"budget"`
	Spent     decimal.Decimal `json:"spent"`
	Remaining decimal.Decimal `json:"remaining"`
	PlotsWon  int             `json:"plots_won"`
}

// NewTeamLedgerPayload snapshots a team's money fields
func NewTeamLedgerPayload(t *models.Team) TeamLedgerPayload {
	return TeamLedgerPayload{
		TeamID:    t.ID.String(),
		TeamName:  t.Name,
		Budget:    t.Budget,
		Spent:     t.Spent,
		Remaining: t.Remaining(),
		PlotsWon:  t.PlotsWon,
	}
}

// BidAcceptedPayload is the payload for a bid-accepted event
type BidAcceptedPayload struct {
	BidID      string          `json:"bid_id"`
	TeamID     string          `json:"team_id"`
	TeamName   string          `json:"team_name"`
	PlotNumber int             `json:"plot_number"`
	Amount     decimal.Decimal `json:"amount"`
	PlacedAt   time.Time       `json:"placed_at"`
}

// BidRejectedPayload is sent only to the bidder
type BidRejectedPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OfferPayload is the payload for offer-created, offer-sold and offer-cancelled
type OfferPayload struct {
	Offer     models.RebidOffer `json:"offer"`
	TeamName  string            `json:"team_name"`
	BuyerName string            `json:"buyer_name,omitempty"`
}

// RoundPayload is the payload for a round-changed event
type RoundPayload struct {
	Round            int                `json:"round"`
	RebidPhaseActive bool               `json:"rebid_phase_active"`
	Round4Phase      models.Round4Phase `json:"round4_phase"`
	Round4BidQueue   []int              `json:"round4_bid_queue"`
}

// QuestionPayload is the payload for a question-changed event
type QuestionPayload struct {
	Question string `json:"question"`
}

// RosterEntry describes one connected team
type RosterEntry struct {
	TeamID        string     `json:"team_id"`
	TeamName      string     `json:"team_name"`
	Status        string     `json:"status"`
	ConnectedAt   time.Time  `json:"connected_at"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
	Disconnected  *time.Time `json:"disconnected_at,omitempty"`
}

// RosterPayload is the payload for a roster-changed event
type RosterPayload struct {
	Teams      []RosterEntry `json:"teams"`
	Spectators int           `json:"spectators"`
}

// BannedPayload is sent to a banned team before its connection closes
type BannedPayload struct {
	TeamID  string `json:"team_id"`
	Message string `json:"message"`
}

// TakeoverPayload is sent to a connection replaced by a newer login
type TakeoverPayload struct {
	Message string `json:"message"`
}

// ActionResultPayload acknowledges a client request
type ActionResultPayload struct {
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}
