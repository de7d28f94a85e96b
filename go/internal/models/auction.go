package models

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus defines the status of the auction floor.
type AuctionStatus string

const (
	AuctionStatusNotStarted AuctionStatus = "NOT_STARTED"
	AuctionStatusRunning    AuctionStatus = "RUNNING"
	AuctionStatusSelling    AuctionStatus = "SELLING"
	AuctionStatusPaused     AuctionStatus = "PAUSED"
	AuctionStatusCompleted  AuctionStatus = "COMPLETED"
)

// Round4Phase is the sub-phase of the resale round.
type Round4Phase string

const (
	Round4PhaseNone Round4Phase = ""
	Round4PhaseSell Round4Phase = "sell"
	Round4PhaseBid  Round4Phase = "bid"
)

// ResaleRound is the round in which the resale marketplace opens.
const ResaleRound = 4

// AuctionState is the singleton aggregate describing the auction floor.
type AuctionState struct {
	CurrentPlotNumber int           `json:"current_plot_number"`
	Status            AuctionStatus `json:"status"`
	CurrentRound      int           `json:"current_round"`
	CurrentQuestion   string        `json:"current_question"`
	RebidPhaseActive  bool          `json:"rebid_phase_active"`
	Round4Phase       Round4Phase   `json:"round4_phase"`
	Round4BidQueue    []int         `json:"round4_bid_queue"`
	// PolicyDeltas is the cumulative adjustment per plot for the current question.
	PolicyDeltas map[int]decimal.Decimal `json:"policy_deltas"`
	Version      int64                   `json:"version"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// DefaultAuctionState returns the state of a fresh auction.
func DefaultAuctionState() AuctionState {
	return AuctionState{
		CurrentPlotNumber: 1,
		Status:            AuctionStatusNotStarted,
		CurrentRound:      1,
		Round4Phase:       Round4PhaseNone,
		Round4BidQueue:    []int{},
		PolicyDeltas:      map[int]decimal.Decimal{},
	}
}

// Clone returns a deep copy of the state.
func (s AuctionState) Clone() AuctionState {
	out := s
	out.Round4BidQueue = slices.Clone(s.Round4BidQueue)
	if out.Round4BidQueue == nil {
		out.Round4BidQueue = []int{}
	}
	out.PolicyDeltas = make(map[int]decimal.Decimal, len(s.PolicyDeltas))
	for k, v := range s.PolicyDeltas {
		out.PolicyDeltas[k] = v
	}
	return out
}

// Accepting reports whether bids can be placed.
func (s *AuctionState) Accepting() bool {
	return s.Status == AuctionStatusRunning || s.Status == AuctionStatusSelling
}

// InResaleSell reports whether the round-4 listing window is open.
func (s *AuctionState) InResaleSell() bool {
	return s.CurrentRound == ResaleRound && s.RebidPhaseActive && s.Round4Phase == Round4PhaseSell
}

// InResaleBid reports whether the round-4 re-auction is running.
func (s *AuctionState) InResaleBid() bool {
	return s.CurrentRound == ResaleRound && s.Round4Phase == Round4PhaseBid
}

// ClearResale drops every round-4 field.
func (s *AuctionState) ClearResale() {
	s.RebidPhaseActive = false
	s.Round4Phase = Round4PhaseNone
	s.Round4BidQueue = []int{}
}
