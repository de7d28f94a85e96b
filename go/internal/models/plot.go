package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlotStatus defines the lifecycle of a plot on the auction floor.
type PlotStatus string

const (
	PlotStatusPending PlotStatus = "PENDING"
	PlotStatusActive  PlotStatus = "ACTIVE"
	PlotStatusSold    PlotStatus = "SOLD"
	PlotStatusUnsold  PlotStatus = "UNSOLD"
)

// Plot is a unit of land put up for auction.
type Plot struct {
	Number          int              `json:"number"`
	PlotType        string           `json:"plot_type"`
	TotalArea       int              `json:"total_area"`
	ActualArea      int              `json:"actual_area"`
	BasePrice       decimal.Decimal  `json:"base_price"`
	TotalPrice      decimal.Decimal  `json:"total_price"`
	RoundAdjustment decimal.Decimal  `json:"round_adjustment"`
	Status          PlotStatus       `json:"status"`
	CurrentBid      *decimal.Decimal `json:"current_bid,omitempty"`
	WinnerTeamID    *uuid.UUID       `json:"winner_team_id,omitempty"`
	// PurchasePrice holds the pre-listing price while a plot is in the
	// round-4 re-auction queue.
	PurchasePrice *decimal.Decimal `json:"purchase_price,omitempty"`
}

// Price is the current bid when present, otherwise the list price.
func (p *Plot) Price() decimal.Decimal {
	if p.CurrentBid != nil {
		return *p.CurrentBid
	}
	return p.TotalPrice
}

// Value is the price including the policy adjustment.
func (p *Plot) Value() decimal.Decimal {
	return p.Price().Add(p.RoundAdjustment)
}

// HeldBy reports whether teamID currently holds the plot.
func (p *Plot) HeldBy(teamID uuid.UUID) bool {
	return p.WinnerTeamID != nil && *p.WinnerTeamID == teamID
}

// Held reports whether any team holds the plot.
func (p *Plot) Held() bool {
	return p.WinnerTeamID != nil
}

// SetBid records amount as the highest bid by teamID.
func (p *Plot) SetBid(teamID uuid.UUID, amount decimal.Decimal) {
	id := teamID
	a := amount
	p.WinnerTeamID = &id
	p.CurrentBid = &a
}

// ClearBid drops the highest bid and its holder.
func (p *Plot) ClearBid() {
	p.CurrentBid = nil
	p.WinnerTeamID = nil
}

// BaseValue is the price derived from base figures.
func (p *Plot) BaseValue() decimal.Decimal {
	if p.ActualArea > 0 {
		return p.BasePrice.Mul(decimal.NewFromInt(int64(p.ActualArea)))
	}
	return p.BasePrice
}

// DecimalPtr returns a pointer to a copy of d.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
