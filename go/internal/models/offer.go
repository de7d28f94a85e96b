package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OfferStatus defines the lifecycle of a resale offer.
type OfferStatus string

const (
	OfferStatusActive    OfferStatus = "ACTIVE"
	OfferStatusSold      OfferStatus = "SOLD"
	OfferStatusCancelled OfferStatus = "CANCELLED"
)

// RebidOffer is a listing of an owned plot during round 4.
type RebidOffer struct {
	ID          uuid.UUID       `json:"id"`
	PlotNumber  int             `json:"plot_number"`
	TeamID      uuid.UUID       `json:"team_id"`
	AskingPrice decimal.Decimal `json:"asking_price"`
	Status      OfferStatus     `json:"status"`
	BuyerTeamID *uuid.UUID      `json:"buyer_team_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty"`
}

// Close moves the offer to a terminal status.
func (o *RebidOffer) Close(status OfferStatus, at time.Time) {
	o.Status = status
	o.ClosedAt = &at
}
