package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Team is a bidding participant with a fixed budget.
type Team struct {
	ID       uuid.UUID       `json:"id"`
	Name     string          `json:"name"`
	Passcode string          `json:"passcode,omitempty"`
	Budget   decimal.Decimal `json:"budget"`
	Spent    decimal.Decimal `json:"spent"`
	PlotsWon int             `json:"plots_won"`
	Banned   bool            `json:"banned"`
}

// Remaining returns the unspent part of the budget.
func (t *Team) Remaining() decimal.Decimal {
	return t.Budget.Sub(t.Spent)
}

// Charge moves amount into Spent and counts a plot won.
func (t *Team) Charge(amount decimal.Decimal) {
	t.Spent = t.Spent.Add(amount)
	t.PlotsWon++
}

// Refund reverses a Charge.
func (t *Team) Refund(amount decimal.Decimal) {
	t.Spent = t.Spent.Sub(amount)
	t.PlotsWon--
}

// Public returns a copy safe to hand to clients.
func (t Team) Public() Team {
	t.Passcode = ""
	return t
}
