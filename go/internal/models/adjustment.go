package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AdjustmentRecord is one plot's share of a grouped percent adjustment.
type AdjustmentRecord struct {
	ID            uuid.UUID       `json:"id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	PlotNumber    int             `json:"plot_number"`
	Percent       decimal.Decimal `json:"percent"`
	OldAdjustment decimal.Decimal `json:"old_adjustment"`
	NewAdjustment decimal.Decimal `json:"new_adjustment"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Delta is the change this record applied.
func (r *AdjustmentRecord) Delta() decimal.Decimal {
	return r.NewAdjustment.Sub(r.OldAdjustment)
}
