package auction

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mcdev12/landauction/go/internal/models"
)

// Policy holds the tunable auction rules.
type Policy struct {
	// BidIncrement is added to the current bid to get the next minimum.
	BidIncrement decimal.Decimal `yaml:"bid_increment"`
	// FallbackFloor is the minimum opening bid when the list price is lower.
	FallbackFloor decimal.Decimal `yaml:"fallback_floor"`
	// ResaleMarkupCap bounds a resale asking price at value*(1+cap).
	ResaleMarkupCap decimal.Decimal `yaml:"resale_markup_cap"`
	SellCountdown   time.Duration   `yaml:"sell_countdown"`
}

// DefaultPolicy returns the rules used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		BidIncrement:    decimal.NewFromInt(100000),
		FallbackFloor:   decimal.NewFromInt(100),
		ResaleMarkupCap: decimal.RequireFromString("0.10"),
		SellCountdown:   5 * time.Second,
	}
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if !p.BidIncrement.IsPositive() {
		return fmt.Errorf("bid increment must be positive, got %s", p.BidIncrement)
	}
	if p.FallbackFloor.IsNegative() {
		return fmt.Errorf("fallback floor must not be negative, got %s", p.FallbackFloor)
	}
	if p.ResaleMarkupCap.IsNegative() {
		return fmt.Errorf("resale markup cap must not be negative, got %s", p.ResaleMarkupCap)
	}
	if p.SellCountdown <= 0 {
		return fmt.Errorf("sell countdown must be positive, got %s", p.SellCountdown)
	}
	return nil
}

// MinimumBid returns the lowest acceptable bid on plot.
func (p Policy) MinimumBid(plot *models.Plot) decimal.Decimal {
	if plot.CurrentBid != nil {
		return plot.CurrentBid.Add(p.BidIncrement)
	}
	return decimal.Max(plot.TotalPrice.Add(plot.RoundAdjustment), p.FallbackFloor)
}

// AskingRange returns the inclusive bounds of a resale asking price.
func (p Policy) AskingRange(plot *models.Plot) (decimal.Decimal, decimal.Decimal) {
	value := plot.Value()
	return value, value.Mul(decimal.NewFromInt(1).Add(p.ResaleMarkupCap))
}
