package auction

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/landauction/go/internal/ledger"
	"github.com/mcdev12/landauction/go/internal/models"
)

var hundred = decimal.NewFromInt(100)

// AdjustmentResult summarizes one applied or reverted adjustment transaction.
type AdjustmentResult struct {
	TransactionID uuid.UUID                 `json:"transaction_id"`
	Percent       decimal.Decimal           `json:"percent"`
	Records       []models.AdjustmentRecord `json:"records"`
	// Empty is set when UndoAdjustment found nothing to revert.
	Empty bool `json:"empty,omitempty"`
}

// AdjustPlots moves the round adjustment of every listed plot by percent of
// its price. The changes share one transaction id so they can be undone
// together. Unknown plot numbers are skipped.
func (e *Engine) AdjustPlots(ctx context.Context, plotNumbers []int, percent decimal.Decimal) (*AdjustmentResult, error) {
	if len(plotNumbers) == 0 {
		return nil, reject(CodeInvalidArgument, "at least one plot is required")
	}
	numbers := slices.Clone(plotNumbers)
	slices.Sort(numbers)
	numbers = slices.Compact(numbers)

	res := &AdjustmentResult{TransactionID: uuid.New(), Percent: percent}
	_, err := e.transition(ctx, "adjust-plot", func(tx ledger.Tx, b *batch, st *models.AuctionState) error {
		if st.PolicyDeltas == nil {
			st.PolicyDeltas = map[int]decimal.Decimal{}
		}
		for _, n := range numbers {
			plot, err := tx.Plot(ctx, n)
			if errors.Is(err, ledger.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to load plot %d: %w", n, err)
			}
			delta := plot.Price().Mul(percent).Div(hundred).Round(2)
			rec := models.AdjustmentRecord{
				ID:            uuid.New(),
				TransactionID: res.TransactionID,
				PlotNumber:    n,
				Percent:       percent,
				OldAdjustment: plot.RoundAdjustment,
				NewAdjustment: plot.RoundAdjustment.Add(delta),
				CreatedAt:     b.now,
			}
			plot.RoundAdjustment = rec.NewAdjustment
			if err := e.savePlot(ctx, tx, plot); err != nil {
				return err
			}
			st.PolicyDeltas[n] = st.PolicyDeltas[n].Add(delta)
			e.emitPlot(ctx, tx, b, plot)
			res.Records = append(res.Records, rec)
		}
		if len(res.Records) == 0 {
			return &NotFoundError{Kind: "plot", Key: fmt.Sprint(numbers)}
		}
		if err := tx.InsertAdjustments(ctx, res.Records); err != nil {
			return fmt.Errorf("failed to record adjustment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("transaction_id", res.TransactionID.String()).
		Str("percent", percent.String()).
		Int("plots", len(res.Records)).
		Msg("plots adjusted")
	return res, nil
}

// UndoAdjustment reverts the most recent adjustment transaction. With no
// history it does nothing and reports an empty result.
func (e *Engine) UndoAdjustment(ctx context.Context) (*AdjustmentResult, error) {
	res := &AdjustmentResult{}
	_, err := e.transitionIf(ctx, "undo-adjustment", func(tx ledger.Tx, b *batch, st *models.AuctionState) (bool, error) {
		txID, err := tx.LatestAdjustmentTransaction(ctx)
		if errors.Is(err, ledger.ErrNotFound) {
			res.Empty = true
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to find latest adjustment: %w", err)
		}
		records, err := tx.Adjustments(ctx, txID)
		if err != nil {
			return false, fmt.Errorf("failed to load adjustment %s: %w", txID, err)
		}
		res.TransactionID = txID

		if st.PolicyDeltas == nil {
			st.PolicyDeltas = map[int]decimal.Decimal{}
		}
		for _, rec := range records {
			res.Percent = rec.Percent
			plot, err := tx.Plot(ctx, rec.PlotNumber)
			if errors.Is(err, ledger.ErrNotFound) {
				continue
			}
			if err != nil {
				return false, fmt.Errorf("failed to load plot %d: %w", rec.PlotNumber, err)
			}
			plot.RoundAdjustment = rec.OldAdjustment
			if err := e.savePlot(ctx, tx, plot); err != nil {
				return false, err
			}
			if d, ok := st.PolicyDeltas[rec.PlotNumber]; ok {
				st.PolicyDeltas[rec.PlotNumber] = d.Sub(rec.Delta())
			}
			e.emitPlot(ctx, tx, b, plot)
		}
		res.Records = records

		if err := tx.DeleteAdjustments(ctx, txID); err != nil {
			return false, fmt.Errorf("failed to delete adjustment %s: %w", txID, err)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if res.Empty {
		log.Debug().Msg("no adjustment to undo")
	} else {
		log.Info().Str("transaction_id", res.TransactionID.String()).Msg("adjustment undone")
	}
	return res, nil
}
