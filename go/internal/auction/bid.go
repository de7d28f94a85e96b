package auction

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/landauction/go/internal/events"
	"github.com/mcdev12/landauction/go/internal/ledger"
	"github.com/mcdev12/landauction/go/internal/models"
)

// BidResult describes an accepted bid.
type BidResult struct {
	Bid    models.Bid           `json:"bid"`
	Plot   models.Plot          `json:"plot"`
	Status models.AuctionStatus `json:"status"`
}

// PlaceBid submits a bid by teamID on the active plot. Preconditions are
// checked in a fixed order and the first failure is returned as a Rejection
// (or NotFoundError for an unknown team). An accepted bid during the sell
// countdown returns the floor to RUNNING.
func (e *Engine) PlaceBid(ctx context.Context, teamID uuid.UUID, amount decimal.Decimal) (*BidResult, error) {
	var res *BidResult
	err := e.mutate(ctx, func(tx ledger.Tx, b *batch) error {
		st, err := tx.AuctionState(ctx)
		if err != nil {
			return fmt.Errorf("failed to load auction state: %w", err)
		}
		if !st.Accepting() {
			return reject(CodeAuctionNotRunning, "auction is %s", st.Status)
		}

		plot, err := tx.Plot(ctx, st.CurrentPlotNumber)
		if errors.Is(err, ledger.ErrNotFound) {
			return reject(CodePlotNotActive, "no plot is open for bidding")
		}
		if err != nil {
			return fmt.Errorf("failed to load plot %d: %w", st.CurrentPlotNumber, err)
		}
		if plot.Status != models.PlotStatusActive {
			return reject(CodePlotNotActive, "plot %d is %s", plot.Number, plot.Status)
		}

		team, err := tx.Team(ctx, teamID)
		if err != nil {
			return lookupErr(err, "team", teamID)
		}
		if team.Banned {
			return reject(CodeTeamBanned, "team %s is banned", team.Name)
		}

		if minimum := e.policy.MinimumBid(plot); amount.LessThan(minimum) {
			return reject(CodeBidTooLow, "bid %s is below the minimum of %s", amount, minimum)
		}
		if plot.HeldBy(teamID) {
			return reject(CodeAlreadyHighest, "team %s already holds the highest bid", team.Name)
		}
		if remaining := team.Remaining(); amount.GreaterThan(remaining) {
			return reject(CodeInsufficientBudget, "bid %s exceeds remaining budget %s", amount, remaining)
		}

		plot.SetBid(teamID, amount)
		if err := e.savePlot(ctx, tx, plot); err != nil {
			return err
		}
		bid := models.Bid{
			ID:         uuid.New(),
			TeamID:     teamID,
			PlotNumber: plot.Number,
			Amount:     amount,
			CreatedAt:  b.now,
		}
		if err := tx.InsertBid(ctx, &bid); err != nil {
			return fmt.Errorf("failed to record bid: %w", err)
		}

		b.emit(events.EventTypeBidAccepted, events.BidAcceptedPayload{
			BidID:      bid.ID.String(),
			TeamID:     teamID.String(),
			TeamName:   team.Name,
			PlotNumber: plot.Number,
			Amount:     amount,
			PlacedAt:   bid.CreatedAt,
		})
		e.emitPlot(ctx, tx, b, plot)

		if st.Status == models.AuctionStatusSelling {
			st.Status = models.AuctionStatusRunning
			if err := e.saveState(ctx, tx, b, &st); err != nil {
				return err
			}
			if err := e.emitState(ctx, tx, b, st, "bid during countdown"); err != nil {
				return err
			}
		}

		res = &BidResult{Bid: bid, Plot: *plot, Status: st.Status}
		return nil
	})
	if err != nil {
		if r, ok := AsRejection(err); ok {
			log.Debug().
				Str("team_id", teamID.String()).
				Str("amount", amount.String()).
				Str("code", string(r.Code)).
				Msg("bid rejected")
		}
		return nil, err
	}

	log.Info().
		Str("team_id", teamID.String()).
		Int("plot_number", res.Plot.Number).
		Str("amount", amount.String()).
		Msg("bid accepted")
	return res, nil
}
