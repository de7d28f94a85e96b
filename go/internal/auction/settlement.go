package auction

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/landauction/go/internal/events"
	"github.com/mcdev12/landauction/go/internal/ledger"
	"github.com/mcdev12/landauction/go/internal/models"
)

// advanceFloor closes the plot under the pointer and opens the next one, or
// pauses when none remains. Shared by Next and the sell countdown.
func (e *Engine) advanceFloor(ctx context.Context, tx ledger.Tx, b *batch, st *models.AuctionState) error {
	if err := e.closeFloor(ctx, tx, b, st); err != nil {
		return err
	}

	next, ok, err := e.nextPlotNumber(ctx, tx, st)
	if err != nil {
		return err
	}
	if !ok {
		st.Status = models.AuctionStatusPaused
		log.Info().Int("plot_number", st.CurrentPlotNumber).Msg("no plots left, pausing")
		return nil
	}

	plot, err := tx.Plot(ctx, next)
	if err != nil {
		return lookupErr(err, "plot", next)
	}
	plot.Status = models.PlotStatusActive
	if err := e.savePlot(ctx, tx, plot); err != nil {
		return err
	}
	e.emitPlot(ctx, tx, b, plot)

	st.CurrentPlotNumber = next
	st.Status = models.AuctionStatusRunning
	return nil
}

// closeFloor settles the plot under the pointer if it is still open.
func (e *Engine) closeFloor(ctx context.Context, tx ledger.Tx, b *batch, st *models.AuctionState) error {
	plot, err := e.currentPlot(ctx, tx, *st)
	if err != nil || plot == nil {
		return err
	}
	if plot.Status != models.PlotStatusActive {
		return nil
	}
	return e.settle(ctx, tx, b, st, plot)
}

// unwindResaleQueue ends the round-4 re-auction early. The open plot settles
// as usual, then every relisted plot still waiting in the queue goes back to
// its owner at the price it had before it was listed. Must run while the
// state is still in the bid phase.
func (e *Engine) unwindResaleQueue(ctx context.Context, tx ledger.Tx, b *batch, st *models.AuctionState) error {
	if err := e.closeFloor(ctx, tx, b, st); err != nil {
		return err
	}
	plots, err := tx.Plots(ctx, ledger.PlotFilter{})
	if err != nil {
		return fmt.Errorf("failed to list plots: %w", err)
	}
	for i := range plots {
		plot := &plots[i]
		if plot.PurchasePrice == nil {
			continue
		}
		plot.CurrentBid = plot.PurchasePrice
		plot.PurchasePrice = nil
		plot.Status = models.PlotStatusSold
		if err := e.savePlot(ctx, tx, plot); err != nil {
			return err
		}
		e.emitPlot(ctx, tx, b, plot)
		log.Debug().Int("plot_number", plot.Number).Msg("queued relisting withdrawn")
	}
	if st.Accepting() {
		st.Status = models.AuctionStatusPaused
	}
	return nil
}

// settle closes plot and moves money for its winning bid.
func (e *Engine) settle(ctx context.Context, tx ledger.Tx, b *batch, st *models.AuctionState, plot *models.Plot) error {
	if !plot.Held() || plot.CurrentBid == nil {
		plot.ClearBid()
		plot.Status = models.PlotStatusUnsold
		if err := e.savePlot(ctx, tx, plot); err != nil {
			return err
		}
		e.emitPlot(ctx, tx, b, plot)
		return nil
	}

	plot.Status = models.PlotStatusSold
	if st.InResaleBid() && plot.PurchasePrice != nil {
		return e.settleRelisted(ctx, tx, b, plot)
	}

	winner, err := tx.Team(ctx, *plot.WinnerTeamID)
	if err != nil {
		return lookupErr(err, "team", *plot.WinnerTeamID)
	}
	winner.Charge(*plot.CurrentBid)
	if err := e.saveTeam(ctx, tx, winner); err != nil {
		return err
	}
	if err := e.savePlot(ctx, tx, plot); err != nil {
		return err
	}
	e.emitTeam(b, winner)
	e.emitPlot(ctx, tx, b, plot)

	log.Info().
		Int("plot_number", plot.Number).
		Str("winner", winner.Name).
		Str("amount", plot.CurrentBid.String()).
		Msg("plot sold")
	return nil
}

// settleRelisted settles a plot that was listed for resale and re-auctioned.
// If the listing team still holds the bid the plot keeps its old price;
// otherwise the buyer pays the seller.
func (e *Engine) settleRelisted(ctx context.Context, tx ledger.Tx, b *batch, plot *models.Plot) error {
	listing, err := e.latestListing(ctx, tx, plot.Number)
	if err != nil {
		return err
	}
	if listing == nil || plot.HeldBy(listing.TeamID) {
		if listing == nil {
			log.Warn().Int("plot_number", plot.Number).Msg("re-auctioned plot has no listing, restoring price")
		}
		plot.CurrentBid = plot.PurchasePrice
		plot.PurchasePrice = nil
		if err := e.savePlot(ctx, tx, plot); err != nil {
			return err
		}
		e.emitPlot(ctx, tx, b, plot)
		return nil
	}

	amount := *plot.CurrentBid
	buyer, err := tx.Team(ctx, *plot.WinnerTeamID)
	if err != nil {
		return lookupErr(err, "team", *plot.WinnerTeamID)
	}
	seller, err := tx.Team(ctx, listing.TeamID)
	if err != nil {
		return lookupErr(err, "team", listing.TeamID)
	}
	buyer.Charge(amount)
	seller.Refund(amount)

	buyerID := buyer.ID
	listing.Close(models.OfferStatusSold, b.now)
	listing.BuyerTeamID = &buyerID

	plot.PurchasePrice = nil
	plot.RoundAdjustment = decimal.Zero

	if err := e.saveTeam(ctx, tx, buyer); err != nil {
		return err
	}
	if err := e.saveTeam(ctx, tx, seller); err != nil {
		return err
	}
	if err := tx.SaveOffer(ctx, listing); err != nil {
		return fmt.Errorf("failed to save offer %s: %w", listing.ID, err)
	}
	if err := e.savePlot(ctx, tx, plot); err != nil {
		return err
	}

	e.emitTeam(b, buyer)
	e.emitTeam(b, seller)
	b.emit(events.EventTypeOfferSold, events.OfferPayload{
		Offer:     *listing,
		TeamName:  seller.Name,
		BuyerName: buyer.Name,
	})
	e.emitPlot(ctx, tx, b, plot)

	log.Info().
		Int("plot_number", plot.Number).
		Str("seller", seller.Name).
		Str("buyer", buyer.Name).
		Str("amount", amount.String()).
		Msg("re-auctioned plot changed hands")
	return nil
}

// latestListing returns the newest unsold offer on a plot.
func (e *Engine) latestListing(ctx context.Context, tx ledger.Tx, plotNumber int) (*models.RebidOffer, error) {
	offers, err := tx.Offers(ctx, ledger.OfferFilter{PlotNumber: plotNumber})
	if err != nil {
		return nil, fmt.Errorf("failed to list offers for plot %d: %w", plotNumber, err)
	}
	for i := range offers {
		if offers[i].Status != models.OfferStatusSold {
			return &offers[i], nil
		}
	}
	return nil, nil
}

// nextPlotNumber picks the plot to open after the current one. During the
// round-4 re-auction it walks the bid queue; otherwise it scans upward for
// the first plot nobody holds.
func (e *Engine) nextPlotNumber(ctx context.Context, tx ledger.Tx, st *models.AuctionState) (int, bool, error) {
	if st.InResaleBid() {
		start := slices.Index(st.Round4BidQueue, st.CurrentPlotNumber) + 1
		for _, n := range st.Round4BidQueue[start:] {
			plot, err := tx.Plot(ctx, n)
			if errors.Is(err, ledger.ErrNotFound) {
				continue
			}
			if err != nil {
				return 0, false, fmt.Errorf("failed to load plot %d: %w", n, err)
			}
			if plot.Status == models.PlotStatusPending {
				return n, true, nil
			}
		}
		return 0, false, nil
	}

	plots, err := tx.Plots(ctx, ledger.PlotFilter{Unheld: true})
	if err != nil {
		return 0, false, fmt.Errorf("failed to list open plots: %w", err)
	}
	for _, p := range plots {
		if p.Number > st.CurrentPlotNumber {
			return p.Number, true, nil
		}
	}
	return 0, false, nil
}
