package auction

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/landauction/go/internal/events"
	"github.com/mcdev12/landauction/go/internal/ledger"
	"github.com/mcdev12/landauction/go/internal/models"
)

// OfferView is an offer enriched for display.
type OfferView struct {
	models.RebidOffer
	TeamName  string          `json:"team_name"`
	PlotValue decimal.Decimal `json:"plot_value"`
}

func (e *Engine) requireSellPhase(st models.AuctionState) error {
	if !st.InResaleSell() {
		return reject(CodeWrongPhase, "resale listings are closed")
	}
	return nil
}

func (e *Engine) activeTeam(ctx context.Context, tx ledger.Tx, id uuid.UUID) (*models.Team, error) {
	team, err := tx.Team(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "team", id)
	}
	if team.Banned {
		return nil, reject(CodeTeamBanned, "team %s is banned", team.Name)
	}
	return team, nil
}

// CreateOffer lists an owned plot for resale. Any earlier active listing of
// the same plot is cancelled.
func (e *Engine) CreateOffer(ctx context.Context, teamID uuid.UUID, plotNumber int, asking decimal.Decimal) (*models.RebidOffer, error) {
	var out *models.RebidOffer
	err := e.mutate(ctx, func(tx ledger.Tx, b *batch) error {
		st, err := tx.AuctionState(ctx)
		if err != nil {
			return fmt.Errorf("failed to load auction state: %w", err)
		}
		if err := e.requireSellPhase(st); err != nil {
			return err
		}
		team, err := e.activeTeam(ctx, tx, teamID)
		if err != nil {
			return err
		}
		plot, err := tx.Plot(ctx, plotNumber)
		if err != nil {
			return lookupErr(err, "plot", plotNumber)
		}
		if !plot.HeldBy(teamID) {
			return reject(CodeNotOwner, "team %s does not own plot %d", team.Name, plotNumber)
		}
		low, high := e.policy.AskingRange(plot)
		if asking.LessThan(low) || asking.GreaterThan(high) {
			return reject(CodePriceOutOfRange, "asking price must be between %s and %s",
				low.StringFixed(2), high.StringFixed(2))
		}

		prior, err := tx.Offers(ctx, ledger.OfferFilter{Status: models.OfferStatusActive, PlotNumber: plotNumber})
		if err != nil {
			return fmt.Errorf("failed to list offers for plot %d: %w", plotNumber, err)
		}
		for i := range prior {
			if err := e.cancelOffer(ctx, tx, b, &prior[i]); err != nil {
				return err
			}
		}

		offer := &models.RebidOffer{
			ID:          uuid.New(),
			PlotNumber:  plotNumber,
			TeamID:      teamID,
			AskingPrice: asking,
			Status:      models.OfferStatusActive,
			CreatedAt:   b.now,
		}
		if err := tx.InsertOffer(ctx, offer); err != nil {
			return fmt.Errorf("failed to create offer: %w", err)
		}
		b.emit(events.EventTypeOfferCreated, events.OfferPayload{Offer: *offer, TeamName: team.Name})
		out = offer
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("team_id", teamID.String()).
		Int("plot_number", plotNumber).
		Str("asking", asking.String()).
		Msg("resale offer listed")
	return out, nil
}

func (e *Engine) cancelOffer(ctx context.Context, tx ledger.Tx, b *batch, offer *models.RebidOffer) error {
	offer.Close(models.OfferStatusCancelled, b.now)
	if err := tx.SaveOffer(ctx, offer); err != nil {
		return fmt.Errorf("failed to cancel offer %s: %w", offer.ID, err)
	}
	b.emit(events.EventTypeOfferCancelled, events.OfferPayload{
		Offer:    *offer,
		TeamName: e.teamName(ctx, tx, offer.TeamID),
	})
	return nil
}

// BuyOffer transfers a listed plot to buyerID at the asking price.
func (e *Engine) BuyOffer(ctx context.Context, buyerID, offerID uuid.UUID) (*models.RebidOffer, error) {
	var out *models.RebidOffer
	err := e.mutate(ctx, func(tx ledger.Tx, b *batch) error {
		st, err := tx.AuctionState(ctx)
		if err != nil {
			return fmt.Errorf("failed to load auction state: %w", err)
		}
		if err := e.requireSellPhase(st); err != nil {
			return err
		}
		buyer, err := e.activeTeam(ctx, tx, buyerID)
		if err != nil {
			return err
		}
		offer, err := tx.Offer(ctx, offerID)
		if err != nil {
			return lookupErr(err, "offer", offerID)
		}
		if offer.Status != models.OfferStatusActive {
			return reject(CodeOfferClosed, "offer is %s", offer.Status)
		}
		if offer.TeamID == buyerID {
			return reject(CodeOwnOffer, "cannot buy your own offer")
		}
		plot, err := tx.Plot(ctx, offer.PlotNumber)
		if err != nil {
			return lookupErr(err, "plot", offer.PlotNumber)
		}
		if !plot.HeldBy(offer.TeamID) {
			return reject(CodeOfferClosed, "seller no longer owns plot %d", plot.Number)
		}
		if remaining := buyer.Remaining(); offer.AskingPrice.GreaterThan(remaining) {
			return reject(CodeInsufficientBudget, "asking price %s exceeds remaining budget %s",
				offer.AskingPrice, remaining)
		}
		seller, err := tx.Team(ctx, offer.TeamID)
		if err != nil {
			return lookupErr(err, "team", offer.TeamID)
		}

		seller.Refund(offer.AskingPrice)
		buyer.Charge(offer.AskingPrice)
		plot.SetBid(buyerID, offer.AskingPrice)
		plot.RoundAdjustment = decimal.Zero
		offer.Close(models.OfferStatusSold, b.now)
		offer.BuyerTeamID = &buyer.ID

		if err := e.saveTeam(ctx, tx, seller); err != nil {
			return err
		}
		if err := e.saveTeam(ctx, tx, buyer); err != nil {
			return err
		}
		if err := e.savePlot(ctx, tx, plot); err != nil {
			return err
		}
		if err := tx.SaveOffer(ctx, offer); err != nil {
			return fmt.Errorf("failed to save offer %s: %w", offer.ID, err)
		}

		b.emit(events.EventTypeOfferSold, events.OfferPayload{
			Offer:     *offer,
			TeamName:  seller.Name,
			BuyerName: buyer.Name,
		})
		e.emitTeam(b, seller)
		e.emitTeam(b, buyer)
		e.emitPlot(ctx, tx, b, plot)
		out = offer
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("offer_id", offerID.String()).
		Str("buyer_id", buyerID.String()).
		Int("plot_number", out.PlotNumber).
		Msg("resale offer bought")
	return out, nil
}

// CancelOffer withdraws the team's own active offer. Cancelling a closed
// offer does nothing.
func (e *Engine) CancelOffer(ctx context.Context, teamID, offerID uuid.UUID) (*models.RebidOffer, error) {
	var out *models.RebidOffer
	err := e.mutate(ctx, func(tx ledger.Tx, b *batch) error {
		offer, err := tx.Offer(ctx, offerID)
		if err != nil {
			return lookupErr(err, "offer", offerID)
		}
		if offer.TeamID != teamID {
			return reject(CodeNotOwner, "offer belongs to another team")
		}
		out = offer
		if offer.Status != models.OfferStatusActive {
			return nil
		}
		return e.cancelOffer(ctx, tx, b, offer)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StartRound4Sell opens the resale listing window. A running re-auction is
// wound back first.
func (e *Engine) StartRound4Sell(ctx context.Context) (models.AuctionState, error) {
	return e.transition(ctx, "round4-sell", func(tx ledger.Tx, b *batch, st *models.AuctionState) error {
		if st.CurrentRound != models.ResaleRound {
			return reject(CodeWrongPhase, "resale opens in round %d, auction is in round %d",
				models.ResaleRound, st.CurrentRound)
		}
		if st.InResaleBid() {
			if err := e.unwindResaleQueue(ctx, tx, b, st); err != nil {
				return err
			}
		}
		st.RebidPhaseActive = true
		st.Round4Phase = models.Round4PhaseSell
		st.Round4BidQueue = []int{}
		emitRound(b, st)
		return nil
	})
}

// StartRound4Bid closes the listing window and queues the re-auction: listed
// plots first, by plot number, priced from their asking price, then every
// plot nobody owns. The first queued plot opens immediately.
func (e *Engine) StartRound4Bid(ctx context.Context) (models.AuctionState, error) {
	return e.transition(ctx, "round4-bid", func(tx ledger.Tx, b *batch, st *models.AuctionState) error {
		if st.CurrentRound != models.ResaleRound {
			return reject(CodeWrongPhase, "resale opens in round %d, auction is in round %d",
				models.ResaleRound, st.CurrentRound)
		}
		if st.Round4Phase == models.Round4PhaseBid {
			return reject(CodeWrongPhase, "re-auction already running")
		}
		if err := e.closeFloor(ctx, tx, b, st); err != nil {
			return err
		}

		offers, err := tx.Offers(ctx, ledger.OfferFilter{Status: models.OfferStatusActive})
		if err != nil {
			return fmt.Errorf("failed to list active offers: %w", err)
		}
		sort.Slice(offers, func(i, j int) bool { return offers[i].PlotNumber < offers[j].PlotNumber })

		queue := []int{}
		for i := range offers {
			offer := &offers[i]
			if err := e.cancelOffer(ctx, tx, b, offer); err != nil {
				return err
			}
			plot, err := tx.Plot(ctx, offer.PlotNumber)
			if err != nil {
				return lookupErr(err, "plot", offer.PlotNumber)
			}
			if !plot.HeldBy(offer.TeamID) {
				continue
			}
			purchase := plot.Price()
			plot.PurchasePrice = &purchase
			plot.CurrentBid = models.DecimalPtr(offer.AskingPrice)
			plot.Status = models.PlotStatusPending
			if err := e.savePlot(ctx, tx, plot); err != nil {
				return err
			}
			e.emitPlot(ctx, tx, b, plot)
			queue = append(queue, plot.Number)
		}

		unsold, err := tx.Plots(ctx, ledger.PlotFilter{Unheld: true})
		if err != nil {
			return fmt.Errorf("failed to list unsold plots: %w", err)
		}
		for i := range unsold {
			plot := &unsold[i]
			if slices.Contains(queue, plot.Number) {
				continue
			}
			if plot.Status != models.PlotStatusPending {
				plot.Status = models.PlotStatusPending
				if err := e.savePlot(ctx, tx, plot); err != nil {
					return err
				}
			}
			queue = append(queue, plot.Number)
		}

		st.RebidPhaseActive = false
		st.Round4Phase = models.Round4PhaseBid
		st.Round4BidQueue = queue

		if len(queue) == 0 {
			st.Status = models.AuctionStatusPaused
		} else {
			first, err := tx.Plot(ctx, queue[0])
			if err != nil {
				return lookupErr(err, "plot", queue[0])
			}
			first.Status = models.PlotStatusActive
			if err := e.savePlot(ctx, tx, first); err != nil {
				return err
			}
			e.emitPlot(ctx, tx, b, first)
			st.CurrentPlotNumber = first.Number
			st.Status = models.AuctionStatusRunning
		}
		emitRound(b, st)
		log.Info().Ints("queue", queue).Msg("round-4 re-auction queued")
		return nil
	})
}

// ForceResell pulls a sold plot back into the re-auction: the owner is
// refunded and the plot is re-priced from its base figures.
func (e *Engine) ForceResell(ctx context.Context, plotNumber int) (models.AuctionState, error) {
	return e.transition(ctx, "force-resell", func(tx ledger.Tx, b *batch, st *models.AuctionState) error {
		if !st.InResaleBid() {
			return reject(CodeWrongPhase, "force resell is only available during the round-4 re-auction")
		}
		plot, err := tx.Plot(ctx, plotNumber)
		if err != nil {
			return lookupErr(err, "plot", plotNumber)
		}
		if plot.Status != models.PlotStatusSold || !plot.Held() || plot.CurrentBid == nil {
			return reject(CodeInvalidArgument, "plot %d is %s, only sold plots can be resold", plotNumber, plot.Status)
		}

		owner, err := tx.Team(ctx, *plot.WinnerTeamID)
		if err != nil {
			return lookupErr(err, "team", *plot.WinnerTeamID)
		}
		owner.Refund(*plot.CurrentBid)
		if err := e.saveTeam(ctx, tx, owner); err != nil {
			return err
		}

		plot.ClearBid()
		plot.PurchasePrice = nil
		plot.RoundAdjustment = decimal.Zero
		plot.TotalPrice = plot.BaseValue()
		plot.Status = models.PlotStatusPending
		if err := e.savePlot(ctx, tx, plot); err != nil {
			return err
		}

		st.Round4BidQueue = append(slices.DeleteFunc(st.Round4BidQueue, func(n int) bool {
			return n == plotNumber
		}), plotNumber)

		e.emitTeam(b, owner)
		e.emitPlot(ctx, tx, b, plot)
		emitRound(b, st)
		log.Info().Int("plot_number", plotNumber).Str("refunded", owner.Name).Msg("plot forced back to auction")
		return nil
	})
}

// Offers lists offers, newest first. activeOnly limits it to open listings.
func (e *Engine) Offers(ctx context.Context, activeOnly bool) ([]OfferView, error) {
	filter := ledger.OfferFilter{}
	if activeOnly {
		filter.Status = models.OfferStatusActive
	}
	var out []OfferView
	err := e.view(ctx, func(tx ledger.Tx) error {
		offers, err := tx.Offers(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to list offers: %w", err)
		}
		out = make([]OfferView, 0, len(offers))
		for _, o := range offers {
			view := OfferView{RebidOffer: o, TeamName: e.teamName(ctx, tx, o.TeamID)}
			if plot, err := tx.Plot(ctx, o.PlotNumber); err == nil {
				view.PlotValue = plot.Value()
			}
			out = append(out, view)
		}
		return nil
	})
	return out, err
}
