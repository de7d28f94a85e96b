package auction

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/landauction/go/internal/events"
	"github.com/mcdev12/landauction/go/internal/ledger"
	"github.com/mcdev12/landauction/go/internal/models"
)

// Start opens the floor from NOT_STARTED or PAUSED and activates the plot
// under the pointer unless it is already sold.
func (e *Engine) Start(ctx context.Context) (models.AuctionState, error) {
	return e.transition(ctx, "start", func(tx ledger.Tx, b *batch, st *models.AuctionState) error {
		switch st.Status {
		case models.AuctionStatusNotStarted, models.AuctionStatusPaused:
		default:
			return reject(CodeWrongPhase, "cannot start while %s", st.Status)
		}

		plot, err := e.currentPlot(ctx, tx, *st)
		if err != nil {
			return err
		}
		if plot != nil && plot.Status != models.PlotStatusSold && plot.Status != models.PlotStatusActive {
			plot.Status = models.PlotStatusActive
			if err := e.savePlot(ctx, tx, plot); err != nil {
				return err
			}
			e.emitPlot(ctx, tx, b, plot)
		}
		st.Status = models.AuctionStatusRunning
		return nil
	})
}

// Pause halts bidding. A pending countdown becomes stale.
func (e *Engine) Pause(ctx context.Context) (models.AuctionState, error) {
	return e.transition(ctx, "pause", func(_ ledger.Tx, _ *batch, st *models.AuctionState) error {
		if !st.Accepting() {
			return reject(CodeWrongPhase, "cannot pause while %s", st.Status)
		}
		st.Status = models.AuctionStatusPaused
		return nil
	})
}

// Sell starts the countdown on the current plot. When it elapses without a
// new bid the floor advances on its own.
func (e *Engine) Sell(ctx context.Context) (models.AuctionState, error) {
	return e.transition(ctx, "sell", func(_ ledger.Tx, b *batch, st *models.AuctionState) error {
		if st.Status != models.AuctionStatusRunning {
			return reject(CodeWrongPhase, "can only sell while RUNNING, auction is %s", st.Status)
		}
		st.Status = models.AuctionStatusSelling
		e.armCountdown(b, st.CurrentPlotNumber)
		return nil
	})
}

// Next settles the current plot and opens the next one. Before the auction
// has started nothing is open yet, so an unheld plot under the pointer is
// opened in place instead of skipped.
func (e *Engine) Next(ctx context.Context) (models.AuctionState, error) {
	return e.transition(ctx, "next", func(tx ledger.Tx, b *batch, st *models.AuctionState) error {
		if st.Status == models.AuctionStatusCompleted {
			return reject(CodeWrongPhase, "auction is completed")
		}
		if st.Status == models.AuctionStatusNotStarted {
			plot, err := e.currentPlot(ctx, tx, *st)
			if err != nil {
				return err
			}
			if plot != nil && plot.Status == models.PlotStatusPending && !plot.Held() {
				plot.Status = models.PlotStatusActive
				if err := e.savePlot(ctx, tx, plot); err != nil {
					return err
				}
				e.emitPlot(ctx, tx, b, plot)
				st.Status = models.AuctionStatusRunning
				return nil
			}
		}
		return e.advanceFloor(ctx, tx, b, st)
	})
}

// Prev steps back one plot. The open plot is reverted to PENDING and loses
// its unsettled bid; a sold plot stepped back onto is refunded and reopened.
func (e *Engine) Prev(ctx context.Context) (models.AuctionState, error) {
	return e.transition(ctx, "prev", func(tx ledger.Tx, b *batch, st *models.AuctionState) error {
		switch {
		case st.Status == models.AuctionStatusCompleted:
			return reject(CodeWrongPhase, "auction is completed")
		case st.InResaleBid():
			return reject(CodeWrongPhase, "cannot step back during the round-4 re-auction")
		case st.CurrentPlotNumber <= 1:
			return reject(CodeAtFirstPlot, "already on the first plot")
		}

		cur, err := e.currentPlot(ctx, tx, *st)
		if err != nil {
			return err
		}
		if cur != nil && cur.Status == models.PlotStatusActive {
			cur.ClearBid()
			cur.Status = models.PlotStatusPending
			if err := e.savePlot(ctx, tx, cur); err != nil {
				return err
			}
			e.emitPlot(ctx, tx, b, cur)
		}

		st.CurrentPlotNumber--
		prev, err := e.currentPlot(ctx, tx, *st)
		if err != nil {
			return err
		}
		if prev != nil {
			if prev.Status == models.PlotStatusSold && prev.Held() && prev.CurrentBid != nil {
				winner, err := tx.Team(ctx, *prev.WinnerTeamID)
				if err != nil {
					return lookupErr(err, "team", *prev.WinnerTeamID)
				}
				winner.Refund(*prev.CurrentBid)
				if err := e.saveTeam(ctx, tx, winner); err != nil {
					return err
				}
				e.emitTeam(b, winner)
			}
			prev.Status = models.PlotStatusActive
			if err := e.savePlot(ctx, tx, prev); err != nil {
				return err
			}
			e.emitPlot(ctx, tx, b, prev)
		}
		st.Status = models.AuctionStatusRunning
		return nil
	})
}

// EndGame completes the auction. It is the only way into COMPLETED.
func (e *Engine) EndGame(ctx context.Context) (models.AuctionState, error) {
	return e.transition(ctx, "end-game", func(_ ledger.Tx, _ *batch, st *models.AuctionState) error {
		st.Status = models.AuctionStatusCompleted
		return nil
	})
}

// SetRound moves the auction to round n. Entering round 4 opens the resale
// sell phase; leaving it winds back any running re-auction and clears every
// resale field.
func (e *Engine) SetRound(ctx context.Context, n int) (models.AuctionState, error) {
	return e.transition(ctx, "round", func(tx ledger.Tx, b *batch, st *models.AuctionState) error {
		if n < 1 {
			return reject(CodeInvalidArgument, "round must be at least 1, got %d", n)
		}
		if n != models.ResaleRound && st.InResaleBid() {
			if err := e.unwindResaleQueue(ctx, tx, b, st); err != nil {
				return err
			}
		}
		prev := st.CurrentRound
		st.CurrentRound = n
		switch {
		case n == models.ResaleRound && prev != models.ResaleRound:
			st.RebidPhaseActive = true
			st.Round4Phase = models.Round4PhaseSell
			st.Round4BidQueue = []int{}
		case n != models.ResaleRound:
			st.ClearResale()
		}
		emitRound(b, st)
		return nil
	})
}

func emitRound(b *batch, st *models.AuctionState) {
	b.emit(events.EventTypeRoundChanged, events.RoundPayload{
		Round:            st.CurrentRound,
		RebidPhaseActive: st.RebidPhaseActive,
		Round4Phase:      st.Round4Phase,
		Round4BidQueue:   append([]int{}, st.Round4BidQueue...),
	})
}

// PushQuestion publishes a new policy question and starts a fresh delta map.
func (e *Engine) PushQuestion(ctx context.Context, question string) (models.AuctionState, error) {
	question = strings.TrimSpace(question)
	return e.transition(ctx, "question", func(_ ledger.Tx, b *batch, st *models.AuctionState) error {
		if question == "" {
			return reject(CodeInvalidArgument, "question must not be empty")
		}
		st.CurrentQuestion = question
		st.PolicyDeltas = map[int]decimal.Decimal{}
		b.emit(events.EventTypeQuestionChanged, events.QuestionPayload{Question: question})
		return nil
	})
}

// Reset wipes the auction back to a fresh start. Teams, plots and ban flags
// are kept; money, bids, offers and adjustments are not.
func (e *Engine) Reset(ctx context.Context) (models.AuctionState, error) {
	st, err := e.transition(ctx, "reset", func(tx ledger.Tx, b *batch, st *models.AuctionState) error {
		for _, step := range []func(context.Context) error{
			tx.DeleteBids, tx.DeleteOffers, tx.DeleteAllAdjustments, tx.ResetTeams, tx.ResetPlots,
		} {
			if err := step(ctx); err != nil {
				return err
			}
		}
		version := st.Version
		*st = models.DefaultAuctionState()
		st.Version = version

		b.emit(events.EventTypeAuctionReset, events.StatePayload{State: st.Clone(), Reason: "reset"})
		b.onCommit(func() { e.sellEpoch++ })
		return nil
	})
	if err == nil {
		log.Warn().Msg("auction was hard reset")
	}
	return st, err
}

// BanTeam sets or clears a team's ban. Banned teams cannot bid or trade.
func (e *Engine) BanTeam(ctx context.Context, teamID uuid.UUID, banned bool) (*models.Team, error) {
	var out *models.Team
	err := e.mutate(ctx, func(tx ledger.Tx, b *batch) error {
		team, err := tx.Team(ctx, teamID)
		if err != nil {
			return lookupErr(err, "team", teamID)
		}
		team.Banned = banned
		if err := e.saveTeam(ctx, tx, team); err != nil {
			return err
		}
		if banned {
			b.emit(events.EventTypeBanned, events.BannedPayload{
				TeamID:  team.ID.String(),
				Message: "team has been banned by the administrator",
			})
		}
		e.emitTeam(b, team)
		out = team
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("team", out.Name).Bool("banned", banned).Msg("team ban updated")
	return out, nil
}
