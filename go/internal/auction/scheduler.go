package auction

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/landauction/go/internal/ledger"
	"github.com/mcdev12/landauction/go/internal/models"
)

// countdown identifies one sell countdown. It is honoured only while the
// floor is still SELLING the same plot under the same epoch.
type countdown struct {
	plotNumber int
	epoch      uint64
}

// armCountdown schedules an auto-advance once b commits.
func (e *Engine) armCountdown(b *batch, plotNumber int) {
	b.onCommit(func() {
		e.sellEpoch++
		e.scheduleAutoAdvance(countdown{plotNumber: plotNumber, epoch: e.sellEpoch})
	})
}

// scheduleAutoAdvance starts a one-shot timer for task. Timers are never
// cancelled on state changes; a stale timer is discarded when it fires.
func (e *Engine) scheduleAutoAdvance(task countdown) {
	timer := e.clock.NewTimer(e.policy.SellCountdown)
	e.trackTimer(task.epoch, timer)

	go func(t clockwork.Timer) {
		select {
		case <-t.Chan():
			e.removeTimer(task.epoch)
			if err := e.fireAutoAdvance(e.ctx, task); err != nil {
				log.Error().Err(err).Int("plot_number", task.plotNumber).Msg("auto-advance failed")
			}
		case <-e.ctx.Done():
			stopAndDrainTimer(t)
			e.removeTimer(task.epoch)
		}
	}(timer)

	log.Debug().
		Int("plot_number", task.plotNumber).
		Uint64("epoch", task.epoch).
		Dur("countdown", e.policy.SellCountdown).
		Msg("scheduled auto-advance")
}

// fireAutoAdvance closes the plot and moves on if the countdown still holds.
func (e *Engine) fireAutoAdvance(ctx context.Context, task countdown) error {
	var advanced bool
	_, err := e.transitionIf(ctx, "auto-advance", func(tx ledger.Tx, b *batch, st *models.AuctionState) (bool, error) {
		if st.Status != models.AuctionStatusSelling ||
			st.CurrentPlotNumber != task.plotNumber ||
			e.sellEpoch != task.epoch {
			log.Debug().
				Int("plot_number", task.plotNumber).
				Uint64("epoch", task.epoch).
				Str("status", string(st.Status)).
				Msg("auto-advance is stale, skipping")
			return false, nil
		}
		advanced = true
		return true, e.advanceFloor(ctx, tx, b, st)
	})
	if err != nil {
		return fmt.Errorf("failed to auto-advance plot %d: %w", task.plotNumber, err)
	}
	if advanced {
		log.Info().Int("plot_number", task.plotNumber).Msg("auto-advanced after countdown")
	}
	return nil
}

func (e *Engine) trackTimer(epoch uint64, timer clockwork.Timer) {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	e.timers[epoch] = timer
}

func (e *Engine) removeTimer(epoch uint64) {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	delete(e.timers, epoch)
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
