// Package auction implements the live plot auction: the floor state machine,
// bid arbitration, timed auto-advance, the round-4 resale marketplace and
// policy adjustments. Every mutation goes through Engine.mutate, which
// serializes writers, runs one ledger transaction and publishes the resulting
// events in commit order once the transaction has committed.
package auction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/landauction/go/internal/events"
	"github.com/mcdev12/landauction/go/internal/ledger"
	"github.com/mcdev12/landauction/go/internal/models"
)

const teamNameCacheSize = 256

// Engine owns every write to the auction ledger.
type Engine struct {
	store  ledger.Store
	pub    events.Publisher
	clock  clockwork.Clock
	policy Policy
	names  *lru.Cache

	mu        sync.Mutex // serializes mutations
	seq       uint64
	sellEpoch uint64

	timersMu sync.Mutex
	timers   map[uint64]clockwork.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// NewEngine creates an engine writing to store and publishing to pub.
func NewEngine(store ledger.Store, pub events.Publisher, opts ...Option) (*Engine, error) {
	names, err := lru.New(teamNameCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create team name cache: %w", err)
	}
	if pub == nil {
		pub = events.Discard{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:  store,
		pub:    pub,
		clock:  clockwork.NewRealClock(),
		policy: DefaultPolicy(),
		names:  names,
		timers: make(map[uint64]clockwork.Timer),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.policy.Validate(); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return e, nil
}

// Policy returns the rules in force.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Run re-arms a countdown left over from a previous process and blocks until
// ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	err := e.mutate(ctx, func(tx ledger.Tx, b *batch) error {
		st, err := tx.AuctionState(ctx)
		if err != nil {
			return fmt.Errorf("failed to load auction state: %w", err)
		}
		if st.Status == models.AuctionStatusSelling {
			e.armCountdown(b, st.CurrentPlotNumber)
			log.Info().Int("plot_number", st.CurrentPlotNumber).Msg("re-armed sell countdown")
		}
		return nil
	})
	if err != nil {
		// The store may be down; actions will surface the failure.
		log.Error().Err(err).Msg("failed to recover auction state")
	}

	<-ctx.Done()
	e.Close()
	return nil
}

// Close stops pending timers.
func (e *Engine) Close() {
	e.cancel()
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	for epoch, t := range e.timers {
		stopAndDrainTimer(t)
		delete(e.timers, epoch)
	}
}

// batch collects what a mutation wants to happen after it commits.
type batch struct {
	now    time.Time
	events []pendingEvent
	after  []func()
}

type pendingEvent struct {
	typ     events.EventType
	payload any
}

func (b *batch) emit(t events.EventType, payload any) {
	b.events = append(b.events, pendingEvent{typ: t, payload: payload})
}

func (b *batch) onCommit(fn func()) {
	b.after = append(b.after, fn)
}

// mutate runs fn in one transaction under the engine lock. Events emitted by
// fn are published only when the transaction commits.
func (e *Engine) mutate(ctx context.Context, fn func(tx ledger.Tx, b *batch) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var b *batch
	err := e.store.InTx(ctx, func(tx ledger.Tx) error {
		b = &batch{now: e.clock.Now()}
		return fn(tx, b)
	})
	if err != nil {
		return err
	}
	e.flush(b)
	return nil
}

func (e *Engine) flush(b *batch) {
	for _, p := range b.events {
		ev, err := events.New(p.typ, p.payload, b.now)
		if err != nil {
			log.Error().Err(err).Str("event_type", string(p.typ)).Msg("failed to build event")
			continue
		}
		e.seq++
		ev.Seq = e.seq
		e.pub.Publish(ev)
	}
	for _, fn := range b.after {
		fn()
	}
}

// view runs a read-only unit of work.
func (e *Engine) view(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return e.store.InTx(ctx, fn)
}

func (e *Engine) saveState(ctx context.Context, tx ledger.Tx, b *batch, st *models.AuctionState) error {
	st.Version++
	st.UpdatedAt = b.now
	if err := tx.SaveAuctionState(ctx, *st); err != nil {
		return fmt.Errorf("failed to save auction state: %w", err)
	}
	return nil
}

// transition loads the state, applies fn, then saves and announces it.
func (e *Engine) transition(ctx context.Context, reason string,
	fn func(tx ledger.Tx, b *batch, st *models.AuctionState) error,
) (models.AuctionState, error) {
	return e.transitionIf(ctx, reason, func(tx ledger.Tx, b *batch, st *models.AuctionState) (bool, error) {
		return true, fn(tx, b, st)
	})
}

// transitionIf is transition for callers that may decide nothing changed, in
// which case the state is neither saved nor announced.
func (e *Engine) transitionIf(ctx context.Context, reason string,
	fn func(tx ledger.Tx, b *batch, st *models.AuctionState) (bool, error),
) (models.AuctionState, error) {
	var (
		out     models.AuctionState
		changed bool
	)
	err := e.mutate(ctx, func(tx ledger.Tx, b *batch) error {
		st, err := tx.AuctionState(ctx)
		if err != nil {
			return fmt.Errorf("failed to load auction state: %w", err)
		}
		changed, err = fn(tx, b, &st)
		if err != nil {
			return err
		}
		out = st
		if !changed {
			return nil
		}
		if err := e.saveState(ctx, tx, b, &st); err != nil {
			return err
		}
		out = st
		return e.emitState(ctx, tx, b, st, reason)
	})
	if err != nil || !changed {
		return out, err
	}
	log.Info().
		Str("reason", reason).
		Str("status", string(out.Status)).
		Int("plot_number", out.CurrentPlotNumber).
		Int("round", out.CurrentRound).
		Int64("version", out.Version).
		Msg("auction state committed")
	return out, nil
}

func (e *Engine) currentPlot(ctx context.Context, tx ledger.Tx, st models.AuctionState) (*models.Plot, error) {
	plot, err := tx.Plot(ctx, st.CurrentPlotNumber)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load current plot: %w", err)
	}
	return plot, nil
}

func (e *Engine) emitState(ctx context.Context, tx ledger.Tx, b *batch, st models.AuctionState, reason string) error {
	plot, err := e.currentPlot(ctx, tx, st)
	if err != nil {
		return err
	}
	b.emit(events.EventTypeStateChanged, events.StatePayload{
		State:       st.Clone(),
		CurrentPlot: plot,
		Reason:      reason,
	})
	return nil
}

func (e *Engine) emitPlot(ctx context.Context, tx ledger.Tx, b *batch, plot *models.Plot) {
	payload := events.PlotPayload{Plot: *plot}
	if plot.WinnerTeamID != nil {
		payload.WinnerName = e.teamName(ctx, tx, *plot.WinnerTeamID)
	}
	b.emit(events.EventTypePlotChanged, payload)
}

func (e *Engine) emitTeam(b *batch, team *models.Team) {
	b.emit(events.EventTypeTeamLedgerChanged, events.NewTeamLedgerPayload(team))
}

// teamName resolves a display name, caching it. Names never change while the
// auction runs.
func (e *Engine) teamName(ctx context.Context, tx ledger.Tx, id uuid.UUID) string {
	if v, ok := e.names.Get(id); ok {
		return v.(string)
	}
	team, err := tx.Team(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("team_id", id.String()).Msg("failed to resolve team name")
		return ""
	}
	e.names.Add(id, team.Name)
	return team.Name
}

func (e *Engine) saveTeam(ctx context.Context, tx ledger.Tx, team *models.Team) error {
	if err := tx.SaveTeam(ctx, team); err != nil {
		return fmt.Errorf("failed to save team %s: %w", team.Name, err)
	}
	return nil
}

func (e *Engine) savePlot(ctx context.Context, tx ledger.Tx, plot *models.Plot) error {
	if err := tx.SavePlot(ctx, plot); err != nil {
		return fmt.Errorf("failed to save plot %d: %w", plot.Number, err)
	}
	return nil
}
