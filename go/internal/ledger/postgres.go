package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/landauction/go/internal/models"
	"github.com/mcdev12/landauction/go/internal/sqlutil"
)

//go:embed schema.sql
var Schema string

// PostgresStore is the Postgres-backed ledger.
type PostgresStore struct {
	db     *sql.DB
	schema schemaGate
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	s := &PostgresStore{db: db}
	s.schema.apply = s.applySchema
	return s
}

// schemaGate applies the schema once. A failed attempt is retried on the
// next call, so a store opened while the database was down recovers.
type schemaGate struct {
	mu    sync.Mutex
	done  bool
	apply func(context.Context) error
}

func (g *schemaGate) ensure(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return nil
	}
	if err := g.apply(ctx); err != nil {
		return err
	}
	g.done = true
	return nil
}

// Migrate creates missing tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return s.schema.ensure(ctx)
}

func (s *PostgresStore) applySchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// InTx implements Store. The auction_state row is locked first so that
// concurrent writers from other processes serialize on it.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := s.schema.ensure(ctx); err != nil {
		return err
	}
	return sqlutil.Run(ctx, s.db, newPgTx, func(q *pgTx) error {
		if _, err := q.tx.ExecContext(ctx, `SELECT id FROM auction_state WHERE id = 1 FOR UPDATE`); err != nil {
			return fmt.Errorf("failed to lock auction state: %w", err)
		}
		return fn(q)
	})
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type pgTx struct {
	tx *sql.Tx
}

func newPgTx(tx *sql.Tx) *pgTx {
	return &pgTx{tx: tx}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return fmt.Errorf("failed to load "+format+": %w", append(args, err)...)
}

func (t *pgTx) AuctionState(ctx context.Context) (models.AuctionState, error) {
	var (
		st     = models.DefaultAuctionState()
		queue  pq.Int64Array
		deltas pqtype.NullRawMessage
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT current_plot_number, status, current_round, current_question,
		       rebid_phase_active, round4_phase, round4_bid_queue, policy_deltas,
		       version, updated_at
		FROM auction_state WHERE id = 1`,
	).Scan(&st.CurrentPlotNumber, &st.Status, &st.CurrentRound, &st.CurrentQuestion,
		&st.RebidPhaseActive, &st.Round4Phase, &queue, &deltas, &st.Version, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultAuctionState(), nil
	}
	if err != nil {
		return st, fmt.Errorf("failed to load auction state: %w", err)
	}
	st.Round4BidQueue = make([]int, len(queue))
	for i, n := range queue {
		st.Round4BidQueue[i] = int(n)
	}
	if deltas.Valid {
		if err := json.Unmarshal(deltas.RawMessage, &st.PolicyDeltas); err != nil {
			return st, fmt.Errorf("failed to decode policy deltas: %w", err)
		}
	}
	if st.PolicyDeltas == nil {
		st.PolicyDeltas = map[int]decimal.Decimal{}
	}
	return st, nil
}

func (t *pgTx) SaveAuctionState(ctx context.Context, st models.AuctionState) error {
	queue := make(pq.Int64Array, len(st.Round4BidQueue))
	for i, n := range st.Round4BidQueue {
		queue[i] = int64(n)
	}
	var deltas pqtype.NullRawMessage
	if len(st.PolicyDeltas) > 0 {
		raw, err := json.Marshal(st.PolicyDeltas)
		if err != nil {
			return fmt.Errorf("failed to encode policy deltas: %w", err)
		}
		deltas = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO auction_state (id, current_plot_number, status, current_round,
			current_question, rebid_phase_active, round4_phase, round4_bid_queue,
			policy_deltas, version, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			current_plot_number = EXCLUDED.current_plot_number,
			status = EXCLUDED.status,
			current_round = EXCLUDED.current_round,
			current_question = EXCLUDED.current_question,
			rebid_phase_active = EXCLUDED.rebid_phase_active,
			round4_phase = EXCLUDED.round4_phase,
			round4_bid_queue = EXCLUDED.round4_bid_queue,
			policy_deltas = EXCLUDED.policy_deltas,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at`,
		st.CurrentPlotNumber, st.Status, st.CurrentRound, st.CurrentQuestion,
		st.RebidPhaseActive, st.Round4Phase, queue, deltas, st.Version, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save auction state: %w", err)
	}
	return nil
}

const teamColumns = `id, name, passcode, budget, spent, plots_won, banned`

func scanTeam(row rowScanner) (*models.Team, error) {
	var team models.Team
	if err := row.Scan(&team.ID, &team.Name, &team.Passcode, &team.Budget, &team.Spent,
		&team.PlotsWon, &team.Banned); err != nil {
		return nil, err
	}
	return &team, nil
}

func (t *pgTx) Team(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	team, err := scanTeam(t.tx.QueryRowContext(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "team %s", id)
	}
	return team, nil
}

func (t *pgTx) TeamByName(ctx context.Context, name string) (*models.Team, error) {
	team, err := scanTeam(t.tx.QueryRowContext(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE name = $1`, name))
	if err != nil {
		return nil, notFound(err, "team %q", name)
	}
	return team, nil
}

func (t *pgTx) Teams(ctx context.Context) ([]models.Team, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var out []models.Team
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		out = append(out, *team)
	}
	return out, rows.Err()
}

func (t *pgTx) SaveTeam(ctx context.Context, team *models.Team) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO teams (`+teamColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			passcode = EXCLUDED.passcode,
			budget = EXCLUDED.budget,
			spent = EXCLUDED.spent,
			plots_won = EXCLUDED.plots_won,
			banned = EXCLUDED.banned`,
		team.ID, team.Name, team.Passcode, team.Budget, team.Spent, team.PlotsWon, team.Banned,
	)
	if err != nil {
		return fmt.Errorf("failed to save team %s: %w", team.ID, err)
	}
	return nil
}

func (t *pgTx) ResetTeams(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE teams SET spent = 0, plots_won = 0`); err != nil {
		return fmt.Errorf("failed to reset teams: %w", err)
	}
	return nil
}

const plotColumns = `number, plot_type, total_area, actual_area, base_price, total_price,
	round_adjustment, status, current_bid, winner_team_id, purchase_price`

func scanPlot(row rowScanner) (*models.Plot, error) {
	var (
		p        models.Plot
		bid      decimal.NullDecimal
		winner   uuid.NullUUID
		purchase decimal.NullDecimal
	)
	if err := row.Scan(&p.Number, &p.PlotType, &p.TotalArea, &p.ActualArea, &p.BasePrice,
		&p.TotalPrice, &p.RoundAdjustment, &p.Status, &bid, &winner, &purchase); err != nil {
		return nil, err
	}
	p.CurrentBid = sqlutil.FromNullDecimal(bid)
	p.WinnerTeamID = sqlutil.FromNullUUID(winner)
	p.PurchasePrice = sqlutil.FromNullDecimal(purchase)
	return &p, nil
}

func (t *pgTx) Plot(ctx context.Context, number int) (*models.Plot, error) {
	p, err := scanPlot(t.tx.QueryRowContext(ctx,
		`SELECT `+plotColumns+` FROM plots WHERE number = $1`, number))
	if err != nil {
		return nil, notFound(err, "plot %d", number)
	}
	return p, nil
}

func (t *pgTx) Plots(ctx context.Context, filter PlotFilter) ([]models.Plot, error) {
	statuses := make(pq.StringArray, len(filter.Statuses))
	for i, s := range filter.Statuses {
		statuses[i] = string(s)
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+plotColumns+` FROM plots
		WHERE (NOT $1 OR winner_team_id IS NULL)
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		ORDER BY number`, filter.Unheld, statuses)
	if err != nil {
		return nil, fmt.Errorf("failed to list plots: %w", err)
	}
	defer rows.Close()

	var out []models.Plot
	for rows.Next() {
		p, err := scanPlot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plot: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (t *pgTx) SavePlot(ctx context.Context, p *models.Plot) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO plots (`+plotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (number) DO UPDATE SET
			plot_type = EXCLUDED.plot_type,
			total_area = EXCLUDED.total_area,
			actual_area = EXCLUDED.actual_area,
			base_price = EXCLUDED.base_price,
			total_price = EXCLUDED.total_price,
			round_adjustment = EXCLUDED.round_adjustment,
			status = EXCLUDED.status,
			current_bid = EXCLUDED.current_bid,
			winner_team_id = EXCLUDED.winner_team_id,
			purchase_price = EXCLUDED.purchase_price`,
		p.Number, p.PlotType, p.TotalArea, p.ActualArea, p.BasePrice, p.TotalPrice,
		p.RoundAdjustment, p.Status, sqlutil.ToNullDecimal(p.CurrentBid),
		sqlutil.ToNullUUID(p.WinnerTeamID), sqlutil.ToNullDecimal(p.PurchasePrice),
	)
	if err != nil {
		return fmt.Errorf("failed to save plot %d: %w", p.Number, err)
	}
	return nil
}

func (t *pgTx) ResetPlots(ctx context.Context) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE plots SET status = 'PENDING', current_bid = NULL, winner_team_id = NULL,
			purchase_price = NULL, round_adjustment = 0`)
	if err != nil {
		return fmt.Errorf("failed to reset plots: %w", err)
	}
	return nil
}

func (t *pgTx) InsertBid(ctx context.Context, b *models.Bid) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO bids (id, team_id, plot_number, amount, created_at) VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.TeamID, b.PlotNumber, b.Amount, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

func (t *pgTx) Bids(ctx context.Context, plotNumber int) ([]models.Bid, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, team_id, plot_number, amount, created_at FROM bids
		WHERE plot_number = $1 ORDER BY created_at`, plotNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	defer rows.Close()

	var out []models.Bid
	for rows.Next() {
		var b models.Bid
		if err := rows.Scan(&b.ID, &b.TeamID, &b.PlotNumber, &b.Amount, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *pgTx) DeleteBids(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM bids`); err != nil {
		return fmt.Errorf("failed to delete bids: %w", err)
	}
	return nil
}

const offerColumns = `id, plot_number, team_id, asking_price, status, buyer_team_id, created_at, closed_at`

func scanOffer(row rowScanner) (*models.RebidOffer, error) {
	var (
		o      models.RebidOffer
		buyer  uuid.NullUUID
		closed sql.NullTime
	)
	if err := row.Scan(&o.ID, &o.PlotNumber, &o.TeamID, &o.AskingPrice, &o.Status,
		&buyer, &o.CreatedAt, &closed); err != nil {
		return nil, err
	}
	o.BuyerTeamID = sqlutil.FromNullUUID(buyer)
	o.ClosedAt = sqlutil.FromSqlTime(closed)
	return &o, nil
}

func (t *pgTx) InsertOffer(ctx context.Context, o *models.RebidOffer) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO rebid_offers (`+offerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.PlotNumber, o.TeamID, o.AskingPrice, o.Status,
		sqlutil.ToNullUUID(o.BuyerTeamID), o.CreatedAt, sqlutil.ToSqlTime(o.ClosedAt))
	if err != nil {
		return fmt.Errorf("failed to insert offer: %w", err)
	}
	return nil
}

func (t *pgTx) Offer(ctx context.Context, id uuid.UUID) (*models.RebidOffer, error) {
	o, err := scanOffer(t.tx.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM rebid_offers WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "offer %s", id)
	}
	return o, nil
}

func (t *pgTx) Offers(ctx context.Context, filter OfferFilter) ([]models.RebidOffer, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+offerColumns+` FROM rebid_offers
		WHERE ($1 = '' OR status = $1) AND ($2 = 0 OR plot_number = $2)
		ORDER BY created_at DESC`, string(filter.Status), filter.PlotNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	defer rows.Close()

	var out []models.RebidOffer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (t *pgTx) SaveOffer(ctx context.Context, o *models.RebidOffer) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE rebid_offers SET asking_price = $2, status = $3, buyer_team_id = $4, closed_at = $5
		WHERE id = $1`,
		o.ID, o.AskingPrice, o.Status, sqlutil.ToNullUUID(o.BuyerTeamID), sqlutil.ToSqlTime(o.ClosedAt))
	if err != nil {
		return fmt.Errorf("failed to save offer %s: %w", o.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("offer %s: %w", o.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) DeleteOffers(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM rebid_offers`); err != nil {
		return fmt.Errorf("failed to delete offers: %w", err)
	}
	return nil
}

const adjustmentColumns = `id, transaction_id, plot_number, percent, old_adjustment, new_adjustment, created_at`

func (t *pgTx) InsertAdjustments(ctx context.Context, records []models.AdjustmentRecord) error {
	for _, r := range records {
		_, err := t.tx.ExecContext(ctx, `INSERT INTO adjustment_history (`+adjustmentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID, r.TransactionID, r.PlotNumber, r.Percent, r.OldAdjustment, r.NewAdjustment, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert adjustment for plot %d: %w", r.PlotNumber, err)
		}
	}
	return nil
}

func (t *pgTx) LatestAdjustmentTransaction(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := t.tx.QueryRowContext(ctx,
		`SELECT transaction_id FROM adjustment_history ORDER BY created_at DESC, recorded DESC LIMIT 1`).Scan(&id)
	if err != nil {
		return uuid.Nil, notFound(err, "adjustment transaction")
	}
	return id, nil
}

func (t *pgTx) Adjustments(ctx context.Context, transactionID uuid.UUID) ([]models.AdjustmentRecord, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+adjustmentColumns+` FROM adjustment_history
		WHERE transaction_id = $1 ORDER BY plot_number`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	defer rows.Close()

	var out []models.AdjustmentRecord
	for rows.Next() {
		var r models.AdjustmentRecord
		if err := rows.Scan(&r.ID, &r.TransactionID, &r.PlotNumber, &r.Percent,
			&r.OldAdjustment, &r.NewAdjustment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *pgTx) DeleteAdjustments(ctx context.Context, transactionID uuid.UUID) error {
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM adjustment_history WHERE transaction_id = $1`, transactionID); err != nil {
		return fmt.Errorf("failed to delete adjustments: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteAllAdjustments(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM adjustment_history`); err != nil {
		return fmt.Errorf("failed to delete adjustments: %w", err)
	}
	return nil
}

func (t *pgTx) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO auction_snapshots (name, created_at, payload) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET created_at = EXCLUDED.created_at, payload = EXCLUDED.payload`,
		snap.Name, snap.CreatedAt, snap.Payload)
	if err != nil {
		return fmt.Errorf("failed to save snapshot %q: %w", snap.Name, err)
	}
	return nil
}

func (t *pgTx) Snapshot(ctx context.Context, name string) (*Snapshot, error) {
	var snap Snapshot
	err := t.tx.QueryRowContext(ctx,
		`SELECT name, created_at, payload FROM auction_snapshots WHERE name = $1`, name,
	).Scan(&snap.Name, &snap.CreatedAt, &snap.Payload)
	if err != nil {
		return nil, notFound(err, "snapshot %q", name)
	}
	return &snap, nil
}

func (t *pgTx) Snapshots(ctx context.Context) ([]Snapshot, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT name, created_at FROM auction_snapshots ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.Name, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (t *pgTx) Dump(ctx context.Context) (*Dataset, error) {
	st, err := t.AuctionState(ctx)
	if err != nil {
		return nil, err
	}
	teams, err := t.Teams(ctx)
	if err != nil {
		return nil, err
	}
	plots, err := t.Plots(ctx, PlotFilter{})
	if err != nil {
		return nil, err
	}
	data := &Dataset{State: st, Teams: teams, Plots: plots}

	for _, p := range plots {
		bids, err := t.Bids(ctx, p.Number)
		if err != nil {
			return nil, err
		}
		data.Bids = append(data.Bids, bids...)
	}
	if data.Offers, err = t.Offers(ctx, OfferFilter{}); err != nil {
		return nil, err
	}

	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+adjustmentColumns+` FROM adjustment_history ORDER BY created_at, recorded`)
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r models.AdjustmentRecord
		if err := rows.Scan(&r.ID, &r.TransactionID, &r.PlotNumber, &r.Percent,
			&r.OldAdjustment, &r.NewAdjustment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		data.Adjustments = append(data.Adjustments, r)
	}
	return data, rows.Err()
}

func (t *pgTx) Restore(ctx context.Context, data *Dataset) error {
	for _, table := range []string{"adjustment_history", "rebid_offers", "bids", "plots", "teams"} {
		if _, err := t.tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	for i := range data.Teams {
		if err := t.SaveTeam(ctx, &data.Teams[i]); err != nil {
			return err
		}
	}
	for i := range data.Plots {
		if err := t.SavePlot(ctx, &data.Plots[i]); err != nil {
			return err
		}
	}
	for i := range data.Bids {
		if err := t.InsertBid(ctx, &data.Bids[i]); err != nil {
			return err
		}
	}
	for i := range data.Offers {
		if err := t.InsertOffer(ctx, &data.Offers[i]); err != nil {
			return err
		}
	}
	if err := t.InsertAdjustments(ctx, data.Adjustments); err != nil {
		return err
	}
	return t.SaveAuctionState(ctx, data.State)
}
