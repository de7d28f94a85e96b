package ledger

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/landauction/go/internal/models"
)

// MemoryStore keeps the ledger in process memory. Each transaction works on
// a private copy that replaces the live data only when fn succeeds.
type MemoryStore struct {
	mu        sync.Mutex
	data      *memData
	snapshots map[string]Snapshot
}

type memData struct {
	state       *models.AuctionState
	teams       []models.Team
	plots       []models.Plot
	bids        []models.Bid
	offers      []models.RebidOffer
	adjustments []models.AdjustmentRecord
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:      &memData{},
		snapshots: make(map[string]Snapshot),
	}
}

// NewMemoryStoreFrom returns a store holding the given dataset.
func NewMemoryStoreFrom(data *Dataset) *MemoryStore {
	s := NewMemoryStore()
	s.data = fromDataset(data)
	return s
}

func (d *memData) clone() *memData {
	out := &memData{
		teams:       slices.Clone(d.teams),
		plots:       slices.Clone(d.plots),
		bids:        slices.Clone(d.bids),
		offers:      slices.Clone(d.offers),
		adjustments: slices.Clone(d.adjustments),
	}
	if d.state != nil {
		st := d.state.Clone()
		out.state = &st
	}
	return out
}

func fromDataset(data *Dataset) *memData {
	st := data.State.Clone()
	d := &memData{
		state:       &st,
		teams:       slices.Clone(data.Teams),
		plots:       slices.Clone(data.Plots),
		bids:        slices.Clone(data.Bids),
		offers:      slices.Clone(data.Offers),
		adjustments: slices.Clone(data.Adjustments),
	}
	sort.Slice(d.plots, func(i, j int) bool { return d.plots[i].Number < d.plots[j].Number })
	return d
}

// InTx implements Store.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snaps := make(map[string]Snapshot, len(s.snapshots))
	for k, v := range s.snapshots {
		snaps[k] = v
	}
	tx := &memTx{d: s.data.clone(), snapshots: snaps}
	if err := fn(tx); err != nil {
		return err
	}
	s.data = tx.d
	s.snapshots = tx.snapshots
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

type memTx struct {
	d         *memData
	snapshots map[string]Snapshot
}

func (t *memTx) AuctionState(context.Context) (models.AuctionState, error) {
	if t.d.state == nil {
		return models.DefaultAuctionState(), nil
	}
	return t.d.state.Clone(), nil
}

func (t *memTx) SaveAuctionState(_ context.Context, state models.AuctionState) error {
	st := state.Clone()
	t.d.state = &st
	return nil
}

func (t *memTx) Team(_ context.Context, id uuid.UUID) (*models.Team, error) {
	for _, team := range t.d.teams {
		if team.ID == id {
			out := team
			return &out, nil
		}
	}
	return nil, fmt.Errorf("team %s: %w", id, ErrNotFound)
}

func (t *memTx) TeamByName(_ context.Context, name string) (*models.Team, error) {
	for _, team := range t.d.teams {
		if team.Name == name {
			out := team
			return &out, nil
		}
	}
	return nil, fmt.Errorf("team %q: %w", name, ErrNotFound)
}

func (t *memTx) Teams(context.Context) ([]models.Team, error) {
	out := slices.Clone(t.d.teams)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *memTx) SaveTeam(_ context.Context, team *models.Team) error {
	for i := range t.d.teams {
		if t.d.teams[i].ID == team.ID {
			t.d.teams[i] = *team
			return nil
		}
	}
	t.d.teams = append(t.d.teams, *team)
	return nil
}

func (t *memTx) ResetTeams(context.Context) error {
	for i := range t.d.teams {
		t.d.teams[i].Spent = decimal.Zero
		t.d.teams[i].PlotsWon = 0
	}
	return nil
}

func (t *memTx) Plot(_ context.Context, number int) (*models.Plot, error) {
	for _, p := range t.d.plots {
		if p.Number == number {
			out := p
			return &out, nil
		}
	}
	return nil, fmt.Errorf("plot %d: %w", number, ErrNotFound)
}

func (t *memTx) Plots(_ context.Context, filter PlotFilter) ([]models.Plot, error) {
	var out []models.Plot
	for i := range t.d.plots {
		if filter.Match(&t.d.plots[i]) {
			out = append(out, t.d.plots[i])
		}
	}
	return out, nil
}

func (t *memTx) SavePlot(_ context.Context, plot *models.Plot) error {
	for i := range t.d.plots {
		if t.d.plots[i].Number == plot.Number {
			t.d.plots[i] = *plot
			return nil
		}
	}
	t.d.plots = append(t.d.plots, *plot)
	sort.Slice(t.d.plots, func(i, j int) bool { return t.d.plots[i].Number < t.d.plots[j].Number })
	return nil
}

func (t *memTx) ResetPlots(context.Context) error {
	for i := range t.d.plots {
		p := &t.d.plots[i]
		p.Status = models.PlotStatusPending
		p.ClearBid()
		p.PurchasePrice = nil
		p.RoundAdjustment = decimal.Zero
	}
	return nil
}

func (t *memTx) InsertBid(_ context.Context, bid *models.Bid) error {
	t.d.bids = append(t.d.bids, *bid)
	return nil
}

func (t *memTx) Bids(_ context.Context, plotNumber int) ([]models.Bid, error) {
	var out []models.Bid
	for _, b := range t.d.bids {
		if b.PlotNumber == plotNumber {
			out = append(out, b)
		}
	}
	return out, nil
}

func (t *memTx) DeleteBids(context.Context) error {
	t.d.bids = nil
	return nil
}

func (t *memTx) InsertOffer(_ context.Context, offer *models.RebidOffer) error {
	t.d.offers = append(t.d.offers, *offer)
	return nil
}

func (t *memTx) Offer(_ context.Context, id uuid.UUID) (*models.RebidOffer, error) {
	for _, o := range t.d.offers {
		if o.ID == id {
			out := o
			return &out, nil
		}
	}
	return nil, fmt.Errorf("offer %s: %w", id, ErrNotFound)
}

func (t *memTx) Offers(_ context.Context, filter OfferFilter) ([]models.RebidOffer, error) {
	var out []models.RebidOffer
	// Newest first; insertion order breaks timestamp ties.
	for i := len(t.d.offers) - 1; i >= 0; i-- {
		if filter.Match(&t.d.offers[i]) {
			out = append(out, t.d.offers[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) SaveOffer(_ context.Context, offer *models.RebidOffer) error {
	for i := range t.d.offers {
		if t.d.offers[i].ID == offer.ID {
			t.d.offers[i] = *offer
			return nil
		}
	}
	return fmt.Errorf("offer %s: %w", offer.ID, ErrNotFound)
}

func (t *memTx) DeleteOffers(context.Context) error {
	t.d.offers = nil
	return nil
}

func (t *memTx) InsertAdjustments(_ context.Context, records []models.AdjustmentRecord) error {
	t.d.adjustments = append(t.d.adjustments, records...)
	return nil
}

func (t *memTx) LatestAdjustmentTransaction(context.Context) (uuid.UUID, error) {
	if len(t.d.adjustments) == 0 {
		return uuid.Nil, fmt.Errorf("adjustment transaction: %w", ErrNotFound)
	}
	latest := t.d.adjustments[0]
	for _, r := range t.d.adjustments[1:] {
		if !r.CreatedAt.Before(latest.CreatedAt) {
			latest = r
		}
	}
	return latest.TransactionID, nil
}

func (t *memTx) Adjustments(_ context.Context, transactionID uuid.UUID) ([]models.AdjustmentRecord, error) {
	var out []models.AdjustmentRecord
	for _, r := range t.d.adjustments {
		if r.TransactionID == transactionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *memTx) DeleteAdjustments(_ context.Context, transactionID uuid.UUID) error {
	t.d.adjustments = slices.DeleteFunc(t.d.adjustments, func(r models.AdjustmentRecord) bool {
		return r.TransactionID == transactionID
	})
	return nil
}

func (t *memTx) DeleteAllAdjustments(context.Context) error {
	t.d.adjustments = nil
	return nil
}

func (t *memTx) SaveSnapshot(_ context.Context, snap *Snapshot) error {
	t.snapshots[snap.Name] = Snapshot{
		Name:      snap.Name,
		CreatedAt: snap.CreatedAt,
		Payload:   slices.Clone(snap.Payload),
	}
	return nil
}

func (t *memTx) Snapshot(_ context.Context, name string) (*Snapshot, error) {
	snap, ok := t.snapshots[name]
	if !ok {
		return nil, fmt.Errorf("snapshot %q: %w", name, ErrNotFound)
	}
	return &snap, nil
}

func (t *memTx) Snapshots(context.Context) ([]Snapshot, error) {
	out := make([]Snapshot, 0, len(t.snapshots))
	for _, snap := range t.snapshots {
		out = append(out, Snapshot{Name: snap.Name, CreatedAt: snap.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) Dump(ctx context.Context) (*Dataset, error) {
	st, _ := t.AuctionState(ctx)
	return &Dataset{
		State:       st,
		Teams:       slices.Clone(t.d.teams),
		Plots:       slices.Clone(t.d.plots),
		Bids:        slices.Clone(t.d.bids),
		Offers:      slices.Clone(t.d.offers),
		Adjustments: slices.Clone(t.d.adjustments),
	}, nil
}

func (t *memTx) Restore(_ context.Context, data *Dataset) error {
	t.d = fromDataset(data)
	return nil
}
