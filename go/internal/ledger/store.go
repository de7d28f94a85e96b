// Package ledger is the persistence boundary of the auction: teams, plots,
// bids, the auction state singleton, resale offers and adjustment history.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/landauction/go/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store runs units of work against the ledger.
type Store interface {
	// InTx runs fn inside one transaction. If fn returns an error nothing
	// fn wrote is kept.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// PlotFilter narrows Plots. The zero value matches every plot.
type PlotFilter struct {
	// Unheld keeps only plots without a winning team.
	Unheld   bool
	Statuses []models.PlotStatus
}

// Match reports whether p passes the filter.
func (f PlotFilter) Match(p *models.Plot) bool {
	if f.Unheld && p.Held() {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if p.Status == s {
			return true
		}
	}
	return false
}

// OfferFilter narrows Offers. Zero fields match anything.
type OfferFilter struct {
	Status     models.OfferStatus
	PlotNumber int
}

// Match reports whether o passes the filter.
func (f OfferFilter) Match(o *models.RebidOffer) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.PlotNumber != 0 && o.PlotNumber != f.PlotNumber {
		return false
	}
	return true
}

// Tx is the set of operations available inside a transaction. Reads return
// copies; changes are persisted only through the Save/Insert methods.
type Tx interface {
	// AuctionState returns the singleton, or the defaults when none was saved.
	AuctionState(ctx context.Context) (models.AuctionState, error)
	SaveAuctionState(ctx context.Context, state models.AuctionState) error

	Team(ctx context.Context, id uuid.UUID) (*models.Team, error)
	TeamByName(ctx context.Context, name string) (*models.Team, error)
	Teams(ctx context.Context) ([]models.Team, error)
	SaveTeam(ctx context.Context, team *models.Team) error
	ResetTeams(ctx context.Context) error

	Plot(ctx context.Context, number int) (*models.Plot, error)
	// Plots returns matching plots ordered by number.
	Plots(ctx context.Context, filter PlotFilter) ([]models.Plot, error)
	SavePlot(ctx context.Context, plot *models.Plot) error
	ResetPlots(ctx context.Context) error

	InsertBid(ctx context.Context, bid *models.Bid) error
	// Bids returns the bids on a plot, oldest first.
	Bids(ctx context.Context, plotNumber int) ([]models.Bid, error)
	DeleteBids(ctx context.Context) error

	InsertOffer(ctx context.Context, offer *models.RebidOffer) error
	Offer(ctx context.Context, id uuid.UUID) (*models.RebidOffer, error)
	// Offers returns matching offers, newest first.
	Offers(ctx context.Context, filter OfferFilter) ([]models.RebidOffer, error)
	SaveOffer(ctx context.Context, offer *models.RebidOffer) error
	DeleteOffers(ctx context.Context) error

	InsertAdjustments(ctx context.Context, records []models.AdjustmentRecord) error
	// LatestAdjustmentTransaction returns the transaction id of the most
	// recent adjustment, or ErrNotFound.
	LatestAdjustmentTransaction(ctx context.Context) (uuid.UUID, error)
	Adjustments(ctx context.Context, transactionID uuid.UUID) ([]models.AdjustmentRecord, error)
	DeleteAdjustments(ctx context.Context, transactionID uuid.UUID) error
	DeleteAllAdjustments(ctx context.Context) error

	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	Snapshot(ctx context.Context, name string) (*Snapshot, error)
	// Snapshots lists stored snapshots without their payloads, newest first.
	Snapshots(ctx context.Context) ([]Snapshot, error)

	// Dump returns every auction row.
	Dump(ctx context.Context) (*Dataset, error)
	// Restore replaces every auction row with the dataset.
	Restore(ctx context.Context, data *Dataset) error
}

// Dataset is the full content of the ledger, excluding snapshots.
type Dataset struct {
	State       models.AuctionState       `json:"state"`
	Teams       []models.Team             `json:"teams"`
	Plots       []models.Plot             `json:"plots"`
	Bids        []models.Bid              `json:"bids"`
	Offers      []models.RebidOffer       `json:"offers"`
	Adjustments []models.AdjustmentRecord `json:"adjustments"`
}

// Snapshot is a named, encoded Dataset.
type Snapshot struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Payload   []byte    `json:"-"`
}
