package auction

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcdev12/landauction/go/internal/events"
	"github.com/mcdev12/landauction/go/internal/ledger"
	"github.com/mcdev12/landauction/go/internal/models"
)

// BidView is a bid with the bidder's name.
type BidView struct {
	models.Bid
	TeamName string `json:"team_name"`
}

// State returns the auction state and the plot under the pointer.
func (e *Engine) State(ctx context.Context) (events.StatePayload, error) {
	var out events.StatePayload
	err := e.view(ctx, func(tx ledger.Tx) error {
		st, err := tx.AuctionState(ctx)
		if err != nil {
			return fmt.Errorf("failed to load auction state: %w", err)
		}
		plot, err := e.currentPlot(ctx, tx, st)
		if err != nil {
			return err
		}
		out = events.StatePayload{State: st, CurrentPlot: plot}
		return nil
	})
	return out, err
}

// Plots returns every plot ordered by number.
func (e *Engine) Plots(ctx context.Context) ([]models.Plot, error) {
	var out []models.Plot
	err := e.view(ctx, func(tx ledger.Tx) error {
		var err error
		out, err = tx.Plots(ctx, ledger.PlotFilter{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list plots: %w", err)
	}
	return out, nil
}

// Teams returns every team without passcodes.
func (e *Engine) Teams(ctx context.Context) ([]models.Team, error) {
	var out []models.Team
	err := e.view(ctx, func(tx ledger.Tx) error {
		teams, err := tx.Teams(ctx)
		if err != nil {
			return err
		}
		out = make([]models.Team, 0, len(teams))
		for _, t := range teams {
			out = append(out, t.Public())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	return out, nil
}

// Team returns one team without its passcode.
func (e *Engine) Team(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	var out models.Team
	err := e.view(ctx, func(tx ledger.Tx) error {
		team, err := tx.Team(ctx, id)
		if err != nil {
			return lookupErr(err, "team", id)
		}
		out = team.Public()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Bids returns the bid history of a plot, oldest first.
func (e *Engine) Bids(ctx context.Context, plotNumber int) ([]BidView, error) {
	var out []BidView
	err := e.view(ctx, func(tx ledger.Tx) error {
		if _, err := tx.Plot(ctx, plotNumber); err != nil {
			return lookupErr(err, "plot", plotNumber)
		}
		bids, err := tx.Bids(ctx, plotNumber)
		if err != nil {
			return fmt.Errorf("failed to list bids for plot %d: %w", plotNumber, err)
		}
		out = make([]BidView, 0, len(bids))
		for _, b := range bids {
			out = append(out, BidView{Bid: b, TeamName: e.teamName(ctx, tx, b.TeamID)})
		}
		return nil
	})
	return out, err
}

// Authenticate checks a team's passcode. Unknown teams and wrong passcodes
// are reported the same way.
func (e *Engine) Authenticate(ctx context.Context, teamID uuid.UUID, passcode string) (*models.Team, error) {
	var out models.Team
	err := e.view(ctx, func(tx ledger.Tx) error {
		team, err := tx.Team(ctx, teamID)
		if errors.Is(err, ledger.ErrNotFound) {
			return reject(CodeBadCredentials, "invalid team or passcode")
		}
		if err != nil {
			return fmt.Errorf("failed to load team %s: %w", teamID, err)
		}
		return checkPasscode(team, passcode, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Login finds a team by name and checks its passcode.
func (e *Engine) Login(ctx context.Context, name, passcode string) (*models.Team, error) {
	var out models.Team
	err := e.view(ctx, func(tx ledger.Tx) error {
		team, err := tx.TeamByName(ctx, name)
		if errors.Is(err, ledger.ErrNotFound) {
			return reject(CodeBadCredentials, "invalid team or passcode")
		}
		if err != nil {
			return fmt.Errorf("failed to load team %q: %w", name, err)
		}
		return checkPasscode(team, passcode, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func checkPasscode(team *models.Team, passcode string, out *models.Team) error {
	if subtle.ConstantTimeCompare([]byte(team.Passcode), []byte(passcode)) != 1 {
		return reject(CodeBadCredentials, "invalid team or passcode")
	}
	if team.Banned {
		return reject(CodeTeamBanned, "team %s is banned", team.Name)
	}
	*out = team.Public()
	return nil
}
