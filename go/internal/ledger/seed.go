package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/landauction/go/internal/models"
)

// SeedConfig describes a fresh auction.
type SeedConfig struct {
	Teams     int
	Plots     int
	Budget    decimal.Decimal
	BasePrice decimal.Decimal
	PlotType  string
}

// DefaultSeedConfig is ten teams bidding on twelve plots.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		Teams:     10,
		Plots:     12,
		Budget:    decimal.NewFromInt(1000000),
		BasePrice: decimal.NewFromInt(1500),
		PlotType:  "RESIDENTIAL",
	}
}

// SeedDataset builds teams named "Team A", "Team B", ... with passcodes
// "pass0", "pass1", ... and plots numbered from 1.
func SeedDataset(cfg SeedConfig) (*Dataset, error) {
	if cfg.Teams < 1 || cfg.Teams > 26 {
		return nil, fmt.Errorf("team count must be between 1 and 26, got %d", cfg.Teams)
	}
	if cfg.Plots < 1 {
		return nil, fmt.Errorf("plot count must be positive, got %d", cfg.Plots)
	}

	data := &Dataset{State: models.DefaultAuctionState()}
	for i := 0; i < cfg.Teams; i++ {
		data.Teams = append(data.Teams, models.Team{
			ID:       uuid.New(),
			Name:     fmt.Sprintf("Team %c", 'A'+i),
			Passcode: fmt.Sprintf("pass%d", i),
			Budget:   cfg.Budget,
		})
	}
	for n := 1; n <= cfg.Plots; n++ {
		plot := models.Plot{
			Number:    n,
			PlotType:  cfg.PlotType,
			BasePrice: cfg.BasePrice,
			Status:    models.PlotStatusPending,
		}
		plot.TotalPrice = plot.BaseValue()
		data.Plots = append(data.Plots, plot)
	}
	return data, nil
}
