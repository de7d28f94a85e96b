package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	flag "github.com/spf13/pflag"

	"github.com/mcdev12/landauction/go/internal/dbconfig"
	"github.com/mcdev12/landauction/go/internal/ledger"
)

func main() {
	defaults := ledger.DefaultSeedConfig()
	var (
		teams     = flag.Int("teams", defaults.Teams, "number of teams (1-26)")
		plots     = flag.Int("plots", defaults.Plots, "number of plots")
		budget    = flag.String("budget", defaults.Budget.String(), "budget per team")
		basePrice = flag.String("base-price", defaults.BasePrice.String(), "base price per area unit")
		plotType  = flag.String("plot-type", defaults.PlotType, "plot type label")
		reset     = flag.Bool("reset", false, "delete every auction row first")
	)
	flag.Parse()

	cfg := ledger.SeedConfig{Teams: *teams, Plots: *plots, PlotType: *plotType}
	var err error
	if cfg.Budget, err = decimal.NewFromString(*budget); err != nil {
		fail("invalid --budget: %v", err)
	}
	if cfg.BasePrice, err = decimal.NewFromString(*basePrice); err != nil {
		fail("invalid --base-price: %v", err)
	}
	data, err := ledger.SeedDataset(cfg)
	if err != nil {
		fail("%v", err)
	}

	// 1) Connect using shared dbconfig
	dbCfg, err := dbconfig.NewConfigFromEnv()
	if err != nil {
		fail("%v", err)
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbCfg.DSN())
	if err != nil {
		fail("failed to connect: %v", err)
	}
	defer pool.Close()

	// 2) Create tables
	if _, err := pool.Exec(ctx, ledger.Schema); err != nil {
		fail("apply schema: %v", err)
	}

	// 3) Insert teams and plots in one transaction
	var (
		insertedTeams []int
		insertedPlots int64
	)
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if *reset {
			if _, err := tx.Exec(ctx, `
				TRUNCATE bids, rebid_offers, adjustment_history, plots, teams;
				UPDATE auction_state SET current_plot_number = 1, status = 'NOT_STARTED',
				  current_round = 1, current_question = '', rebid_phase_active = FALSE,
				  round4_phase = '', round4_bid_queue = '{}', policy_deltas = NULL,
				  version = version + 1, updated_at = now()
				WHERE id = 1
			`); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
		}

		for i, t := range data.Teams {
			tag, err := tx.Exec(ctx, `
				INSERT INTO teams (id, name, passcode, budget)
				VALUES ($1, $2, $3, $4::numeric)
				ON CONFLICT (name) DO NOTHING
			`, t.ID, t.Name, t.Passcode, t.Budget.String())
			if err != nil {
				return fmt.Errorf("insert team %s: %w", t.Name, err)
			}
			if tag.RowsAffected() == 1 {
				insertedTeams = append(insertedTeams, i)
			}
		}
		for _, p := range data.Plots {
			tag, err := tx.Exec(ctx, `
				INSERT INTO plots (number, plot_type, total_area, actual_area, base_price, total_price, status)
				VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7)
				ON CONFLICT (number) DO NOTHING
			`, p.Number, p.PlotType, p.TotalArea, p.ActualArea, p.BasePrice.String(), p.TotalPrice.String(), string(p.Status))
			if err != nil {
				return fmt.Errorf("insert plot %d: %w", p.Number, err)
			}
			insertedPlots += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		fail("%v", err)
	}

	// 4) Print summary, including the passcodes new teams log in with
	fmt.Printf("Auction seed complete: %d/%d teams inserted, %d/%d plots inserted\n",
		len(insertedTeams), len(data.Teams), insertedPlots, len(data.Plots))
	for _, i := range insertedTeams {
		fmt.Printf("  %-8s passcode %s\n", data.Teams[i].Name, data.Teams[i].Passcode)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
