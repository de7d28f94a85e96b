package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/landauction/go/internal/ledger"
)

// setupLedger opens the configured store. An unreachable Postgres is logged
// and the process keeps starting; the schema is applied on the first
// transaction that reaches the database.
func setupLedger(ctx context.Context, cfg Config) (ledger.Store, error) {
	if cfg.LedgerStore == ledgerMemory {
		if !cfg.SeedMemory {
			log.Warn().Msg("using an empty in-memory ledger")
			return ledger.NewMemoryStore(), nil
		}
		data, err := ledger.SeedDataset(ledger.DefaultSeedConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to seed memory ledger: %w", err)
		}
		log.Warn().Int("teams", len(data.Teams)).Int("plots", len(data.Plots)).Msg("using a seeded in-memory ledger")
		return ledger.NewMemoryStoreFrom(data), nil
	}

	database, err := sql.Open("postgres", cfg.DB.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	database.SetMaxOpenConns(10)
	database.SetConnMaxIdleTime(5 * time.Minute)
	store := ledger.NewPostgresStore(database)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		log.Error().Err(err).Str("host", cfg.DB.Host).Msg("database unreachable, starting degraded")
		return store, nil
	}
	if err := store.Migrate(pingCtx); err != nil {
		log.Error().Err(err).Msg("failed to apply ledger schema, will retry on first use")
		return store, nil
	}

	log.Info().
		Str("user", cfg.DB.User).
		Str("host", cfg.DB.Host).
		Int("port", cfg.DB.Port).
		Str("database", cfg.DB.Database).
		Msg("connected to database")
	return store, nil
}
