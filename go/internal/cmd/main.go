package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogging(cfg)

	policy, err := loadPolicy(cfg.PolicyFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.PolicyFile).Msg("failed to load auction policy")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := setupLedger(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up ledger")
	}
	defer store.Close()

	g, gctx := errgroup.WithContext(ctx)

	services, err := setupServices(gctx, cfg, policy, store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}
	server := setupServer(cfg, services.Gateway)

	log.Info().
		Str("port", cfg.Port).
		Str("ledger", cfg.LedgerStore).
		Str("bid_increment", policy.Auction.BidIncrement.String()).
		Dur("sell_countdown", policy.Auction.SellCountdown).
		Bool("relay", services.Relay != nil).
		Msg("starting land auction server")

	g.Go(func() error { return services.Engine.Run(gctx) })
	g.Go(func() error { return services.Presence.Run(gctx) })
	g.Go(func() error { return services.Gateway.Start(gctx) })
	if services.Relay != nil {
		g.Go(func() error {
			defer services.Relay.Close()
			return services.Relay.Run(gctx)
		})
	}
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return
	}
	log.Info().Msg("land auction server shutdown complete")
}

func setupLogging(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
