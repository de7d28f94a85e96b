package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/landauction/go/internal/auction"
	"github.com/mcdev12/landauction/go/internal/events"
	"github.com/mcdev12/landauction/go/internal/gateway"
	"github.com/mcdev12/landauction/go/internal/ledger"
	"github.com/mcdev12/landauction/go/internal/presence"
	"github.com/mcdev12/landauction/go/internal/relay"
)

type Services struct {
	Store    ledger.Store
	Hub      *gateway.ConnectionManager
	Relay    *relay.JetStreamRelay // nil without NATS
	Engine   *auction.Engine
	Presence *presence.Registry
	Gateway  *gateway.Service
}

func setupServices(ctx context.Context, cfg Config, policy PolicyFile, store ledger.Store) (*Services, error) {
	// Wire up the chain:
	// ledger → engine → publishers (room, stream) → gateway

	gwCfg := gateway.DefaultConfig()
	gwCfg.AdminToken = cfg.AdminToken
	hub := gateway.NewConnectionManager(gwCfg.ConnectionConfig)
	publishers := events.Fanout{hub}

	var rl *relay.JetStreamRelay
	if cfg.NATSURL != "" {
		relayCfg := relay.DefaultConfig()
		relayCfg.URL = cfg.NATSURL
		r, err := relay.NewJetStreamRelay(ctx, relayCfg)
		if err != nil {
			// The room keeps working without the stream.
			log.Error().Err(err).Str("nats_url", cfg.NATSURL).Msg("event relay disabled")
		} else {
			rl = r
			publishers = append(publishers, rl)
		}
	}

	engine, err := auction.NewEngine(store, publishers, auction.WithPolicy(policy.Auction))
	if err != nil {
		return nil, fmt.Errorf("failed to create auction engine: %w", err)
	}

	registry := presence.NewRegistry(policy.Presence, presence.OnChange(hub.PublishRoster))

	svc := gateway.NewService(ctx, gwCfg, hub, engine, registry, store)

	return &Services{
		Store:    store,
		Hub:      hub,
		Relay:    rl,
		Engine:   engine,
		Presence: registry,
		Gateway:  svc,
	}, nil
}
