// Package relay mirrors every committed auction event onto a NATS JetStream
// stream so other processes can follow the auction.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/landauction/go/internal/events"
)

type Config struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long to keep messages
	Replicas        int
	DuplicateWindow time.Duration // Window for Event-ID de-duplication
	QueueSize       int
	RetryDelay      time.Duration
	MaxRetries      int
}

func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		StreamName:      "AUCTION_EVENTS",
		SubjectPrefix:   "auction.events",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          7 * 24 * time.Hour,
		Replicas:        1,
		DuplicateWindow: 2 * time.Hour,
		QueueSize:       1024,
		RetryDelay:      time.Second,
		MaxRetries:      5,
	}
}

// streamPublisher is the part of jetstream.JetStream the relay uses.
type streamPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamRelay implements events.Publisher. Publish only enqueues; Run
// drains the queue and retries failed publishes.
type JetStreamRelay struct {
	nc     *nats.Conn
	js     streamPublisher
	config Config
	queue  chan events.Event
}

// NewJetStreamRelay connects to NATS and makes sure the stream exists.
func NewJetStreamRelay(ctx context.Context, cfg Config) (*JetStreamRelay, error) {
	opts := []nats.Option{
		nats.Name("landauction-relay"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	if err := ensureStream(ctx, js, cfg); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	r := newRelay(js, cfg)
	r.nc = nc
	return r, nil
}

func newRelay(js streamPublisher, cfg Config) *JetStreamRelay {
	return &JetStreamRelay{
		js:     js,
		config: cfg,
		queue:  make(chan events.Event, cfg.QueueSize),
	}
}

func ensureStream(ctx context.Context, js jetstream.JetStream, cfg Config) error {
	sc := jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Committed auction events",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    cfg.Replicas,
		Duplicates:  cfg.DuplicateWindow,
	}
	if _, err := js.CreateOrUpdateStream(ctx, sc); err != nil {
		return fmt.Errorf("create or update stream %s: %w", cfg.StreamName, err)
	}
	log.Info().Str("stream", cfg.StreamName).Msg("JetStream stream ready")
	return nil
}

// Publish implements events.Publisher. Events are dropped when the queue is
// full rather than stalling the auction.
func (r *JetStreamRelay) Publish(event events.Event) {
	select {
	case r.queue <- event:
	default:
		log.Warn().
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("relay queue full, dropping event")
	}
}

// Run publishes queued events until ctx is done.
func (r *JetStreamRelay) Run(ctx context.Context) error {
	log.Info().Str("stream", r.config.StreamName).Msg("event relay started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event relay stopped")
			return nil
		case ev := <-r.queue:
			r.deliver(ctx, ev)
		}
	}
}

// deliver retries with a fixed delay. JetStream de-duplicates on the message
// id, so a retry after a lost ack is harmless.
func (r *JetStreamRelay) deliver(ctx context.Context, ev events.Event) {
	for attempt := 1; ; attempt++ {
		err := r.publish(ctx, ev)
		if err == nil {
			return
		}
		if attempt >= r.config.MaxRetries || ctx.Err() != nil {
			log.Error().
				Err(err).
				Str("event_id", ev.ID).
				Int("attempts", attempt).
				Msg("giving up on relaying event")
			return
		}
		log.Warn().Err(err).Str("event_id", ev.ID).Int("attempt", attempt).Msg("relay publish failed, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.config.RetryDelay):
		}
	}
}

func (r *JetStreamRelay) publish(ctx context.Context, ev events.Event) error {
	subject := fmt.Sprintf("%s.%s", r.config.SubjectPrefix, ev.Type)
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ack, err := r.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(ev.Type)},
			"Event-ID":   []string{ev.ID},
			"Event-Seq":  []string{fmt.Sprint(ev.Seq)},
		},
	},
		jetstream.WithMsgID(ev.ID),
		jetstream.WithExpectStream(r.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", ev.ID).
		Uint64("sequence", ack.Sequence).
		Msg("relayed to JetStream")
	return nil
}

// Close drops the NATS connection.
func (r *JetStreamRelay) Close() error {
	if r.nc != nil {
		r.nc.Close()
	}
	return nil
}
