package auction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/landauction/go/internal/events"
	"github.com/mcdev12/landauction/go/internal/ledger"
	"github.com/mcdev12/landauction/go/internal/models"
)

// Encoder and decoder are safe for concurrent use and reused across calls.
var (
	snapshotEncoder *zstd.Encoder
	snapshotDecoder *zstd.Decoder
)

func init() {
	var err error
	snapshotEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("auction: zstd encoder initialization failed: " + err.Error())
	}
	snapshotDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("auction: zstd decoder initialization failed: " + err.Error())
	}
}

func encodeDataset(data *ledger.Dataset) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dataset: %w", err)
	}
	return snapshotEncoder.EncodeAll(raw, nil), nil
}

func decodeDataset(payload []byte) (*ledger.Dataset, error) {
	raw, err := snapshotDecoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	var data ledger.Dataset
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	return &data, nil
}

// SaveSnapshot stores the whole ledger under name, replacing any snapshot of
// the same name. An empty name is derived from the current time.
func (e *Engine) SaveSnapshot(ctx context.Context, name string) (*ledger.Snapshot, error) {
	name = strings.TrimSpace(name)
	var out *ledger.Snapshot
	err := e.mutate(ctx, func(tx ledger.Tx, b *batch) error {
		if name == "" {
			name = b.now.UTC().Format("20060102-150405")
		}
		data, err := tx.Dump(ctx)
		if err != nil {
			return fmt.Errorf("failed to dump ledger: %w", err)
		}
		payload, err := encodeDataset(data)
		if err != nil {
			return err
		}
		snap := &ledger.Snapshot{Name: name, CreatedAt: b.now, Payload: payload}
		if err := tx.SaveSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("failed to save snapshot %q: %w", name, err)
		}
		out = &ledger.Snapshot{Name: snap.Name, CreatedAt: snap.CreatedAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("snapshot", name).Msg("snapshot saved")
	return out, nil
}

// RestoreSnapshot replaces the ledger with a saved snapshot. The restored
// state continues the current version sequence, so clients see it as newer.
func (e *Engine) RestoreSnapshot(ctx context.Context, name string) (models.AuctionState, error) {
	var out models.AuctionState
	err := e.mutate(ctx, func(tx ledger.Tx, b *batch) error {
		snap, err := tx.Snapshot(ctx, name)
		if err != nil {
			return lookupErr(err, "snapshot", name)
		}
		data, err := decodeDataset(snap.Payload)
		if err != nil {
			return fmt.Errorf("failed to decode snapshot %q: %w", name, err)
		}
		cur, err := tx.AuctionState(ctx)
		if err != nil {
			return fmt.Errorf("failed to load auction state: %w", err)
		}
		data.State.Version = cur.Version + 1
		data.State.UpdatedAt = b.now
		if err := tx.Restore(ctx, data); err != nil {
			return fmt.Errorf("failed to restore snapshot %q: %w", name, err)
		}

		out = data.State.Clone()
		b.emit(events.EventTypeAuctionReset, events.StatePayload{State: out.Clone(), Reason: "restore"})
		if err := e.emitState(ctx, tx, b, out, "restore"); err != nil {
			return err
		}
		b.onCommit(func() {
			e.names.Purge()
			e.sellEpoch++
		})
		if out.Status == models.AuctionStatusSelling {
			e.armCountdown(b, out.CurrentPlotNumber)
		}
		return nil
	})
	if err != nil {
		return models.AuctionState{}, err
	}
	log.Warn().Str("snapshot", name).Int64("version", out.Version).Msg("snapshot restored")
	return out, nil
}

// ListSnapshots returns saved snapshots, newest first, without payloads.
func (e *Engine) ListSnapshots(ctx context.Context) ([]ledger.Snapshot, error) {
	var out []ledger.Snapshot
	err := e.view(ctx, func(tx ledger.Tx) error {
		var err error
		out, err = tx.Snapshots(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return out, nil
}
