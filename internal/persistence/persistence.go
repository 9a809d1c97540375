// Package persistence implements the lossless sink contract of spec §6
// "Persistence hooks": an append-only event table plus a snapshot table,
// rotation, and replay support, concretely backed by Postgres through gorm
// (the teacher's own persistence stack — internal/db/repositories,
// internal/db/models — generalized here from trade/position records to the
// matching core's own event/snapshot schema).
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fplx/matchcore/internal/engine"
	"github.com/fplx/matchcore/internal/events"
)

// EventRow is the append-only row shape for one emitted event. Kind
// discriminates trade/delta/lifecycle/tick-complete; Payload holds the
// type-specific fields as JSON, keeping the table schema stable across the
// four event shapes (mirrors the teacher's single eventsourcing.events
// table with a polymorphic payload column).
type EventRow struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	Symbol      uint32 `gorm:"index:idx_symbol_tick"`
	Tick        uint64 `gorm:"index:idx_symbol_tick"`
	SeqInTick   uint64
	Kind        string
	Payload     []byte
	ExecID      uint64
	HasExecID   bool
	InsertedAt  time.Time
}

func (EventRow) TableName() string { return "matchcore_events" }

// SnapshotRow is one tick-boundary snapshot capture (spec §4.1 snapshot()).
type SnapshotRow struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	Symbol        uint32 `gorm:"uniqueIndex:idx_symbol_version"`
	Tick          uint64
	SchemaVersion string
	ConfigHash    string
	Blob          []byte // klauspost/compress-framed payload, see internal/engine/snapshot.go
	CreatedAt     time.Time
}

func (SnapshotRow) TableName() string { return "matchcore_snapshots" }

// Store is the gorm-backed LosslessSink: append-only event writes, plus
// snapshot capture/replay helpers for warm start.
type Store struct {
	db *gorm.DB
}

// Open wires a Store against a gorm connection. It does not migrate;
// Migrate creates the EventRow and SnapshotRow tables.
func Open(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates/updates the event and snapshot tables. Called once at
// boot, mirroring the teacher's internal/db/migrations entrypoint.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&EventRow{}, &SnapshotRow{})
}

// WriteBatch implements dispatcher.LosslessSink: appends every event in
// batch inside one transaction, preserving the canonical intra-batch order
// as row insertion order (spec §6 "append-only stream of events").
func (s *Store) WriteBatch(ctx context.Context, batch events.Batch) error {
	rows := make([]EventRow, 0, len(batch.Trades)+len(batch.Deltas)+len(batch.Lifecycle)+1)
	now := time.Now()

	for _, t := range batch.Trades {
		rows = append(rows, EventRow{
			Symbol: t.Symbol, Tick: t.Tick, SeqInTick: t.SeqInTick,
			Kind: "trade", Payload: encodeTrade(t),
			ExecID: t.ExecID, HasExecID: t.HasExecID, InsertedAt: now,
		})
	}
	for _, d := range batch.Deltas {
		rows = append(rows, EventRow{
			Symbol: d.Symbol, Tick: d.Tick,
			Kind: "book-delta", Payload: encodeDelta(d), InsertedAt: now,
		})
	}
	for _, l := range batch.Lifecycle {
		rows = append(rows, EventRow{
			Symbol: l.Symbol, Tick: l.Tick, SeqInTick: l.SeqInTick,
			Kind: "lifecycle", Payload: encodeLifecycle(l), InsertedAt: now,
		})
	}
	rows = append(rows, EventRow{
		Symbol: batch.Complete.Symbol, Tick: batch.Complete.Tick,
		Kind: "tick-complete", InsertedAt: now,
	})

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}

// Rotate deletes event rows for symbol strictly before tick, per spec §6
// "rotation at configured size/time boundaries". The corresponding snapshot
// at or after tick must exist before rotating, which callers are expected
// to enforce (rotation policy lives in the caller, not the store).
func (s *Store) Rotate(ctx context.Context, symbol uint32, beforeTick uint64) error {
	return s.db.WithContext(ctx).
		Where("symbol = ? AND tick < ?", symbol, beforeTick).
		Delete(&EventRow{}).Error
}

// ReplayEvents returns every event row for symbol at or after fromTick, in
// insertion order, for deterministic replay (spec §6, §8 property 8).
func (s *Store) ReplayEvents(ctx context.Context, symbol uint32, fromTick uint64) ([]EventRow, error) {
	var rows []EventRow
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND tick >= ?", symbol, fromTick).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("persistence: replay events: %w", err)
	}
	return rows, nil
}

// SaveSnapshot upserts the current snapshot for symbol (one row per symbol;
// a new capture replaces the prior one, spec §6 "rotation at configured
// size/time boundaries" applies to events, not snapshots).
func (s *Store) SaveSnapshot(ctx context.Context, symbol uint32, snap engine.Snapshot) error {
	blob, err := engine.EncodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("persistence: encode snapshot: %w", err)
	}
	row := SnapshotRow{
		Symbol:        symbol,
		Tick:          snap.Tick,
		SchemaVersion: snap.SchemaVersion,
		ConfigHash:    snap.ConfigHash,
		Blob:          blob,
		CreatedAt:     time.Now(),
	}
	return s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Assign(row).
		FirstOrCreate(&SnapshotRow{}, SnapshotRow{Symbol: symbol}).Error
}

// ErrNoSnapshot is returned by LoadSnapshot when symbol has never been
// captured.
var ErrNoSnapshot = errors.New("persistence: no snapshot for symbol")

// LoadSnapshot fetches and decodes symbol's most recent snapshot, for
// coordinator warm start.
func (s *Store) LoadSnapshot(ctx context.Context, symbol uint32) (engine.Snapshot, error) {
	var row SnapshotRow
	err := s.db.WithContext(ctx).Where("symbol = ?", symbol).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("persistence: load snapshot: %w", err)
	}
	return engine.DecodeSnapshot(row.Blob)
}
