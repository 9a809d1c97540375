// Snapshot capture/restore for warm start (spec §4.1 "snapshot()"/"restore()",
// §6 "Persistence hooks"). The blob is gob-encoded then zstd-framed with
// klauspost/compress, the same compression library the teacher reaches for
// around its market-data capture pipeline (internal/marketdata/recorder),
// generalized here from tick-capture frames to full engine-state frames.
// Schema compatibility is gated by the config package's semver, boundary-only
// (Restore is only ever called before Boot).
package engine

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/klauspost/compress/zstd"

	"github.com/fplx/matchcore/internal/arena"
	"github.com/fplx/matchcore/internal/book"
	"github.com/fplx/matchcore/internal/config"
	"github.com/fplx/matchcore/internal/orderindex"
	"github.com/fplx/matchcore/internal/types"
)

// Snapshot is the schema-versioned, fully self-contained engine state
// captured at a tick boundary.
type Snapshot struct {
	SchemaVersion string
	ConfigHash    string
	Tick          uint64
	State         types.EngineState

	ArenaSlots    []arena.Order
	ArenaFreeList []types.OrderHandle

	IndexEntries []orderindex.Entry

	BidLevels []book.Level
	AskLevels []book.Level

	LastTradePrice    uint64
	HasLastTradePrice bool
}

// snapshot captures the engine's full replayable state. Only legal at a
// tick boundary (spec §4.1): callers must not invoke this mid-Tick.
func (e *Engine) snapshot() Snapshot {
	return Snapshot{
		SchemaVersion:     config.SchemaVersion.String(),
		ConfigHash:        configHash(e.Config),
		Tick:              e.lastTick,
		State:             e.state,
		ArenaSlots:        e.arena.ExportSlots(),
		ArenaFreeList:     e.arena.ExportFreeList(),
		IndexEntries:      e.index.Entries(),
		BidLevels:         e.book.ExportLevels(types.SideBid),
		AskLevels:         e.book.ExportLevels(types.SideAsk),
		LastTradePrice:    e.book.LastTradePrice,
		HasLastTradePrice: e.book.HasLastTradePrice,
	}
}

// EncodeSnapshot gob-encodes and zstd-compresses a Snapshot into a
// persistable blob (internal/persistence.SnapshotRow.Blob).
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(s); err != nil {
		return nil, fmt.Errorf("engine: encode snapshot: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("engine: new zstd writer: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw.Bytes(), nil), nil
}

// DecodeSnapshot reverses EncodeSnapshot.
func DecodeSnapshot(blob []byte) (Snapshot, error) {
	var s Snapshot
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return s, fmt.Errorf("engine: new zstd reader: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return s, fmt.Errorf("engine: decode zstd frame: %w", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&s); err != nil {
		return s, fmt.Errorf("engine: decode snapshot: %w", err)
	}
	return s, nil
}

// Restore rehydrates a freshly constructed, still-idle engine from a
// snapshot taken for the same symbol. It refuses snapshots whose schema
// major version or config hash no longer match the running binary (spec §9
// Open Question 4's sibling: schema compatibility, never silently coerced).
func (e *Engine) Restore(s Snapshot) error {
	if e.state != types.StateIdle {
		return fmt.Errorf("engine: Restore called on non-idle engine (state=%s)", e.state)
	}
	v, err := semver.NewVersion(s.SchemaVersion)
	if err != nil {
		return fmt.Errorf("engine: bad snapshot schema version %q: %w", s.SchemaVersion, err)
	}
	if v.Major() != config.SchemaVersion.Major() {
		return fmt.Errorf("engine: snapshot schema major %d incompatible with running %d", v.Major(), config.SchemaVersion.Major())
	}
	if want := configHash(e.Config); s.ConfigHash != want {
		return fmt.Errorf("engine: snapshot config hash %q does not match running config %q", s.ConfigHash, want)
	}

	e.arena.Restore(s.ArenaSlots, s.ArenaFreeList)
	if err := e.index.Restore(s.IndexEntries); err != nil {
		return fmt.Errorf("engine: restore order index: %w", err)
	}
	e.book.ImportLevels(types.SideBid, s.BidLevels)
	e.book.ImportLevels(types.SideAsk, s.AskLevels)
	e.book.LastTradePrice = s.LastTradePrice
	e.book.HasLastTradePrice = s.HasLastTradePrice
	e.lastTick = s.Tick
	e.state = types.StateRunning
	return nil
}

// configHash is a cheap structural fingerprint, not a cryptographic digest:
// it only needs to detect "this snapshot was taken under a materially
// different ladder/capacity configuration", not resist tampering.
func configHash(cfg config.SymbolConfig) string {
	return fmt.Sprintf("%d:%d-%d-%d:%d:%d:%d",
		cfg.SymbolID, cfg.PriceDomain.Floor, cfg.PriceDomain.Ceil, cfg.PriceDomain.Tick,
		cfg.ArenaCapacity, cfg.IndexCapacity, cfg.IngressRingCap)
}
