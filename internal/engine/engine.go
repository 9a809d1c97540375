// Package engine implements the per-symbol MatchingEngine of spec §4.1: the
// only mutator is tick(T); nothing changes book state between ticks. The
// core algorithm (intrusive-FIFO price-time matching over an arena-backed
// ladder) is grounded in the quantcup-style engine in
// _examples/other_examples and rebuilt in the naming/lifecycle idiom of the
// teacher's internal/orders/matching HFT engine (HFTEngine, EngineState,
// health-status thresholds), generalized from that engine's global
// best-effort map-of-books into one bounded, replayable instance per symbol.
package engine

import (
	"github.com/fplx/matchcore/internal/arena"
	"github.com/fplx/matchcore/internal/book"
	"github.com/fplx/matchcore/internal/config"
	"github.com/fplx/matchcore/internal/diagnostics"
	"github.com/fplx/matchcore/internal/events"
	"github.com/fplx/matchcore/internal/ingress"
	"github.com/fplx/matchcore/internal/orderindex"
	"github.com/fplx/matchcore/internal/riskclient"
	"github.com/fplx/matchcore/internal/types"
)

// Engine is one symbol's matching engine. All fields are owned exclusively
// by the goroutine that calls Tick; there is no internal locking (spec §5).
type Engine struct {
	Config config.SymbolConfig

	book  *book.Book
	arena *arena.Arena
	index *orderindex.OrderIndex

	risk *riskclient.View
	diag *diagnostics.Ring

	state       types.EngineState
	halted      bool
	lastTick    uint64
	tickStarted bool
	stopLatched bool
	fatal       bool

	// referenceOverride seeds the admission-band reference price at warm
	// start from a restored snapshot, before any trade has occurred in
	// this process (spec §4.1 admission step 5).
	referenceOverride    uint64
	hasReferenceOverride bool

	execLocalSeq uint64 // resets every tick; used in ExecIDSharded mode
}

// New constructs an idle engine for cfg. It must be booted (via Boot or
// Restore) before Tick may run.
func New(cfg config.SymbolConfig, risk *riskclient.View, diag *diagnostics.Ring) *Engine {
	a := arena.New(cfg.ArenaCapacity)
	return &Engine{
		Config: cfg,
		book:   book.New(cfg.PriceDomain, a),
		arena:  a,
		index:  orderindex.New(cfg.IndexCapacity),
		risk:   risk,
		diag:   diag,
		state:  types.StateIdle,
	}
}

// Boot transitions idle -> running for a cold start (no snapshot).
func (e *Engine) Boot() {
	if e.state != types.StateIdle && e.state != types.StateBooting {
		return
	}
	e.state = types.StateRunning
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() types.EngineState { return e.state }

// Halt marks the symbol halted; admission rejects with market-halted until
// Resume is called. Only legal at a tick boundary.
func (e *Engine) Halt()   { e.halted = true }
func (e *Engine) Resume() { e.halted = false }

// RequestStop latches a flag; the engine transitions to draining at the
// next boundary (spec §4.1 "request_stop").
func (e *Engine) RequestStop() { e.stopLatched = true }

// Fatal reports whether an unrecoverable condition was set during the last
// tick; the coordinator evicts the engine at the next boundary (spec §4.1
// "Backpressure and faults").
func (e *Engine) Fatal() bool { return e.fatal }

// applyBoundaryTransitions runs the lifecycle moves that spec §3 restricts
// to "only at tick boundaries": stop latch -> draining/stopped, fatal ->
// faulted. Called by Tick before processing the next tick's messages.
func (e *Engine) applyBoundaryTransitions() {
	if e.fatal {
		e.state = types.StateFaulted
		return
	}
	if e.stopLatched {
		if e.state == types.StateRunning {
			e.state = types.StateDraining
		}
	}
	if e.state == types.StateDraining && e.index.Count() == 0 {
		e.state = types.StateStopped
	}
	// Boundary-only maintenance: compact tombstones if the ratio exceeds
	// the configured threshold (spec §4.2).
	if e.Config.TombstoneRebuildRatio > 0 && e.index.TombstoneRatio() > e.Config.TombstoneRebuildRatio {
		e.index.Rebuild()
	}
}

// Tick is the engine's only mutator (spec §4.1). It drains up to
// Config.BatchMax messages from ring, admits/matches/cancels each, and
// returns the canonically ordered event batch for tickNum. Preconditions:
// state is Running or Draining, and the previous tick emitted exactly one
// tick-complete (enforced by the caller only invoking Tick once per tick
// per engine, per the scheduler's barrier in spec §4.5).
func (e *Engine) Tick(tickNum uint64, ring *ingress.Ring) events.Batch {
	e.applyBoundaryTransitions()
	buf := events.NewBuffer(e.Config.SymbolID, tickNum)
	e.execLocalSeq = 0

	if e.state == types.StateRunning || e.state == types.StateDraining {
		drained := 0
		for drained < e.Config.BatchMax {
			msg, ok := ring.TryPop()
			if !ok {
				break
			}
			drained++
			if e.state == types.StateDraining && msg.Kind == types.MsgSubmit {
				// Draining stops new intake; cancels still apply so
				// in-flight work can wind down cleanly (spec §3).
				e.rejectMessage(buf, msg, types.RejectMarketHalted)
				continue
			}
			switch msg.Kind {
			case types.MsgSubmit:
				e.handleSubmit(buf, tickNum, msg)
			case types.MsgCancel:
				e.handleCancel(buf, msg)
			}
		}
	}

	e.lastTick = tickNum
	batch := buf.Flush()
	return batch
}

func (e *Engine) rejectMessage(buf *events.Buffer, msg types.InboundMessage, reason types.RejectReason) {
	buf.EmitLifecycle(events.Lifecycle{
		OrderID:   msg.OrderID,
		AccountID: msg.AccountID,
		Kind:      types.LifecycleRejected,
		Reason:    reason,
		Remaining: msg.Qty,
	})
}

// SeedReference installs a warm-start reference price from a restored
// snapshot, used only until the first trade occurs in this process.
func (e *Engine) SeedReference(price uint64) {
	e.referenceOverride, e.hasReferenceOverride = price, true
}

func (e *Engine) reference() (uint64, bool) {
	if e.book.HasLastTradePrice {
		return e.book.LastTradePrice, true
	}
	if e.hasReferenceOverride {
		return e.referenceOverride, true
	}
	return 0, false
}

// nextExecID assigns an engine-local execution id under ExecIDSharded mode
// (spec §4.1 "Execution id"): exec_id = (T << S) | local_seq.
func (e *Engine) nextExecID(tick uint64) (uint64, bool) {
	if e.Config.ExecIDMode != config.ExecIDSharded {
		return 0, false
	}
	id := (tick << e.Config.ExecIDTickShift) | e.execLocalSeq
	e.execLocalSeq++
	return id, true
}
