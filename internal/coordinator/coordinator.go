// Package coordinator implements the SymbolCoordinator of spec §4.4/§9: it
// owns engine lifecycle (create, boot, pause, evict), wires each engine to
// its ingress ring, enforces one producer per symbol, and admits new
// symbols on demand with an optional prewarm set. All lifecycle mutation is
// applied only at tick boundaries (spec §3 "Lifecycle transitions occur
// only at tick boundaries"), mirroring the teacher's HFT engine registry
// pattern of collecting intents and applying them between cycles.
package coordinator

import (
	"fmt"
	"sync"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/fplx/matchcore/internal/config"
	"github.com/fplx/matchcore/internal/diagnostics"
	"github.com/fplx/matchcore/internal/engine"
	"github.com/fplx/matchcore/internal/ingress"
	"github.com/fplx/matchcore/internal/riskclient"
	"github.com/fplx/matchcore/internal/types"
)

// AuditEntry records one lifecycle decision for post-run diagnostics (spec
// §7 "Faults surface in the coordinator's audit log").
type AuditEntry struct {
	ID     ksuid.KSUID
	Symbol uint32
	From   types.EngineState
	To     types.EngineState
	Reason string
}

type entry struct {
	cfg    config.SymbolConfig
	engine *engine.Engine
	ring   *ingress.Ring
	active bool
}

// Coordinator owns every symbol's engine and ring pairing. Intents
// (activate/evict) are queued and applied only by ApplyBoundary, called by
// the scheduler between ticks.
type Coordinator struct {
	mu sync.Mutex

	logger *zap.Logger
	diag   *diagnostics.Ring
	risk   *riskclient.View

	configs  func(symbol uint32) (config.SymbolConfig, bool)
	maxActive int

	entries map[uint32]*entry
	pending []uint32 // symbols awaiting activation, applied at next boundary

	Audit []AuditEntry
}

// New constructs a coordinator. configs resolves a symbol's frozen
// configuration (e.g. from a registry loaded at boot); maxActive bounds the
// number of simultaneously running engines (spec §4.4 "symbol-capacity").
func New(logger *zap.Logger, diag *diagnostics.Ring, risk *riskclient.View, configs func(uint32) (config.SymbolConfig, bool), maxActive int) *Coordinator {
	return &Coordinator{
		logger:    logger,
		diag:      diag,
		risk:      risk,
		configs:   configs,
		maxActive: maxActive,
		entries:   make(map[uint32]*entry),
	}
}

// Ring implements router.Coordinator: returns the active ring for symbol.
func (c *Coordinator) Ring(symbol uint32) (*ingress.Ring, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[symbol]
	if !ok || !e.active {
		return nil, false
	}
	return e.ring, true
}

// EnsureActive implements router.Coordinator: queues symbol for activation
// at the next boundary. Returns false if the symbol is unknown or capacity
// is already exhausted.
func (c *Coordinator) EnsureActive(symbol uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[symbol]; ok {
		if e.active {
			return true
		}
	} else {
		cfg, ok := c.configs(symbol)
		if !ok {
			return false
		}
		if c.countActiveLocked()+len(c.pending) >= c.maxActive {
			return false
		}
		c.entries[symbol] = &entry{
			cfg:    cfg,
			ring:   ingress.New(cfg.IngressRingCap),
			engine: engine.New(cfg, c.risk, c.diag),
		}
	}
	c.pending = append(c.pending, symbol)
	return true
}

// Prewarm queues a fixed set of symbols through EnsureActive, the same path
// on-demand activation uses; they become active at the next ApplyBoundary
// call. Used at
// process start for known hot symbols (spec §2 "admits new symbols on
// demand (with prewarm)").
func (c *Coordinator) Prewarm(symbols []uint32) {
	for _, s := range symbols {
		c.EnsureActive(s)
	}
}

func (c *Coordinator) countActiveLocked() int {
	n := 0
	for _, e := range c.entries {
		if e.active {
			n++
		}
	}
	return n
}

// ApplyBoundary applies all queued activations, evicts faulted/stopped
// engines, and returns the set of symbols whose state just changed (so the
// caller can, e.g., drain the router's micro-buffer for newly active
// symbols). Only legal between ticks (spec §3, §4.5).
func (c *Coordinator) ApplyBoundary() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := make([]uint32, 0, len(c.pending))
	for _, symbol := range c.pending {
		e := c.entries[symbol]
		if e.active {
			continue
		}
		e.engine.Boot()
		e.active = true
		changed = append(changed, symbol)
		c.audit(symbol, types.StateIdle, types.StateRunning, "ensure_active")
	}
	c.pending = c.pending[:0]

	for symbol, e := range c.entries {
		if !e.active {
			continue
		}
		// The engine itself applies fatal/drain/stop transitions at the
		// start of its own Tick (spec §3): by the time the scheduler
		// reaches this boundary, State() already reflects the outcome of
		// the last completed tick.
		state := e.engine.State()
		if state == types.StateFaulted || state == types.StateStopped {
			e.active = false
			reason := "faulted"
			if state == types.StateStopped {
				reason = "drain-complete"
			}
			c.audit(symbol, types.StateRunning, state, reason)
			changed = append(changed, symbol)
		}
	}
	return changed
}

// Active returns the engine/ring pair for every currently running symbol,
// in ascending symbol-id order, for the scheduler to iterate (spec §4.5
// "every registered engine in a stable deterministic order (by symbol
// id)").
func (c *Coordinator) Active() []Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Handle, 0, len(c.entries))
	for symbol, e := range c.entries {
		if e.active {
			out = append(out, Handle{Symbol: symbol, Engine: e.engine, Ring: e.ring})
		}
	}
	sortHandles(out)
	return out
}

// Handle pairs a symbol with its engine and ring for the scheduler.
type Handle struct {
	Symbol uint32
	Engine *engine.Engine
	Ring   *ingress.Ring
}

func sortHandles(h []Handle) {
	for i := 1; i < len(h); i++ {
		v := h[i]
		j := i - 1
		for j >= 0 && h[j].Symbol > v.Symbol {
			h[j+1] = h[j]
			j--
		}
		h[j+1] = v
	}
}

func (c *Coordinator) audit(symbol uint32, from, to types.EngineState, reason string) {
	rec := AuditEntry{ID: ksuid.New(), Symbol: symbol, From: from, To: to, Reason: reason}
	c.Audit = append(c.Audit, rec)
	c.logger.Info("symbol lifecycle transition",
		zap.String("audit_id", rec.ID.String()),
		zap.Uint32("symbol", symbol),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("reason", reason),
	)
}

// RequestStop latches a stop request for symbol; the engine drains and
// stops at the next boundary (spec §4.1 "request_stop").
func (c *Coordinator) RequestStop(symbol uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[symbol]
	if !ok {
		return fmt.Errorf("coordinator: unknown symbol %d", symbol)
	}
	e.engine.RequestStop()
	return nil
}
