// Package router implements the §4.4 Router: it stamps enq_seq, maps a
// symbol to its ingress ring through a fixed deterministic shard function,
// shapes admission with a per-symbol token bucket, and triggers on-demand
// symbol activation through a small Coordinator capability interface
// (spec §9 "Dynamic dispatch" — the router never knows about engine
// internals, only ensure_active/Ring).
package router

import (
	"context"
	"strconv"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/fplx/matchcore/internal/ingress"
	"github.com/fplx/matchcore/internal/types"
)

// Coordinator is the router's view of the symbol coordinator (spec §4.4
// "On-demand activation"): it never mutates engine state directly.
type Coordinator interface {
	// Ring returns the active ingress ring for symbol, if its engine is
	// currently running and visible to the scheduler.
	Ring(symbol uint32) (*ingress.Ring, bool)
	// EnsureActive kicks off asynchronous activation of symbol. It returns
	// false immediately if policy forbids on-demand activation for this
	// symbol or the coordinator has no capacity left.
	EnsureActive(symbol uint32) bool
}

// Config governs shaping and micro-buffering; per-symbol, frozen at boot.
type Config struct {
	NumShards        int
	MicroBufferCap   int           // bounded holding area while a symbol boots
	ShapingRate      int64         // token-bucket limit per ShapingPeriod
	ShapingPeriod    time.Duration
	AllowActivation  bool // policy: may this router activate inactive symbols?
}

type symbolState struct {
	enqSeq      uint64
	microBuffer []types.InboundMessage
	activating  bool
}

// Shard owns a disjoint subset of symbols, guaranteeing "exactly one
// producer per ring" (spec §4.4) without cross-shard coordination.
type Shard struct {
	cfg     Config
	coord   Coordinator
	symbols map[uint32]*symbolState
	limiter *limiter.Limiter
}

func newShard(cfg Config, coord Coordinator) *Shard {
	store := memory.NewStore()
	rate := limiter.Rate{Period: cfg.ShapingPeriod, Limit: cfg.ShapingRate}
	return &Shard{
		cfg:     cfg,
		coord:   coord,
		symbols: make(map[uint32]*symbolState),
		limiter: limiter.New(store, rate),
	}
}

// Router is the sharded entry point described by spec §4.4.
type Router struct {
	cfg    Config
	shards []*Shard
}

// New builds a Router with cfg.NumShards independent shards, each backed by
// the same Coordinator. A fixed modulo shard function assigns symbols.
func New(cfg Config, coord Coordinator) *Router {
	if cfg.NumShards < 1 {
		cfg.NumShards = 1
	}
	shards := make([]*Shard, cfg.NumShards)
	for i := range shards {
		shards[i] = newShard(cfg, coord)
	}
	return &Router{cfg: cfg, shards: shards}
}

// shardFor is the fixed, deterministic shard function of spec §4.4: a
// symbol always maps to the same shard for the router's lifetime.
func (r *Router) shardFor(symbol uint32) *Shard {
	return r.shards[int(symbol)%len(r.shards)]
}

// Route stamps enq_seq and enqueues msg into symbol's ring, or returns an
// explicit rejection reason (spec §4.4 "route(tick_now, msg)").
func (r *Router) Route(ctx context.Context, tickNow uint64, symbol uint32, msg types.InboundMessage) (bool, types.RejectReason) {
	return r.shardFor(symbol).route(ctx, symbol, msg)
}

func (s *Shard) route(ctx context.Context, symbol uint32, msg types.InboundMessage) (bool, types.RejectReason) {
	st, known := s.symbols[symbol]
	if !known {
		if !s.cfg.AllowActivation {
			return false, types.RejectSymbolInactive
		}
		st = &symbolState{}
		s.symbols[symbol] = st
	}

	limCtx, err := s.limiter.Get(ctx, shardKey(symbol))
	if err == nil && limCtx.Reached {
		return false, types.RejectBackpressure
	}

	ring, active := s.coord.Ring(symbol)
	if !active {
		if !st.activating {
			st.activating = true
			if !s.coord.EnsureActive(symbol) {
				st.activating = false
				return false, types.RejectSymbolCapacity
			}
		}
		if len(st.microBuffer) >= s.cfg.MicroBufferCap {
			return false, types.RejectBackpressure
		}
		msg.EnqSeq = st.enqSeq
		st.enqSeq++
		st.microBuffer = append(st.microBuffer, msg)
		return true, types.RejectNone
	}

	st.activating = false
	msg.EnqSeq = st.enqSeq
	st.enqSeq++
	if !ring.TryPush(msg) {
		st.enqSeq-- // the message never actually entered the tick's sequence
		return false, types.RejectBackpressure
	}
	return true, types.RejectNone
}

// DrainMicroBuffer flushes a symbol's held messages into its now-active
// ring, preserving their original relative order (spec §4.4 "never
// reorders messages within a symbol"). Called once the coordinator reports
// the engine active, at a tick boundary.
func (r *Router) DrainMicroBuffer(symbol uint32) {
	r.shardFor(symbol).drainMicroBuffer(symbol)
}

func (s *Shard) drainMicroBuffer(symbol uint32) {
	st, ok := s.symbols[symbol]
	if !ok || len(st.microBuffer) == 0 {
		return
	}
	ring, active := s.coord.Ring(symbol)
	if !active {
		return
	}
	for _, msg := range st.microBuffer {
		if !ring.TryPush(msg) {
			break
		}
	}
	st.microBuffer = st.microBuffer[:0]
	st.activating = false
}

// OnTickBoundary resets every known symbol's enq_seq counter to 0, per the
// scheduler's boundary callback contract (spec §4.4).
func (r *Router) OnTickBoundary() {
	for _, s := range r.shards {
		for _, st := range s.symbols {
			st.enqSeq = 0
		}
	}
}

func shardKey(symbol uint32) string {
	return strconv.FormatUint(uint64(symbol), 10)
}
