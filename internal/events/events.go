// Package events defines the canonical outbound event shapes of spec §6 and
// the per-tick event buffer of §3 ("Event buffer (per engine, per tick)").
package events

import "github.com/fplx/matchcore/internal/types"

// Trade is emitted for every match (spec §6).
type Trade struct {
	Symbol      uint32
	Tick        uint64
	Price       uint64
	Qty         uint64
	TakerSide   types.Side
	MakerOrder  uint64
	TakerOrder  uint64
	MakerAcct   uint64
	TakerAcct   uint64
	TsNorm      uint64 // of the aggressor
	SeqInTick   uint64
	ExecID      uint64
	HasExecID   bool
}

// BookDelta carries the final post-tick total for one touched level.
type BookDelta struct {
	Symbol uint32
	Tick   uint64
	Side   types.Side
	Index  uint64
	Total  uint64
}

// Lifecycle reports an admission or matching outcome for one order.
type Lifecycle struct {
	Symbol        uint32
	Tick          uint64
	OrderID       uint64
	AccountID     uint64
	Kind          types.LifecycleKind
	Reason        types.RejectReason
	HasLastFill   bool
	LastFillPrice uint64
	LastFillQty   uint64
	Remaining     uint64
	SeqInTick     uint64
}

// TickComplete is the terminal per-tick marker; exactly one is emitted per
// (symbol, tick) (spec §4.1 postconditions, §8 property 1).
type TickComplete struct {
	Symbol uint32
	Tick   uint64
}

// Batch is the canonically ordered sequence of events produced by one
// tick(T) invocation: trades, then book deltas, then lifecycle events, then
// exactly one TickComplete (spec §4.1 "Event emission").
type Batch struct {
	Symbol    uint32
	Tick      uint64
	Trades    []Trade
	Deltas    []BookDelta
	Lifecycle []Lifecycle
	Complete  TickComplete
}

// Buffer accumulates one tick's events before they are flushed as a Batch.
// seqInTick increments on every trade and every lifecycle event; book deltas
// are coalesced summaries and do not consume it (spec §4.1).
type Buffer struct {
	symbol uint32
	tick   uint64

	trades    []Trade
	deltas    map[deltaKey]*BookDelta
	deltaKeys []deltaKey // insertion order is irrelevant; emission order is fixed at flush
	lifecycle []Lifecycle

	seqInTick uint64
}

type deltaKey struct {
	side types.Side
	idx  uint64
}

// NewBuffer starts a fresh buffer for (symbol, tick). seqInTick resets to 0.
func NewBuffer(symbol uint32, tick uint64) *Buffer {
	return &Buffer{
		symbol: symbol,
		tick:   tick,
		deltas: make(map[deltaKey]*BookDelta),
	}
}

// EmitTrade appends a trade and assigns it the next seq_in_tick.
func (b *Buffer) EmitTrade(t Trade) {
	t.Symbol = b.symbol
	t.Tick = b.tick
	t.SeqInTick = b.seqInTick
	b.seqInTick++
	b.trades = append(b.trades, t)
}

// EmitLifecycle appends a lifecycle event and assigns it the next seq_in_tick.
func (b *Buffer) EmitLifecycle(l Lifecycle) {
	l.Symbol = b.symbol
	l.Tick = b.tick
	l.SeqInTick = b.seqInTick
	b.seqInTick++
	b.lifecycle = append(b.lifecycle, l)
}

// TouchLevel records (or overwrites) the final post-tick total for a
// touched (side, index) pair. Does not consume seq_in_tick.
func (b *Buffer) TouchLevel(side types.Side, idx uint64, total uint64) {
	k := deltaKey{side, idx}
	if d, ok := b.deltas[k]; ok {
		d.Total = total
		return
	}
	d := &BookDelta{Symbol: b.symbol, Tick: b.tick, Side: side, Index: idx, Total: total}
	b.deltas[k] = d
	b.deltaKeys = append(b.deltaKeys, k)
}

// Flush produces the canonically ordered Batch: bids ascending, then asks
// ascending, for book deltas (spec §9 Open Question 1, fixed this way).
func (b *Buffer) Flush() Batch {
	deltas := make([]BookDelta, 0, len(b.deltaKeys))
	for _, side := range []types.Side{types.SideBid, types.SideAsk} {
		idxs := make([]uint64, 0)
		for k := range b.deltas {
			if k.side == side {
				idxs = append(idxs, k.idx)
			}
		}
		sortUint64(idxs)
		for _, idx := range idxs {
			deltas = append(deltas, *b.deltas[deltaKey{side, idx}])
		}
	}
	return Batch{
		Symbol:    b.symbol,
		Tick:      b.tick,
		Trades:    b.trades,
		Deltas:    deltas,
		Lifecycle: b.lifecycle,
		Complete:  TickComplete{Symbol: b.symbol, Tick: b.tick},
	}
}

func sortUint64(s []uint64) {
	// Small n per tick in practice (touched levels); insertion sort avoids
	// pulling in sort for a handful of elements on the hot flush path.
	for i := 1; i < len(s); i++ {
		v := s[i]
		j := i - 1
		for j >= 0 && s[j] > v {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = v
	}
}
