// Package book implements the per-side dense price-level array, its
// occupancy bitset, and the cached best-bid/best-ask cursors of spec §3/§4.2.
// Levels are intrusive FIFOs addressed by arena handle (no side-allocated
// list nodes), following the quantcup-style pricePoints/orderBookEntry
// design in _examples/other_examples (lightsgoout-go-quantcup__engine.go),
// adapted from that reference's raw-pointer links to arena index handles so
// ownership stays tree-shaped per spec §9.
package book

import (
	"fmt"

	"github.com/fplx/matchcore/internal/arena"
	"github.com/fplx/matchcore/internal/config"
	"github.com/fplx/matchcore/internal/ladder"
	"github.com/fplx/matchcore/internal/types"
)

// Book does not import testing; CheckInvariants is exercised by this package's tests.

// Level is one price level: an intrusive FIFO chain plus its running total.
type Level struct {
	Head  types.OrderHandle
	Tail  types.OrderHandle
	Total uint64
}

func (l *Level) Empty() bool { return l.Head == types.NoHandle }

// Book is the two-sided order book for a single symbol.
type Book struct {
	Domain config.PriceDomain

	bidLevels []Level
	askLevels []Level
	bidBits   *ladder.Bitset
	askBits   *ladder.Bitset

	bestBidIdx uint64
	hasBestBid bool
	bestAskIdx uint64
	hasBestAsk bool

	arena *arena.Arena

	LastTradePrice    uint64
	HasLastTradePrice bool
}

// New builds an empty book over the given price domain, backed by arena a.
func New(domain config.PriceDomain, a *arena.Arena) *Book {
	size := domain.LadderSize()
	return &Book{
		Domain:    domain,
		bidLevels: make([]Level, size),
		askLevels: make([]Level, size),
		bidBits:   ladder.NewBitset(size),
		askBits:   ladder.NewBitset(size),
		arena:     a,
	}
}

func (b *Book) levels(side types.Side) []Level {
	if side == types.SideBid {
		return b.bidLevels
	}
	return b.askLevels
}

func (b *Book) bits(side types.Side) *ladder.Bitset {
	if side == types.SideBid {
		return b.bidBits
	}
	return b.askBits
}

// LevelAt returns the level at a ladder index for side.
func (b *Book) LevelAt(side types.Side, idx uint64) *Level {
	return &b.levels(side)[idx]
}

// Best returns the best index for side, or (0, false) if the side is empty.
// Bid best is the highest occupied index; ask best is the lowest.
func (b *Book) Best(side types.Side) (uint64, bool) {
	if side == types.SideBid {
		return b.bestBidIdx, b.hasBestBid
	}
	return b.bestAskIdx, b.hasBestAsk
}

func (b *Book) setBest(side types.Side, idx uint64, ok bool) {
	if side == types.SideBid {
		b.bestBidIdx, b.hasBestBid = idx, ok
	} else {
		b.bestAskIdx, b.hasBestAsk = idx, ok
	}
}

// recomputeBestAfterEmpty is called when the level at idx just emptied and
// was (or might have been) the cached best; it walks the bitset to the next
// candidate, or clears best if the side has no liquidity left.
func (b *Book) recomputeBestAfterEmpty(side types.Side, idx uint64) {
	cur, ok := b.Best(side)
	if !ok || cur != idx {
		return
	}
	bits := b.bits(side)
	if side == types.SideBid {
		if idx == 0 {
			b.setBest(side, 0, false)
			return
		}
		if nxt, found := bits.PrevSet(idx - 1); found {
			b.setBest(side, nxt, true)
		} else {
			b.setBest(side, 0, false)
		}
	} else {
		if nxt, found := bits.NextSet(idx + 1); found {
			b.setBest(side, nxt, true)
		} else {
			b.setBest(side, 0, false)
		}
	}
}

// PushTail appends handle h (already populated in the arena) to the tail of
// side/idx's FIFO, updating total, bitset and best cursor. O(1).
func (b *Book) PushTail(side types.Side, idx uint64, h types.OrderHandle) {
	lvl := &b.levels(side)[idx]
	ord := b.arena.Get(h)
	wasEmpty := lvl.Empty()
	ord.Prev = lvl.Tail
	ord.Next = types.NoHandle
	if lvl.Tail != types.NoHandle {
		b.arena.Get(lvl.Tail).Next = h
	} else {
		lvl.Head = h
	}
	lvl.Tail = h
	lvl.Total += ord.OpenQty

	if wasEmpty {
		b.bits(side).Set(idx)
		b.updateBestOnInsert(side, idx)
	}
}

func (b *Book) updateBestOnInsert(side types.Side, idx uint64) {
	cur, ok := b.Best(side)
	if !ok {
		b.setBest(side, idx, true)
		return
	}
	if side == types.SideBid && idx > cur {
		b.setBest(side, idx, true)
	} else if side == types.SideAsk && idx < cur {
		b.setBest(side, idx, true)
	}
}

// UnlinkHead removes the head order of side/idx (it has been fully filled)
// and returns its handle. O(1). Caller is responsible for freeing the slot.
func (b *Book) UnlinkHead(side types.Side, idx uint64) types.OrderHandle {
	lvl := &b.levels(side)[idx]
	h := lvl.Head
	if h == types.NoHandle {
		return types.NoHandle
	}
	ord := b.arena.Get(h)
	lvl.Total -= ord.OpenQty
	lvl.Head = ord.Next
	if lvl.Head == types.NoHandle {
		lvl.Tail = types.NoHandle
	} else {
		b.arena.Get(lvl.Head).Prev = types.NoHandle
	}
	if lvl.Empty() {
		b.bits(side).Clear(idx)
		b.recomputeBestAfterEmpty(side, idx)
	}
	return h
}

// RemoveOrder unlinks an arbitrary order (not necessarily the head) from
// its level's FIFO in O(1) using its intrusive prev/next links, subtracting
// its open quantity from the level total. Used for cancels and full fills.
func (b *Book) RemoveOrder(side types.Side, idx uint64, h types.OrderHandle) {
	lvl := &b.levels(side)[idx]
	ord := b.arena.Get(h)
	lvl.Total -= ord.OpenQty
	if ord.Prev != types.NoHandle {
		b.arena.Get(ord.Prev).Next = ord.Next
	} else {
		lvl.Head = ord.Next
	}
	if ord.Next != types.NoHandle {
		b.arena.Get(ord.Next).Prev = ord.Prev
	} else {
		lvl.Tail = ord.Prev
	}
	if lvl.Empty() {
		b.bits(side).Clear(idx)
		b.recomputeBestAfterEmpty(side, idx)
	}
}

// ReduceOpen reduces the open quantity of order h by qty and the level
// total to match, without unlinking it (partial fill, head retains position).
func (b *Book) ReduceOpen(side types.Side, idx uint64, h types.OrderHandle, qty uint64) {
	lvl := &b.levels(side)[idx]
	ord := b.arena.Get(h)
	ord.OpenQty -= qty
	lvl.Total -= qty
}

// ExportLevels returns a copy of side's level array for snapshotting.
func (b *Book) ExportLevels(side types.Side) []Level {
	src := b.levels(side)
	out := make([]Level, len(src))
	copy(out, src)
	return out
}

// ImportLevels restores side's level array and re-derives the bitset and
// best cursor from it. Only legal on a freshly constructed Book, at warm
// start, before the arena's intrusive links are touched by any Tick.
func (b *Book) ImportLevels(side types.Side, levels []Level) {
	dst := b.levels(side)
	copy(dst, levels)
	bits := b.bits(side)
	var best uint64
	var hasBest bool
	for idx, lvl := range levels {
		if lvl.Empty() {
			continue
		}
		bits.Set(uint64(idx))
		if side == types.SideBid {
			best, hasBest = uint64(idx), true // highest occupied wins, scanning ascending
		} else if !hasBest {
			best, hasBest = uint64(idx), true // lowest occupied wins, first hit
		}
	}
	b.setBest(side, best, hasBest)
}

// CheckInvariants re-derives level totals/bitset/best from the intrusive
// chains and returns an error on the first mismatch. Intended for debug
// builds and tests, never called from the hot path.
func (b *Book) CheckInvariants() error {
	for _, side := range []types.Side{types.SideBid, types.SideAsk} {
		levels := b.levels(side)
		bits := b.bits(side)
		var sawBest bool
		bestIdx, hasBest := b.Best(side)
		for idx := range levels {
			lvl := &levels[idx]
			var sum uint64
			count := 0
			for h := lvl.Head; h != types.NoHandle; {
				ord := b.arena.Get(h)
				sum += ord.OpenQty
				h = ord.Next
				count++
				if count > b.arena.Cap()+1 {
					return fmt.Errorf("book: cycle detected in level %d chain", idx)
				}
			}
			if sum != lvl.Total {
				return fmt.Errorf("book: level %d total %d != chain sum %d", idx, lvl.Total, sum)
			}
			if bits.Get(uint64(idx)) != !lvl.Empty() {
				return fmt.Errorf("book: bitset bit %d (%v) != level non-empty (%v)", idx, bits.Get(uint64(idx)), !lvl.Empty())
			}
			if !lvl.Empty() && hasBest && uint64(idx) == bestIdx {
				sawBest = true
			}
		}
		if hasBest && !sawBest {
			return fmt.Errorf("book: cached best index %d on side %v is not occupied", bestIdx, side)
		}
	}
	return nil
}
