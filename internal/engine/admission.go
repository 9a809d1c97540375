package engine

import (
	"github.com/fplx/matchcore/internal/arena"
	"github.com/fplx/matchcore/internal/config"
	"github.com/fplx/matchcore/internal/events"
	"github.com/fplx/matchcore/internal/types"
)

// handleSubmit runs the fail-fast admission order of spec §4.1 and, if
// admitted, matches and/or rests the order.
func (e *Engine) handleSubmit(buf *events.Buffer, tick uint64, msg types.InboundMessage) {
	// 1. Arena has a free slot.
	if e.arena.FreeCount() == 0 {
		e.rejectMessage(buf, msg, types.RejectArenaFull)
		return
	}
	// 2. Order id is unique in the index.
	if _, exists := e.index.Lookup(msg.OrderID); exists {
		e.rejectMessage(buf, msg, types.RejectDuplicateID)
		return
	}
	// 3. Symbol is not halted.
	if e.halted {
		e.rejectMessage(buf, msg, types.RejectMarketHalted)
		return
	}
	// 4. Price validity by type.
	var priceIdx uint64
	switch msg.Type {
	case types.OrderMarket:
		if msg.HasPrice {
			e.rejectMessage(buf, msg, types.RejectBadTick)
			return
		}
	default: // limit, ioc, post-only
		if !msg.HasPrice {
			e.rejectMessage(buf, msg, types.RejectBadTick)
			return
		}
		idx, ok := e.Config.PriceDomain.Index(msg.Price)
		if !ok {
			e.rejectMessage(buf, msg, types.RejectBadTick)
			return
		}
		priceIdx = idx
	}
	// 5. Reference-price band.
	ref, hasRef := e.reference()
	if !hasRef {
		switch msg.Type {
		case types.OrderMarket:
			if !e.Config.AllowMarketColdStart {
				e.rejectMessage(buf, msg, types.RejectMarketDisallowed)
				return
			}
		case types.OrderIOC:
			if !e.Config.AllowMarketColdStart {
				e.rejectMessage(buf, msg, types.RejectIOCDisallowed)
				return
			}
		}
		// Limit/post-only with no reference yet: admitted in-band by
		// definition (spec §9 boundary behavior, cold start).
	} else if msg.Type != types.OrderMarket {
		if !e.Config.Band.Within(msg.Price, ref) {
			e.rejectMessage(buf, msg, types.RejectOutOfBand)
			return
		}
	}
	// 6. Type semantics: post-only must not cross at submit price.
	if msg.Type == types.OrderPostOnly {
		if e.crosses(msg.Side, priceIdx) {
			e.rejectMessage(buf, msg, types.RejectPostOnlyCross)
			return
		}
	}
	// 7. Risk admission.
	var requiredCash, requiredQty uint64
	if msg.Side == types.SideBid {
		switch msg.Type {
		case types.OrderMarket:
			requiredCash = msg.Qty * ref * (e.bandMultiplierNumerator()) / e.bandMultiplierDenominator()
		default:
			requiredCash = msg.Qty * msg.Price
		}
		if ok, reason := e.risk.AdmitBuy(msg.AccountID, requiredCash); !ok {
			e.rejectMessage(buf, msg, reason)
			return
		}
	} else {
		requiredQty = msg.Qty
		if ok, reason := e.risk.AdmitSell(msg.AccountID, e.Config.SymbolID, requiredQty); !ok {
			e.rejectMessage(buf, msg, reason)
			return
		}
	}

	// Admitted: allocate the aggressor's transient arena slot.
	handle, err := e.arena.Alloc(arena.Order{
		ID:         msg.OrderID,
		AccountID:  msg.AccountID,
		Side:       msg.Side,
		Type:       msg.Type,
		PriceIndex: priceIdx,
		HasPrice:   msg.HasPrice,
		OpenQty:    msg.Qty,
		TsNorm:     msg.TsNorm,
		EnqSeq:     msg.EnqSeq,
	})
	if err != nil {
		// Step 1 already checked FreeCount; this would indicate a
		// structural invariant breach, not a normal admission path.
		e.rejectMessage(buf, msg, types.RejectArenaFull)
		return
	}

	buf.EmitLifecycle(events.Lifecycle{
		OrderID:   msg.OrderID,
		AccountID: msg.AccountID,
		Kind:      types.LifecycleAccepted,
		Remaining: msg.Qty,
	})

	if msg.Type == types.OrderPostOnly {
		// Verified non-crossing above; rests unconditionally.
		e.rest(buf, handle, msg, priceIdx)
		return
	}

	e.runMatching(buf, tick, handle, msg, priceIdx)
}

// bandMultiplierNumerator/Denominator express (10000 + bps)/10000 for a
// basis-point band in the market order required-cash formula of spec §4.1
// step 7; for an absolute band the ratio is 1, so the required cash is
// qty × reference with no band margin. Kept as an integer
// ratio since the system is integer-only on the hot path (spec §3).
func (e *Engine) bandMultiplierNumerator() uint64 {
	if e.Config.Band.Kind == config.BandBasisPoints {
		return 10000 + e.Config.Band.Value
	}
	return 1
}

func (e *Engine) bandMultiplierDenominator() uint64 {
	if e.Config.Band.Kind == config.BandBasisPoints {
		return 10000
	}
	return 1
}

// crosses reports whether a priced order on side at priceIdx would trade
// immediately against the opposite side's current best.
func (e *Engine) crosses(side types.Side, priceIdx uint64) bool {
	opp := opposite(side)
	bestIdx, ok := e.book.Best(opp)
	if !ok {
		return false
	}
	if side == types.SideBid {
		return bestIdx <= priceIdx
	}
	return bestIdx >= priceIdx
}

func opposite(s types.Side) types.Side {
	if s == types.SideBid {
		return types.SideAsk
	}
	return types.SideBid
}

// rest places an accepted order (post-only, or a limit remainder) at the
// tail of its price level.
func (e *Engine) rest(buf *events.Buffer, handle types.OrderHandle, msg types.InboundMessage, priceIdx uint64) {
	if err := e.index.Insert(msg.OrderID, handle); err != nil {
		// Index is full even though arena had room: reject and free.
		e.arena.Free(handle)
		e.rejectMessage(buf, msg, types.RejectArenaFull)
		return
	}
	e.book.PushTail(msg.Side, priceIdx, handle)
	lvl := e.book.LevelAt(msg.Side, priceIdx)
	buf.TouchLevel(msg.Side, priceIdx, lvl.Total)
}

// handleCancel applies an inbound cancel within the same tick loop (spec
// §5 "Cancellation and timeouts").
func (e *Engine) handleCancel(buf *events.Buffer, msg types.InboundMessage) {
	handle, ok := e.index.Lookup(msg.OrderID)
	if !ok {
		e.rejectMessage(buf, msg, types.RejectUnknownOrder)
		return
	}
	ord := e.arena.Get(handle)
	remaining := ord.OpenQty
	side, idx := ord.Side, ord.PriceIndex
	e.book.RemoveOrder(side, idx, handle)
	e.index.Delete(msg.OrderID)
	e.arena.Free(handle)
	lvl := e.book.LevelAt(side, idx)
	buf.TouchLevel(side, idx, lvl.Total)
	buf.EmitLifecycle(events.Lifecycle{
		OrderID:   msg.OrderID,
		AccountID: msg.AccountID,
		Kind:      types.LifecycleCancelled,
		Remaining: remaining,
	})
}
