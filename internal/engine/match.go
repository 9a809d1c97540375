package engine

import (
	"github.com/fplx/matchcore/internal/arena"
	"github.com/fplx/matchcore/internal/events"
	"github.com/fplx/matchcore/internal/types"
)

// runMatching walks the opposite side's FIFO in price-time priority for an
// admitted aggressor, per spec §4.1 "Matching". handle already holds the
// aggressor's arena slot; msg/priceIdx describe the order as admitted.
func (e *Engine) runMatching(buf *events.Buffer, tick uint64, handle types.OrderHandle, msg types.InboundMessage, priceIdx uint64) {
	agg := e.arena.Get(handle)
	oppSide := opposite(msg.Side)

	for agg.OpenQty > 0 {
		bestIdx, ok := e.book.Best(oppSide)
		if !ok {
			break
		}
		if msg.Type != types.OrderMarket && !priceClears(msg.Side, priceIdx, bestIdx) {
			break
		}
		lvl := e.book.LevelAt(oppSide, bestIdx)
		if lvl.Empty() {
			// Bitset/best cursor says occupied but chain is empty: should
			// not happen given book's own invariants; stop defensively.
			break
		}
		makerHandle := lvl.Head
		maker := e.arena.Get(makerHandle)

		levelExhausted := false
		levelCleared := false
	sameLevel:
		for maker.AccountID == agg.AccountID {
			switch e.resolveSelfMatch(buf, makerHandle, maker, oppSide, bestIdx) {
			case selfMatchStop:
				e.finalizeSelfMatchedTaker(buf, msg, handle, agg)
				return
			case selfMatchContinue:
				// cancel-maker: the head (and possibly the level itself) just
				// changed; re-read fresh from the level rather than assuming
				// the old makerHandle/maker are still meaningful.
				if lvl.Empty() {
					levelCleared = true
					break sameLevel
				}
				makerHandle = lvl.Head
				maker = e.arena.Get(makerHandle)
			case selfMatchAdvance:
				// maker rests untouched; try the next order in the FIFO.
				next := maker.Next
				if next == types.NoHandle {
					levelExhausted = true
					break sameLevel
				}
				makerHandle = next
				maker = e.arena.Get(makerHandle)
			}
		}
		if levelCleared {
			// cancel-maker removed the last order at this level; matching
			// moves on to the next best level.
			continue
		}
		if levelExhausted {
			// Every remaining order at this price level collides with the
			// aggressor's own account; no eligible liquidity here.
			break
		}

		tradeQty := agg.OpenQty
		if maker.OpenQty < tradeQty {
			tradeQty = maker.OpenQty
		}
		e.applyFill(buf, tick, msg.Side, bestIdx, handle, agg, makerHandle, maker, tradeQty)
	}

	e.finalizeAggressor(buf, msg, handle, agg, priceIdx)
}

// priceClears reports whether a non-market order at (side, priceIdx) may
// trade against the opposite side's current best.
func priceClears(side types.Side, priceIdx, bestIdx uint64) bool {
	if side == types.SideBid {
		return priceIdx >= bestIdx
	}
	return priceIdx <= bestIdx
}

// applyFill executes one trade between the resting maker and the
// aggressor, for tradeQty units, and emits the trade plus both sides'
// fill lifecycle events.
func (e *Engine) applyFill(buf *events.Buffer, tick uint64, aggSide types.Side, levelIdx uint64, aggHandle types.OrderHandle, agg *arena.Order, makerHandle types.OrderHandle, maker *arena.Order, tradeQty uint64) {
	price := e.book.Domain.Floor + levelIdx*e.book.Domain.Tick

	agg.OpenQty -= tradeQty
	if maker.OpenQty == tradeQty {
		// maker need not be the level's head: a skip-policy self-match can
		// leave an earlier, untouched same-account order resting ahead of
		// it, so removal must use the general intrusive unlink, not
		// UnlinkHead's head-only shortcut.
		e.book.RemoveOrder(opposite(aggSide), levelIdx, makerHandle)
		maker.OpenQty = 0
	} else {
		e.book.ReduceOpen(opposite(aggSide), levelIdx, makerHandle, tradeQty)
	}

	trade := events.Trade{
		Price:     price,
		Qty:       tradeQty,
		TakerSide: aggSide,
		MakerOrder: maker.ID,
		TakerOrder: agg.ID,
		MakerAcct:  maker.AccountID,
		TakerAcct:  agg.AccountID,
		TsNorm:     agg.TsNorm,
	}
	if id, ok := e.nextExecID(tick); ok {
		trade.ExecID, trade.HasExecID = id, true
	}
	buf.EmitTrade(trade)

	e.book.LastTradePrice, e.book.HasLastTradePrice = price, true
	buf.TouchLevel(opposite(aggSide), levelIdx, e.book.LevelAt(opposite(aggSide), levelIdx).Total)

	makerKind := types.LifecyclePartiallyFilled
	if maker.OpenQty == 0 {
		makerKind = types.LifecycleFilled
	}
	buf.EmitLifecycle(events.Lifecycle{
		OrderID:       maker.ID,
		AccountID:     maker.AccountID,
		Kind:          makerKind,
		HasLastFill:   true,
		LastFillPrice: price,
		LastFillQty:   tradeQty,
		Remaining:     maker.OpenQty,
	})
	if maker.OpenQty == 0 {
		e.index.Delete(maker.ID)
		e.arena.Free(makerHandle)
	}

	aggKind := types.LifecyclePartiallyFilled
	if agg.OpenQty == 0 {
		aggKind = types.LifecycleFilled
	}
	buf.EmitLifecycle(events.Lifecycle{
		OrderID:       agg.ID,
		AccountID:     agg.AccountID,
		Kind:          aggKind,
		HasLastFill:   true,
		LastFillPrice: price,
		LastFillQty:   tradeQty,
		Remaining:     agg.OpenQty,
	})
}

// selfMatchOutcome tells runMatching's loop what to do after a self-match
// is resolved against the current head.
type selfMatchOutcome uint8

const (
	// selfMatchAdvance: neither side is touched; the caller walks past this
	// maker (via its intrusive Next link) and retries against whatever sits
	// behind it in the same level's FIFO.
	selfMatchAdvance selfMatchOutcome = iota
	// selfMatchContinue: maker was removed (cancel-maker); retry the same
	// side/level against whatever is now at the head.
	selfMatchContinue
	// selfMatchStop: matching ends here; finalizeSelfMatchedTaker disposes
	// of whatever quantity the aggressor has left (cancel-taker, with or
	// without prior fills).
	selfMatchStop
)

// resolveSelfMatch applies the configured self-match policy (spec §4.1
// "Self-match policy") to a maker found colliding with the aggressor's own
// account.
func (e *Engine) resolveSelfMatch(buf *events.Buffer, makerHandle types.OrderHandle, maker *arena.Order, oppSide types.Side, levelIdx uint64) selfMatchOutcome {
	switch types.SelfMatchPolicy(e.Config.SelfMatchPolicy) {
	case types.SelfMatchSkip:
		// Neither side is touched: the maker keeps resting exactly where it
		// is, and the caller walks past it to the next order in the same
		// level's FIFO (spec §4.1/§8: "walks past same-account makers and
		// leaves them untouched").
		return selfMatchAdvance

	case types.SelfMatchCancelMaker:
		remaining := maker.OpenQty
		e.book.RemoveOrder(oppSide, levelIdx, makerHandle)
		e.index.Delete(maker.ID)
		e.arena.Free(makerHandle)
		buf.TouchLevel(oppSide, levelIdx, e.book.LevelAt(oppSide, levelIdx).Total)
		buf.EmitLifecycle(events.Lifecycle{
			OrderID:   maker.ID,
			AccountID: maker.AccountID,
			Kind:      types.LifecycleCancelled,
			Reason:    types.RejectSelfMatchBlocked,
			Remaining: remaining,
		})
		return selfMatchContinue

	default: // SelfMatchCancelTaker
		// The maker rests untouched; matching stops and
		// finalizeSelfMatchedTaker disposes of whatever the aggressor has left, tagging the
		// disposal with self-match-blocked (spec §4.1 self-match policy).
		return selfMatchStop
	}
}

// finalizeAggressor disposes of whatever remains of the aggressor once
// matching has stopped with no self-match involved: rest it (limit), or
// cancel the remainder (market/IOC), or confirm it filled completely.
func (e *Engine) finalizeAggressor(buf *events.Buffer, msg types.InboundMessage, handle types.OrderHandle, agg *arena.Order, priceIdx uint64) {
	if agg.OpenQty == 0 {
		// Already emitted as Filled by applyFill; nothing left to do.
		return
	}
	switch msg.Type {
	case types.OrderLimit:
		e.rest(buf, handle, msg, priceIdx)
	default: // market, ioc: remainder is cancelled, never rested
		e.cancelRemainder(buf, msg, handle, agg, types.RejectNone)
	}
}

// finalizeSelfMatchedTaker disposes of the taker's remainder under the
// cancel-taker self-match policy: always cancelled, never rested, since the
// policy's contract is specifically "cancel the taker" regardless of order
// type (spec §4.1 "Self-match policy"). If the aggressor had already filled
// some quantity before the colliding level was reached, it is reported as
// cancelled with the partial fill already on record; otherwise as a
// straight rejection, matching the "rejected" framing of an order that
// never got any execution.
func (e *Engine) finalizeSelfMatchedTaker(buf *events.Buffer, msg types.InboundMessage, handle types.OrderHandle, agg *arena.Order) {
	if agg.OpenQty == 0 {
		return
	}
	if agg.OpenQty == msg.Qty {
		remaining := agg.OpenQty
		e.arena.Free(handle)
		buf.EmitLifecycle(events.Lifecycle{
			OrderID:   msg.OrderID,
			AccountID: msg.AccountID,
			Kind:      types.LifecycleRejected,
			Reason:    types.RejectSelfMatchBlocked,
			Remaining: remaining,
		})
		return
	}
	e.cancelRemainder(buf, msg, handle, agg, types.RejectSelfMatchBlocked)
}

// cancelRemainder frees handle and emits a cancelled lifecycle event for
// whatever quantity agg has left.
func (e *Engine) cancelRemainder(buf *events.Buffer, msg types.InboundMessage, handle types.OrderHandle, agg *arena.Order, reason types.RejectReason) {
	remaining := agg.OpenQty
	e.arena.Free(handle)
	buf.EmitLifecycle(events.Lifecycle{
		OrderID:   msg.OrderID,
		AccountID: msg.AccountID,
		Kind:      types.LifecycleCancelled,
		Reason:    reason,
		Remaining: remaining,
	})
}
