// Package riskclient implements the engine-facing side of spec §4.7: a
// read-only, tick-consistent snapshot of reservation state that the engine
// consults during admission and never blocks on, allocates for, or calls
// out through. The snapshot itself is refreshed out of band (between ticks,
// never inside tick(T)) from the external risk/account service, whose
// implementation is explicitly out of scope (§1) — only its read-only
// contract matters here, so the RPC surface below is a thin, generic
// contract client rather than a full generated SDK for a service this
// module does not own.
package riskclient

import (
	"sync/atomic"

	"github.com/fplx/matchcore/internal/types"
)

// InventoryKey identifies a per-symbol inventory reservation bucket.
type InventoryKey struct {
	Account uint64
	Symbol  uint32
}

// Snapshot is the reservation-snapshot-mode view of spec §4.7: cash
// available per account, inventory available per (account, symbol), and
// the epoch it was taken at. Engine snapshots do not record the epoch, and
// nothing here reloads an earlier epoch's snapshot for replay.
type Snapshot struct {
	Epoch              uint64
	CashAvailable      map[uint64]uint64
	InventoryAvailable map[InventoryKey]uint64
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		CashAvailable:      make(map[uint64]uint64),
		InventoryAvailable: make(map[InventoryKey]uint64),
	}
}

// View is the engine's handle onto the current snapshot. Swapping the
// pointer is the only write; engine reads are always a single atomic load,
// satisfying "never blocks" (spec §4.7, §5).
type View struct {
	current atomic.Pointer[Snapshot]
}

// NewView creates a view with an empty snapshot (cold start: every
// reservation check fails closed with RejectRiskUnavailable until the first
// Refresh populates it — spec §4.1 admission step 7).
func NewView() *View {
	v := &View{}
	v.current.Store(emptySnapshot())
	return v
}

// Swap installs a freshly fetched snapshot. Called by Refresher.Refresh,
// never by the engine itself.
func (v *View) Swap(s *Snapshot) { v.current.Store(s) }

// Current returns the presently installed snapshot.
func (v *View) Current() *Snapshot { return v.current.Load() }

// AdmitBuy checks whether account has at least requiredCash reserved
// capacity, per spec §4.1 admission step 7 ("required cash reservation").
func (v *View) AdmitBuy(account uint64, requiredCash uint64) (bool, types.RejectReason) {
	s := v.current.Load()
	if s == nil || s.CashAvailable == nil {
		return false, types.RejectRiskUnavailable
	}
	avail, ok := s.CashAvailable[account]
	if !ok {
		return false, types.RejectRiskUnavailable
	}
	if avail < requiredCash {
		return false, types.RejectInsufficientFunds
	}
	return true, types.RejectNone
}

// AdmitSell checks whether account has at least requiredQty of symbol's
// inventory reserved.
func (v *View) AdmitSell(account uint64, symbol uint32, requiredQty uint64) (bool, types.RejectReason) {
	s := v.current.Load()
	if s == nil || s.InventoryAvailable == nil {
		return false, types.RejectRiskUnavailable
	}
	avail, ok := s.InventoryAvailable[InventoryKey{Account: account, Symbol: symbol}]
	if !ok {
		return false, types.RejectRiskUnavailable
	}
	if avail < requiredQty {
		return false, types.RejectExposureExceeded
	}
	return true, types.RejectNone
}
