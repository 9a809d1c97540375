// Package arena implements the fixed-capacity order-slot pool of spec §4.2:
// a LIFO free list over a preallocated slice, so admission never allocates
// on the hot path. Grounded on the quantcup-style static bookEntries arena
// (_examples/other_examples, lightsgoout-go-quantcup__engine.go) and on the
// teacher's object-pool idiom (internal/common/pool.ObjectPool), generalized
// from a sync.Pool (which does not guarantee capacity bounds) to a closed
// fixed-size slice because the spec requires "arena-full" to be a rejection,
// not an unbounded allocation.
package arena

import (
	"errors"

	"github.com/fplx/matchcore/internal/types"
)

// ErrFull is returned by Alloc when the arena has no free slot.
var ErrFull = errors.New("arena: full")

// Order is one resting or in-flight order record. Prev/Next are intrusive
// FIFO links by handle, not pointer, so the arena remains a flat slice with
// no pointer-graph ownership (spec §9 "Cyclic / pointer-graph structures").
type Order struct {
	ID         uint64
	AccountID  uint64
	Side       types.Side
	Type       types.OrderType
	PriceIndex uint64
	HasPrice   bool
	OpenQty    uint64
	TsNorm     uint64
	EnqSeq     uint64
	Prev       types.OrderHandle
	Next       types.OrderHandle
	live       bool
}

// Arena is a fixed-capacity pool of Order slots with a LIFO free list.
type Arena struct {
	slots    []Order
	freeList []types.OrderHandle // stack; top is freeList[len-1]
	elastic  bool
}

// New allocates an arena with the given fixed capacity.
func New(capacity int) *Arena {
	a := &Arena{
		slots:    make([]Order, capacity),
		freeList: make([]types.OrderHandle, capacity),
	}
	for i := 0; i < capacity; i++ {
		a.freeList[i] = types.OrderHandle(capacity - 1 - i)
	}
	return a
}

// SetElastic toggles boundary-only capacity growth (spec §4.2). Calling this
// mid-tick is a programming error; callers must only do it between ticks.
func (a *Arena) SetElastic(enabled bool) { a.elastic = enabled }

// Cap returns the current slot capacity.
func (a *Arena) Cap() int { return len(a.slots) }

// Grow appends n fresh free slots. Only legal at a tick boundary.
func (a *Arena) Grow(n int) {
	base := len(a.slots)
	a.slots = append(a.slots, make([]Order, n)...)
	for i := 0; i < n; i++ {
		a.freeList = append(a.freeList, types.OrderHandle(base+n-1-i))
	}
}

// Alloc pops a free slot and populates it. Returns ErrFull if none remain.
func (a *Arena) Alloc(o Order) (types.OrderHandle, error) {
	if len(a.freeList) == 0 {
		return types.NoHandle, ErrFull
	}
	h := a.freeList[len(a.freeList)-1]
	a.freeList = a.freeList[:len(a.freeList)-1]
	o.live = true
	o.Prev = types.NoHandle
	o.Next = types.NoHandle
	a.slots[h] = o
	return h, nil
}

// Free returns a slot to the free list. The caller must have already
// unlinked it from any price-level FIFO.
func (a *Arena) Free(h types.OrderHandle) {
	a.slots[h].live = false
	a.freeList = append(a.freeList, h)
}

// Get returns a pointer to the live order at h. Callers must not retain
// this pointer across a Free/Alloc cycle on the same handle.
func (a *Arena) Get(h types.OrderHandle) *Order {
	return &a.slots[h]
}

// Live reports whether h currently holds a live order.
func (a *Arena) Live(h types.OrderHandle) bool {
	return h != types.NoHandle && int(h) < len(a.slots) && a.slots[h].live
}

// FreeCount returns the number of available slots.
func (a *Arena) FreeCount() int { return len(a.freeList) }

// ExportSlots returns a copy of every slot, live or not, for snapshotting.
func (a *Arena) ExportSlots() []Order {
	out := make([]Order, len(a.slots))
	copy(out, a.slots)
	return out
}

// ExportFreeList returns a copy of the free-list stack (bottom to top).
func (a *Arena) ExportFreeList() []types.OrderHandle {
	out := make([]types.OrderHandle, len(a.freeList))
	copy(out, a.freeList)
	return out
}

// Restore replaces the arena's slots and free list wholesale. Only legal on
// a freshly constructed Arena of matching capacity, at warm start. The
// unexported live flag never round-trips through gob (it only encodes
// exported fields), so it is re-derived here from free-list membership
// rather than trusted from the incoming slots.
func (a *Arena) Restore(slots []Order, freeList []types.OrderHandle) {
	copy(a.slots, slots)
	a.freeList = append(a.freeList[:0], freeList...)
	for i := range a.slots {
		a.slots[i].live = true
	}
	for _, h := range a.freeList {
		a.slots[h].live = false
	}
}
