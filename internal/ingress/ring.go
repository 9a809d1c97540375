// Package ingress implements the per-symbol single-producer/single-consumer
// inbound ring of spec §4.3: lock-free, fixed capacity, never blocks. The
// router is the sole producer, the matching engine the sole consumer.
//
// Grounded on the atomic-sequence, power-of-two-mask ring in
// _examples/ccyyhlg-lightning-exchange/matching/trade_ringbuffer_batch_safe.go,
// adapted from that reference's blocking runtime-semaphore acquire/release
// pairing to a strictly non-blocking CAS-free design: the spec requires the
// producer to receive an explicit rejection on full, never to wait (§4.3,
// §5 "Suspension points").
package ingress

import (
	"sync/atomic"

	"github.com/fplx/matchcore/internal/types"
)

// Ring is a fixed-capacity SPSC ring of inbound messages. Capacity must be
// a power of two. Message storage lives in the ring; there is no
// per-message allocation on push or pop.
type Ring struct {
	buf  []types.InboundMessage
	mask uint64

	// writeSeq is advanced only by the producer; readSeq only by the
	// consumer. Each is a single atomic word so the other side's read is
	// always a consistent snapshot, giving SPSC safety without a mutex.
	writeSeq atomic.Uint64
	readSeq  atomic.Uint64
}

// New creates a ring with the given power-of-two capacity.
func New(capacity int) *Ring {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("ingress: capacity must be a power of two")
	}
	return &Ring{
		buf:  make([]types.InboundMessage, capacity),
		mask: uint64(capacity - 1),
	}
}

// Cap returns the ring's fixed capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Len returns the approximate number of queued messages. Safe to call from
// either side; may be stale by the time the caller acts on it.
func (r *Ring) Len() int {
	w := r.writeSeq.Load()
	rd := r.readSeq.Load()
	return int(w - rd)
}

// TryPush enqueues msg. Returns false (never blocks) if the ring is full;
// the router turns that into a `backpressure` rejection (spec §4.4).
func (r *Ring) TryPush(msg types.InboundMessage) bool {
	w := r.writeSeq.Load()
	rd := r.readSeq.Load()
	if w-rd >= uint64(len(r.buf)) {
		return false
	}
	r.buf[w&r.mask] = msg
	r.writeSeq.Store(w + 1)
	return true
}

// TryPop dequeues the oldest message in FIFO order. Returns false if empty;
// never waits (spec §5 "the consumer dequeues in FIFO order and never
// waits").
func (r *Ring) TryPop() (types.InboundMessage, bool) {
	rd := r.readSeq.Load()
	w := r.writeSeq.Load()
	if rd >= w {
		return types.InboundMessage{}, false
	}
	msg := r.buf[rd&r.mask]
	r.readSeq.Store(rd + 1)
	return msg, true
}
