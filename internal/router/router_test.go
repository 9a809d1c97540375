package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fplx/matchcore/internal/ingress"
	"github.com/fplx/matchcore/internal/types"
)

// fakeCoordinator is a minimal, deterministic stand-in for the coordinator's
// activation contract: symbols start inactive until EnsureActive is called,
// at which point a ring is created and subsequent Ring lookups succeed.
type fakeCoordinator struct {
	rings        map[uint32]*ingress.Ring
	allowActivate bool
	activated     map[uint32]bool
}

func newFakeCoordinator(allowActivate bool) *fakeCoordinator {
	return &fakeCoordinator{
		rings:        make(map[uint32]*ingress.Ring),
		allowActivate: allowActivate,
		activated:     make(map[uint32]bool),
	}
}

func (f *fakeCoordinator) Ring(symbol uint32) (*ingress.Ring, bool) {
	r, ok := f.rings[symbol]
	return r, ok
}

func (f *fakeCoordinator) EnsureActive(symbol uint32) bool {
	if !f.allowActivate {
		return false
	}
	f.activated[symbol] = true
	f.rings[symbol] = ingress.New(16)
	return true
}

func baseConfig() Config {
	return Config{
		NumShards:       2,
		MicroBufferCap:  4,
		ShapingRate:     1000,
		ShapingPeriod:   time.Second,
		AllowActivation: true,
	}
}

func TestRouteDeliversToActiveSymbolRing(t *testing.T) {
	coord := newFakeCoordinator(true)
	coord.rings[1] = ingress.New(16)
	r := New(baseConfig(), coord)

	ok, reason := r.Route(context.Background(), 1, 1, types.InboundMessage{Kind: types.MsgSubmit, OrderID: 1})
	require.True(t, ok)
	require.Equal(t, types.RejectNone, reason)

	msg, popped := coord.rings[1].TryPop()
	require.True(t, popped)
	require.Equal(t, uint64(1), msg.OrderID)
	require.Equal(t, uint64(0), msg.EnqSeq)
}

func TestRouteBuffersWhileActivatingThenDrains(t *testing.T) {
	coord := newFakeCoordinator(true)
	r := New(baseConfig(), coord)

	ok, reason := r.Route(context.Background(), 1, 7, types.InboundMessage{Kind: types.MsgSubmit, OrderID: 1})
	require.True(t, ok)
	require.Equal(t, types.RejectNone, reason)
	require.True(t, coord.activated[7], "router must trigger activation for an unknown symbol")

	// The ring now exists (fakeCoordinator creates it synchronously), but the
	// router only learns that at the next Route/DrainMicroBuffer call.
	r.DrainMicroBuffer(7)
	msg, popped := coord.rings[7].TryPop()
	require.True(t, popped)
	require.Equal(t, uint64(1), msg.OrderID)
}

func TestRouteRejectsInactiveSymbolWhenActivationDisallowed(t *testing.T) {
	cfg := baseConfig()
	cfg.AllowActivation = false
	coord := newFakeCoordinator(false)
	r := New(cfg, coord)

	ok, reason := r.Route(context.Background(), 1, 3, types.InboundMessage{Kind: types.MsgSubmit, OrderID: 1})
	require.False(t, ok)
	require.Equal(t, types.RejectSymbolInactive, reason)
}

func TestRouteRejectsWhenRingFull(t *testing.T) {
	coord := newFakeCoordinator(true)
	coord.rings[1] = ingress.New(1)
	r := New(baseConfig(), coord)

	ok, _ := r.Route(context.Background(), 1, 1, types.InboundMessage{Kind: types.MsgSubmit, OrderID: 1})
	require.True(t, ok)

	ok, reason := r.Route(context.Background(), 1, 1, types.InboundMessage{Kind: types.MsgSubmit, OrderID: 2})
	require.False(t, ok)
	require.Equal(t, types.RejectBackpressure, reason)
}

func TestOnTickBoundaryResetsEnqSeq(t *testing.T) {
	coord := newFakeCoordinator(true)
	coord.rings[1] = ingress.New(16)
	r := New(baseConfig(), coord)

	r.Route(context.Background(), 1, 1, types.InboundMessage{Kind: types.MsgSubmit, OrderID: 1})
	r.Route(context.Background(), 1, 1, types.InboundMessage{Kind: types.MsgSubmit, OrderID: 2})
	r.OnTickBoundary()

	ok, _ := r.Route(context.Background(), 2, 1, types.InboundMessage{Kind: types.MsgSubmit, OrderID: 3})
	require.True(t, ok)

	// Drain the two messages already queued before the boundary reset.
	coord.rings[1].TryPop()
	coord.rings[1].TryPop()
	msg, _ := coord.rings[1].TryPop()
	require.Equal(t, uint64(0), msg.EnqSeq, "enq_seq restarts at 0 after a tick boundary")
}

// slowCoordinator accepts activation requests but never reports the symbol
// as active, modeling a still-booting engine (spec §4.4 micro-buffer window).
type slowCoordinator struct {
	activated map[uint32]bool
}

func (s *slowCoordinator) Ring(uint32) (*ingress.Ring, bool) { return nil, false }
func (s *slowCoordinator) EnsureActive(symbol uint32) bool {
	if s.activated == nil {
		s.activated = make(map[uint32]bool)
	}
	s.activated[symbol] = true
	return true
}

func TestMicroBufferCapRejectsBeyondBound(t *testing.T) {
	cfg := baseConfig()
	cfg.MicroBufferCap = 1
	r := New(cfg, &slowCoordinator{})

	ok1, reason1 := r.Route(context.Background(), 1, 9, types.InboundMessage{Kind: types.MsgSubmit, OrderID: 1})
	require.True(t, ok1)
	require.Equal(t, types.RejectNone, reason1)

	ok2, reason2 := r.Route(context.Background(), 1, 9, types.InboundMessage{Kind: types.MsgSubmit, OrderID: 2})
	require.False(t, ok2, "the micro-buffer is already at its configured cap")
	require.Equal(t, types.RejectBackpressure, reason2)
}
