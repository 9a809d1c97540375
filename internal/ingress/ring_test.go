package ingress

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fplx/matchcore/internal/types"
)

func TestNewPanicsOnNonPowerOfTwoCapacity(t *testing.T) {
	require.Panics(t, func() { New(3) })
	require.Panics(t, func() { New(0) })
	require.NotPanics(t, func() { New(4) })
}

func TestTryPushTryPopFIFOOrder(t *testing.T) {
	r := New(4)
	require.Equal(t, 4, r.Cap())
	require.Equal(t, 0, r.Len())

	for i := uint64(1); i <= 3; i++ {
		ok := r.TryPush(types.InboundMessage{OrderID: i})
		require.True(t, ok)
	}
	require.Equal(t, 3, r.Len())

	for i := uint64(1); i <= 3; i++ {
		msg, ok := r.TryPop()
		require.True(t, ok)
		require.Equal(t, i, msg.OrderID)
	}
	require.Equal(t, 0, r.Len())
}

func TestTryPopOnEmptyReturnsFalse(t *testing.T) {
	r := New(2)
	_, ok := r.TryPop()
	require.False(t, ok)
}

func TestTryPushOnFullReturnsFalseWithoutBlocking(t *testing.T) {
	r := New(2)
	require.True(t, r.TryPush(types.InboundMessage{OrderID: 1}))
	require.True(t, r.TryPush(types.InboundMessage{OrderID: 2}))
	require.False(t, r.TryPush(types.InboundMessage{OrderID: 3}), "ring full: must reject, never block")
	require.Equal(t, 2, r.Len())
}

func TestRingReusesSlotsAfterWraparound(t *testing.T) {
	r := New(2)
	require.True(t, r.TryPush(types.InboundMessage{OrderID: 1}))
	require.True(t, r.TryPush(types.InboundMessage{OrderID: 2}))

	msg, ok := r.TryPop()
	require.True(t, ok)
	require.Equal(t, uint64(1), msg.OrderID)

	require.True(t, r.TryPush(types.InboundMessage{OrderID: 3}))

	msg, ok = r.TryPop()
	require.True(t, ok)
	require.Equal(t, uint64(2), msg.OrderID)

	msg, ok = r.TryPop()
	require.True(t, ok)
	require.Equal(t, uint64(3), msg.OrderID)

	_, ok = r.TryPop()
	require.False(t, ok)
}
