package arena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArenaAllocFreeReuse(t *testing.T) {
	a := New(2)
	h1, err := a.Alloc(Order{ID: 1, OpenQty: 10})
	require.NoError(t, err)
	h2, err := a.Alloc(Order{ID: 2, OpenQty: 20})
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)

	_, err = a.Alloc(Order{ID: 3})
	require.ErrorIs(t, err, ErrFull)

	a.Free(h1)
	require.False(t, a.Live(h1))
	require.Equal(t, 1, a.FreeCount())

	h3, err := a.Alloc(Order{ID: 3, OpenQty: 5})
	require.NoError(t, err)
	require.Equal(t, h1, h3, "LIFO free list should reissue the most recently freed slot")
	require.True(t, a.Live(h3))
	require.Equal(t, uint64(5), a.Get(h3).OpenQty)
}

func TestArenaGrowBoundaryOnly(t *testing.T) {
	a := New(1)
	_, err := a.Alloc(Order{ID: 1})
	require.NoError(t, err)
	require.Equal(t, 0, a.FreeCount())

	a.Grow(2)
	require.Equal(t, 3, a.Cap())
	require.Equal(t, 2, a.FreeCount())

	h2, err := a.Alloc(Order{ID: 2})
	require.NoError(t, err)
	require.True(t, a.Live(h2))
}

func TestArenaRestoreRederivesLiveFlag(t *testing.T) {
	a := New(3)
	h1, _ := a.Alloc(Order{ID: 1})
	h2, _ := a.Alloc(Order{ID: 2})
	a.Free(h1)

	slots := a.ExportSlots()
	freeList := a.ExportFreeList()

	fresh := New(3)
	fresh.Restore(slots, freeList)
	require.False(t, fresh.Live(h1), "freed slot must come back not-live after restore")
	require.True(t, fresh.Live(h2), "still-allocated slot must come back live after restore")
}
