package orderindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fplx/matchcore/internal/types"
)

func TestInsertLookupDelete(t *testing.T) {
	idx := New(8)
	require.NoError(t, idx.Insert(42, types.OrderHandle(7)))

	h, ok := idx.Lookup(42)
	require.True(t, ok)
	require.Equal(t, types.OrderHandle(7), h)

	require.True(t, idx.Delete(42))
	_, ok = idx.Lookup(42)
	require.False(t, ok)

	require.False(t, idx.Delete(42), "deleting an absent key returns false")
}

func TestInsertOverwritesExistingKey(t *testing.T) {
	idx := New(8)
	require.NoError(t, idx.Insert(1, types.OrderHandle(1)))
	require.NoError(t, idx.Insert(1, types.OrderHandle(2)))
	h, ok := idx.Lookup(1)
	require.True(t, ok)
	require.Equal(t, types.OrderHandle(2), h)
	require.Equal(t, 1, idx.Count())
}

func TestRebuildCompactsTombstones(t *testing.T) {
	idx := New(8)
	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, idx.Insert(i, types.OrderHandle(i)))
	}
	require.True(t, idx.Delete(1))
	require.True(t, idx.Delete(2))
	require.Greater(t, idx.TombstoneRatio(), 0.0)

	idx.Rebuild()
	require.Equal(t, 0.0, idx.TombstoneRatio())
	require.Equal(t, 2, idx.Count())

	h, ok := idx.Lookup(3)
	require.True(t, ok)
	require.Equal(t, types.OrderHandle(3), h)
}

func TestEntriesRoundTripThroughRestore(t *testing.T) {
	idx := New(8)
	require.NoError(t, idx.Insert(10, types.OrderHandle(1)))
	require.NoError(t, idx.Insert(20, types.OrderHandle(2)))

	entries := idx.Entries()
	require.Len(t, entries, 2)

	fresh := New(8)
	require.NoError(t, fresh.Restore(entries))
	h, ok := fresh.Lookup(10)
	require.True(t, ok)
	require.Equal(t, types.OrderHandle(1), h)
}

func TestInsertFullReturnsErrFull(t *testing.T) {
	idx := New(4) // capacity 4, max load factor 0.75 -> 3 live entries allowed
	require.NoError(t, idx.Insert(1, 1))
	require.NoError(t, idx.Insert(2, 2))
	require.NoError(t, idx.Insert(3, 3))
	err := idx.Insert(4, 4)
	require.ErrorIs(t, err, ErrFull)
}
