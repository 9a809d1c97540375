package config

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryLookupFindsKnownSymbol(t *testing.T) {
	r := NewRegistry([]SymbolConfig{validConfig()})

	cfg, ok := r.Lookup(1)
	require.True(t, ok)
	require.Equal(t, "AAPL-F", cfg.SymbolName)

	_, ok = r.Lookup(2)
	require.False(t, ok)
}

func TestRegistrySymbolsListsEveryLoadedSymbol(t *testing.T) {
	a := validConfig()
	b := validConfig()
	b.SymbolID = 2
	b.SymbolName = "TSLA-F"

	r := NewRegistry([]SymbolConfig{a, b})
	ids := r.Symbols()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	require.Equal(t, []uint32{1, 2}, ids)
}
