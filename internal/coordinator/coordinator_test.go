package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fplx/matchcore/internal/config"
	"github.com/fplx/matchcore/internal/riskclient"
	"github.com/fplx/matchcore/internal/types"
)

func testSymbolConfig(symbol uint32) config.SymbolConfig {
	cfg := config.SymbolConfig{
		SymbolID:       symbol,
		SymbolName:     "TEST",
		PriceDomain:    config.PriceDomain{Floor: 100, Ceil: 200, Tick: 1},
		Band:           config.Band{Kind: config.BandAbsolute, Value: 1000},
		BatchMax:       64,
		ArenaCapacity:  32,
		IndexCapacity:  32,
		IngressRingCap: 16,
		AllowMarketColdStart: true,
	}
	loaded, err := config.Load(cfg)
	if err != nil {
		panic(err)
	}
	return loaded
}

func knownSymbols(symbols ...uint32) func(uint32) (config.SymbolConfig, bool) {
	set := make(map[uint32]bool, len(symbols))
	for _, s := range symbols {
		set[s] = true
	}
	return func(symbol uint32) (config.SymbolConfig, bool) {
		if !set[symbol] {
			return config.SymbolConfig{}, false
		}
		return testSymbolConfig(symbol), true
	}
}

func TestEnsureActiveThenApplyBoundaryBootsEngine(t *testing.T) {
	c := New(zap.NewNop(), nil, riskclient.NewView(), knownSymbols(1), 4)

	require.True(t, c.EnsureActive(1))
	_, active := c.Ring(1)
	require.False(t, active, "engine must not be active before a boundary is applied")

	changed := c.ApplyBoundary()
	require.Equal(t, []uint32{1}, changed)

	ring, active := c.Ring(1)
	require.True(t, active)
	require.NotNil(t, ring)
	require.Len(t, c.Audit, 1)
	require.Equal(t, types.StateRunning, c.Audit[0].To)
}

func TestEnsureActiveUnknownSymbolFails(t *testing.T) {
	c := New(zap.NewNop(), nil, riskclient.NewView(), knownSymbols(1), 4)
	require.False(t, c.EnsureActive(99))
}

func TestEnsureActiveRespectsCapacity(t *testing.T) {
	c := New(zap.NewNop(), nil, riskclient.NewView(), knownSymbols(1, 2), 1)
	require.True(t, c.EnsureActive(1))
	c.ApplyBoundary()

	require.False(t, c.EnsureActive(2), "capacity is already exhausted by symbol 1")
}

func TestActiveReturnsHandlesInSymbolOrder(t *testing.T) {
	c := New(zap.NewNop(), nil, riskclient.NewView(), knownSymbols(5, 1, 3), 8)
	c.EnsureActive(5)
	c.EnsureActive(1)
	c.EnsureActive(3)
	c.ApplyBoundary()

	handles := c.Active()
	require.Len(t, handles, 3)
	require.Equal(t, []uint32{1, 3, 5}, []uint32{handles[0].Symbol, handles[1].Symbol, handles[2].Symbol})
}

func TestApplyBoundaryEvictsStoppedEngine(t *testing.T) {
	c := New(zap.NewNop(), nil, riskclient.NewView(), knownSymbols(1), 4)
	require.True(t, c.EnsureActive(1))
	c.ApplyBoundary()

	require.NoError(t, c.RequestStop(1))
	e := c.entries[1].engine
	e.Tick(1, c.entries[1].ring) // drains to StateStopped since the order index is empty

	changed := c.ApplyBoundary()
	require.Equal(t, []uint32{1}, changed)
	_, active := c.Ring(1)
	require.False(t, active)
}

func TestRequestStopUnknownSymbolErrors(t *testing.T) {
	c := New(zap.NewNop(), nil, riskclient.NewView(), knownSymbols(1), 4)
	require.Error(t, c.RequestStop(42))
}
