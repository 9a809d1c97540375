package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() SymbolConfig {
	return SymbolConfig{
		SymbolID:   1,
		SymbolName: "AAPL-F",
		PriceDomain: PriceDomain{
			Floor: 100, Ceil: 200, Tick: 1,
		},
		Band:                  Band{Kind: BandAbsolute, Value: 1000},
		BatchMax:              64,
		ArenaCapacity:         32,
		IndexCapacity:         32,
		IngressRingCap:        16,
		ExecIDMode:            ExecIDSharded,
		SelfMatchPolicy:       0,
		TombstoneRebuildRatio: 0.5,
	}
}

func TestLoadAcceptsValidConfigAndStampsSchemaVersion(t *testing.T) {
	cfg, err := Load(validConfig())
	require.NoError(t, err)
	require.Equal(t, SchemaVersion.String(), cfg.SchemaVersion)
}

func TestLoadRejectsZeroRequiredFields(t *testing.T) {
	cfg := validConfig()
	cfg.SymbolName = ""
	_, err := Load(cfg)
	require.Error(t, err)
}

func TestLoadRejectsBatchMaxNotPositive(t *testing.T) {
	cfg := validConfig()
	cfg.BatchMax = 0
	_, err := Load(cfg)
	require.Error(t, err)
}

func TestLoadRejectsCeilBelowFloor(t *testing.T) {
	cfg := validConfig()
	cfg.PriceDomain = PriceDomain{Floor: 200, Ceil: 100, Tick: 1}
	_, err := Load(cfg)
	require.Error(t, err)
}

func TestLoadRejectsTickNotDividingRange(t *testing.T) {
	cfg := validConfig()
	cfg.PriceDomain = PriceDomain{Floor: 100, Ceil: 204, Tick: 3}
	_, err := Load(cfg)
	require.Error(t, err)
}

func TestLoadRejectsIncompatibleSchemaMajorVersion(t *testing.T) {
	cfg := validConfig()
	cfg.SchemaVersion = "2.0.0"
	_, err := Load(cfg)
	require.Error(t, err)
}

func TestLoadAcceptsCompatibleMinorVersionBump(t *testing.T) {
	cfg := validConfig()
	cfg.SchemaVersion = "1.5.0"
	_, err := Load(cfg)
	require.NoError(t, err)
}

func TestPriceDomainLadderSizeAndIndex(t *testing.T) {
	d := PriceDomain{Floor: 100, Ceil: 110, Tick: 2}
	require.Equal(t, uint64(6), d.LadderSize())

	idx, ok := d.Index(104)
	require.True(t, ok)
	require.Equal(t, uint64(2), idx)

	_, ok = d.Index(105)
	require.False(t, ok, "price not aligned to tick")

	_, ok = d.Index(50)
	require.False(t, ok, "price outside floor/ceil")
}

func TestBandWithinAbsolute(t *testing.T) {
	b := Band{Kind: BandAbsolute, Value: 5}
	require.True(t, b.Within(104, 100))
	require.True(t, b.Within(96, 100))
	require.False(t, b.Within(106, 100))
}

func TestBandWithinBasisPoints(t *testing.T) {
	b := Band{Kind: BandBasisPoints, Value: 100} // 1%
	require.True(t, b.Within(101, 100))
	require.False(t, b.Within(102, 100))
}
