package main

import (
	"time"

	"go.uber.org/fx"

	"github.com/fplx/matchcore/internal/config"
	"github.com/fplx/matchcore/internal/dispatcher"
	"github.com/fplx/matchcore/internal/router"
)

// defaultProcessConfig is a minimal working configuration for local runs;
// a real deployment replaces this with values sourced from flags/env, which
// is out of scope for this module (spec §1 "operator API").
func defaultProcessConfig() ProcessConfig {
	return ProcessConfig{
		DB: DBConfig{
			Host: "localhost", Port: 5432,
			Username: "matchcore", Password: "matchcore",
			Database: "matchcore", SSLMode: "disable",
		},
		NATSURL:          "nats://127.0.0.1:4222",
		TickPeriod:       10 * time.Millisecond,
		WorkerPoolSize:   4,
		MaxActiveSymbols: 64,
		DiagRingCap:      4096,
		FanoutSubject:    "matchcore.batches.",
		RouterShaping: router.Config{
			NumShards:       4,
			MicroBufferCap:  256,
			ShapingRate:     50000,
			ShapingPeriod:   time.Second,
			AllowActivation: true,
		},
		DispatcherCfg: dispatcher.Config{
			Mode:                dispatcher.ExecIDCentralized,
			Policy:              dispatcher.FailurePolicyFatal,
			BreakerFailureRatio: 0.5,
			BreakerMinRequests:  10,
			BreakerOpenTimeout:  5 * time.Second,
		},
		Symbols: []config.SymbolConfig{
			{
				SymbolID:   1,
				SymbolName: "FPLX-DEMO",
				PriceDomain: config.PriceDomain{
					Floor: 0, Ceil: 100000, Tick: 1,
				},
				Band:                   config.Band{Kind: config.BandBasisPoints, Value: 500},
				BatchMax:               512,
				ArenaCapacity:          1 << 16,
				IndexCapacity:          1 << 17,
				IngressRingCap:         1 << 14,
				ExecIDMode:             config.ExecIDCentralized,
				SelfMatchPolicy:        int(0),
				AllowMarketColdStart:   true,
				TombstoneRebuildRatio:  0.3,
				MaintenanceBudgetTicks: 1,
				RiskMode:               config.RiskModeSnapshot,
			},
		},
	}
}

func main() {
	app := fx.New(
		fx.Supply(defaultProcessConfig()),
		Module,
	)
	app.Run()
}
