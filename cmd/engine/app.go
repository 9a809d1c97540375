// Command engine is the composition root (spec §2 "Component map"): it wires
// configuration, risk view, diagnostics, coordinator, router, scheduler,
// dispatcher, persistence and fan-out sinks, and metrics into one running
// process, in the teacher's fx style (cmd/marketdata/main.go,
// cmd/ws/main.go) rather than a hand-rolled init sequence.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/fplx/matchcore/internal/config"
	"github.com/fplx/matchcore/internal/coordinator"
	"github.com/fplx/matchcore/internal/diagnostics"
	"github.com/fplx/matchcore/internal/dispatcher"
	"github.com/fplx/matchcore/internal/events"
	"github.com/fplx/matchcore/internal/fanout"
	"github.com/fplx/matchcore/internal/metrics"
	"github.com/fplx/matchcore/internal/persistence"
	"github.com/fplx/matchcore/internal/riskclient"
	"github.com/fplx/matchcore/internal/router"
	"github.com/fplx/matchcore/internal/scheduler"
)

// DBConfig mirrors the teacher's internal/db.DBConfig shape, trimmed to the
// fields this module actually needs to open a connection.
type DBConfig struct {
	Host, Username, Password, Database, SSLMode string
	Port                                        int
}

func (c DBConfig) dsn() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

// ProcessConfig bundles the process-level settings that are not per-symbol
// (spec §6 distinguishes per-symbol SymbolConfig from process-wide knobs
// like NATS URL, DB DSN, scheduler cadence).
type ProcessConfig struct {
	DB              DBConfig
	NATSURL         string
	TickPeriod      time.Duration
	WorkerPoolSize  int
	MaxActiveSymbols int
	DiagRingCap     int
	RouterShaping   router.Config
	DispatcherCfg   dispatcher.Config
	FanoutSubject   string
	Symbols         []config.SymbolConfig
}

func provideLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}

func provideRegistry(pc ProcessConfig) (*config.Registry, error) {
	loaded := make([]config.SymbolConfig, 0, len(pc.Symbols))
	for _, sc := range pc.Symbols {
		l, err := config.Load(sc)
		if err != nil {
			return nil, fmt.Errorf("cmd/engine: load symbol %d config: %w", sc.SymbolID, err)
		}
		loaded = append(loaded, l)
	}
	return config.NewRegistry(loaded), nil
}

func provideDiagnostics(lc fx.Lifecycle, logger *zap.Logger, pc ProcessConfig) *diagnostics.Ring {
	ctx, cancel := context.WithCancel(context.Background())
	ring := diagnostics.New(ctx, pc.DiagRingCap, logger)
	lc.Append(fx.Hook{OnStop: func(context.Context) error { cancel(); return nil }})
	return ring
}

func provideRiskView() *riskclient.View {
	return riskclient.NewView()
}

func provideDB(lc fx.Lifecycle, pc ProcessConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(pc.DB.dsn()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("cmd/engine: open postgres: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}})
	return db, nil
}

func provideStore(lc fx.Lifecycle, db *gorm.DB) (*persistence.Store, error) {
	store := persistence.Open(db)
	lc.Append(fx.Hook{OnStart: func(ctx context.Context) error {
		return store.Migrate(ctx)
	}})
	return store, nil
}

func provideFanout(lc fx.Lifecycle, logger *zap.Logger, pc ProcessConfig) (*fanout.Publisher, error) {
	pub, err := fanout.New(fanout.Config{URL: pc.NATSURL, SubjectPrefix: pc.FanoutSubject}, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return pub.Close() }})
	return pub, nil
}

func provideMetrics() *metrics.Engine {
	return metrics.NewEngine(prometheus.DefaultRegisterer)
}

func provideCoordinator(logger *zap.Logger, diag *diagnostics.Ring, risk *riskclient.View, reg *config.Registry, pc ProcessConfig) *coordinator.Coordinator {
	c := coordinator.New(logger, diag, risk, reg.Lookup, pc.MaxActiveSymbols)
	c.Prewarm(reg.Symbols())
	return c
}

func provideRouter(coord *coordinator.Coordinator, pc ProcessConfig) *router.Router {
	return router.New(pc.RouterShaping, coord)
}

// settle is the settlement callback invoked by the dispatcher per trade
// (spec §4.6): in this composition it only logs, since posting balance
// updates to the external account service is out of scope (§1).
func settle(logger *zap.Logger) dispatcher.SettlementCallback {
	return func(ctx context.Context, trade events.Trade) {
		logger.Debug("trade settled",
			zap.Uint32("symbol", trade.Symbol),
			zap.Uint64("tick", trade.Tick),
			zap.Uint64("price", trade.Price),
			zap.Uint64("qty", trade.Qty),
		)
	}
}

func provideDispatcher(logger *zap.Logger, m *metrics.Engine, store *persistence.Store, pub *fanout.Publisher, pc ProcessConfig) *dispatcher.Dispatcher {
	return dispatcher.New(pc.DispatcherCfg, logger, m, store, []dispatcher.LossySink{pub}, settle(logger))
}

func provideScheduler(logger *zap.Logger, m *metrics.Engine, coord *coordinator.Coordinator, r *router.Router, disp *dispatcher.Dispatcher, pc ProcessConfig) (*scheduler.Scheduler, error) {
	return scheduler.New(scheduler.Config{WorkerPoolSize: pc.WorkerPoolSize}, logger, m, coord, r, disp)
}

func runScheduler(lc fx.Lifecycle, logger *zap.Logger, s *scheduler.Scheduler, pc ProcessConfig) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.Run(ctx, pc.TickPeriod)
			logger.Info("matching core started", zap.Duration("tick_period", pc.TickPeriod))
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			s.Close()
			return nil
		},
	})
}

// Module composes every provider; main supplies the process-level
// configuration and runs the fx app.
var Module = fx.Options(
	fx.Provide(provideLogger),
	fx.Provide(provideRegistry),
	fx.Provide(provideDiagnostics),
	fx.Provide(provideRiskView),
	fx.Provide(provideDB),
	fx.Provide(provideStore),
	fx.Provide(provideFanout),
	fx.Provide(provideMetrics),
	fx.Provide(provideCoordinator),
	fx.Provide(provideRouter),
	fx.Provide(provideDispatcher),
	fx.Provide(provideScheduler),
	fx.Invoke(runScheduler),
)
