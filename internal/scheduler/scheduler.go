// Package scheduler implements the tick driver of spec §4.5: a single
// logical clock that invokes tick(T) on every active engine in a stable
// deterministic order, waits for all of them to complete before advancing,
// and applies lifecycle changes only between ticks. Fixed-cadence or
// step-driven (test) operation are both supported. Grounded in the
// teacher's ants-backed worker-pool idiom (internal/architecture/fx/workerpool)
// generalized from a generic job queue to one that preserves per-symbol
// affinity while still bounding goroutine count.
package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/fplx/matchcore/internal/coordinator"
	"github.com/fplx/matchcore/internal/events"
	"github.com/fplx/matchcore/internal/metrics"
)

// TickBoundaryObserver is notified once per boundary, before the next
// tick's engines run, so the router can reset enq_seq and drain
// micro-buffers for newly active symbols (spec §4.4).
type TickBoundaryObserver interface {
	OnTickBoundary()
	DrainMicroBuffer(symbol uint32)
}

// Sink receives a completed engine's event batch (spec §2 "outbound queue
// -> Dispatcher"). The scheduler never interprets batch contents itself.
type Sink interface {
	Accept(batch events.Batch)
}

// Scheduler drives the logical clock described in spec §4.5.
type Scheduler struct {
	logger  *zap.Logger
	metrics *metrics.Engine
	coord   *coordinator.Coordinator
	router  TickBoundaryObserver
	sink    Sink
	pool    *ants.Pool

	tick uint64
}

// Config bounds the scheduler's worker pool (spec §5 "a small pool that
// preserves symbol affinity").
type Config struct {
	WorkerPoolSize int
}

// New builds a scheduler. WorkerPoolSize <= 1 runs engines sequentially in
// symbol-id order on the calling goroutine, matching spec §4.5's "either
// sequentially or by dispatching to a bounded worker pool".
func New(cfg Config, logger *zap.Logger, m *metrics.Engine, coord *coordinator.Coordinator, router TickBoundaryObserver, sink Sink) (*Scheduler, error) {
	s := &Scheduler{logger: logger, metrics: m, coord: coord, router: router, sink: sink}
	if cfg.WorkerPoolSize > 1 {
		pool, err := ants.NewPool(cfg.WorkerPoolSize, ants.WithNonblocking(false))
		if err != nil {
			return nil, err
		}
		s.pool = pool
	}
	return s, nil
}

// Close releases the worker pool, if one was created.
func (s *Scheduler) Close() {
	if s.pool != nil {
		s.pool.Release()
	}
}

// Step advances the logical clock by exactly one tick: applies the
// coordinator's pending lifecycle boundary, notifies the router, runs every
// active engine's tick(T) (symbol-id order, optionally pooled), barrier-
// waits for completion, and hands each resulting batch to the sink. Used
// directly by tests ("step-driven"); Run wraps it at a fixed cadence.
func (s *Scheduler) Step() {
	changed := s.coord.ApplyBoundary()
	s.router.OnTickBoundary()
	for _, symbol := range changed {
		s.router.DrainMicroBuffer(symbol)
	}

	handles := s.coord.Active()
	tickNum := s.tick
	s.tick++

	if s.pool == nil {
		for _, h := range handles {
			s.sink.Accept(s.runOne(tickNum, h))
		}
		return
	}

	// Engines run concurrently across the pool, but the sink is the single
	// consumer of spec §2/§4.6 and must see batches in a fixed, deterministic
	// order (tick, then symbol id) for the dispatcher's merge and global
	// exec-id assignment to be replay-stable. Each goroutine writes only to
	// its own slot, so no synchronization is needed on the slice itself;
	// Accept is then called sequentially, after the barrier, in the same
	// symbol-id order Active() returned.
	batches := make([]events.Batch, len(handles))
	var wg sync.WaitGroup
	wg.Add(len(handles))
	for i, h := range handles {
		i, h := i, h
		if err := s.pool.Submit(func() {
			defer wg.Done()
			batches[i] = s.runOne(tickNum, h)
		}); err != nil {
			s.logger.Error("scheduler: pool submit failed, running inline", zap.Error(err))
			batches[i] = s.runOne(tickNum, h)
			wg.Done()
		}
	}
	wg.Wait() // barrier: every engine's tick-complete before T+1

	for _, batch := range batches {
		s.sink.Accept(batch)
	}
}

func (s *Scheduler) runOne(tickNum uint64, h coordinator.Handle) events.Batch {
	start := time.Now()
	batch := h.Engine.Tick(tickNum, h.Ring)
	if s.metrics != nil {
		s.metrics.ObserveTick(symbolLabel(h.Symbol), time.Since(start).Seconds())
		s.metrics.ObserveTrades(symbolLabel(h.Symbol), len(batch.Trades))
	}
	return batch
}

// Run drives Step at a fixed cadence until ctx is cancelled (spec §4.5
// "Cadence. Fixed period... wall-clock is not observed during matching;
// only the logical tick number appears in events" — the ticker only paces
// invocation, it is never read by engine logic).
func (s *Scheduler) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Step()
		}
	}
}

func symbolLabel(symbol uint32) string {
	return strconv.FormatUint(uint64(symbol), 10)
}
