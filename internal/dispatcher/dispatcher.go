// Package dispatcher implements the single consumer of every engine's
// outbound batch (spec §4.6): it preserves each engine's canonical order,
// optionally merges across symbols with a global execution id, invokes the
// settlement callback on trades, and fans out to a lossless sink (never
// permitted to drop) and zero or more lossy sinks. The lossless sink write
// is wrapped in a circuit breaker (sony/gobreaker) so that sustained
// backpressure there trips the "fatal" policy of §4.6/§7 instead of the
// dispatcher blocking indefinitely — adapted from the teacher's use of
// circuit breakers to gate exchange-connector calls
// (internal/exchange/connectors), repurposed here for a storage sink.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fplx/matchcore/internal/events"
	"github.com/fplx/matchcore/internal/metrics"
)

// LosslessSink is the abstract persistence contract of spec §6 "Persistence
// hooks": an append-only event stream plus rotation/snapshot/replay
// support, implemented concretely by internal/persistence.
type LosslessSink interface {
	WriteBatch(ctx context.Context, batch events.Batch) error
}

// LossySink is a best-effort fan-out contract (analytics, live UI);
// failures are counted, never escalated (spec §4.6 "Failure").
type LossySink interface {
	Publish(ctx context.Context, batch events.Batch) error
}

// SettlementCallback is invoked once per trade, in emission order, so the
// risk/accounting layer can update balances and positions (spec §4.6).
type SettlementCallback func(ctx context.Context, trade events.Trade)

// FailurePolicy selects what happens when the lossless sink's circuit
// breaker is open (spec §4.6 "Failure"): fatal is the default.
type FailurePolicy int

const (
	FailurePolicyFatal FailurePolicy = iota
	FailurePolicyBlockDevOnly
)

// ErrShutdown is returned by Dispatch once the lossless sink has tripped
// under FailurePolicyFatal; the caller (scheduler/cmd) must stop at the
// next boundary.
var ErrShutdown = errors.New("dispatcher: lossless sink unavailable, shutting down at next boundary")

// ExecIDMode mirrors config.ExecIDMode without importing internal/config,
// keeping the dispatcher decoupled from per-symbol configuration shape.
type ExecIDMode int

const (
	ExecIDPerEngine ExecIDMode = iota
	ExecIDCentralized
)

// Dispatcher is the single consumer of all engines' outbound batches.
type Dispatcher struct {
	logger   *zap.Logger
	metrics  *metrics.Engine
	lossless LosslessSink
	lossy    []LossySink
	settle   SettlementCallback
	mode     ExecIDMode
	policy   FailurePolicy

	breaker *gobreaker.CircuitBreaker

	nextGlobalExecID uint64
	shutdown         bool
}

// Config configures circuit-breaking around the lossless sink.
type Config struct {
	Mode                ExecIDMode
	Policy              FailurePolicy
	BreakerFailureRatio float64
	BreakerMinRequests  uint32
	BreakerOpenTimeout   time.Duration
}

// New builds a dispatcher wired to one lossless sink, zero or more lossy
// sinks, and a settlement callback.
func New(cfg Config, logger *zap.Logger, m *metrics.Engine, lossless LosslessSink, lossy []LossySink, settle SettlementCallback) *Dispatcher {
	d := &Dispatcher{
		logger:   logger,
		metrics:  m,
		lossless: lossless,
		lossy:    lossy,
		settle:   settle,
		mode:     cfg.Mode,
		policy:   cfg.Policy,
	}
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "matchcore-lossless-sink",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.BreakerFailureRatio
		},
		Timeout: cfg.BreakerOpenTimeout,
	})
	return d
}

// Accept implements scheduler.Sink: it is the scheduler's hand-off point
// for one engine's completed tick batch.
func (d *Dispatcher) Accept(batch events.Batch) {
	ctx := context.Background()
	if err := d.Dispatch(ctx, batch); err != nil {
		d.logger.Error("dispatcher: fatal sink failure", zap.Error(err))
	}
}

// Dispatch processes one engine's already-canonically-ordered batch:
// assigns global execution ids in centralized mode, writes to the lossless
// sink, runs the settlement callback per trade, and fans out to lossy
// sinks. Returns ErrShutdown if the lossless sink's breaker is open under
// FailurePolicyFatal.
func (d *Dispatcher) Dispatch(ctx context.Context, batch events.Batch) error {
	if d.shutdown {
		return ErrShutdown
	}
	if d.mode == ExecIDCentralized {
		batch = d.assignGlobalExecIDs(batch)
	}

	if _, err := d.breaker.Execute(func() (any, error) {
		return nil, d.lossless.WriteBatch(ctx, batch)
	}); err != nil {
		if d.metrics != nil {
			d.metrics.ObserveSinkBackpressure("lossless", "reject")
		}
		if d.policy == FailurePolicyFatal && d.breaker.State() == gobreaker.StateOpen {
			d.shutdown = true
			return ErrShutdown
		}
		// Dev-only block policy: caller is expected to retry; we do not
		// spin here since the dispatcher itself must never block the
		// scheduler's barrier.
		return err
	}

	for _, t := range batch.Trades {
		d.settle(ctx, t)
	}

	for _, sink := range d.lossy {
		if err := sink.Publish(ctx, batch); err != nil {
			if d.metrics != nil {
				d.metrics.ObserveSinkBackpressure("lossy", "drop")
			}
			d.logger.Warn("dispatcher: lossy sink dropped batch", zap.Error(err))
		}
	}
	return nil
}

// assignGlobalExecIDs stamps every trade in batch with a monotonic global
// execution id, in the merge order of spec §4.6: (tick, symbol id, group
// order, seq_in_tick). Since batch already holds one symbol's canonically
// ordered trades, this reduces to a monotonic counter over trades in the
// order they already appear.
func (d *Dispatcher) assignGlobalExecIDs(batch events.Batch) events.Batch {
	for i := range batch.Trades {
		batch.Trades[i].ExecID = d.nextGlobalExecID
		batch.Trades[i].HasExecID = true
		d.nextGlobalExecID++
	}
	return batch
}
