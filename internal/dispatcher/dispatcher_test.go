package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fplx/matchcore/internal/events"
)

type fakeLossless struct {
	writes  []events.Batch
	failNext bool
	err      error
}

func (f *fakeLossless) WriteBatch(ctx context.Context, batch events.Batch) error {
	if f.failNext {
		if f.err == nil {
			f.err = errors.New("fakeLossless: forced failure")
		}
		return f.err
	}
	f.writes = append(f.writes, batch)
	return nil
}

type fakeLossy struct {
	published []events.Batch
	fail      bool
}

func (f *fakeLossy) Publish(ctx context.Context, batch events.Batch) error {
	if f.fail {
		return errors.New("fakeLossy: forced failure")
	}
	f.published = append(f.published, batch)
	return nil
}

func tradeBatch(symbol uint32, tick uint64) events.Batch {
	return events.Batch{
		Symbol: symbol,
		Tick:   tick,
		Trades: []events.Trade{{Symbol: symbol, Tick: tick, Price: 150, Qty: 1, MakerOrder: 1, TakerOrder: 2}},
	}
}

func TestDispatchWritesLosslessAndSettlesTrades(t *testing.T) {
	lossless := &fakeLossless{}
	var settled []events.Trade
	settle := func(ctx context.Context, trade events.Trade) { settled = append(settled, trade) }

	d := New(Config{BreakerMinRequests: 10, BreakerFailureRatio: 0.5}, zap.NewNop(), nil, lossless, nil, settle)
	require.NoError(t, d.Dispatch(context.Background(), tradeBatch(1, 0)))

	require.Len(t, lossless.writes, 1)
	require.Len(t, settled, 1)
}

func TestDispatchCentralizedModeAssignsMonotonicExecIDs(t *testing.T) {
	lossless := &fakeLossless{}
	d := New(Config{Mode: ExecIDCentralized, BreakerMinRequests: 10, BreakerFailureRatio: 0.5}, zap.NewNop(), nil, lossless, nil,
		func(context.Context, events.Trade) {})

	require.NoError(t, d.Dispatch(context.Background(), tradeBatch(1, 0)))
	require.NoError(t, d.Dispatch(context.Background(), tradeBatch(2, 0)))

	require.True(t, lossless.writes[0].Trades[0].HasExecID)
	require.Equal(t, uint64(0), lossless.writes[0].Trades[0].ExecID)
	require.Equal(t, uint64(1), lossless.writes[1].Trades[0].ExecID)
}

func TestDispatchLossySinkFailureIsNonFatal(t *testing.T) {
	lossless := &fakeLossless{}
	lossy := &fakeLossy{fail: true}
	d := New(Config{BreakerMinRequests: 10, BreakerFailureRatio: 0.5}, zap.NewNop(), nil, lossless, []LossySink{lossy},
		func(context.Context, events.Trade) {})

	err := d.Dispatch(context.Background(), tradeBatch(1, 0))
	require.NoError(t, err, "a lossy sink failure must never surface as a dispatcher error")
	require.Len(t, lossless.writes, 1)
}

func TestDispatchFatalPolicyShutsDownAfterBreakerTrips(t *testing.T) {
	lossless := &fakeLossless{failNext: true}
	d := New(Config{Policy: FailurePolicyFatal, BreakerMinRequests: 1, BreakerFailureRatio: 0.1}, zap.NewNop(), nil, lossless, nil,
		func(context.Context, events.Trade) {})

	err := d.Dispatch(context.Background(), tradeBatch(1, 0))
	require.ErrorIs(t, err, ErrShutdown)

	// Once shut down, every further call must fail fast without touching the sink again.
	err = d.Dispatch(context.Background(), tradeBatch(1, 1))
	require.ErrorIs(t, err, ErrShutdown)
}

func TestDispatchBlockDevOnlyPolicyReturnsErrorWithoutLatchingShutdown(t *testing.T) {
	lossless := &fakeLossless{failNext: true}
	// A high min-requests threshold keeps the breaker itself from tripping
	// open, isolating what this test cares about: the policy's own latch.
	d := New(Config{Policy: FailurePolicyBlockDevOnly, BreakerMinRequests: 1000, BreakerFailureRatio: 0.99}, zap.NewNop(), nil, lossless, nil,
		func(context.Context, events.Trade) {})

	err := d.Dispatch(context.Background(), tradeBatch(1, 0))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrShutdown, "dev-only policy surfaces the underlying error, not shutdown")
	require.False(t, d.shutdown, "dev-only policy must never latch the dispatcher's own shutdown flag")

	lossless.failNext = false
	require.NoError(t, d.Dispatch(context.Background(), tradeBatch(1, 1)), "once the sink recovers, dispatch succeeds again")
}
