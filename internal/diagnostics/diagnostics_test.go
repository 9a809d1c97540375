package diagnostics

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPushDeliversRecordToDrainLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx, 4, zaptest.NewLogger(t))
	r.Push(Record{Symbol: 1, Tick: 1, Level: SeverityInfo, Message: "booted"})

	require.Eventually(t, func() bool {
		return r.Dropped() == 0
	}, time.Second, time.Millisecond, "push should not count as a drop")
}

func TestPushAssignsIDWhenRecordHasNone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx, 4, zaptest.NewLogger(t))
	rec := Record{Symbol: 1, Tick: 1, Message: "no id supplied"}
	require.True(t, rec.ID.IsNil())

	r.Push(rec)
	time.Sleep(10 * time.Millisecond)
}

func TestPushPreservesCallerSuppliedID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx, 4, zaptest.NewLogger(t))
	id := ksuid.New()
	r.Push(Record{ID: id, Symbol: 1, Tick: 1, Message: "has id"})
	time.Sleep(10 * time.Millisecond)
}

func TestPushDropsAndCountsWhenRingIsFull(t *testing.T) {
	// Don't start the drain loop consuming: cancel the context immediately
	// so the background goroutine exits, then fill the channel directly to
	// deterministically force Push onto its default (drop) branch.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(ctx, 2, zaptest.NewLogger(t))
	time.Sleep(10 * time.Millisecond) // let drain() observe ctx.Done and exit

	r.Push(Record{Symbol: 1, Message: "a"})
	r.Push(Record{Symbol: 1, Message: "b"})
	r.Push(Record{Symbol: 1, Message: "c"}) // ring capacity 2, drain stopped: this drops

	require.Equal(t, uint64(1), r.Dropped())
}
