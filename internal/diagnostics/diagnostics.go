// Package diagnostics is the off-hot-path, non-blocking diagnostic ring of
// spec §5 ("Diagnostics are enqueued to a non-blocking ring and drained
// off-path"). Grounded on the teacher's internal/hft/monitoring pattern of a
// background goroutine draining a buffered channel into zap, and on
// segmentio/ksuid (already wired elsewhere in this module) for a
// K-sortable correlation id per record.
package diagnostics

import (
	"context"
	"sync/atomic"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// Severity is the diagnostic record's log level, applied only at drain time.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

// Record is one diagnostic fact the engine wants surfaced, never computed
// or logged inline during tick(T).
type Record struct {
	ID      ksuid.KSUID
	Symbol  uint32
	Tick    uint64
	Level   Severity
	Message string
	Fields  []zap.Field
}

// Ring is a bounded, non-blocking, single-consumer diagnostic channel.
type Ring struct {
	ch      chan Record
	dropped uint64
	logger  *zap.Logger
}

// New creates a ring of the given capacity and starts its drain loop.
func New(ctx context.Context, capacity int, logger *zap.Logger) *Ring {
	r := &Ring{ch: make(chan Record, capacity), logger: logger}
	go r.drain(ctx)
	return r
}

// Push enqueues a record without blocking; if the ring is full the record
// is dropped and a counter incremented (never fatal, never stalls a tick).
func (r *Ring) Push(rec Record) {
	if rec.ID.IsNil() {
		rec.ID = ksuid.New()
	}
	select {
	case r.ch <- rec:
	default:
		atomic.AddUint64(&r.dropped, 1)
	}
}

// Dropped returns the number of records dropped for a full ring.
func (r *Ring) Dropped() uint64 { return atomic.LoadUint64(&r.dropped) }

func (r *Ring) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-r.ch:
			fields := append([]zap.Field{
				zap.String("diag_id", rec.ID.String()),
				zap.Uint32("symbol", rec.Symbol),
				zap.Uint64("tick", rec.Tick),
			}, rec.Fields...)
			switch rec.Level {
			case SeverityWarn:
				r.logger.Warn(rec.Message, fields...)
			case SeverityError:
				r.logger.Error(rec.Message, fields...)
			default:
				r.logger.Info(rec.Message, fields...)
			}
		}
	}
}
