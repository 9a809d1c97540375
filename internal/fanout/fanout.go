// Package fanout implements the best-effort lossy sinks of spec §4.6 and §6
// ("lossy sinks... analytics/UI"): one watermill publisher backed by NATS
// that publishes each batch to a per-symbol subject and returns any publish
// error to the dispatcher, which counts it as a drop. Adapted from the teacher's WatermillEventBus
// (internal/architecture/cqrs/eventbus/watermill_adapter.go), generalized
// from its generic eventsourcing.Event envelope to the matching core's own
// trade/delta/lifecycle/tick-complete batch, and swapped from an in-process
// gochannel transport to the pack's NATS driver since this fan-out crosses
// process boundaries to downstream consumers.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	natswm "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fplx/matchcore/internal/events"
)

// Config points the publisher at a NATS cluster and names the subject
// prefix each symbol's batches are published under.
type Config struct {
	URL           string
	SubjectPrefix string // e.g. "matchcore.batches."
}

// Publisher implements dispatcher.LossySink: one best-effort publish per
// batch, to a per-symbol NATS subject.
type Publisher struct {
	pub    message.Publisher
	prefix string
	logger *zap.Logger
}

// New dials NATS and wraps it in a watermill publisher. The connection uses
// nats.go's default reconnect behavior; a connection that never comes up is
// the caller's problem to surface at boot, not fanout's to retry forever.
func New(cfg Config, logger *zap.Logger) (*Publisher, error) {
	wmLogger := watermill.NewStdLoggerWithOut(os.Stderr, false, false)
	pub, err := natswm.NewPublisher(
		natswm.PublisherConfig{
			URL:         cfg.URL,
			NatsOptions: []nats.Option{nats.Name("matchcore-fanout")},
			Marshaler:   natswm.GobMarshaler{},
		},
		wmLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("fanout: connect nats: %w", err)
	}
	return &Publisher{pub: pub, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

// Close releases the underlying NATS connection.
func (p *Publisher) Close() error { return p.pub.Close() }

// wireBatch is the over-the-wire shape for one published batch; it carries
// the same fields as events.Batch with explicit JSON tags on its top-level
// keys. The nested trade, delta, lifecycle and tick-complete values carry no
// JSON tags, so their keys are the Go struct field names.
type wireBatch struct {
	Symbol    uint32              `json:"symbol"`
	Tick      uint64              `json:"tick"`
	Trades    []events.Trade      `json:"trades"`
	Deltas    []events.BookDelta  `json:"deltas"`
	Lifecycle []events.Lifecycle  `json:"lifecycle"`
	Complete  events.TickComplete `json:"complete"`
}

// Publish implements dispatcher.LossySink.
func (p *Publisher) Publish(ctx context.Context, batch events.Batch) error {
	payload, err := json.Marshal(wireBatch{
		Symbol: batch.Symbol, Tick: batch.Tick,
		Trades: batch.Trades, Deltas: batch.Deltas,
		Lifecycle: batch.Lifecycle, Complete: batch.Complete,
	})
	if err != nil {
		return fmt.Errorf("fanout: marshal batch: %w", err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	return p.pub.Publish(subjectFor(p.prefix, batch.Symbol), msg)
}

// subjectFor names the per-symbol NATS subject a batch is published under.
func subjectFor(prefix string, symbol uint32) string {
	return fmt.Sprintf("%s%d", prefix, symbol)
}
