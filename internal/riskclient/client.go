package riskclient

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// fetchMethod is the fully-qualified RPC method the external risk/account
// service exposes for a read-only reservation snapshot. The .proto for that
// service is owned by the risk team (out of scope, §1); we call it through
// grpc's generic Invoke with a structpb.Struct payload rather than
// generated stubs, since the only contract this module owns is "ask for a
// snapshot, get cash/inventory maps back".
const fetchMethod = "/risk.v1.SnapshotService/FetchSnapshot"

// Refresher periodically pulls a Snapshot from the external risk service
// and installs it into a View between ticks. It never runs on the hot path.
type Refresher struct {
	conn   *grpc.ClientConn
	view   *View
	local  *gocache.Cache // short-TTL mirror for operator/debug introspection
	logger *zap.Logger
}

// NewRefresher wires a Refresher against an established connection to the
// external risk service and the View engines read from.
func NewRefresher(conn *grpc.ClientConn, view *View, logger *zap.Logger) *Refresher {
	return &Refresher{
		conn:   conn,
		view:   view,
		local:  gocache.New(2*time.Second, 10*time.Second),
		logger: logger,
	}
}

// Refresh fetches one snapshot and installs it. Intended to be called by
// the coordinator's between-boundary maintenance step (spec §4.7, §9).
func (r *Refresher) Refresh(ctx context.Context, accountIDs []uint64, symbolIDs []uint32) error {
	reqStruct, err := structpb.NewStruct(map[string]any{
		"account_ids": toAnySlice(accountIDs),
		"symbol_ids":  toAnySlice(symbolIDs),
	})
	if err != nil {
		return fmt.Errorf("riskclient: build request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := r.conn.Invoke(ctx, fetchMethod, reqStruct, resp); err != nil {
		return fmt.Errorf("riskclient: fetch snapshot: %w", err)
	}

	snap, err := decodeSnapshot(resp)
	if err != nil {
		return fmt.Errorf("riskclient: decode snapshot: %w", err)
	}
	r.view.Swap(snap)
	r.local.Set("last_epoch", snap.Epoch, gocache.DefaultExpiration)
	r.logger.Debug("risk snapshot refreshed", zap.Uint64("epoch", snap.Epoch))
	return nil
}

func decodeSnapshot(s *structpb.Struct) (*Snapshot, error) {
	snap := emptySnapshot()
	fields := s.GetFields()
	if epoch, ok := fields["epoch"]; ok {
		snap.Epoch = uint64(epoch.GetNumberValue())
	}
	if cash, ok := fields["cash_available"]; ok {
		for k, v := range cash.GetStructValue().GetFields() {
			var acct uint64
			if _, err := fmt.Sscanf(k, "%d", &acct); err == nil {
				snap.CashAvailable[acct] = uint64(v.GetNumberValue())
			}
		}
	}
	if inv, ok := fields["inventory_available"]; ok {
		for k, v := range inv.GetStructValue().GetFields() {
			var acct uint64
			var symbol uint32
			if _, err := fmt.Sscanf(k, "%d:%d", &acct, &symbol); err == nil {
				snap.InventoryAvailable[InventoryKey{Account: acct, Symbol: symbol}] = uint64(v.GetNumberValue())
			}
		}
	}
	return snap, nil
}

func toAnySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
