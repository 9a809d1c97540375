package persistence

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fplx/matchcore/internal/events"
	"github.com/fplx/matchcore/internal/types"
)

func TestEncodeTradeRoundTripsThroughJSON(t *testing.T) {
	trade := events.Trade{
		Symbol: 1, Tick: 7, Price: 150, Qty: 4,
		TakerSide: types.SideBid, MakerOrder: 1, TakerOrder: 2,
		MakerAcct: 10, TakerAcct: 20, ExecID: 99, HasExecID: true,
	}
	payload := encodeTrade(trade)

	var decoded events.Trade
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, trade, decoded)
}

func TestEncodeDeltaRoundTripsThroughJSON(t *testing.T) {
	delta := events.BookDelta{Symbol: 1, Tick: 7, Side: types.SideAsk, Index: 42, Total: 1000}
	payload := encodeDelta(delta)

	var decoded events.BookDelta
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, delta, decoded)
}

func TestEncodeLifecycleRoundTripsThroughJSON(t *testing.T) {
	lifecycle := events.Lifecycle{
		Symbol: 1, Tick: 7, OrderID: 55, AccountID: 10,
		Kind: types.LifecyclePartiallyFilled, HasLastFill: true,
		LastFillPrice: 150, LastFillQty: 3, Remaining: 2,
	}
	payload := encodeLifecycle(lifecycle)

	var decoded events.Lifecycle
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, lifecycle, decoded)
}
