package persistence

import (
	"encoding/json"

	"github.com/fplx/matchcore/internal/events"
)

// encodeTrade/encodeDelta/encodeLifecycle marshal one event's type-specific
// fields into EventRow.Payload. JSON keeps the row schema stable across
// three different shapes without a migration per event kind; the Kind
// column is what a reader actually switches on.
func encodeTrade(t events.Trade) []byte {
	b, _ := json.Marshal(t)
	return b
}

func encodeDelta(d events.BookDelta) []byte {
	b, _ := json.Marshal(d)
	return b
}

func encodeLifecycle(l events.Lifecycle) []byte {
	b, _ := json.Marshal(l)
	return b
}
