package escrow

import (
	"tidebridge/internal/event"
	"tidebridge/internal/ledger"
)

// Output is the unit emitted by the ledger after every state change: the
// event describing what happened plus the journal batch that moved funds,
// if any. The persistence worker consumes these in order; the publisher
// receives a best-effort copy.
type Output struct {
	Event *event.RequestEvent
	Batch *ledger.Batch
}
