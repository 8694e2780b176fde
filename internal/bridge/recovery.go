package bridge

import (
	"log"

	"github.com/google/uuid"
)

const recoveredMessage = "recovered: incomplete"

// RecoverStuck fails every request stranded in PROCESSING by a previous
// worker run, refunding its escrow through the normal failure path. The
// position-ledger call may or may not have happened before the crash, so
// the request fails and the operator reconciles against receipts if the
// call did land. Runs at startup before the scheduler and behind the admin
// recover endpoint.
func (w *Worker) RecoverStuck() []uint64 {
	ids := w.ledger.ProcessingIDs()
	recovered := make([]uint64, 0, len(ids))
	for _, id := range ids {
		err := w.ledger.CompleteProcessing(w.identity.Address(), id, false, uuid.Nil, 0, recoveredMessage)
		if err != nil {
			log.Printf("ERROR: recover request %d: %v", id, err)
			continue
		}
		recovered = append(recovered, id)
	}
	if len(recovered) > 0 {
		log.Printf("INFO: recovered %d stuck request(s)", len(recovered))
		if w.metrics != nil {
			w.metrics.RequestsRecovered.Add(float64(len(recovered)))
		}
	}
	return recovered
}
