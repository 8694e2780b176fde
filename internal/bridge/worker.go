// Package bridge drives finalization: it drains pending escrow requests,
// applies them to the position ledger, and reports outcomes back so the
// escrow ledger can settle funds. One worker instance is active at a time;
// the runner's lease enforces that across processes.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tidebridge/internal/escrow"
	"tidebridge/internal/event"
	"tidebridge/internal/observability"
	"tidebridge/internal/position"
	"tidebridge/internal/relay"
)

// DefaultBatchLimit bounds how many pending requests one batch may attempt.
const DefaultBatchLimit = 50

// WorkerConfig carries the open-hint validation sets. An empty set accepts
// any non-empty hint.
type WorkerConfig struct {
	PositionTypes []string
	Strategies    []string
}

// Worker is the bridge between the two ledgers. It is the only component
// holding the relay identity, which makes it the only caller the escrow
// ledger accepts for StartProcessing and CompleteProcessing. Every request
// a worker starts is finalized in the same call, whatever the position
// ledger does: errors and panics become failure completions.
type Worker struct {
	ledger    *escrow.Ledger
	positions position.Ledger
	identity  *relay.Identity
	index     *OwnerIndex

	knownTypes      map[string]struct{}
	knownStrategies map[string]struct{}

	publishChan chan<- escrow.Output
	metrics     *observability.Metrics

	runs int64 // Atomic batch counter
}

func NewWorker(
	led *escrow.Ledger,
	positions position.Ledger,
	identity *relay.Identity,
	cfg WorkerConfig,
	publishChan chan<- escrow.Output,
	metrics *observability.Metrics,
) *Worker {
	w := &Worker{
		ledger:          led,
		positions:       positions,
		identity:        identity,
		index:           NewOwnerIndex(),
		knownTypes:      make(map[string]struct{}, len(cfg.PositionTypes)),
		knownStrategies: make(map[string]struct{}, len(cfg.Strategies)),
		publishChan:     publishChan,
		metrics:         metrics,
	}
	for _, t := range cfg.PositionTypes {
		w.knownTypes[t] = struct{}{}
	}
	for _, s := range cfg.Strategies {
		w.knownStrategies[s] = struct{}{}
	}
	return w
}

// Backlog reports how many requests are waiting to be processed.
func (w *Worker) Backlog() int {
	return w.ledger.Backlog()
}

// Index exposes the requester-to-positions mirror for the query surface.
func (w *Worker) Index() *OwnerIndex {
	return w.index
}

// ProcessBatch drains up to limit pending requests in ascending id order.
// Each request is fully finalized before the next one starts, so a crash
// mid-batch strands at most one request in PROCESSING. The summary is
// published to the event stream whether or not anything was attempted.
//
// A non-nil error means the batch aborted early: the ledger refused to
// start a request for a reason that will not clear on its own, such as an
// escrow shortfall. Requests already finalized by this batch stay final.
func (w *Worker) ProcessBatch(ctx context.Context, limit int) (event.BatchSummary, error) {
	start := time.Now().UTC()
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	summary := event.BatchSummary{
		Run:           atomic.AddInt64(&w.runs, 1),
		BacklogBefore: w.ledger.Backlog(),
	}

	var abort error
	for _, id := range w.ledger.PendingIDs(limit) {
		req, err := w.ledger.StartProcessing(w.identity.Address(), id)
		if err != nil {
			if errors.Is(err, escrow.ErrNotFound) || errors.Is(err, escrow.ErrAlreadyFinalized) {
				// Cancelled or dropped between the poll and the claim.
				continue
			}
			abort = fmt.Errorf("start processing request %d: %w", id, err)
			break
		}

		summary.Attempted++
		if w.finalize(ctx, req) {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	summary.BacklogAfter = w.ledger.Backlog()
	summary.DurationMs = time.Since(start).Milliseconds()

	if w.metrics != nil {
		w.metrics.BatchesTotal.Inc()
		w.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	}
	if summary.Attempted > 0 || abort != nil {
		log.Printf("INFO: batch %d done (attempted=%d succeeded=%d failed=%d backlog %d->%d in %dms)",
			summary.Run, summary.Attempted, summary.Succeeded, summary.Failed,
			summary.BacklogBefore, summary.BacklogAfter, summary.DurationMs)
	}

	w.publish(&event.RequestEvent{
		Type:      event.EventTypeBatchProcessed,
		TypeName:  event.EventTypeBatchProcessed.String(),
		Timestamp: time.Now().UTC(),
		Summary:   &summary,
	})

	return summary, abort
}

// finalize dispatches one started request against the position ledger and
// reports the true outcome back to the escrow ledger. Returns whether the
// request completed successfully.
func (w *Worker) finalize(ctx context.Context, req escrow.Request) bool {
	posID, returned, dispatchErr := w.dispatch(ctx, req)

	success := dispatchErr == nil
	message := ""
	if dispatchErr != nil {
		message = dispatchErr.Error()
		log.Printf("WARN: request %d (%s) failed: %v", req.ID, req.Kind, dispatchErr)
	}

	err := w.ledger.CompleteProcessing(w.identity.Address(), req.ID, success, posID, returned, message)
	if err != nil && success {
		// The ledger rejected a success report, e.g. the reported position
		// id does not match the request's. Re-drive as a failure so the
		// request cannot stay stuck in PROCESSING.
		success = false
		message = err.Error()
		log.Printf("ERROR: success completion of request %d rejected: %v", req.ID, err)
		err = w.ledger.CompleteProcessing(w.identity.Address(), req.ID, false, uuid.Nil, 0, message)
	}
	if err != nil {
		log.Printf("ERROR: request %d could not be finalized: %v", req.ID, err)
		return false
	}

	if success {
		switch req.Kind {
		case escrow.KindOpenPosition:
			w.index.Append(req.Requester, posID)
		case escrow.KindClosePosition:
			w.index.Remove(req.Requester, req.PositionID)
		}
	}

	w.publishReceipt(req, success, posID, returned, message)
	return success
}

// dispatch performs the position-ledger side effect for one request. It
// returns the position the request acted on and the amount flowing back
// toward the requester (withdrawals and closes only). Panics from the
// position client surface as ordinary errors so the caller can finalize
// the request either way.
func (w *Worker) dispatch(ctx context.Context, req escrow.Request) (posID uuid.UUID, returned int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during dispatch: %v", r)
		}
	}()

	switch req.Kind {
	case escrow.KindOpenPosition:
		return w.openPosition(ctx, req)
	case escrow.KindAddFunds:
		return w.addFunds(ctx, req)
	case escrow.KindWithdrawFunds:
		return w.withdrawFunds(ctx, req)
	case escrow.KindClosePosition:
		return w.closePosition(ctx, req)
	default:
		return uuid.Nil, 0, fmt.Errorf("unhandled request kind %s", req.Kind)
	}
}

func (w *Worker) openPosition(ctx context.Context, req escrow.Request) (uuid.UUID, int64, error) {
	if err := w.validateHints(req.PositionType, req.Strategy); err != nil {
		return uuid.Nil, 0, err
	}
	funds, err := position.Mint(req.Asset, req.Amount)
	if err != nil {
		return uuid.Nil, 0, err
	}
	id, err := w.positions.OpenPosition(ctx, req.PositionType, req.Strategy, funds)
	if err != nil {
		return uuid.Nil, 0, err
	}
	return id, 0, nil
}

func (w *Worker) addFunds(ctx context.Context, req escrow.Request) (uuid.UUID, int64, error) {
	w.resyncIfStale(req)
	funds, err := position.Mint(req.Asset, req.Amount)
	if err != nil {
		return req.PositionID, 0, err
	}
	if err := w.positions.AddFunds(ctx, req.PositionID, funds); err != nil {
		return req.PositionID, 0, err
	}
	return req.PositionID, 0, nil
}

func (w *Worker) withdrawFunds(ctx context.Context, req escrow.Request) (uuid.UUID, int64, error) {
	w.resyncIfStale(req)
	funds, err := w.positions.Withdraw(ctx, req.PositionID, req.Amount)
	if err != nil {
		return req.PositionID, 0, err
	}
	amount, err := funds.Consume()
	if err != nil {
		return req.PositionID, 0, err
	}
	return req.PositionID, amount, nil
}

func (w *Worker) closePosition(ctx context.Context, req escrow.Request) (uuid.UUID, int64, error) {
	w.resyncIfStale(req)
	funds, err := w.positions.Close(ctx, req.PositionID)
	if err != nil {
		return req.PositionID, 0, err
	}
	if funds == nil {
		// Position closed with nothing left in it.
		return req.PositionID, 0, nil
	}
	amount, err := funds.Consume()
	if err != nil {
		return req.PositionID, 0, err
	}
	return req.PositionID, amount, nil
}

// resyncIfStale rebuilds the owner index from the ledger's ownership
// registry when the index has no record of the request's position. The
// registry is authoritative; the index only avoids snapshot calls on the
// hot path. Ownership itself was already checked at submission.
func (w *Worker) resyncIfStale(req escrow.Request) {
	if w.index.Contains(req.Requester, req.PositionID) {
		return
	}
	log.Printf("WARN: owner index stale for position %s, rebuilding from registry", req.PositionID)
	w.index.Rebuild(w.ledger.OwnershipSnapshot())
}

func (w *Worker) validateHints(positionType, strategy string) error {
	if positionType == "" {
		return errors.New("empty position type")
	}
	if strategy == "" {
		return errors.New("empty strategy")
	}
	if len(w.knownTypes) > 0 {
		if _, ok := w.knownTypes[positionType]; !ok {
			return fmt.Errorf("unknown position type %q", positionType)
		}
	}
	if len(w.knownStrategies) > 0 {
		if _, ok := w.knownStrategies[strategy]; !ok {
			return fmt.Errorf("unknown strategy %q", strategy)
		}
	}
	return nil
}

// publishReceipt signs and publishes the relay's attestation for one
// finalized request. Receipts ride the publish stream; they are not part
// of the ledger's own event log.
func (w *Worker) publishReceipt(req escrow.Request, success bool, posID uuid.UUID, returned int64, message string) {
	receipt := relay.Receipt{
		RequestID:      req.ID,
		Success:        success,
		PositionID:     posID,
		ReturnedAmount: uint64(returned),
		Message:        message,
	}
	sig, err := w.identity.SignReceipt(receipt)
	if err != nil {
		log.Printf("ERROR: sign receipt for request %d: %v", req.ID, err)
		return
	}

	wire := &event.SignedReceipt{
		RequestID:      req.ID,
		Success:        success,
		ReturnedAmount: uint64(returned),
		Message:        message,
		Signer:         w.identity.Address().Hex(),
		Signature:      sig,
	}
	if posID != uuid.Nil {
		wire.PositionID = posID.String()
	}

	w.publish(&event.RequestEvent{
		Type:      event.EventTypeReceiptIssued,
		TypeName:  event.EventTypeReceiptIssued.String(),
		Timestamp: time.Now().UTC(),
		Receipt:   wire,
	})
}

// publish hands a worker-originated event to the publisher without
// blocking. Worker events carry no journal batch and no sequence.
func (w *Worker) publish(evt *event.RequestEvent) {
	if w.publishChan == nil {
		return
	}
	select {
	case w.publishChan <- escrow.Output{Event: evt}:
	default:
		if w.metrics != nil {
			w.metrics.PublishDropped.Inc()
		}
	}
}
