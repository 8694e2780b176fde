// Package persistence stores the bridge's event log and current state in
// Postgres. The log tables are append-only; the state tables are an
// always-current snapshot maintained in the same transaction, which is what
// the loader reads back at boot.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"tidebridge/internal/escrow"
	"tidebridge/internal/event"
	"tidebridge/internal/ledger"
	"tidebridge/internal/observability"
)

const (
	DefaultBatchSize    = 100
	DefaultFlushTimeout = 250 * time.Millisecond
)

// Worker drains the persist channel and batch-writes to Postgres. Sends
// from the escrow ledger block, so a slow worker stalls submissions rather
// than dropping history.
type Worker struct {
	writer       *LogWriter
	inputChan    <-chan escrow.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan escrow.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushTimeout <= 0 {
		flushTimeout = DefaultFlushTimeout
	}
	return &Worker{
		writer:       NewLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run accumulates outputs and flushes when the batch fills or the flush
// timer fires. Blocks until ctx is cancelled or the input channel closes;
// either way the remaining batch is flushed before returning.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]Record, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			batch = append(batch, NewRecord(out))

			if len(batch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					log.Printf("ERROR: batch flush failed after retries: %v", err)
				}
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					log.Printf("ERROR: timeout flush failed after retries: %v", err)
				}
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff, 100ms up to 30s, and
// never drops a batch: it keeps trying until the write succeeds or, on
// shutdown, makes one final attempt with a background context.
func (w *Worker) flushWithRetry(ctx context.Context, batch []Record) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, events=%d)",
				attempt, backoff, len(batch))
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

// flush writes one batch in a single transaction: log appends first, then
// the state upserts derived from the same records. Balance deltas are
// applied only for journal rows this transaction inserted, which keeps
// replays of a previously committed batch from double-counting.
func (w *Worker) flush(ctx context.Context, batch []Record) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		w.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := w.writer.insertEvents(ctx, tx, batch); err != nil {
		w.countError("write_events")
		return err
	}

	journals := make([]ledger.Journal, 0, len(batch)*2)
	for _, rec := range batch {
		journals = append(journals, rec.Journals...)
	}
	inserted, err := w.writer.insertJournals(ctx, tx, journals)
	if err != nil {
		w.countError("write_journals")
		return err
	}

	deltas := make(map[ledger.AccountKey]int64)
	for _, j := range journals {
		if !inserted[j.JournalID] {
			continue
		}
		deltas[j.DebitAccount] += j.Amount
		deltas[j.CreditAccount] -= j.Amount
	}

	snaps, owners, closed, counters := foldState(batch)

	if err := w.writer.applyBalanceDeltas(ctx, tx, deltas); err != nil {
		w.countError("apply_state")
		return err
	}
	if err := w.writer.upsertRequests(ctx, tx, snaps); err != nil {
		w.countError("apply_state")
		return err
	}
	if err := w.writer.applyOwnership(ctx, tx, owners, closed); err != nil {
		w.countError("apply_state")
		return err
	}
	if err := w.writer.bumpMeta(ctx, tx, counters); err != nil {
		w.countError("apply_state")
		return err
	}

	if err := tx.Commit(); err != nil {
		w.countError("tx_commit")
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(batch)))
		w.metrics.PersistEventsWritten.Add(float64(len(batch)))
		w.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		w.metrics.PersistLastSequence.Set(float64(batch[len(batch)-1].Event.Seq))
	}
	return nil
}

// foldState reduces a batch to its effect on the state tables: the last
// snapshot per request, ownership changes from completed opens and closes,
// and the high-water counters.
func foldState(batch []Record) (snaps []*event.RequestSnapshot, owners map[uuid.UUID]string, closed map[uuid.UUID]struct{}, counters map[string]int64) {
	latest := make(map[uint64]*event.RequestSnapshot)
	order := make([]uint64, 0, len(batch))
	owners = make(map[uuid.UUID]string)
	closed = make(map[uuid.UUID]struct{})
	counters = make(map[string]int64, 3)

	for _, rec := range batch {
		evt := rec.Event
		if evt.Seq > counters[metaEventSeq] {
			counters[metaEventSeq] = evt.Seq
		}
		for _, j := range rec.Journals {
			// The generator hands out sequences before advancing, so the
			// stored counter must point one past the last used value.
			if next := j.Sequence + 1; next > counters[metaJournalSeq] {
				counters[metaJournalSeq] = next
			}
		}

		snap := evt.Request
		if snap == nil {
			continue
		}
		if _, seen := latest[snap.ID]; !seen {
			order = append(order, snap.ID)
		}
		latest[snap.ID] = snap
		if next := int64(snap.ID) + 1; next > counters[metaNextRequestID] {
			counters[metaNextRequestID] = next
		}

		if evt.Type != event.EventTypeRequestCompleted || snap.PositionID == "" {
			continue
		}
		id, err := uuid.Parse(snap.PositionID)
		if err != nil {
			continue
		}
		switch snap.Kind {
		case escrow.KindOpenPosition.String():
			owners[id] = snap.Requester
			delete(closed, id)
		case escrow.KindClosePosition.String():
			delete(owners, id)
			closed[id] = struct{}{}
		}
	}

	snaps = make([]*event.RequestSnapshot, 0, len(latest))
	for _, id := range order {
		snaps = append(snaps, latest[id])
	}
	return snaps, owners, closed, counters
}

func (w *Worker) countError(errorType string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(errorType).Inc()
	}
}
