package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"tidebridge/internal/escrow"
	"tidebridge/internal/event"
	"tidebridge/internal/ledger"
)

// Record is one ledger output prepared for storage: the event with its
// pre-rendered JSON payload plus the journal entries that moved funds.
type Record struct {
	Event    *event.RequestEvent
	Payload  []byte
	Journals []ledger.Journal
}

// NewRecord converts a ledger output into its storable form.
func NewRecord(out escrow.Output) Record {
	rec := Record{Event: out.Event, Payload: marshalPayload(out.Event)}
	if out.Batch != nil {
		rec.Journals = out.Batch.Journals
	}
	return rec
}

// marshalPayload JSON-encodes an event for the payload column. Encoding a
// RequestEvent cannot realistically fail; if it ever does, an empty object
// keeps the log row intact.
func marshalPayload(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("WARN: failed to marshal event payload: %v", err)
		return []byte("{}")
	}
	return data
}

// LogWriter issues the SQL for one flush transaction: append-only inserts
// into bridge_log plus idempotent upserts into bridge_state.
type LogWriter struct {
	db *sql.DB
}

func NewLogWriter(db *sql.DB) *LogWriter {
	return &LogWriter{db: db}
}

// insertEvents appends records to bridge_log.request_events using a
// multi-row INSERT. Conflicts on seq are skipped so retried flushes stay
// idempotent.
func (w *LogWriter) insertEvents(ctx context.Context, tx *sql.Tx, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	query := `INSERT INTO bridge_log.request_events
		(seq, event_type, request_id, kind, requester, payload, created_at)
		VALUES `

	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*7)

	for i, rec := range records {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))

		var requestID interface{}
		var kind, requester interface{}
		if snap := rec.Event.Request; snap != nil {
			requestID = int64(snap.ID)
			kind = snap.Kind
			requester = snap.Requester
		}
		args = append(args,
			rec.Event.Seq, rec.Event.TypeName, requestID, kind, requester,
			rec.Payload, rec.Event.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (seq) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// insertJournals appends journal entries to bridge_log.journal and reports
// which ids were actually inserted. Entries already present from an earlier
// attempt are skipped, and the caller must not re-apply their balance
// deltas.
func (w *LogWriter) insertJournals(ctx context.Context, tx *sql.Tx, journals []ledger.Journal) (map[uuid.UUID]bool, error) {
	inserted := make(map[uuid.UUID]bool, len(journals))
	if len(journals) == 0 {
		return inserted, nil
	}

	query := `INSERT INTO bridge_log.journal
		(journal_id, batch_id, event_ref, seq, debit_account, credit_account, asset_id, amount, journal_type, ts)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*10)

	for i, j := range journals {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount.AccountPath(), j.CreditAccount.AccountPath(),
			int32(j.AssetID), j.Amount, int32(j.JournalType), j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING RETURNING journal_id"

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		inserted[id] = true
	}
	return inserted, rows.Err()
}

// applyBalanceDeltas folds per-account balance changes into
// bridge_state.escrow_balances. Deltas must come only from journals the
// current transaction actually inserted.
func (w *LogWriter) applyBalanceDeltas(ctx context.Context, tx *sql.Tx, deltas map[ledger.AccountKey]int64) error {
	if len(deltas) == 0 {
		return nil
	}

	query := `INSERT INTO bridge_state.escrow_balances
		(scope, entity, sub_type, asset_id, balance)
		VALUES `

	values := make([]string, 0, len(deltas))
	args := make([]interface{}, 0, len(deltas)*5)

	i := 0
	for key, delta := range deltas {
		if delta == 0 {
			continue
		}
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args,
			int16(key.Scope), key.EntityID[:], int16(key.SubType), int32(key.AssetID), delta,
		)
		i++
	}
	if len(values) == 0 {
		return nil
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (scope, entity, sub_type, asset_id)
		DO UPDATE SET balance = bridge_state.escrow_balances.balance + EXCLUDED.balance`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// upsertRequests writes the latest snapshot of each request to
// bridge_state.requests. Snapshots must be unique per id; the caller keeps
// only the last transition per request within a flush.
func (w *LogWriter) upsertRequests(ctx context.Context, tx *sql.Tx, snaps []*event.RequestSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	query := `INSERT INTO bridge_state.requests
		(id, requester, kind, asset, amount, position_id, position_type, strategy, status, result_message, created_at, updated_at)
		VALUES `

	values := make([]string, 0, len(snaps))
	args := make([]interface{}, 0, len(snaps)*11)

	for i, s := range snaps {
		base := i * 11
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, NOW())",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11,
		))

		var positionID interface{}
		if s.PositionID != "" {
			positionID = s.PositionID
		}
		args = append(args,
			int64(s.ID), s.Requester, s.Kind, s.Asset, s.Amount,
			positionID, s.PositionType, s.Strategy, s.Status, s.ResultMessage, s.CreatedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		result_message = EXCLUDED.result_message,
		position_id = EXCLUDED.position_id,
		updated_at = NOW()`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// applyOwnership reconciles bridge_state.positions with the completions in
// this flush: opened positions gain an owner row, closed positions lose
// theirs.
func (w *LogWriter) applyOwnership(ctx context.Context, tx *sql.Tx, owners map[uuid.UUID]string, closed map[uuid.UUID]struct{}) error {
	for id, owner := range owners {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bridge_state.positions (position_id, owner)
			VALUES ($1, $2)
			ON CONFLICT (position_id) DO UPDATE SET owner = EXCLUDED.owner
		`, id, owner)
		if err != nil {
			return fmt.Errorf("set owner of position %s: %w", id, err)
		}
	}
	for id := range closed {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM bridge_state.positions WHERE position_id = $1
		`, id); err != nil {
			return fmt.Errorf("remove closed position %s: %w", id, err)
		}
	}
	return nil
}

// Meta keys tracked in bridge_state.meta. Counters only ever move forward,
// so they survive archival pruning of old log rows. event_seq holds the last
// event written; next_request_id and journal_seq hold the next value to
// assign.
const (
	metaNextRequestID = "next_request_id"
	metaEventSeq      = "event_seq"
	metaJournalSeq    = "journal_seq"
)

// bumpMeta raises the named counters, never lowering them.
func (w *LogWriter) bumpMeta(ctx context.Context, tx *sql.Tx, counters map[string]int64) error {
	for key, value := range counters {
		if value <= 0 {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bridge_state.meta (key, value)
			VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = GREATEST(bridge_state.meta.value, EXCLUDED.value)
		`, key, value)
		if err != nil {
			return fmt.Errorf("bump meta %s: %w", key, err)
		}
	}
	return nil
}
