package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"tidebridge/internal/event"
	"tidebridge/internal/observability"
)

// BlobWriter is the slice of the object store the archiver needs.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports finalized request events older than the retention window
// to the object store as JSONL, one object per calendar month. Uploads
// overwrite the month's object, so reruns converge on the same content and
// nothing is deleted from Postgres here.
type Archiver struct {
	db        *sql.DB
	writer    BlobWriter
	retention time.Duration
	metrics   *observability.Metrics
}

func NewArchiver(db *sql.DB, writer BlobWriter, retention time.Duration, metrics *observability.Metrics) *Archiver {
	return &Archiver{
		db:        db,
		writer:    writer,
		retention: retention,
		metrics:   metrics,
	}
}

// Run performs one archive pass and returns the number of events exported.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-a.retention)

	months, total, err := a.collect(ctx, cutoff)
	if err != nil {
		a.countError()
		return 0, fmt.Errorf("collect finalized events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if total == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(months))
	for month := range months {
		keys = append(keys, month)
	}
	sort.Strings(keys)

	for _, month := range keys {
		path := fmt.Sprintf("archive/requests/%s.jsonl", month)
		if err := a.writer.Put(ctx, path, bytes.NewReader(months[month]), "application/x-ndjson"); err != nil {
			a.countError()
			return 0, fmt.Errorf("upload %s: %w", path, err)
		}
	}

	if a.metrics != nil {
		a.metrics.ArchiveRuns.Inc()
		a.metrics.ArchivedEvents.Add(float64(total))
	}
	return total, nil
}

// RunEvery runs archive passes on the given interval until ctx is
// cancelled. Failures are logged and the next tick tries again.
func (a *Archiver) RunEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := a.Run(ctx)
			if err != nil {
				log.Printf("ERROR: archive run failed: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("INFO: archived %d finalized event(s)", count)
			}
		}
	}
}

// collect buffers finalized events before the cutoff as JSONL, grouped by
// the month of their timestamp.
func (a *Archiver) collect(ctx context.Context, cutoff time.Time) (map[string][]byte, int64, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT payload, created_at
		FROM bridge_log.request_events
		WHERE event_type IN ($1, $2, $3) AND created_at < $4
		ORDER BY seq ASC
	`,
		event.EventTypeRequestCompleted.String(),
		event.EventTypeRequestFailed.String(),
		event.EventTypeRequestDropped.String(),
		cutoff,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	months := make(map[string]*bytes.Buffer)
	var total int64

	for rows.Next() {
		var (
			payload   []byte
			createdAt time.Time
		)
		if err := rows.Scan(&payload, &createdAt); err != nil {
			return nil, 0, err
		}

		month := createdAt.UTC().Format("2006-01")
		buf, ok := months[month]
		if !ok {
			buf = &bytes.Buffer{}
			months[month] = buf
		}
		buf.Write(payload)
		buf.WriteByte('\n')
		total++
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	out := make(map[string][]byte, len(months))
	for month, buf := range months {
		out[month] = buf.Bytes()
	}
	return out, total, nil
}

func (a *Archiver) countError() {
	if a.metrics != nil {
		a.metrics.ArchiveErrors.Inc()
	}
}
