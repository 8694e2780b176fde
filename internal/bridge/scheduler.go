package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"tidebridge/internal/observability"
)

// Band maps a backlog threshold to the delay before the next batch.
type Band struct {
	Threshold int
	Delay     time.Duration
}

// DefaultBands is the standard load-to-delay table. Bands are evaluated
// top down and the first threshold the backlog meets wins; the final
// zero-threshold band is the idle catch-all.
func DefaultBands() []Band {
	return []Band{
		{Threshold: 50, Delay: 3 * time.Second},
		{Threshold: 20, Delay: 8 * time.Second},
		{Threshold: 10, Delay: 15 * time.Second},
		{Threshold: 5, Delay: 30 * time.Second},
		{Threshold: 0, Delay: 60 * time.Second},
	}
}

// ValidateBands rejects tables the scheduler cannot use: thresholds must
// strictly decrease down to a final zero, and delays must be positive and
// strictly increasing as load drops.
func ValidateBands(bands []Band) error {
	if len(bands) == 0 {
		return errors.New("empty band table")
	}
	for i, b := range bands {
		if b.Threshold < 0 {
			return fmt.Errorf("band %d: negative threshold %d", i, b.Threshold)
		}
		if b.Delay <= 0 {
			return fmt.Errorf("band %d: delay must be positive, got %v", i, b.Delay)
		}
		if i == 0 {
			continue
		}
		if b.Threshold >= bands[i-1].Threshold {
			return fmt.Errorf("band %d: thresholds must strictly decrease (%d after %d)",
				i, b.Threshold, bands[i-1].Threshold)
		}
		if b.Delay <= bands[i-1].Delay {
			return fmt.Errorf("band %d: delays must strictly increase (%v after %v)",
				i, b.Delay, bands[i-1].Delay)
		}
	}
	if last := bands[len(bands)-1]; last.Threshold != 0 {
		return fmt.Errorf("last band must have threshold 0, got %d", last.Threshold)
	}
	return nil
}

// NextDelay picks the delay for the observed backlog.
func NextDelay(bands []Band, backlog int) time.Duration {
	for _, b := range bands {
		if backlog >= b.Threshold {
			return b.Delay
		}
	}
	return bands[len(bands)-1].Delay
}

// SchedulerConfig tunes the reactive loop. Zero values fall back to
// DefaultBands and DefaultBatchLimit.
type SchedulerConfig struct {
	Bands      []Band
	BatchLimit int
}

// Scheduler self-reschedules the worker. After every batch it reads the
// remaining backlog and sleeps per the band table, so a filling queue
// tightens the loop and an idle one relaxes it. The scheduler is reactive:
// it keeps no state beyond the latest backlog reading.
type Scheduler struct {
	worker  *Worker
	bands   []Band
	limit   int64 // Atomic, adjustable at runtime
	alerter Alerter
	metrics *observability.Metrics

	ticks   int64 // Atomic
	lastRun int64 // Atomic, unix nanos
}

func NewScheduler(worker *Worker, cfg SchedulerConfig, alerter Alerter, metrics *observability.Metrics) (*Scheduler, error) {
	bands := cfg.Bands
	if len(bands) == 0 {
		bands = DefaultBands()
	}
	if err := ValidateBands(bands); err != nil {
		return nil, fmt.Errorf("scheduler bands: %w", err)
	}
	limit := cfg.BatchLimit
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	return &Scheduler{
		worker:  worker,
		bands:   bands,
		limit:   int64(limit),
		alerter: alerter,
		metrics: metrics,
	}, nil
}

// Run drives the loop until ctx is cancelled. The first batch fires
// immediately so a restart under load starts draining at once.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			backlog := s.tick(ctx)
			delay := NextDelay(s.bands, backlog)
			if s.metrics != nil {
				s.metrics.SchedulerDelay.Set(delay.Seconds())
			}
			timer.Reset(delay)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) int {
	atomic.AddInt64(&s.ticks, 1)
	atomic.StoreInt64(&s.lastRun, time.Now().UnixNano())

	summary, err := s.worker.ProcessBatch(ctx, s.BatchLimit())
	if err != nil {
		log.Printf("ERROR: batch %d aborted: %v", summary.Run, err)
		if s.alerter != nil {
			_ = s.alerter.Notify(ctx, AlertBatchAborted, "bridge batch aborted", err.Error())
		}
	}
	return summary.BacklogAfter
}

// BatchLimit returns the current per-batch request limit.
func (s *Scheduler) BatchLimit() int {
	return int(atomic.LoadInt64(&s.limit))
}

// SetBatchLimit adjusts the per-batch request limit for subsequent ticks.
func (s *Scheduler) SetBatchLimit(limit int) error {
	if limit <= 0 {
		return fmt.Errorf("batch limit must be positive, got %d", limit)
	}
	atomic.StoreInt64(&s.limit, int64(limit))
	log.Printf("INFO: batch limit set to %d", limit)
	return nil
}

// Ticks reports how many times the scheduler has fired.
func (s *Scheduler) Ticks() int64 {
	return atomic.LoadInt64(&s.ticks)
}

// LastRun reports when the scheduler last fired, zero before the first
// tick.
func (s *Scheduler) LastRun() time.Time {
	n := atomic.LoadInt64(&s.lastRun)
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
