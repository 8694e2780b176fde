package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"tidebridge/internal/cache/redis"
	"tidebridge/internal/escrow"
)

// Alert event names, filterable through the notifier configuration.
const (
	AlertBatchAborted       = "batch_aborted"
	AlertRecoveryRun        = "recovery_run"
	AlertLeaseLost          = "lease_lost"
	AlertInvariantViolation = "invariant_violation"
)

// Alerter pushes operator notifications. notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Lease is a renewable claim on the active-worker role. redis.Lock
// satisfies it.
type Lease interface {
	Refresh(ctx context.Context) error
	Release()
}

const (
	DefaultLeaseKey          = "bridge:worker"
	DefaultLeaseTTL          = 30 * time.Second
	DefaultLeaseRefreshEvery = 10 * time.Second
	DefaultLeaseRetryEvery   = 5 * time.Second
	DefaultInvariantEvery    = 5 * time.Minute
)

// RunnerConfig tunes startup recovery and background cadence. Zero
// durations fall back to the defaults above.
type RunnerConfig struct {
	RecoverOnStart    bool
	LeaseKey          string
	LeaseTTL          time.Duration
	LeaseRefreshEvery time.Duration
	LeaseRetryEvery   time.Duration
	InvariantEvery    time.Duration
}

func (c *RunnerConfig) applyDefaults() {
	if c.LeaseKey == "" {
		c.LeaseKey = DefaultLeaseKey
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = DefaultLeaseTTL
	}
	if c.LeaseRefreshEvery <= 0 {
		c.LeaseRefreshEvery = DefaultLeaseRefreshEvery
	}
	if c.LeaseRetryEvery <= 0 {
		c.LeaseRetryEvery = DefaultLeaseRetryEvery
	}
	if c.InvariantEvery <= 0 {
		c.InvariantEvery = DefaultInvariantEvery
	}
}

// Runner owns the worker's runtime. It takes the distributed worker lease,
// fails over requests stranded by the previous holder, then drives the
// scheduler, the lease refresh loop, and the invariant watchdog until the
// context ends or the lease is lost. Instances that cannot get the lease
// stay in standby and retry, giving hot failover across processes.
type Runner struct {
	worker       *Worker
	scheduler    *Scheduler
	ledger       *escrow.Ledger
	acquireLease func(ctx context.Context, key string, ttl time.Duration) (Lease, error)
	alerter      Alerter
	cfg          RunnerConfig
}

// NewRunner assembles the runtime. A nil acquireLease disables distributed
// leasing for single-instance deployments; everything else behaves the
// same.
func NewRunner(
	worker *Worker,
	scheduler *Scheduler,
	led *escrow.Ledger,
	cfg RunnerConfig,
	acquireLease func(ctx context.Context, key string, ttl time.Duration) (Lease, error),
	alerter Alerter,
) *Runner {
	cfg.applyDefaults()
	return &Runner{
		worker:       worker,
		scheduler:    scheduler,
		ledger:       led,
		acquireLease: acquireLease,
		alerter:      alerter,
		cfg:          cfg,
	}
}

// Run blocks until ctx is cancelled or the worker lease is lost. Lease
// loss returns a non-nil error so the caller can decide whether to restart
// into standby.
func (r *Runner) Run(ctx context.Context) error {
	if r.acquireLease != nil {
		lease, err := r.waitForLease(ctx)
		if err != nil {
			return err
		}
		defer lease.Release()
		log.Printf("INFO: worker lease %q acquired", r.cfg.LeaseKey)

		return r.runActive(ctx, lease)
	}
	return r.runActive(ctx, nil)
}

func (r *Runner) runActive(ctx context.Context, lease Lease) error {
	if r.cfg.RecoverOnStart {
		if recovered := r.worker.RecoverStuck(); len(recovered) > 0 && r.alerter != nil {
			_ = r.alerter.Notify(ctx, AlertRecoveryRun, "stuck requests recovered",
				fmt.Sprintf("%d request(s) failed over at startup", len(recovered)))
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := r.scheduler.Run(ctx)
		if ctx.Err() != nil {
			return nil // Clean shutdown
		}
		return fmt.Errorf("scheduler: %w", err)
	})

	if lease != nil {
		g.Go(func() error {
			return r.refreshLease(ctx, lease)
		})
	}

	g.Go(func() error {
		r.watchInvariants(ctx)
		return nil
	})

	return g.Wait()
}

// waitForLease blocks until the lease is obtained or ctx ends. A held
// lease means another instance is the active worker; this one logs once
// and keeps retrying.
func (r *Runner) waitForLease(ctx context.Context) (Lease, error) {
	standby := false
	for {
		lease, err := r.acquireLease(ctx, r.cfg.LeaseKey, r.cfg.LeaseTTL)
		if err == nil {
			return lease, nil
		}
		if errors.Is(err, redis.ErrLockHeld) {
			if !standby {
				log.Printf("INFO: worker lease %q held elsewhere, standing by", r.cfg.LeaseKey)
				standby = true
			}
		} else {
			log.Printf("WARN: acquire worker lease: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.cfg.LeaseRetryEvery):
		}
	}
}

// refreshLease keeps the lease alive. A lost lease stops the whole runner:
// another instance may already hold the active role, and while concurrent
// batches are safe (the ledger serializes transitions), this instance no
// longer has any claim to run them.
func (r *Runner) refreshLease(ctx context.Context, lease Lease) error {
	ticker := time.NewTicker(r.cfg.LeaseRefreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := lease.Refresh(ctx)
			if err == nil {
				continue
			}
			if errors.Is(err, redis.ErrLockLost) {
				log.Printf("ERROR: worker lease %q lost, stopping scheduler", r.cfg.LeaseKey)
				if r.alerter != nil {
					_ = r.alerter.Notify(ctx, AlertLeaseLost, "worker lease lost",
						fmt.Sprintf("lease %q expired or was taken over", r.cfg.LeaseKey))
				}
				return fmt.Errorf("worker lease %q lost", r.cfg.LeaseKey)
			}
			log.Printf("WARN: refresh worker lease: %v", err)
		}
	}
}

// watchInvariants audits the escrow ledger's accounting on an interval and
// alerts on violations.
func (r *Runner) watchInvariants(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.InvariantEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ledger.CheckInvariants(); err != nil {
				log.Printf("ERROR: escrow invariant violated: %v", err)
				if r.alerter != nil {
					_ = r.alerter.Notify(ctx, AlertInvariantViolation, "escrow invariant violated", err.Error())
				}
			}
		}
	}
}
