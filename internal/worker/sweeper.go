package worker

import (
	"context"
	"log"
	"time"

	"github.com/ignite/epay-batch/internal/batch"
	"github.com/ignite/epay-batch/internal/queue"
)

// =============================================================================
// SWEEPER - Durable Slow-Path Recovery For The Ephemeral Queue
// =============================================================================
// The in-process queue forgets everything on restart, so the store is the
// source of truth for what still needs processing. The sweeper periodically
// re-injects:
//   1. Queued batches (lost wake-ups, process restarts) - at-least-once by
//      design; the processor's claim step drops duplicates.
//   2. Running batches stale past a grace period (crash between claim and
//      terminal commit). The grace period sits above every importer-internal
//      timeout so an import that is merely slow is never touched.

const (
	// DefaultSweepInterval is how often the sweeper scans the store.
	DefaultSweepInterval = 30 * time.Second

	// DefaultSweepLimit caps how many batches one tick re-enqueues.
	DefaultSweepLimit = 5

	// DefaultStaleRunningAge is how long a batch may sit in Running before
	// it is considered orphaned by a crash.
	DefaultStaleRunningAge = 10 * time.Minute
)

// Sweeper re-enqueues batches the ephemeral queue lost.
type Sweeper struct {
	store    batch.Store
	queue    *queue.BatchQueue
	interval time.Duration
	limit    int
	staleAge time.Duration
}

// NewSweeper creates a sweeper with default timing.
func NewSweeper(store batch.Store, q *queue.BatchQueue) *Sweeper {
	return NewSweeperWithConfig(store, q, DefaultSweepInterval, DefaultSweepLimit, DefaultStaleRunningAge)
}

// NewSweeperWithConfig creates a sweeper with custom timing.
func NewSweeperWithConfig(store batch.Store, q *queue.BatchQueue, interval time.Duration, limit int, staleAge time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if limit <= 0 {
		limit = DefaultSweepLimit
	}
	if staleAge <= 0 {
		staleAge = DefaultStaleRunningAge
	}
	return &Sweeper{
		store:    store,
		queue:    q,
		interval: interval,
		limit:    limit,
		staleAge: staleAge,
	}
}

// Start begins the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	log.Printf("[Sweeper] Starting (interval=%s, limit=%d, stale_age=%s)", s.interval, s.limit, s.staleAge)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Sweeper] Stopping")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one recovery pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	queryCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	queued, err := s.store.ListQueuedBatches(queryCtx, s.limit)
	if err != nil {
		log.Printf("[Sweeper] List queued failed: %v", err)
	} else {
		for _, b := range queued {
			log.Printf("[Sweeper] Re-enqueue batch_id=%s", b.ID)
			s.queue.Enqueue(b.ID)
		}
	}

	cutoff := time.Now().UTC().Add(-s.staleAge)
	stale, err := s.store.ListStaleRunning(queryCtx, cutoff, s.limit)
	if err != nil {
		log.Printf("[Sweeper] List stale running failed: %v", err)
		return
	}
	for _, b := range stale {
		// Conditional flip: a batch that completed (or progressed) between
		// the list and this update is left alone.
		requeued, err := s.store.RequeueRunning(queryCtx, b.ID, cutoff)
		if err != nil {
			log.Printf("[Sweeper] Requeue failed batch_id=%s err=%v", b.ID, err)
			continue
		}
		if requeued {
			log.Printf("[Sweeper] Recovered stale running batch_id=%s", b.ID)
			s.queue.Enqueue(b.ID)
		}
	}
}
