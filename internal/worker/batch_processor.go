package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ignite/epay-batch/internal/batch"
	"github.com/ignite/epay-batch/internal/domain"
	"github.com/ignite/epay-batch/internal/importer"
	"github.com/ignite/epay-batch/internal/queue"
)

// =============================================================================
// BATCH PROCESSOR - Single-Consumer Import Worker
// =============================================================================
// Pulls batch ids off the in-process queue, claims each batch (Queued ->
// Running), drives one import run against the portal and commits the
// reconciled terminal state in one store transaction.
//
// Exactly one batch is in flight at any time: the portal session is stateful
// and concurrent imports against it are unsupported, so the single consumer
// is a correctness requirement, not a tuning knob. Failures are contained
// per batch; nothing escapes the processing cycle.

const storeTimeout = 30 * time.Second

// BatchProcessor is the single-consumer worker driving batch imports.
type BatchProcessor struct {
	store    batch.Store
	queue    *queue.BatchQueue
	importer importer.Importer

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewBatchProcessor creates a processor. The importer should already carry
// its own retry policy (see importer.WithRetry).
func NewBatchProcessor(store batch.Store, q *queue.BatchQueue, imp importer.Importer) *BatchProcessor {
	return &BatchProcessor{
		store:    store,
		queue:    q,
		importer: imp,
	}
}

// Start launches the consumer goroutine. A second Start while running is an
// error; the re-entrancy guard keeps the single-consumer invariant.
func (p *BatchProcessor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("batch processor already running")
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())

	log.Printf("[BatchProcessor] Starting")
	p.wg.Add(1)
	go p.run()
	return nil
}

// Stop cancels the consumer and waits for the in-flight batch (if any) to
// finish its terminal commit.
func (p *BatchProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	log.Printf("[BatchProcessor] Stopped")
}

func (p *BatchProcessor) run() {
	defer p.wg.Done()
	for {
		id, ok := p.queue.Dequeue()
		if !ok {
			// Idle until an enqueue signal or shutdown.
			select {
			case <-p.ctx.Done():
				return
			case <-p.queue.Notify():
				continue
			}
		}
		p.process(p.ctx, id)

		select {
		case <-p.ctx.Done():
			return
		default:
		}
	}
}

// process runs one full cycle for a dequeued batch id. Every path ends in a
// persisted terminal status or a logged skip; errors never propagate out.
func (p *BatchProcessor) process(ctx context.Context, batchID string) {
	claimCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	claimed, err := p.store.ClaimQueued(claimCtx, batchID)
	cancel()
	if err != nil {
		// Batch stays Queued; the sweeper re-enqueues it later.
		log.Printf("[BatchProcessor] Claim failed batch_id=%s err=%v", batchID, err)
		return
	}
	if !claimed {
		// Missing, already terminal, or claimed in a previous life. Stale
		// sweeper re-injections land here.
		log.Printf("[BatchProcessor] Skipping batch_id=%s: not in Queued state", batchID)
		return
	}

	loadCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	b, err := p.store.GetBatch(loadCtx, batchID)
	cancel()
	if err != nil {
		// Claimed but unloadable: leave it Running, the stale-Running sweep
		// recovers it.
		log.Printf("[BatchProcessor] Load failed batch_id=%s err=%v", batchID, err)
		return
	}

	log.Printf("[BatchProcessor] Processing batch_id=%s payroll_id=%s", b.ID, b.PayrollID)
	expected := b.ExpectedSites()

	res, err := p.importer.ImportCSV(ctx, b.CSVPath)

	var tx batch.Tx
	if err != nil {
		// Structural failure of both attempts: no row data exists, so every
		// item carries the failure message.
		var structural *importer.StructuralError
		if errors.As(err, &structural) && structural.ScreenshotPath != "" {
			log.Printf("[BatchProcessor] Import failed batch_id=%s screenshot=%s err=%v", b.ID, structural.ScreenshotPath, err)
		} else {
			log.Printf("[BatchProcessor] Import failed batch_id=%s err=%v", b.ID, err)
		}
		tx = batch.Tx{
			BatchID: b.ID,
			Status:  domain.BatchError,
			Outcome: err.Error(),
			Items: []batch.ItemUpdate{{
				Status:  domain.ItemError,
				Message: err.Error(),
			}},
		}
	} else {
		tx = reconcile(b.ID, expected, res)
		if res.OK {
			log.Printf("[BatchProcessor] Batch imported batch_id=%s outcome=%q", b.ID, res.Message)
		} else {
			log.Printf("[BatchProcessor] Batch completed with errors batch_id=%s outcome=%q screenshot=%s", b.ID, res.Message, res.ScreenshotPath)
		}
	}

	commitCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := p.store.Commit(commitCtx, tx); err != nil {
		// Batch is left Running; the stale-Running sweep requeues it after
		// the grace period.
		log.Printf("[BatchProcessor] Commit failed batch_id=%s err=%v", b.ID, err)
	}
}
