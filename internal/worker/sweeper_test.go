package worker

import (
	"context"
	"testing"
	"time"

	"github.com/ignite/epay-batch/internal/domain"
	"github.com/ignite/epay-batch/internal/queue"
)

func drain(q *queue.BatchQueue) []string {
	var ids []string
	for {
		id, ok := q.Dequeue()
		if !ok {
			return ids
		}
		ids = append(ids, id)
	}
}

func TestSweeper_ReenqueuesQueuedBatches(t *testing.T) {
	store := newMemStore()
	store.addBatch(queuedBatch("q1", "P1", `["1"]`), "1")
	store.addBatch(queuedBatch("q2", "P2", `["2"]`), "2")
	done := queuedBatch("d1", "P3", `["3"]`)
	done.Status = domain.BatchDone
	store.addBatch(done, "3")

	q := queue.New()
	s := NewSweeper(store, q)
	s.Sweep(context.Background())

	ids := drain(q)
	if len(ids) != 2 {
		t.Fatalf("enqueued %v, want the two Queued batches", ids)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen["q1"] || !seen["q2"] || seen["d1"] {
		t.Errorf("enqueued %v, want q1 and q2 only", ids)
	}
}

func TestSweeper_RecoversStaleRunningBatch(t *testing.T) {
	store := newMemStore()
	stale := queuedBatch("stuck", "P1", `["1"]`)
	stale.Status = domain.BatchRunning
	stale.UpdatedUTC = time.Now().UTC().Add(-time.Hour)
	store.addBatch(stale, "1")

	q := queue.New()
	s := NewSweeperWithConfig(store, q, DefaultSweepInterval, DefaultSweepLimit, 10*time.Minute)
	s.Sweep(context.Background())

	if store.batchStatus("stuck") != domain.BatchQueued {
		t.Fatalf("stale batch = %s, want flipped back to Queued", store.batchStatus("stuck"))
	}
	if ids := drain(q); len(ids) != 1 || ids[0] != "stuck" {
		t.Errorf("enqueued %v, want [stuck]", ids)
	}
}

func TestSweeper_LeavesFreshRunningBatchAlone(t *testing.T) {
	store := newMemStore()
	running := queuedBatch("live", "P1", `["1"]`)
	running.Status = domain.BatchRunning
	running.UpdatedUTC = time.Now().UTC()
	store.addBatch(running, "1")

	q := queue.New()
	s := NewSweeperWithConfig(store, q, DefaultSweepInterval, DefaultSweepLimit, 10*time.Minute)
	s.Sweep(context.Background())

	if store.batchStatus("live") != domain.BatchRunning {
		t.Errorf("in-flight batch = %s, want untouched Running", store.batchStatus("live"))
	}
	if ids := drain(q); len(ids) != 0 {
		t.Errorf("enqueued %v, want nothing", ids)
	}
}

func TestSweeper_StartStopsOnContextCancel(t *testing.T) {
	store := newMemStore()
	store.addBatch(queuedBatch("q1", "P1", `["1"]`), "1")

	q := queue.New()
	s := NewSweeperWithConfig(store, q, 10*time.Millisecond, DefaultSweepLimit, 10*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(stopped)
	}()

	deadline := time.After(2 * time.Second)
	for q.Size() == 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
