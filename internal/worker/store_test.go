package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ignite/epay-batch/internal/batch"
	"github.com/ignite/epay-batch/internal/domain"
)

// memStore is an in-memory batch.Store that applies committed transactions
// with the same filter semantics as the Postgres repository, so worker tests
// can assert on final item state.
type memStore struct {
	mu      sync.Mutex
	batches map[string]*domain.Batch
	items   map[string][]domain.BatchItem

	claimErr  error
	commitErr error
	commits   []batch.Tx
}

func newMemStore() *memStore {
	return &memStore{
		batches: make(map[string]*domain.Batch),
		items:   make(map[string][]domain.BatchItem),
	}
}

func (m *memStore) addBatch(b *domain.Batch, sites ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[b.ID] = b
	for _, site := range sites {
		m.items[b.ID] = append(m.items[b.ID], domain.BatchItem{
			ID: "item-" + site, BatchID: b.ID, SiteCode: site, Status: domain.ItemPending,
		})
	}
}

func (m *memStore) batchStatus(id string) domain.BatchStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches[id].Status
}

func (m *memStore) itemsBySite(id string) map[string]domain.BatchItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.BatchItem)
	for _, it := range m.items[id] {
		out[it.SiteCode] = it
	}
	return out
}

func (m *memStore) CreateBatch(_ context.Context, b *domain.Batch, items []domain.BatchItem) error {
	m.addBatch(b)
	m.mu.Lock()
	m.items[b.ID] = items
	m.mu.Unlock()
	return nil
}

func (m *memStore) GetBatch(_ context.Context, id string) (*domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, batch.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) GetBatchByKey(_ context.Context, key string) (*domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		if b.IdempotencyKey == key {
			cp := *b
			return &cp, nil
		}
	}
	return nil, batch.ErrNotFound
}

func (m *memStore) GetItems(_ context.Context, batchID string) ([]domain.BatchItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.BatchItem(nil), m.items[batchID]...), nil
}

func (m *memStore) ListQueuedBatches(_ context.Context, limit int) ([]domain.Batch, error) {
	return m.listByStatus(domain.BatchQueued, limit, time.Time{}), nil
}

func (m *memStore) ListStaleRunning(_ context.Context, cutoff time.Time, limit int) ([]domain.Batch, error) {
	return m.listByStatus(domain.BatchRunning, limit, cutoff), nil
}

func (m *memStore) listByStatus(status domain.BatchStatus, limit int, cutoff time.Time) []domain.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Batch
	for _, b := range m.batches {
		if b.Status != status {
			continue
		}
		if !cutoff.IsZero() && !b.UpdatedUTC.Before(cutoff) {
			continue
		}
		out = append(out, *b)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func (m *memStore) ClaimQueued(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return false, m.claimErr
	}
	b, ok := m.batches[id]
	if !ok || b.Status != domain.BatchQueued {
		return false, nil
	}
	b.Status = domain.BatchRunning
	b.UpdatedUTC = time.Now().UTC()
	return true, nil
}

func (m *memStore) RequeueRunning(_ context.Context, id string, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok || b.Status != domain.BatchRunning || !b.UpdatedUTC.Before(cutoff) {
		return false, nil
	}
	b.Status = domain.BatchQueued
	b.UpdatedUTC = time.Now().UTC()
	return true, nil
}

func (m *memStore) Commit(_ context.Context, tx batch.Tx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	b, ok := m.batches[tx.BatchID]
	if !ok {
		return errors.New("commit: batch missing")
	}
	b.Status = tx.Status
	b.Outcome = tx.Outcome
	b.UpdatedUTC = time.Now().UTC()

	items := m.items[tx.BatchID]
	for _, upd := range tx.Items {
		inSet := make(map[string]bool, len(upd.Filter.Sites))
		for _, s := range upd.Filter.Sites {
			inSet[s] = true
		}
		for i := range items {
			match := true
			if len(upd.Filter.Sites) > 0 {
				if upd.Filter.Exclude {
					match = !inSet[items[i].SiteCode]
				} else {
					match = inSet[items[i].SiteCode]
				}
			}
			if !match {
				continue
			}
			items[i].Status = upd.Status
			items[i].Message = upd.Message
			if upd.ScreenshotPath != "" {
				items[i].ScreenshotPath = upd.ScreenshotPath
			}
		}
	}
	m.items[tx.BatchID] = items
	m.commits = append(m.commits, tx)
	return nil
}
