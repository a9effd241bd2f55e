// Package batch defines the batch service layer: the store contract the
// worker and the submission path operate against, the submission service
// itself, and the per-user cooldown limiter.
package batch

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/epay-batch/internal/domain"
)

var (
	// ErrNotFound is returned when a batch id does not exist.
	ErrNotFound = errors.New("batch not found")
	// ErrDuplicateKey is returned by CreateBatch when another batch already
	// holds the same idempotency key. Callers resolve it by loading the
	// existing batch.
	ErrDuplicateKey = errors.New("idempotency key already exists")
)

// ItemFilter selects which of a batch's items an update applies to.
// A nil Sites slice with Exclude false matches every item in the batch.
type ItemFilter struct {
	Sites   []string
	Exclude bool // match items whose site code is NOT in Sites
}

// ItemUpdate sets status, message and optionally a screenshot path on all
// items matched by Filter.
type ItemUpdate struct {
	Filter         ItemFilter
	Status         domain.ItemStatus
	Message        string
	ScreenshotPath string
}

// Tx is the atomic terminal commit for one processing cycle: the batch
// status/outcome plus every derived item update, applied together or not
// at all.
type Tx struct {
	BatchID string
	Status  domain.BatchStatus
	Outcome string
	Items   []ItemUpdate
}

// Store is the transactional persistence contract for batches and their
// items. The Postgres implementation lives in internal/repository/postgres.
type Store interface {
	// CreateBatch inserts the batch and its (deduplicated, Pending) items.
	// Returns ErrDuplicateKey if the idempotency key is already taken.
	CreateBatch(ctx context.Context, b *domain.Batch, items []domain.BatchItem) error

	GetBatch(ctx context.Context, id string) (*domain.Batch, error)
	GetBatchByKey(ctx context.Context, idempotencyKey string) (*domain.Batch, error)
	GetItems(ctx context.Context, batchID string) ([]domain.BatchItem, error)

	// ListQueuedBatches returns up to limit batches in status Queued,
	// oldest first.
	ListQueuedBatches(ctx context.Context, limit int) ([]domain.Batch, error)

	// ListStaleRunning returns up to limit batches that have sat in status
	// Running since before cutoff, oldest first. Used by the sweeper to
	// recover batches orphaned by a crash between claim and commit.
	ListStaleRunning(ctx context.Context, cutoff time.Time, limit int) ([]domain.Batch, error)

	// ClaimQueued atomically flips a batch from Queued to Running. Returns
	// false without error when the batch is missing or no longer Queued,
	// which is how the worker skips stale sweeper re-injections.
	ClaimQueued(ctx context.Context, id string) (bool, error)

	// RequeueRunning atomically flips a batch from Running back to Queued,
	// but only if it has been Running since before cutoff.
	RequeueRunning(ctx context.Context, id string, cutoff time.Time) (bool, error)

	// Commit applies a terminal transaction: batch status plus all item
	// updates in one database transaction.
	Commit(ctx context.Context, tx Tx) error
}
