// Package postgres implements the batch store against PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/epay-batch/internal/batch"
	"github.com/ignite/epay-batch/internal/domain"
)

// BatchRepo implements batch.Store against PostgreSQL.
type BatchRepo struct{ db *sql.DB }

// NewBatchRepo creates a Postgres-backed batch repository.
func NewBatchRepo(db *sql.DB) *BatchRepo { return &BatchRepo{db: db} }

const batchColumns = `id, payroll_id, jobs_json, csv_path, idempotency_key,
	       status, COALESCE(outcome,''), created_utc, updated_utc`

func scanBatch(row interface{ Scan(...interface{}) error }) (*domain.Batch, error) {
	b := &domain.Batch{}
	err := row.Scan(
		&b.ID, &b.PayrollID, &b.JobsJSON, &b.CSVPath, &b.IdempotencyKey,
		&b.Status, &b.Outcome, &b.CreatedUTC, &b.UpdatedUTC,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// CreateBatch inserts the batch and its items in one transaction. A unique
// violation on the idempotency key maps to batch.ErrDuplicateKey.
func (r *BatchRepo) CreateBatch(ctx context.Context, b *domain.Batch, items []domain.BatchItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create batch: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batches (id, payroll_id, jobs_json, csv_path, idempotency_key, status, created_utc, updated_utc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, b.ID, b.PayrollID, b.JobsJSON, b.CSVPath, b.IdempotencyKey, b.Status, b.CreatedUTC, b.UpdatedUTC)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return batch.ErrDuplicateKey
		}
		return fmt.Errorf("insert batch: %w", err)
	}

	for _, it := range items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO batch_items (id, batch_id, site_code, status)
			VALUES ($1, $2, $3, $4)
		`, it.ID, it.BatchID, it.SiteCode, it.Status)
		if err != nil {
			return fmt.Errorf("insert batch item %s: %w", it.SiteCode, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create batch: %w", err)
	}
	return nil
}

func (r *BatchRepo) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	b, err := scanBatch(r.db.QueryRowContext(ctx, `
		SELECT `+batchColumns+`
		FROM batches
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, batch.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

func (r *BatchRepo) GetBatchByKey(ctx context.Context, idempotencyKey string) (*domain.Batch, error) {
	b, err := scanBatch(r.db.QueryRowContext(ctx, `
		SELECT `+batchColumns+`
		FROM batches
		WHERE idempotency_key = $1
	`, idempotencyKey))
	if err == sql.ErrNoRows {
		return nil, batch.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch by key: %w", err)
	}
	return b, nil
}

func (r *BatchRepo) GetItems(ctx context.Context, batchID string) ([]domain.BatchItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, batch_id, site_code, status, COALESCE(message,''), COALESCE(screenshot_path,'')
		FROM batch_items
		WHERE batch_id = $1
		ORDER BY site_code
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch items: %w", err)
	}
	defer rows.Close()

	var out []domain.BatchItem
	for rows.Next() {
		var it domain.BatchItem
		if err := rows.Scan(&it.ID, &it.BatchID, &it.SiteCode, &it.Status, &it.Message, &it.ScreenshotPath); err != nil {
			return nil, fmt.Errorf("scan batch item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *BatchRepo) listByStatus(ctx context.Context, status domain.BatchStatus, extra string, limit int, args ...interface{}) ([]domain.Batch, error) {
	q := `
		SELECT ` + batchColumns + `
		FROM batches
		WHERE status = $1` + extra + `
		ORDER BY created_utc ASC
		LIMIT $` + fmt.Sprint(len(args)+2)
	qArgs := append([]interface{}{status}, args...)
	qArgs = append(qArgs, limit)

	rows, err := r.db.QueryContext(ctx, q, qArgs...)
	if err != nil {
		return nil, fmt.Errorf("list %s batches: %w", status, err)
	}
	defer rows.Close()

	var out []domain.Batch
	for rows.Next() {
		b := &domain.Batch{}
		if err := rows.Scan(
			&b.ID, &b.PayrollID, &b.JobsJSON, &b.CSVPath, &b.IdempotencyKey,
			&b.Status, &b.Outcome, &b.CreatedUTC, &b.UpdatedUTC,
		); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ListQueuedBatches returns up to limit Queued batches, oldest first.
func (r *BatchRepo) ListQueuedBatches(ctx context.Context, limit int) ([]domain.Batch, error) {
	return r.listByStatus(ctx, domain.BatchQueued, "", limit)
}

// ListStaleRunning returns up to limit batches Running since before cutoff,
// oldest first.
func (r *BatchRepo) ListStaleRunning(ctx context.Context, cutoff time.Time, limit int) ([]domain.Batch, error) {
	return r.listByStatus(ctx, domain.BatchRunning, " AND updated_utc < $2", limit, cutoff)
}

// ClaimQueued flips a batch from Queued to Running. Returns false when the
// batch is missing or no longer Queued.
func (r *BatchRepo) ClaimQueued(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE batches
		SET status = $1, updated_utc = NOW()
		WHERE id = $2 AND status = $3
	`, domain.BatchRunning, id, domain.BatchQueued)
	if err != nil {
		return false, fmt.Errorf("claim batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim batch rows: %w", err)
	}
	return n == 1, nil
}

// RequeueRunning flips a stale Running batch back to Queued, guarded by the
// cutoff so a batch actively being processed is never touched.
func (r *BatchRepo) RequeueRunning(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE batches
		SET status = $1, updated_utc = NOW()
		WHERE id = $2 AND status = $3 AND updated_utc < $4
	`, domain.BatchQueued, id, domain.BatchRunning, cutoff)
	if err != nil {
		return false, fmt.Errorf("requeue batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("requeue batch rows: %w", err)
	}
	return n == 1, nil
}

// Commit applies the terminal batch update and every item update in one
// database transaction.
func (r *BatchRepo) Commit(ctx context.Context, t batch.Tx) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE batches
		SET status = $1, outcome = $2, updated_utc = NOW()
		WHERE id = $3
	`, t.Status, t.Outcome, t.BatchID)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}

	for _, upd := range t.Items {
		q := `
		UPDATE batch_items
		SET status = $1, message = $2`
		args := []interface{}{upd.Status, upd.Message}
		idx := 3
		if upd.ScreenshotPath != "" {
			q += fmt.Sprintf(", screenshot_path = $%d", idx)
			args = append(args, upd.ScreenshotPath)
			idx++
		}
		q += fmt.Sprintf(" WHERE batch_id = $%d", idx)
		args = append(args, t.BatchID)
		idx++

		if len(upd.Filter.Sites) > 0 {
			if upd.Filter.Exclude {
				q += fmt.Sprintf(" AND NOT (site_code = ANY($%d))", idx)
			} else {
				q += fmt.Sprintf(" AND site_code = ANY($%d)", idx)
			}
			args = append(args, pq.Array(upd.Filter.Sites))
		}

		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("update batch items: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch tx: %w", err)
	}
	return nil
}
