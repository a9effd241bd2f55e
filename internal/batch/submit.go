package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/epay-batch/internal/csvbuilder"
	"github.com/ignite/epay-batch/internal/domain"
	"github.com/ignite/epay-batch/internal/idempotency"
	"github.com/ignite/epay-batch/internal/queue"
)

// MaxSitesPerBatch caps one submission. The portal's import form starts
// timing out well below this, so larger lists have to be split anyway.
const MaxSitesPerBatch = 300

var (
	// ErrMissingPayrollID is returned when the payroll id is empty.
	ErrMissingPayrollID = errors.New("payroll id is required")
	// ErrNoSites is returned when no usable site codes remain after cleanup.
	ErrNoSites = errors.New("at least one site code is required")
	// ErrTooManySites is returned when a submission exceeds MaxSitesPerBatch.
	ErrTooManySites = fmt.Errorf("too many site codes (max %d)", MaxSitesPerBatch)
)

// RateLimitedError is returned when the subject is still inside its
// submission cooldown window.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Millisecond))
}

// ParseSites splits a raw jobs field (comma and/or newline separated) into
// trimmed, non-empty site codes, duplicates preserved.
func ParseSites(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	sites := make([]string, 0, len(fields))
	for _, f := range fields {
		if s := strings.TrimSpace(f); s != "" {
			sites = append(sites, s)
		}
	}
	return sites
}

// SubmitService drives the submission path: cooldown gate, idempotent
// dedup, CSV artifact, batch + item creation, enqueue.
type SubmitService struct {
	store    Store
	queue    *queue.BatchQueue
	limiter  *RateLimiter
	csvDir   string
	defaults csvbuilder.Defaults
}

// NewSubmitService creates a submission service writing artifacts under
// csvDir.
func NewSubmitService(store Store, q *queue.BatchQueue, limiter *RateLimiter, csvDir string, defaults csvbuilder.Defaults) *SubmitService {
	return &SubmitService{
		store:    store,
		queue:    q,
		limiter:  limiter,
		csvDir:   csvDir,
		defaults: defaults,
	}
}

// SubmitResult reports the batch a submission resolved to. Existing is true
// when the idempotency key matched a prior batch and nothing new was
// created or enqueued.
type SubmitResult struct {
	Batch    *domain.Batch
	Existing bool
}

// Submit validates and persists one submission for the given subject (the
// authenticated user, used only for rate limiting) and enqueues the new
// batch. A resubmission of the same payroll id and site set returns the
// existing batch.
func (s *SubmitService) Submit(ctx context.Context, subject, payrollID string, sites []string) (*SubmitResult, error) {
	payrollID = strings.TrimSpace(payrollID)
	if payrollID == "" {
		return nil, ErrMissingPayrollID
	}
	if len(sites) > MaxSitesPerBatch {
		return nil, ErrTooManySites
	}

	cleaned := make([]string, 0, len(sites))
	for _, site := range sites {
		if site = strings.TrimSpace(site); site != "" {
			cleaned = append(cleaned, site)
		}
	}
	if len(cleaned) == 0 {
		return nil, ErrNoSites
	}

	// Cooldown gate runs before any record is created.
	if allowed, retryAfter := s.limiter.CheckAndSet(subject); !allowed {
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	}

	key := idempotency.DeriveKey(payrollID, cleaned)
	if existing, err := s.store.GetBatchByKey(ctx, key); err == nil {
		log.Printf("[Submit] Idempotent replay payroll_id=%s batch_id=%s", payrollID, existing.ID)
		return &SubmitResult{Batch: existing, Existing: true}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	csvRes, err := csvbuilder.Build(s.csvDir, payrollID, cleaned, s.defaults)
	if err != nil {
		return nil, fmt.Errorf("build csv artifact: %w", err)
	}

	jobsJSON, err := json.Marshal(cleaned)
	if err != nil {
		return nil, fmt.Errorf("encode jobs: %w", err)
	}

	now := time.Now().UTC()
	b := &domain.Batch{
		ID:             uuid.NewString(),
		PayrollID:      payrollID,
		JobsJSON:       string(jobsJSON),
		CSVPath:        csvRes.Path,
		IdempotencyKey: key,
		Status:         domain.BatchQueued,
		CreatedUTC:     now,
		UpdatedUTC:     now,
	}

	seen := make(map[string]bool, len(cleaned))
	items := make([]domain.BatchItem, 0, len(cleaned))
	for _, site := range cleaned {
		if seen[site] {
			continue
		}
		seen[site] = true
		items = append(items, domain.BatchItem{
			ID:       uuid.NewString(),
			BatchID:  b.ID,
			SiteCode: site,
			Status:   domain.ItemPending,
		})
	}

	if err := s.store.CreateBatch(ctx, b, items); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			// Lost a race with a concurrent identical submission.
			if existing, lookupErr := s.store.GetBatchByKey(ctx, key); lookupErr == nil {
				return &SubmitResult{Batch: existing, Existing: true}, nil
			}
		}
		return nil, fmt.Errorf("create batch: %w", err)
	}

	s.queue.Enqueue(b.ID)
	log.Printf("[Submit] Batch created batch_id=%s payroll_id=%s sites=%d", b.ID, payrollID, len(items))
	return &SubmitResult{Batch: b, Existing: false}, nil
}
