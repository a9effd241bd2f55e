package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/epay-batch/internal/auth"
	"github.com/ignite/epay-batch/internal/batch"
	"github.com/ignite/epay-batch/internal/domain"
)

// SetupRunner refreshes the portal storage state (admin operation).
type SetupRunner interface {
	SetupLogin(ctx context.Context) error
}

// Handlers holds the HTTP handler dependencies
type Handlers struct {
	submit         *batch.SubmitService
	store          batch.Store
	authManager    *auth.Manager
	setup          SetupRunner
	screenshotsDir string
}

// NewHandlers creates the API handlers. setup may be nil when the admin
// setup endpoint is not wired (tests, headless deployments).
func NewHandlers(submit *batch.SubmitService, store batch.Store, authManager *auth.Manager, setup SetupRunner, screenshotsDir string) *Handlers {
	return &Handlers{
		submit:         submit,
		store:          store,
		authManager:    authManager,
		setup:          setup,
		screenshotsDir: screenshotsDir,
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// HealthCheck reports service liveness
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// SubmitRequest is the POST /api/submit payload. Jobs carries the raw
// comma/newline separated site codes exactly as pasted into the form.
type SubmitRequest struct {
	PayrollID string `json:"payrollId"`
	Jobs      string `json:"jobs"`
}

// SubmitBatch accepts a submission, creates the batch and queues it. A
// duplicate submission returns the prior batch with existing=true.
func (h *Handlers) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	subject := identity(h.authManager, r)
	sites := batch.ParseSites(req.Jobs)

	result, err := h.submit.Submit(r.Context(), subject, req.PayrollID, sites)
	if err != nil {
		var rateErr *batch.RateLimitedError
		switch {
		case errors.As(err, &rateErr):
			respondJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error":        "submission cooldown active",
				"retryAfterMs": rateErr.RetryAfter.Milliseconds(),
			})
		case errors.Is(err, batch.ErrMissingPayrollID),
			errors.Is(err, batch.ErrNoSites),
			errors.Is(err, batch.ErrTooManySites):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("[API] Submit failed: %v", err)
			respondError(w, http.StatusInternalServerError, "submission failed")
		}
		return
	}

	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}
	respondJSON(w, status, map[string]interface{}{
		"batch":    result.Batch,
		"existing": result.Existing,
	})
}

// BatchResponse is the GET /api/batches/{id} payload, the shape the
// frontend polls until the batch goes terminal.
type BatchResponse struct {
	Batch *domain.Batch      `json:"batch"`
	Items []domain.BatchItem `json:"items"`
}

// GetBatch returns one batch with its per-site items
func (h *Handlers) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	b, err := h.store.GetBatch(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, batch.ErrNotFound) {
			respondError(w, http.StatusNotFound, "batch not found")
			return
		}
		log.Printf("[API] Get batch failed: %v", err)
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	items, err := h.store.GetItems(r.Context(), batchID)
	if err != nil {
		log.Printf("[API] Get items failed: %v", err)
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	respondJSON(w, http.StatusOK, BatchResponse{Batch: b, Items: items})
}

// DownloadCSV streams the batch's CSV artifact. Artifacts are plain files
// on disk, so a pruned or migrated volume yields 410 rather than 404: the
// batch exists, its artifact is gone.
func (h *Handlers) DownloadCSV(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	b, err := h.store.GetBatch(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, batch.ErrNotFound) {
			respondError(w, http.StatusNotFound, "batch not found")
			return
		}
		log.Printf("[API] Get batch failed: %v", err)
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	if _, err := os.Stat(b.CSVPath); err != nil {
		respondError(w, http.StatusGone, "csv artifact no longer available")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(b.CSVPath)+"\"")
	http.ServeFile(w, r, b.CSVPath)
}

// SetupEpayLogin runs an interactive portal login to refresh the persistent
// browser profile. Long-running: the browser stays open for manual steps.
func (h *Handlers) SetupEpayLogin(w http.ResponseWriter, r *http.Request) {
	if h.setup == nil {
		respondError(w, http.StatusServiceUnavailable, "setup not available")
		return
	}

	log.Printf("[API] EPAY setup login requested by %s", identity(h.authManager, r))
	if err := h.setup.SetupLogin(r.Context()); err != nil {
		log.Printf("[API] EPAY setup login failed: %v", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "storage state refreshed"})
}

// ServeScreenshot serves failure captures referenced by batch items
func (h *Handlers) ServeScreenshot(w http.ResponseWriter, r *http.Request) {
	rel, ok := cleanScreenshotPath(chi.URLParam(r, "*"))
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid path")
		return
	}

	path := filepath.Join(h.screenshotsDir, filepath.FromSlash(rel))
	if _, err := os.Stat(path); err != nil {
		respondError(w, http.StatusNotFound, "screenshot not found")
		return
	}
	http.ServeFile(w, r, path)
}
