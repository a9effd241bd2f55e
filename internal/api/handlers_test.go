package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/epay-batch/internal/batch"
	"github.com/ignite/epay-batch/internal/csvbuilder"
	"github.com/ignite/epay-batch/internal/domain"
	"github.com/ignite/epay-batch/internal/queue"
)

// stubStore is an in-memory batch.Store for handler tests.
type stubStore struct {
	mu      sync.Mutex
	batches map[string]*domain.Batch
	items   map[string][]domain.BatchItem
	byKey   map[string]string
}

func newStubStore() *stubStore {
	return &stubStore{
		batches: make(map[string]*domain.Batch),
		items:   make(map[string][]domain.BatchItem),
		byKey:   make(map[string]string),
	}
}

func (s *stubStore) CreateBatch(_ context.Context, b *domain.Batch, items []domain.BatchItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byKey[b.IdempotencyKey]; dup {
		return batch.ErrDuplicateKey
	}
	cp := *b
	s.batches[b.ID] = &cp
	s.items[b.ID] = items
	s.byKey[b.IdempotencyKey] = b.ID
	return nil
}

func (s *stubStore) GetBatch(_ context.Context, id string) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, batch.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *stubStore) GetBatchByKey(_ context.Context, key string) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, batch.ErrNotFound
	}
	cp := *s.batches[id]
	return &cp, nil
}

func (s *stubStore) GetItems(_ context.Context, batchID string) ([]domain.BatchItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[batchID], nil
}

func (s *stubStore) ListQueuedBatches(context.Context, int) ([]domain.Batch, error) {
	return nil, nil
}

func (s *stubStore) ListStaleRunning(context.Context, time.Time, int) ([]domain.Batch, error) {
	return nil, nil
}

func (s *stubStore) ClaimQueued(context.Context, string) (bool, error) { return false, nil }

func (s *stubStore) RequeueRunning(context.Context, string, time.Time) (bool, error) {
	return false, nil
}

func (s *stubStore) Commit(context.Context, batch.Tx) error { return nil }

type testEnv struct {
	store   *stubStore
	queue   *queue.BatchQueue
	handler http.Handler
}

func newTestEnv(t *testing.T, cooldown time.Duration) *testEnv {
	t.Helper()
	store := newStubStore()
	q := queue.New()
	limiter := batch.NewRateLimiter(cooldown)
	submit := batch.NewSubmitService(store, q, limiter, t.TempDir(), csvbuilder.Defaults{Active: "Y"})
	handlers := NewHandlers(submit, store, nil, nil, t.TempDir())
	return &testEnv{
		store:   store,
		queue:   q,
		handler: SetupRoutes(handlers, nil),
	}
}

func postSubmit(t *testing.T, env *testEnv, payrollID, jobs string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(SubmitRequest{PayrollID: payrollID, Jobs: jobs})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/submit", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	env.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, time.Hour)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestSubmitBatch_CreatesQueuedBatch(t *testing.T) {
	env := newTestEnv(t, time.Hour)

	rec := postSubmit(t, env, "PX001", "1001, 1002\n1003")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Batch    domain.Batch `json:"batch"`
		Existing bool         `json:"existing"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Existing)
	assert.Equal(t, "PX001", resp.Batch.PayrollID)
	assert.Equal(t, domain.BatchQueued, resp.Batch.Status)
	assert.Equal(t, 1, env.queue.Size())

	items, err := env.store.GetItems(context.Background(), resp.Batch.ID)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestSubmitBatch_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, time.Hour)

	rec := postSubmit(t, env, "", "1001")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postSubmit(t, env, "PX001", "   ")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitBatch_InvalidJSON(t *testing.T) {
	env := newTestEnv(t, time.Hour)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/submit", bytes.NewReader([]byte("{not json")))
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitBatch_CooldownReturns429(t *testing.T) {
	env := newTestEnv(t, time.Hour)

	rec := postSubmit(t, env, "PX001", "1001")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = postSubmit(t, env, "PX002", "2001")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var resp struct {
		RetryAfterMs int64 `json:"retryAfterMs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Greater(t, resp.RetryAfterMs, int64(0))
}

func TestSubmitBatch_IdempotentReplay(t *testing.T) {
	env := newTestEnv(t, time.Nanosecond)

	first := postSubmit(t, env, "PX001", "1001,1002")
	require.Equal(t, http.StatusCreated, first.Code)

	time.Sleep(time.Millisecond)
	second := postSubmit(t, env, "PX001", "1002, 1001")
	require.Equal(t, http.StatusOK, second.Code)

	var resp struct {
		Batch    domain.Batch `json:"batch"`
		Existing bool         `json:"existing"`
	}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.True(t, resp.Existing)
	assert.Equal(t, 1, env.queue.Size(), "replay must not enqueue again")
}

func TestGetBatch_NotFound(t *testing.T) {
	env := newTestEnv(t, time.Hour)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/batches/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBatch_ReturnsBatchWithItems(t *testing.T) {
	env := newTestEnv(t, time.Hour)

	created := postSubmit(t, env, "PX001", "1001,1002")
	require.Equal(t, http.StatusCreated, created.Code)
	var submitResp struct {
		Batch domain.Batch `json:"batch"`
	}
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &submitResp))

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/batches/"+submitResp.Batch.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, submitResp.Batch.ID, resp.Batch.ID)
	require.Len(t, resp.Items, 2)
	for _, item := range resp.Items {
		assert.Equal(t, domain.ItemPending, item.Status)
	}
}

func TestDownloadCSV(t *testing.T) {
	env := newTestEnv(t, time.Hour)

	created := postSubmit(t, env, "PX001", "1001")
	require.Equal(t, http.StatusCreated, created.Code)
	var submitResp struct {
		Batch domain.Batch `json:"batch"`
	}
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &submitResp))

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/batches/"+submitResp.Batch.ID+"/csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), csvbuilder.Header)

	// Prune the artifact: batch still exists, file is gone.
	require.NoError(t, os.Remove(submitResp.Batch.CSVPath))
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/batches/"+submitResp.Batch.ID+"/csv", nil))
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestServeScreenshot(t *testing.T) {
	store := newStubStore()
	q := queue.New()
	submit := batch.NewSubmitService(store, q, batch.NewRateLimiter(time.Hour), t.TempDir(), csvbuilder.Defaults{})
	screenshotsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(screenshotsDir, "failure.png"), []byte("png"), 0644))

	handlers := NewHandlers(submit, store, nil, nil, screenshotsDir)
	handler := SetupRoutes(handlers, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/screenshots/failure.png", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/screenshots/../secrets.txt", nil))
	assert.NotEqual(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/screenshots/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetupEpayLogin_Unavailable(t *testing.T) {
	env := newTestEnv(t, time.Hour)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/admin/epay/setup", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type fakeSetup struct{ err error }

func (f *fakeSetup) SetupLogin(context.Context) error { return f.err }

func TestSetupEpayLogin_RunsSetup(t *testing.T) {
	store := newStubStore()
	q := queue.New()
	submit := batch.NewSubmitService(store, q, batch.NewRateLimiter(time.Hour), t.TempDir(), csvbuilder.Defaults{})
	handlers := NewHandlers(submit, store, nil, &fakeSetup{}, t.TempDir())
	handler := SetupRoutes(handlers, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/admin/epay/setup", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
