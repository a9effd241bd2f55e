// Package importer defines the import capability the worker drives: turn a
// CSV artifact into a set of per-row outcomes by operating the EPAY portal.
package importer

import (
	"context"
	"log"

	"github.com/ignite/epay-batch/internal/domain"
)

// Importer attempts one external import run for the artifact at csvPath.
//
// A returned error signals a structural failure (navigation, timeout,
// unexpected page state): the run produced no row data worth reconciling.
// A nil error with Result.OK == false is a completed-but-partially-failed
// run and carries rows for reconciliation; it must not be retried.
type Importer interface {
	ImportCSV(ctx context.Context, csvPath string) (*domain.ImportResult, error)
}

// Func adapts a plain function to the Importer interface.
type Func func(ctx context.Context, csvPath string) (*domain.ImportResult, error)

func (f Func) ImportCSV(ctx context.Context, csvPath string) (*domain.ImportResult, error) {
	return f(ctx, csvPath)
}

type retrying struct {
	inner Importer
}

// WithRetry wraps an importer with the relaunch-once policy: a structural
// failure triggers exactly one additional full attempt against a fresh
// session before giving up. This is the sole retry in the system; beyond it
// an operator intervenes via the admin re-login path.
func WithRetry(inner Importer) Importer {
	return &retrying{inner: inner}
}

func (r *retrying) ImportCSV(ctx context.Context, csvPath string) (*domain.ImportResult, error) {
	res, err := r.inner.ImportCSV(ctx, csvPath)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	log.Printf("[Importer] Attempt failed, relaunching once: %v", err)
	return r.inner.ImportCSV(ctx, csvPath)
}
