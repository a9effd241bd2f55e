package worker

import (
	"fmt"

	"github.com/ignite/epay-batch/internal/batch"
	"github.com/ignite/epay-batch/internal/domain"
)

// =============================================================================
// RECONCILIATION - Mapping Import Outcome Rows Onto The Expected Site Set
// =============================================================================
// The portal's result grid is loosely structured: rows can be missing for
// uneventful no-op successes, can reference sites that were never requested,
// can omit the site code entirely for general errors, or can be absent
// altogether. Reconciliation assigns every expected site a terminal status
// using the rows as evidence, with deterministic fallbacks so no item is
// ever left Pending.
//
// Evidence ordering: explicit row-level evidence outranks presence-based
// inference, and error evidence outranks success inference for the same
// site. Updates are emitted in that order and later fallback steps exclude
// already-touched sites, so an explicit Error is never overwritten.

// reconcile derives the terminal transaction for one completed import run.
func reconcile(batchID string, expected []string, res *domain.ImportResult) batch.Tx {
	rows := make([]domain.ImportRowResult, 0, len(res.Rows))
	for _, r := range res.Rows {
		if r.Valid() {
			rows = append(rows, r)
		}
	}

	var successRows, errorRows []domain.ImportRowResult
	for _, r := range rows {
		if r.Status == domain.RowError {
			errorRows = append(errorRows, r)
		} else {
			successRows = append(successRows, r)
		}
	}

	errorSites := make(map[string]bool)
	for _, r := range errorRows {
		if r.SiteCode != "" {
			errorSites[r.SiteCode] = true
		}
	}

	var ops []batch.ItemUpdate

	// Explicit success rows, grouped by (status, message) to keep the number
	// of update statements small.
	type successKey struct {
		status  domain.ItemStatus
		message string
	}
	explicitSuccess := make(map[string]bool)
	var successOrder []successKey
	successGroups := make(map[successKey][]string)
	for _, r := range successRows {
		if r.SiteCode == "" {
			continue
		}
		msg := r.Message
		if msg == "" {
			if r.Status == domain.RowUpdated {
				msg = fmt.Sprintf("Employee updated for site %s", r.SiteCode)
			} else {
				msg = "Employee added to the site."
			}
		}
		key := successKey{status: domain.ItemStatus(r.Status), message: msg}
		if _, ok := successGroups[key]; !ok {
			successOrder = append(successOrder, key)
		}
		successGroups[key] = append(successGroups[key], r.SiteCode)
		explicitSuccess[r.SiteCode] = true
	}
	for _, key := range successOrder {
		ops = append(ops, batch.ItemUpdate{
			Filter:  batch.ItemFilter{Sites: successGroups[key]},
			Status:  key.status,
			Message: key.message,
		})
	}

	// Explicit error rows, grouped by message. These run after the success
	// groups, so for a site reported both ways the error wins.
	var errorOrder []string
	errorGroups := make(map[string][]string)
	var generalErrors []string
	for _, r := range errorRows {
		if r.SiteCode == "" {
			if r.Message != "" {
				generalErrors = append(generalErrors, r.Message)
			}
			continue
		}
		reason := r.Message
		if reason == "" {
			reason = res.Message
		}
		if reason == "" {
			reason = "Import failed"
		}
		if _, ok := errorGroups[reason]; !ok {
			errorOrder = append(errorOrder, reason)
		}
		errorGroups[reason] = append(errorGroups[reason], r.SiteCode)
	}
	for _, reason := range errorOrder {
		ops = append(ops, batch.ItemUpdate{
			Filter:         batch.ItemFilter{Sites: errorGroups[reason]},
			Status:         domain.ItemError,
			Message:        reason,
			ScreenshotPath: res.ScreenshotPath,
		})
	}

	// Presence-based inference: an expected site with no explicit row and no
	// error evidence is presumed added. The portal omits rows for no-op
	// successes.
	touched := make(map[string]bool)
	for site := range explicitSuccess {
		touched[site] = true
	}
	for site := range errorSites {
		touched[site] = true
	}
	var fallbackSuccess []string
	for _, site := range expected {
		if !touched[site] {
			fallbackSuccess = append(fallbackSuccess, site)
		}
	}
	if len(fallbackSuccess) > 0 {
		msg := res.Message
		if msg == "" {
			msg = "Employee added to the site."
		}
		ops = append(ops, batch.ItemUpdate{
			Filter:  batch.ItemFilter{Sites: fallbackSuccess},
			Status:  domain.ItemAdded,
			Message: msg,
		})
		for _, site := range fallbackSuccess {
			touched[site] = true
		}
	}

	// Last-resort sweep for anything still untouched.
	var remainder []string
	for _, site := range expected {
		if !touched[site] {
			remainder = append(remainder, site)
		}
	}
	if len(remainder) > 0 {
		status := domain.ItemError
		if res.OK {
			status = domain.ItemAdded
		}
		ops = append(ops, batch.ItemUpdate{
			Filter:  batch.ItemFilter{Sites: remainder},
			Status:  status,
			Message: res.Message,
		})
	}

	// Nothing derived above (row-less run, or only general errors with an
	// empty expected set): bulk-update every item with the run's overall
	// outcome, preferring the first general error message when one was
	// reported.
	if len(ops) == 0 {
		status := domain.ItemError
		if res.OK {
			status = domain.ItemAdded
		}
		msg := res.Message
		if len(generalErrors) > 0 {
			msg = generalErrors[0]
		}
		ops = append(ops, batch.ItemUpdate{
			Status:  status,
			Message: msg,
		})
	}

	errorRowCount := 0
	for _, r := range rows {
		if r.Status == domain.RowError {
			errorRowCount++
		}
	}
	status := domain.BatchError
	if res.OK && errorRowCount == 0 {
		status = domain.BatchDone
	}

	return batch.Tx{
		BatchID: batchID,
		Status:  status,
		Outcome: res.Message,
		Items:   ops,
	}
}
