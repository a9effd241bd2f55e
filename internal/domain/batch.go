package domain

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// BatchStatus enumerates the lifecycle states of an import batch.
type BatchStatus string

const (
	BatchQueued  BatchStatus = "Queued"
	BatchRunning BatchStatus = "Running"
	BatchDone    BatchStatus = "Done"
	BatchError   BatchStatus = "Error"
)

// IsTerminal returns true if the batch is in a final state.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchDone || s == BatchError
}

// ItemStatus enumerates the per-site outcome states within a batch.
type ItemStatus string

const (
	ItemPending ItemStatus = "Pending"
	ItemAdded   ItemStatus = "Added"
	ItemUpdated ItemStatus = "Updated"
	ItemError   ItemStatus = "Error"
)

// Batch represents one submitted request to import a payroll id's site-code
// list against the EPAY portal, tracked end-to-end.
type Batch struct {
	ID             string      `json:"id" db:"id"`
	PayrollID      string      `json:"payroll_id" db:"payroll_id"`
	JobsJSON       string      `json:"jobs_json" db:"jobs_json"`
	CSVPath        string      `json:"csv_path" db:"csv_path"`
	IdempotencyKey string      `json:"idempotency_key" db:"idempotency_key"`
	Status         BatchStatus `json:"status" db:"status"`
	Outcome        string      `json:"outcome" db:"outcome"`
	CreatedUTC     time.Time   `json:"created_utc" db:"created_utc"`
	UpdatedUTC     time.Time   `json:"updated_utc" db:"updated_utc"`
}

// ExpectedSites parses JobsJSON and returns the deduplicated expected-site
// set: trimmed, empties dropped, first occurrence wins, sorted for
// deterministic iteration. A malformed payload yields an empty set.
func (b *Batch) ExpectedSites() []string {
	var raw []string
	if err := json.Unmarshal([]byte(b.JobsJSON), &raw); err != nil {
		return nil
	}
	seen := make(map[string]bool, len(raw))
	sites := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		sites = append(sites, s)
	}
	sort.Strings(sites)
	return sites
}

// BatchItem is the per-site-code tracking record within a batch. Items are
// created in Pending alongside the batch and reach a terminal status during
// worker reconciliation.
type BatchItem struct {
	ID             string     `json:"id" db:"id"`
	BatchID        string     `json:"batch_id" db:"batch_id"`
	SiteCode       string     `json:"site_code" db:"site_code"`
	Status         ItemStatus `json:"status" db:"status"`
	Message        string     `json:"message" db:"message"`
	ScreenshotPath string     `json:"screenshot_path" db:"screenshot_path"`
}

// ImportRowStatus classifies a single outcome row scraped from the portal.
type ImportRowStatus string

const (
	RowAdded   ImportRowStatus = "Added"
	RowUpdated ImportRowStatus = "Updated"
	RowError   ImportRowStatus = "Error"
)

// ImportRowResult is one per-row outcome reported by an import run. SiteCode
// may be empty when the portal reported a general, non-row-specific error.
// Success mirrors Status != RowError; the rows originate from scraped markup
// so both signals are kept.
type ImportRowResult struct {
	SiteCode string          `json:"site_code"`
	Status   ImportRowStatus `json:"status"`
	Message  string          `json:"message"`
	Success  bool            `json:"success"`
}

// Valid reports whether the row carries a recognized status. Rows are
// validated at the importer boundary before reconciliation runs.
func (r ImportRowResult) Valid() bool {
	switch r.Status {
	case RowAdded, RowUpdated, RowError:
		return true
	}
	return false
}

// ImportResult is the full outcome of one import run against the portal.
// OK mirrors "zero error rows"; a structural failure is signalled by the
// importer returning an error instead of a result.
type ImportResult struct {
	OK             bool              `json:"ok"`
	Message        string            `json:"message"`
	ScreenshotPath string            `json:"screenshot_path,omitempty"`
	Rows           []ImportRowResult `json:"rows,omitempty"`
}
