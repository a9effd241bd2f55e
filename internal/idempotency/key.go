// Package idempotency derives the stable fingerprint that deduplicates
// batch resubmissions.
//
// Two submissions with the same payroll id and the same *set* of site codes
// (order-insensitive, duplicates ignored) always produce the same key, so
// the unique constraint on batches.idempotency_key resolves a resubmission
// to the existing batch instead of creating a second one.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

type keyPayload struct {
	PayrollID string   `json:"payrollId"`
	Jobs      []string `json:"jobs"`
}

// DeriveKey returns the hex-encoded SHA-256 fingerprint of (payrollID, site
// set). Sites are trimmed, deduplicated and sorted lexicographically before
// hashing, so input order and duplicate repetition never change the key.
func DeriveKey(payrollID string, sites []string) string {
	seen := make(map[string]bool, len(sites))
	jobs := make([]string, 0, len(sites))
	for _, s := range sites {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		jobs = append(jobs, s)
	}
	sort.Strings(jobs)

	payload, _ := json.Marshal(keyPayload{PayrollID: payrollID, Jobs: jobs})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
