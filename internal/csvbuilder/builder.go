// Package csvbuilder writes the CSV artifact consumed by the EPAY DECConfig
// "Site Employee Defaults" import template.
//
// The portal matches the header verbatim, so the header line below must never
// be reformatted. Files are UTF-8 without a BOM; the upload form rejects
// BOM-prefixed files with an unhelpful template-mismatch error.
package csvbuilder

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Header is the exact DECConfig template header, including the double space
// in the IsActive column label.
const Header = "Payroll ID,SITECODE,Default Task,Default Shift,IsActive  [Y/N] (Optional)"

// Defaults are the optional column values applied to every row.
type Defaults struct {
	Task   string
	Shift  string
	Active string
}

// Result describes a written artifact.
type Result struct {
	Path string
	Rows int
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeForFilename replaces filesystem-hostile characters with
// underscores and caps the result at 80 characters.
func SanitizeForFilename(input string) string {
	s := unsafeFilenameChars.ReplaceAllString(input, "_")
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}

// Build writes one CSV artifact under dir for the given payroll id and site
// list and returns its path. Sites are written as submitted, duplicates
// included; deduplication happens on the tracking records, not the artifact.
func Build(dir, payrollID string, sites []string, defaults Defaults) (*Result, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create import dir: %w", err)
	}

	now := time.Now().UTC()
	stamp := fmt.Sprintf("%s%03d", now.Format("20060102_150405"), now.Nanosecond()/1e6)
	filename := fmt.Sprintf("SiteEmployeeDefaults_%s_%s.csv", stamp, SanitizeForFilename(payrollID))
	fullPath := filepath.Join(dir, filename)

	f, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	w.WriteString(Header)
	w.WriteByte('\n')
	for _, site := range sites {
		row := strings.Join([]string{payrollID, site, defaults.Task, defaults.Shift, defaults.Active}, ",")
		w.WriteString(row)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close csv: %w", err)
	}

	return &Result{Path: fullPath, Rows: len(sites)}, nil
}
