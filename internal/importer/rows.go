package importer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ignite/epay-batch/internal/domain"
)

// DefaultAddedMessage is recorded when the portal reports an added row with
// no reason text of its own.
const DefaultAddedMessage = "Employee added to the site."

var (
	updatePattern = regexp.MustCompile(`(?i)updated|already.*(have|has)|update`)
	addedPattern  = regexp.MustCompile(`(?i)successfully added|has been added|added to the site`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

// ScrapedRow is one raw result-table row pulled out of the portal's markup.
type ScrapedRow struct {
	EmployeeID string `json:"employeeId"`
	SiteCode   string `json:"siteCode"`
	Reason     string `json:"reason"`
}

// ClassifyRows turns scraped result rows into typed outcomes. Rows for other
// payroll ids are dropped when targetPayrollID is non-empty; the results
// grid can still hold rows from a previous import in the same session.
func ClassifyRows(scraped []ScrapedRow, targetPayrollID string) []domain.ImportRowResult {
	out := make([]domain.ImportRowResult, 0, len(scraped))
	for _, row := range scraped {
		if targetPayrollID != "" && row.EmployeeID != "" && row.EmployeeID != targetPayrollID {
			continue
		}
		reason := strings.TrimSpace(spacePattern.ReplaceAllString(row.Reason, " "))

		var status domain.ImportRowStatus
		switch {
		case updatePattern.MatchString(reason):
			status = domain.RowUpdated
		case reason == "" || addedPattern.MatchString(reason):
			status = domain.RowAdded
		default:
			status = domain.RowError
		}

		message := reason
		if status == domain.RowAdded && message == "" {
			message = DefaultAddedMessage
		}
		out = append(out, domain.ImportRowResult{
			SiteCode: strings.TrimSpace(row.SiteCode),
			Status:   status,
			Message:  message,
			Success:  status != domain.RowError,
		})
	}
	return out
}

// Summarize builds the human-readable outcome message for a completed run.
func Summarize(rows []domain.ImportRowResult) (message string, ok bool) {
	var added, updated, errors int
	for _, r := range rows {
		switch r.Status {
		case domain.RowAdded:
			added++
		case domain.RowUpdated:
			updated++
		case domain.RowError:
			errors++
		}
	}

	var parts []string
	if added > 0 {
		parts = append(parts, fmt.Sprintf("Added %d row%s", added, plural(added)))
	}
	if updated > 0 {
		parts = append(parts, fmt.Sprintf("Updated %d row%s", updated, plural(updated)))
	}
	if errors > 0 {
		parts = append(parts, fmt.Sprintf("%d error%s", errors, plural(errors)))
	}
	if len(parts) == 0 {
		return "No changes detected.", true
	}
	return strings.Join(parts, ", ") + ".", errors == 0
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
