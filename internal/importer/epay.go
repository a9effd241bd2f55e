package importer

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/ignite/epay-batch/internal/domain"
)

// =============================================================================
// EPAY IMPORTER - Browser-Automated DECConfig Import
// =============================================================================
// Drives the EPAY TLM portal's "Imports From Web" flow for one CSV artifact:
// login (reusing the persistent browser profile when the session is still
// valid), template selection, file upload, and result-table scraping. Each
// ImportCSV call is one full attempt in a fresh browser session; the
// relaunch-once policy lives in the WithRetry decorator.

// EpayConfig holds portal endpoints, credentials and local paths for the
// browser-automated importer.
type EpayConfig struct {
	LoginURL      string
	ImportsURL    string
	ImportsWebURL string
	CorpID        string
	LoginID       string
	Password      string
	Template      string

	// UserDataDir is the persistent Chrome profile carrying the portal
	// session between runs (the storage-state analog).
	UserDataDir    string
	ScreenshotsDir string
	Headless       bool

	// StepTimeout bounds each navigation/interaction; ResultsTimeout bounds
	// the wait for the results grid after upload.
	StepTimeout    time.Duration
	ResultsTimeout time.Duration
}

func (c *EpayConfig) applyDefaults() {
	if c.LoginURL == "" {
		c.LoginURL = "https://tlm.epaysystems.com/DECConfig/V7.3.1.3/Login.aspx?ReturnUrl=%2fDECConfig%2fV7.3.1.3%2ffrmDECImports.aspx"
	}
	if c.ImportsURL == "" {
		c.ImportsURL = "https://tlm.epaysystems.com/DECConfig/V7.3.1.3/frmDECImports.aspx"
	}
	if c.ImportsWebURL == "" {
		c.ImportsWebURL = "https://tlm.epaysystems.com/DECConfig/V7.3.1.3/frmDECImportFromWeb.aspx"
	}
	if c.Template == "" {
		c.Template = "Site Employee Defaults"
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 30 * time.Second
	}
	if c.ResultsTimeout <= 0 {
		c.ResultsTimeout = 60 * time.Second
	}
}

// EpayImporter is the chromedp-backed Importer implementation.
type EpayImporter struct {
	cfg EpayConfig
}

// NewEpayImporter creates the browser-automated importer.
func NewEpayImporter(cfg EpayConfig) *EpayImporter {
	cfg.applyDefaults()
	return &EpayImporter{cfg: cfg}
}

func (im *EpayImporter) ensureDirs() error {
	for _, dir := range []string{im.cfg.UserDataDir, im.cfg.ScreenshotsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	return nil
}

// newSession launches a fresh browser against the persistent profile. The
// returned cancel tears down both the tab and the allocator.
func (im *EpayImporter) newSession(ctx context.Context) (context.Context, context.CancelFunc) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", im.cfg.Headless),
		chromedp.UserDataDir(im.cfg.UserDataDir),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		taskCancel()
		allocCancel()
	}
	return taskCtx, cancel
}

// ImportCSV performs one full import attempt in a fresh browser session.
func (im *EpayImporter) ImportCSV(ctx context.Context, csvPath string) (*domain.ImportResult, error) {
	if err := im.ensureDirs(); err != nil {
		return nil, err
	}

	taskCtx, cancel := im.newSession(ctx)
	defer cancel()

	targetPayrollID := payrollIDFromPath(csvPath)

	if err := im.loginIfNeeded(taskCtx); err != nil {
		return nil, im.fail(taskCtx, csvPath, fmt.Errorf("login: %w", err))
	}
	rows, err := im.performImport(taskCtx, csvPath, targetPayrollID)
	if err != nil {
		return nil, im.fail(taskCtx, csvPath, err)
	}

	message, ok := Summarize(rows)
	log.Printf("[EpayImporter] Import completed ok=%v rows=%d", ok, len(rows))
	return &domain.ImportResult{OK: ok, Message: message, Rows: rows}, nil
}

// fail captures a diagnostic screenshot before surfacing the error. The
// screenshot path rides along in the log line only; the batch record carries
// the error message.
func (im *EpayImporter) fail(taskCtx context.Context, csvPath string, err error) error {
	if im.cfg.ScreenshotsDir != "" {
		shotCtx, cancel := context.WithTimeout(taskCtx, 10*time.Second)
		defer cancel()

		var buf []byte
		if shotErr := chromedp.Run(shotCtx, chromedp.FullScreenshot(&buf, 90)); shotErr == nil {
			name := fmt.Sprintf("%s_%d.png", payrollIDFromPath(csvPath), time.Now().UnixMilli())
			path := filepath.Join(im.cfg.ScreenshotsDir, name)
			if writeErr := os.WriteFile(path, buf, 0o644); writeErr == nil {
				log.Printf("[EpayImporter] Import failed, screenshot saved path=%s err=%v", path, err)
				return &StructuralError{Err: err, ScreenshotPath: path}
			}
		}
	}
	log.Printf("[EpayImporter] Import failed err=%v", err)
	return &StructuralError{Err: err}
}

func (im *EpayImporter) loginIfNeeded(taskCtx context.Context) error {
	stepCtx, cancel := context.WithTimeout(taskCtx, im.cfg.StepTimeout)
	defer cancel()

	var needsLogin bool
	err := chromedp.Run(stepCtx,
		chromedp.Navigate(im.cfg.LoginURL),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(`(() => {
			const el = document.querySelector('#txtCorpID');
			return el !== null && el.offsetParent !== null;
		})()`, &needsLogin),
	)
	if err != nil {
		return fmt.Errorf("open login page: %w", err)
	}

	if needsLogin {
		log.Printf("[EpayImporter] Logging into DECConfig imports portal")
		err = chromedp.Run(stepCtx,
			chromedp.SendKeys("#txtCorpID", im.cfg.CorpID, chromedp.ByID),
			chromedp.SendKeys("#txtLoginID", im.cfg.LoginID, chromedp.ByID),
			chromedp.SendKeys("#txtPassword", im.cfg.Password+kb.Enter, chromedp.ByID),
			chromedp.WaitReady("body"),
		)
		if err != nil {
			return fmt.Errorf("submit credentials: %w", err)
		}
	}

	var onImports bool
	if err := chromedp.Run(stepCtx, chromedp.Evaluate(
		`window.location.href.toLowerCase().includes('frmdecimports')`, &onImports,
	)); err != nil {
		return fmt.Errorf("check landing page: %w", err)
	}
	if !onImports {
		if err := chromedp.Run(stepCtx, chromedp.Navigate(im.cfg.ImportsURL), chromedp.WaitReady("body")); err != nil {
			return fmt.Errorf("open imports module: %w", err)
		}
	}
	return nil
}

func (im *EpayImporter) performImport(taskCtx context.Context, csvPath, targetPayrollID string) ([]domain.ImportRowResult, error) {
	stepCtx, cancel := context.WithTimeout(taskCtx, im.cfg.StepTimeout)

	err := chromedp.Run(stepCtx,
		chromedp.Navigate(im.cfg.ImportsURL),
		chromedp.WaitReady("body"),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open imports module: %w", err)
	}

	// Some installations interpose an Integration Control Panel login.
	var icpVisible bool
	_ = chromedp.Run(stepCtx, chromedp.Evaluate(
		`document.body.innerText.includes('Integration Control Panel Login')`, &icpVisible,
	))
	if icpVisible {
		log.Printf("[EpayImporter] Integration Control Panel login detected, authenticating again")
		var filled bool
		err = chromedp.Run(stepCtx, chromedp.Evaluate(fmt.Sprintf(`(() => {
			const texts = Array.from(document.querySelectorAll('form input[type="text"]'));
			const pass = document.querySelector('input[type="password"]');
			if (texts.length < 2 || !pass) return false;
			const set = (el, v) => {
				el.value = v;
				el.dispatchEvent(new Event('input', { bubbles: true }));
				el.dispatchEvent(new Event('change', { bubbles: true }));
			};
			set(texts[0], %q);
			set(texts[1], %q);
			set(pass, %q);
			const btn = Array.from(document.querySelectorAll('button, input[type="submit"]'))
				.find(b => /login/i.test(b.textContent || b.value || ''));
			if (!btn) return false;
			btn.click();
			return true;
		})()`, im.cfg.CorpID, im.cfg.LoginID, im.cfg.Password), &filled))
		if err != nil || !filled {
			cancel()
			return nil, fmt.Errorf("integration control panel login failed: %v", err)
		}
		if err := chromedp.Run(stepCtx, chromedp.WaitReady("body")); err != nil {
			cancel()
			return nil, fmt.Errorf("integration control panel login: %w", err)
		}
	}

	log.Printf("[EpayImporter] Opening Imports From Web page")
	err = chromedp.Run(stepCtx,
		chromedp.Navigate(im.cfg.ImportsWebURL),
		chromedp.WaitReady("body"),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open imports-from-web page: %w", err)
	}

	log.Printf("[EpayImporter] Selecting import template %q", im.cfg.Template)
	var selected bool
	err = chromedp.Run(stepCtx, chromedp.Evaluate(fmt.Sprintf(`(() => {
		const desired = %q.toLowerCase();
		const sel = document.querySelector('select');
		if (!sel) return false;
		const opt = Array.from(sel.options).find(o => o.textContent.trim().toLowerCase() === desired);
		if (!opt) return false;
		sel.value = opt.value;
		sel.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})()`, im.cfg.Template), &selected))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("select template: %w", err)
	}
	if !selected {
		cancel()
		return nil, fmt.Errorf("failed to select template %q", im.cfg.Template)
	}

	log.Printf("[EpayImporter] Uploading CSV path=%s", csvPath)
	err = chromedp.Run(stepCtx,
		chromedp.SetUploadFiles(`input[type="file"]`, []string{csvPath}),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("attach csv: %w", err)
	}

	var clicked bool
	err = chromedp.Run(stepCtx, chromedp.Evaluate(`(() => {
		const btn = Array.from(document.querySelectorAll('button, input[type="submit"], input[type="button"]'))
			.find(b => /upload/i.test(b.textContent || b.value || ''));
		if (!btn) return false;
		btn.click();
		return true;
	})()`, &clicked))
	cancel()
	if err != nil {
		return nil, fmt.Errorf("click upload: %w", err)
	}
	if !clicked {
		return nil, fmt.Errorf("upload button not found")
	}

	return im.waitForResults(taskCtx, targetPayrollID)
}

type scrapeResult struct {
	Ready bool         `json:"ready"`
	Rows  []ScrapedRow `json:"rows"`
}

// waitForResults polls the page until the results grid renders, then scrapes
// and classifies its rows.
func (im *EpayImporter) waitForResults(taskCtx context.Context, targetPayrollID string) ([]domain.ImportRowResult, error) {
	waitCtx, cancel := context.WithTimeout(taskCtx, im.cfg.ResultsTimeout)
	defer cancel()

	const scrapeJS = `(() => {
		const table = document.querySelector('table');
		if (!table) return { ready: false, rows: [] };
		const bodyRows = Array.from(table.querySelectorAll('tbody tr'));
		const rows = bodyRows.map(tr => {
			const cells = tr.querySelectorAll('td');
			if (cells.length === 0) return null;
			return {
				employeeId: (cells[0].textContent || '').trim(),
				siteCode: (cells[1] ? cells[1].textContent || '' : '').trim(),
				reason: (cells[cells.length - 1].textContent || '').trim(),
			};
		}).filter(Boolean);
		return { ready: true, rows };
	})()`

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		var res scrapeResult
		if err := chromedp.Run(waitCtx, chromedp.Evaluate(scrapeJS, &res)); err != nil {
			return nil, fmt.Errorf("scrape results: %w", err)
		}
		if res.Ready {
			return ClassifyRows(res.Rows, targetPayrollID), nil
		}
		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("timed out waiting for import results")
		case <-ticker.C:
		}
	}
}

// SetupLogin runs a no-op login so the persistent browser profile is
// created or refreshed. Used by the admin re-login path.
func (im *EpayImporter) SetupLogin(ctx context.Context) error {
	if err := im.ensureDirs(); err != nil {
		return err
	}
	taskCtx, cancel := im.newSession(ctx)
	defer cancel()

	if err := im.loginIfNeeded(taskCtx); err != nil {
		return fmt.Errorf("setup login: %w", err)
	}
	log.Printf("[EpayImporter] Login state refreshed user_data_dir=%s", im.cfg.UserDataDir)
	return nil
}

// StructuralError is a failed import attempt: no row data was produced. The
// screenshot path, when present, points at the diagnostic capture taken at
// the moment of failure.
type StructuralError struct {
	Err            error
	ScreenshotPath string
}

func (e *StructuralError) Error() string { return e.Err.Error() }
func (e *StructuralError) Unwrap() error { return e.Err }

func payrollIDFromPath(csvPath string) string {
	name := strings.TrimSuffix(filepath.Base(csvPath), filepath.Ext(csvPath))
	parts := strings.Split(name, "_")
	return parts[len(parts)-1]
}
