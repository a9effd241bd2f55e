package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/epay-batch/internal/config"
	"github.com/ignite/epay-batch/internal/importer"
)

// Refreshes the persistent browser profile used by the importer. Run this
// headful on the host whenever the portal session expires: it performs the
// credential login and leaves the browser open for any manual verification
// steps, then persists the session into the profile directory.
func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Epay.CorpID == "" || cfg.Epay.LoginID == "" || cfg.Epay.Password == "" {
		log.Fatal("EPAY credentials are required (EPAY_CORP_ID, EPAY_LOGIN_ID, EPAY_PASSWORD)")
	}

	if err := os.MkdirAll(cfg.Epay.UserDataDir, 0o755); err != nil {
		log.Fatalf("Failed to create profile dir: %v", err)
	}

	epay := importer.NewEpayImporter(importer.EpayConfig{
		LoginURL:      cfg.Epay.LoginURL,
		ImportsURL:    cfg.Epay.ImportsURL,
		ImportsWebURL: cfg.Epay.ImportsWebURL,
		CorpID:        cfg.Epay.CorpID,
		LoginID:       cfg.Epay.LoginID,
		Password:      cfg.Epay.Password,
		Template:      cfg.Epay.Template,
		UserDataDir:   cfg.Epay.UserDataDir,
		// Always headful: this flow exists for a human to watch and, if
		// needed, finish interactively.
		Headless:       false,
		StepTimeout:    cfg.Epay.StepTimeout(),
		ResultsTimeout: cfg.Epay.ResultsTimeout(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-done
		log.Println("Interrupted")
		cancel()
	}()

	log.Printf("Opening portal login (profile: %s)", cfg.Epay.UserDataDir)
	if err := epay.SetupLogin(ctx); err != nil {
		log.Fatalf("Setup login failed: %v", err)
	}
	log.Println("Storage state refreshed")
}
