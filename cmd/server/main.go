package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/epay-batch/internal/api"
	"github.com/ignite/epay-batch/internal/auth"
	"github.com/ignite/epay-batch/internal/batch"
	"github.com/ignite/epay-batch/internal/config"
	"github.com/ignite/epay-batch/internal/csvbuilder"
	"github.com/ignite/epay-batch/internal/importer"
	"github.com/ignite/epay-batch/internal/pkg/distlock"
	"github.com/ignite/epay-batch/internal/queue"
	"github.com/ignite/epay-batch/internal/repository/postgres"
	"github.com/ignite/epay-batch/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  EPAY Batch Server (cmd/server/main.go)                    ║")
	log.Println("║  Site-code import orchestration for the EPAY TLM portal    ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	// Pre-flight check: verify the target port is available
	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", port)

	// Connect to PostgreSQL
	if cfg.Database.URL == "" {
		log.Fatal("database url is required (config database.url or DATABASE_URL)")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to PostgreSQL")

	// Optional Redis for the cross-process importer guard
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr,
			DB:   cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Printf("Warning: Redis unreachable (%v), falling back to PG advisory lock", err)
			redisClient = nil
		} else {
			log.Printf("Connected to Redis at %s", cfg.Redis.Addr)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The portal browser profile is a stateful singleton: refuse to start a
	// second importer-carrying process.
	const lockTTL = 2 * time.Minute
	guard := distlock.New(redisClient, db, "epay-importer", lockTTL)
	acquired, err := guard.Acquire(ctx)
	if err != nil {
		log.Fatalf("Importer guard check failed: %v", err)
	}
	if !acquired {
		log.Fatal("Another instance already holds the importer guard; refusing to start")
	}
	if rl, ok := guard.(*distlock.RedisLock); ok {
		go distlock.HoldRedis(ctx, rl, lockTTL/3)
	} else {
		defer guard.Release(context.Background())
	}
	log.Println("Importer guard acquired")

	// Ensure artifact directories exist
	for _, dir := range []string{cfg.Batch.CSVDir, cfg.Batch.ScreenshotsDir, cfg.Epay.UserDataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create dir %s: %v", dir, err)
		}
	}

	// Core services
	store := postgres.NewBatchRepo(db)
	q := queue.New()
	limiter := batch.NewRateLimiter(cfg.RateLimit.Window())
	submit := batch.NewSubmitService(store, q, limiter, cfg.Batch.CSVDir, csvbuilder.Defaults{
		Task:   cfg.Batch.DefaultTask,
		Shift:  cfg.Batch.DefaultShift,
		Active: cfg.Batch.DefaultActive,
	})

	epay := importer.NewEpayImporter(importer.EpayConfig{
		LoginURL:       cfg.Epay.LoginURL,
		ImportsURL:     cfg.Epay.ImportsURL,
		ImportsWebURL:  cfg.Epay.ImportsWebURL,
		CorpID:         cfg.Epay.CorpID,
		LoginID:        cfg.Epay.LoginID,
		Password:       cfg.Epay.Password,
		Template:       cfg.Epay.Template,
		UserDataDir:    cfg.Epay.UserDataDir,
		ScreenshotsDir: cfg.Batch.ScreenshotsDir,
		Headless:       cfg.Epay.Headless,
		StepTimeout:    cfg.Epay.StepTimeout(),
		ResultsTimeout: cfg.Epay.ResultsTimeout(),
	})

	// Single-consumer worker; one relaunch per structural failure.
	processor := worker.NewBatchProcessor(store, q, importer.WithRetry(epay))
	if err := processor.Start(); err != nil {
		log.Fatalf("Failed to start batch processor: %v", err)
	}

	sweeper := worker.NewSweeperWithConfig(store, q,
		cfg.Worker.SweepInterval(), cfg.Worker.SweepLimit, cfg.Worker.StaleRunningAge())
	go sweeper.Start(ctx)

	// Re-inject work lost to the previous process before serving traffic.
	sweeper.Sweep(ctx)

	// Authentication
	var authManager *auth.Manager
	if cfg.Auth.Enabled && cfg.Auth.GoogleClientID != "" {
		authManager = auth.NewManager(&cfg.Auth)
		authManager.CleanupExpiredSessions()
		log.Printf("Google OAuth enabled for domain: %s", cfg.Auth.AllowedDomain)
	} else {
		log.Println("Authentication disabled")
	}

	handlers := api.NewHandlers(submit, store, authManager, epay, cfg.Batch.ScreenshotsDir)
	server := api.NewServer(cfg.Server, handlers, authManager)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized — server is ready")

	<-done
	log.Println("Shutting down...")

	// Stop background work first so an in-flight import can commit.
	cancel()
	processor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
