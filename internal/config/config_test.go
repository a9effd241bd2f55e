package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

database:
  url: "postgres://localhost:5432/epay?sslmode=disable"
  max_open_conns: 20

epay:
  corp_id: "CORP123"
  login_id: "importer"
  template: "Site Employee Defaults"
  headless: true
  step_timeout_seconds: 45

batch:
  csv_dir: "./test-imports"
  default_task: "T1"
  default_shift: "S1"

worker:
  sweep_interval_seconds: 15
  stale_running_minutes: 20

rate_limit:
  window_seconds: 90
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Test server config
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	// Test database config
	assert.Equal(t, "postgres://localhost:5432/epay?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)

	// Test EPAY config
	assert.Equal(t, "CORP123", cfg.Epay.CorpID)
	assert.Equal(t, "importer", cfg.Epay.LoginID)
	assert.True(t, cfg.Epay.Headless)
	assert.Equal(t, 45*time.Second, cfg.Epay.StepTimeout())

	// Test batch config
	assert.Equal(t, "./test-imports", cfg.Batch.CSVDir)
	assert.Equal(t, "T1", cfg.Batch.DefaultTask)
	assert.Equal(t, "S1", cfg.Batch.DefaultShift)

	// Test worker config
	assert.Equal(t, 15*time.Second, cfg.Worker.SweepInterval())
	assert.Equal(t, 20*time.Minute, cfg.Worker.StaleRunningAge())

	// Test rate limit config
	assert.Equal(t, 90*time.Second, cfg.RateLimit.Window())
}

func TestLoadDefaults(t *testing.T) {
	// Create a minimal config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
epay:
  corp_id: "CORP123"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Verify defaults are applied
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "Site Employee Defaults", cfg.Epay.Template)
	assert.Equal(t, "./data/epay-profile", cfg.Epay.UserDataDir)
	assert.Equal(t, 30*time.Second, cfg.Epay.StepTimeout())
	assert.Equal(t, 60*time.Second, cfg.Epay.ResultsTimeout())
	assert.Equal(t, "./data/imports", cfg.Batch.CSVDir)
	assert.Equal(t, "Y", cfg.Batch.DefaultActive)
	assert.Equal(t, 30*time.Second, cfg.Worker.SweepInterval())
	assert.Equal(t, 5, cfg.Worker.SweepLimit)
	assert.Equal(t, 10*time.Minute, cfg.Worker.StaleRunningAge())
	assert.Equal(t, 60*time.Second, cfg.RateLimit.Window())
	assert.Equal(t, "epay_session", cfg.Auth.CookieName)
	assert.Equal(t, 86400, cfg.Auth.CookieMaxAge)
}

func TestLoadFromEnv(t *testing.T) {
	// Create a minimal config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database:
  url: "postgres://file-host/epay"

epay:
  corp_id: "FILE_CORP"
  password: "file-pass"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	// Set environment variables
	os.Setenv("DATABASE_URL", "postgres://env-host/epay")
	os.Setenv("EPAY_CORP_ID", "ENV_CORP")
	os.Setenv("EPAY_PASSWORD", "env-pass")
	os.Setenv("EPAY_HEADLESS", "true")
	defer func() {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("EPAY_CORP_ID")
		os.Unsetenv("EPAY_PASSWORD")
		os.Unsetenv("EPAY_HEADLESS")
	}()

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	// Environment variables should override file values
	assert.Equal(t, "postgres://env-host/epay", cfg.Database.URL)
	assert.Equal(t, "ENV_CORP", cfg.Epay.CorpID)
	assert.Equal(t, "env-pass", cfg.Epay.Password)
	assert.True(t, cfg.Epay.Headless)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestRedisAddrEnablesRedis(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 8080\n"), 0644))

	os.Setenv("REDIS_ADDR", "redis-host:6379")
	defer os.Unsetenv("REDIS_ADDR")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis-host:6379", cfg.Redis.Addr)
}
