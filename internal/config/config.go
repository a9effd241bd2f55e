package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Epay      EpayConfig      `yaml:"epay"`
	Batch     BatchConfig     `yaml:"batch"`
	Worker    WorkerConfig    `yaml:"worker"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the PostgreSQL connection settings
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the optional Redis settings used for the process-level
// importer guard. Disabled deployments fall back to PG advisory locks.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
}

// EpayConfig holds EPAY portal endpoints, credentials and browser settings
type EpayConfig struct {
	LoginURL              string `yaml:"login_url"`
	ImportsURL            string `yaml:"imports_url"`
	ImportsWebURL         string `yaml:"imports_web_url"`
	CorpID                string `yaml:"corp_id"`
	LoginID               string `yaml:"login_id"`
	Password              string `yaml:"password"`
	Template              string `yaml:"template"`
	UserDataDir           string `yaml:"user_data_dir"`
	Headless              bool   `yaml:"headless"`
	StepTimeoutSeconds    int    `yaml:"step_timeout_seconds"`
	ResultsTimeoutSeconds int    `yaml:"results_timeout_seconds"`
}

// StepTimeout returns the per-interaction timeout as a duration
func (c EpayConfig) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutSeconds) * time.Second
}

// ResultsTimeout returns the results-grid wait timeout as a duration
func (c EpayConfig) ResultsTimeout() time.Duration {
	return time.Duration(c.ResultsTimeoutSeconds) * time.Second
}

// BatchConfig holds CSV artifact settings and the import row defaults
type BatchConfig struct {
	CSVDir         string `yaml:"csv_dir"`
	ScreenshotsDir string `yaml:"screenshots_dir"`
	DefaultTask    string `yaml:"default_task"`
	DefaultShift   string `yaml:"default_shift"`
	DefaultActive  string `yaml:"default_active"`
}

// WorkerConfig holds queue recovery timing
type WorkerConfig struct {
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	SweepLimit           int `yaml:"sweep_limit"`
	StaleRunningMinutes  int `yaml:"stale_running_minutes"`
}

// SweepInterval returns the sweeper tick as a duration
func (c WorkerConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// StaleRunningAge returns how long a Running batch may sit before recovery
func (c WorkerConfig) StaleRunningAge() time.Duration {
	return time.Duration(c.StaleRunningMinutes) * time.Minute
}

// RateLimitConfig holds per-user submit throttling
type RateLimitConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
}

// Window returns the throttle window as a duration
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// AuthConfig holds Google OAuth authentication configuration
type AuthConfig struct {
	Enabled            bool   `yaml:"enabled"`
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	RedirectURL        string `yaml:"redirect_url"`
	AllowedDomain      string `yaml:"allowed_domain"`
	SessionSecret      string `yaml:"session_secret"`
	CookieName         string `yaml:"cookie_name"`
	CookieMaxAge       int    `yaml:"cookie_max_age"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Epay.Template == "" {
		cfg.Epay.Template = "Site Employee Defaults"
	}
	if cfg.Epay.UserDataDir == "" {
		cfg.Epay.UserDataDir = "./data/epay-profile"
	}
	if cfg.Epay.StepTimeoutSeconds == 0 {
		cfg.Epay.StepTimeoutSeconds = 30
	}
	if cfg.Epay.ResultsTimeoutSeconds == 0 {
		cfg.Epay.ResultsTimeoutSeconds = 60
	}
	if cfg.Batch.CSVDir == "" {
		cfg.Batch.CSVDir = "./data/imports"
	}
	if cfg.Batch.ScreenshotsDir == "" {
		cfg.Batch.ScreenshotsDir = "./data/screenshots"
	}
	if cfg.Batch.DefaultActive == "" {
		cfg.Batch.DefaultActive = "Y"
	}
	if cfg.Worker.SweepIntervalSeconds == 0 {
		cfg.Worker.SweepIntervalSeconds = 30
	}
	if cfg.Worker.SweepLimit == 0 {
		cfg.Worker.SweepLimit = 5
	}
	if cfg.Worker.StaleRunningMinutes == 0 {
		cfg.Worker.StaleRunningMinutes = 10
	}
	if cfg.RateLimit.WindowSeconds == 0 {
		cfg.RateLimit.WindowSeconds = 60
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "epay_session"
	}
	if cfg.Auth.CookieMaxAge == 0 {
		cfg.Auth.CookieMaxAge = 86400
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("EPAY_CORP_ID"); v != "" {
		cfg.Epay.CorpID = v
	}
	if v := os.Getenv("EPAY_LOGIN_ID"); v != "" {
		cfg.Epay.LoginID = v
	}
	if v := os.Getenv("EPAY_PASSWORD"); v != "" {
		cfg.Epay.Password = v
	}
	if v := os.Getenv("EPAY_LOGIN_URL"); v != "" {
		cfg.Epay.LoginURL = v
	}
	if v := os.Getenv("EPAY_USER_DATA_DIR"); v != "" {
		cfg.Epay.UserDataDir = v
	}
	if v := os.Getenv("EPAY_HEADLESS"); v != "" {
		if headless, err := strconv.ParseBool(v); err == nil {
			cfg.Epay.Headless = headless
		}
	}
	if v := os.Getenv("CSV_DIR"); v != "" {
		cfg.Batch.CSVDir = v
	}
	if v := os.Getenv("SCREENSHOTS_DIR"); v != "" {
		cfg.Batch.ScreenshotsDir = v
	}

	// Auth overrides
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Auth.GoogleClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Auth.GoogleClientSecret = v
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.Auth.SessionSecret = v
	}
	if v := os.Getenv("AUTH_ALLOWED_DOMAIN"); v != "" {
		cfg.Auth.AllowedDomain = v
	}

	return cfg, nil
}
