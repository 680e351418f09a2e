// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml), with ${VAR} expansion
//  2. Environment variables (fallback)
//
// A .env file next to the binary is loaded into the environment first, so
// both paths can pick up its values.
//
// Example usage:
//
//	cfg := config.LoadOrEnv()
//	dbPath := cfg.Storage.DatabasePath
//	threshold := cfg.Matching.AcceptThreshold
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/matcher"
)

// Config represents the entire application configuration
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Matching      MatchingConfig      `yaml:"matching"`
	API           APIConfig           `yaml:"api"`
	Feed          FeedConfig          `yaml:"feed"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// MatchingConfig holds matcher tuning plus pass scheduling
type MatchingConfig struct {
	matcher.Config `yaml:",inline"`

	Concurrency  int `yaml:"concurrency"`   // accounts matched in parallel by RunAll
	StaleRetries int `yaml:"stale_retries"` // stale entities a pass may drop before failing

	// MatchOnIngest runs a pass after each HTTP receipt upload or bank-record push.
	MatchOnIngest  bool          `yaml:"match_on_ingest"`
	TriggerRetries int           `yaml:"trigger_retries"` // busy-account retries for triggered passes
	TriggerBackoff time.Duration `yaml:"trigger_backoff"` // e.g. "200ms"; n-th retry waits n times this
}

// APIConfig holds HTTP server settings
type APIConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// FeedConfig holds the AMQP bank-feed consumer settings
type FeedConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	Queue      string `yaml:"queue"`
	RoutingKey string `yaml:"routing_key"`
	Prefetch   int    `yaml:"prefetch"`
	MatchAfter bool   `yaml:"match_after"` // run a pass after each batch
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the configuration used when nothing overrides a field
func Defaults() *Config {
	return &Config{
		Storage: StorageConfig{DatabasePath: "reconciler.db"},
		Matching: MatchingConfig{
			Config:         matcher.DefaultConfig(),
			Concurrency:    4,
			StaleRetries:   5,
			MatchOnIngest:  true,
			TriggerRetries: 3,
			TriggerBackoff: 200 * time.Millisecond,
		},
		API: APIConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Feed: FeedConfig{
			Exchange:   "bank-feed",
			Queue:      "reconciler.bank-records",
			RoutingKey: "bank.records",
			Prefetch:   10,
			MatchAfter: true,
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{Level: "info", Format: "text"},
		},
	}
}

// Load reads and parses the config file. Fields the file omits keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${RECONCILER_DB_PATH})
	expanded := os.ExpandEnv(string(data))

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	cfg := Defaults()
	m := &cfg.Matching

	cfg.Storage.DatabasePath = getEnv("RECONCILER_DB_PATH", cfg.Storage.DatabasePath)

	m.AmountTolerance = getEnvFloat("RECONCILER_AMOUNT_TOLERANCE", m.AmountTolerance)
	m.AmountSlackPercent = getEnvFloat("RECONCILER_AMOUNT_SLACK_PERCENT", m.AmountSlackPercent)
	m.DateTolerance = getEnvInt("RECONCILER_DATE_TOLERANCE_DAYS", m.DateTolerance)
	m.AcceptThreshold = getEnvFloat("RECONCILER_ACCEPT_THRESHOLD", m.AcceptThreshold)
	m.CandidateFloor = getEnvFloat("RECONCILER_CANDIDATE_FLOOR", m.CandidateFloor)
	m.MaxMissCycles = getEnvInt("RECONCILER_MAX_MISS_CYCLES", m.MaxMissCycles)
	m.Concurrency = getEnvInt("RECONCILER_CONCURRENCY", m.Concurrency)
	m.MatchOnIngest = getEnvBool("RECONCILER_MATCH_ON_INGEST", m.MatchOnIngest)

	cfg.API.Port = getEnvInt("RECONCILER_PORT", cfg.API.Port)
	if origins := os.Getenv("RECONCILER_ALLOWED_ORIGINS"); origins != "" {
		cfg.API.AllowedOrigins = splitList(origins)
	}

	cfg.Feed.URL = getEnv("RECONCILER_AMQP_URL", cfg.Feed.URL)
	cfg.Feed.Queue = getEnv("RECONCILER_AMQP_QUEUE", cfg.Feed.Queue)

	cfg.Observability.Logging.Level = getEnv("LOG_LEVEL", cfg.Observability.Logging.Level)
	cfg.Observability.Logging.Format = getEnv("LOG_FORMAT", cfg.Observability.Logging.Format)
	return cfg
}

// LoadOrEnv tries to load from config.yaml, falls back to environment variables
func LoadOrEnv() *Config {
	return LoadOrEnvWithPath("config.yaml")
}

// LoadOrEnvWithPath tries to load from specified path, falls back to environment variables
func LoadOrEnvWithPath(path string) *Config {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

// Validate checks the configuration before anything is started
func (c *Config) Validate() error {
	var errs []error
	if c.Storage.DatabasePath == "" {
		errs = append(errs, errors.New("storage.database_path is required"))
	}
	if err := c.Matching.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("matching: %w", err))
	}
	if c.Matching.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("matching.concurrency must be > 0, got %d", c.Matching.Concurrency))
	}
	if c.Matching.StaleRetries < 0 {
		errs = append(errs, fmt.Errorf("matching.stale_retries must be >= 0, got %d", c.Matching.StaleRetries))
	}
	if c.Matching.TriggerRetries < 0 || c.Matching.TriggerBackoff < 0 {
		errs = append(errs, errors.New("matching.trigger_retries and matching.trigger_backoff must be >= 0"))
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port out of range: %d", c.API.Port))
	}
	if c.Feed.Prefetch < 0 {
		errs = append(errs, fmt.Errorf("feed.prefetch must be >= 0, got %d", c.Feed.Prefetch))
	}
	return errors.Join(errs...)
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if result, err := strconv.Atoi(val); err == nil {
			return result
		}
	}
	return fallback
}

// getEnvFloat retrieves a float environment variable with a fallback default
func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if result, err := strconv.ParseFloat(val, 64); err == nil {
			return result
		}
	}
	return fallback
}

// getEnvBool retrieves a boolean environment variable with a fallback default
func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if result, err := strconv.ParseBool(val); err == nil {
			return result
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
