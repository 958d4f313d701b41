// Package config loads service settings from an optional yaml file, then applies
// environment overrides. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vrpdicho/internal/dicho"
)

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
	RedisURL    string `yaml:"redis_url"`

	// RateRPS <= 0 disables rate limiting.
	RateRPS   float64 `yaml:"rate_rps"`
	RateBurst int     `yaml:"rate_burst"`

	WebhookMaxAttempts int `yaml:"webhook_max_attempts"`

	// AuthMode is none, token or hmac.
	AuthMode       string `yaml:"auth_mode"`
	AuthHMACSecret string `yaml:"auth_hmac_secret"`
	// AuthTokens lists token=subject[:role] entries, comma separated.
	AuthTokens string `yaml:"auth_tokens"`

	// SolveBudget is the solver time budget when an instance sets no duration.
	SolveBudget time.Duration `yaml:"solve_budget"`
	// MaxConcurrentJobs bounds the jobs solving at once.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`

	Dicho dicho.Options `yaml:"dicho"`
}

func Default() *Config {
	return &Config{
		Port:               "8080",
		RateBurst:          20,
		WebhookMaxAttempts: 10,
		SolveBudget:        2 * time.Second,
		MaxConcurrentJobs:  2,
		Dicho:              dicho.DefaultOptions(),
	}
}

// Load reads path when it is set and exists, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("invalid config file %s: %w", path, err)
			}
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.validate()
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); strings.TrimSpace(v) != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("AUTH_MODE"); v != "" {
		cfg.AuthMode = v
	}
	if v := os.Getenv("AUTH_HMAC_SECRET"); v != "" {
		cfg.AuthHMACSecret = v
	}
	if v := os.Getenv("AUTH_TOKENS"); v != "" {
		cfg.AuthTokens = v
	}
	if v := os.Getenv("RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_RPS: %w", err)
		}
		cfg.RateRPS = f
	}
	ints := []struct {
		name string
		dst  *int
	}{
		{"RATE_BURST", &cfg.RateBurst},
		{"WEBHOOK_MAX_ATTEMPTS", &cfg.WebhookMaxAttempts},
		{"MAX_CONCURRENT_JOBS", &cfg.MaxConcurrentJobs},
		{"DICHO_DIVISION_VEC_LIMIT", &cfg.Dicho.DivisionVecLimit},
	}
	for _, it := range ints {
		v := os.Getenv(it.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", it.name, err)
		}
		*it.dst = n
	}
	if v := os.Getenv("SOLVE_BUDGET"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SOLVE_BUDGET: %w", err)
		}
		cfg.SolveBudget = d
	}
	return nil
}

func (c *Config) validate() error {
	if c.DatabaseURL != "" && c.SQLitePath != "" {
		return fmt.Errorf("config: set only one of database_url and sqlite_path")
	}
	if c.RateRPS > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("config: rate_burst must be positive when rate_rps is set")
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 1
	}
	if c.WebhookMaxAttempts <= 0 {
		c.WebhookMaxAttempts = 10
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}
