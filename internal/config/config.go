package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Database  DatabaseConfig  `envPrefix:"DATABASE_"`
	Embedding EmbeddingConfig `envPrefix:"EMBEDDING_"`
	Match     MatchConfig     `envPrefix:"MATCH_"`
	Log       LogConfig       `envPrefix:"LOG_"`
	Web       WebConfig       `envPrefix:"WEB_"`
}

type DatabaseConfig struct {
	URL           string `env:"URL"`                             // PostgreSQL connection URL
	MaxOpenConns  int    `env:"MAX_OPEN_CONNS" envDefault:"25"` // Maximum open connections
	MaxIdleConns  int    `env:"MAX_IDLE_CONNS" envDefault:"5"`  // Maximum idle connections
	HNSWIndexPath string `env:"HNSW_INDEX_PATH"`               // Path to persist the lookalike HNSW index (optional)
}

// Redacted returns the connection URL with the password masked, for logging.
func (c *DatabaseConfig) Redacted() string {
	u, err := url.Parse(c.URL)
	if err != nil || u.User == nil {
		return c.URL
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

type EmbeddingConfig struct {
	URL         string  `env:"URL" envDefault:"http://localhost:8000"`
	Model       string  `env:"MODEL" envDefault:"face"`
	Dim         int     `env:"DIM" envDefault:"128"`
	MinDetScore float64 `env:"MIN_DET_SCORE" envDefault:"0.5"`
}

type MatchConfig struct {
	Threshold          float64 `env:"THRESHOLD" envDefault:"0.6"`
	MaxSamples         int     `env:"MAX_SAMPLES" envDefault:"3"`
	LookalikeThreshold float64 `env:"LOOKALIKE_THRESHOLD" envDefault:"0"` // 0 disables the lookalike guard
	Concurrency        int     `env:"CONCURRENCY" envDefault:"20"`
}

type LogConfig struct {
	Level int    `env:"LEVEL" envDefault:"1"`
	Dir   string `env:"DIR"` // empty logs to stdout only
}

type WebConfig struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"8080"`
	// AllowedOrigins lists extra CORS origins, comma separated
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would break matching or storage.
func (c *Config) Validate() error {
	var errs []error
	if c.Embedding.Dim <= 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_DIM must be positive, got %d", c.Embedding.Dim))
	}
	if c.Match.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_THRESHOLD must be positive, got %g", c.Match.Threshold))
	}
	if c.Match.MaxSamples < 1 {
		errs = append(errs, fmt.Errorf("MATCH_MAX_SAMPLES must be at least 1, got %d", c.Match.MaxSamples))
	}
	if c.Match.LookalikeThreshold < 0 {
		errs = append(errs, fmt.Errorf("MATCH_LOOKALIKE_THRESHOLD must not be negative, got %g", c.Match.LookalikeThreshold))
	}
	if c.Match.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("MATCH_CONCURRENCY must be at least 1, got %d", c.Match.Concurrency))
	}
	return errors.Join(errs...)
}
