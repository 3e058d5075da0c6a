package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/polyglot/pkg/models"
)

// Config holds all polyglot configuration.
type Config struct {
	Listen         string               `yaml:"listen"`
	API            APIConfig            `yaml:"api"`
	Languages      []string             `yaml:"languages" validate:"min=1,dive,required"`
	Providers      []ProviderConfig     `yaml:"providers" validate:"dive"`
	Cache          CacheConfig          `yaml:"cache"`
	Timeouts       TimeoutConfig        `yaml:"timeouts"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Batch          BatchConfig          `yaml:"batch"`
	Scoring        ScoringConfig        `yaml:"scoring"`
	Limits         LimitsConfig         `yaml:"limits"`
	History        HistoryConfig        `yaml:"history"`
	Log            LogConfig            `yaml:"log"`
}

// ProviderConfig defines one upstream AI backend.
// Type is "openai" (default) or "anthropic".
type ProviderConfig struct {
	ID                string              `yaml:"id" validate:"required"`
	Type              string              `yaml:"type" validate:"omitempty,oneof=openai anthropic"`
	URL               string              `yaml:"url" validate:"omitempty,url"`
	APIKey            string              `yaml:"api_key"`
	Model             string              `yaml:"model"`
	Priority          int                 `yaml:"priority"`
	Tier              models.ProviderTier `yaml:"tier" validate:"omitempty,oneof=premium standard economy"`
	CostWeight        float64             `yaml:"cost_weight" validate:"gte=0"`
	Languages         []string            `yaml:"languages"`
	RequestsPerMinute int                 `yaml:"requests_per_minute" validate:"gte=0"`
	RequestsPerHour   int                 `yaml:"requests_per_hour" validate:"gte=0"`
	AvgLatency        time.Duration       `yaml:"avg_latency"`
	Enabled           *bool               `yaml:"enabled"`
}

// IsEnabled reports whether the provider takes traffic. Providers are enabled
// unless explicitly switched off.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Descriptor converts the provider configuration into its registry record.
func (p ProviderConfig) Descriptor() models.ProviderDescriptor {
	tier := p.Tier
	if tier == "" {
		tier = models.TierStandard
	}
	return models.ProviderDescriptor{
		ID:                p.ID,
		Priority:          p.Priority,
		Languages:         slices.Clone(p.Languages),
		RequestsPerMinute: p.RequestsPerMinute,
		RequestsPerHour:   p.RequestsPerHour,
		CostWeight:        p.CostWeight,
		Tier:              tier,
		AvgLatency:        p.AvgLatency,
		Enabled:           p.IsEnabled(),
	}
}

// CacheConfig controls the result cache. DBPath enables the persistent tier.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	TTL           time.Duration `yaml:"ttl" validate:"gte=0"`
	Capacity      int           `yaml:"capacity" validate:"gte=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gte=0"`
	DBPath        string        `yaml:"db_path"`
}

// TimeoutConfig bounds a single provider call and a whole batch.
type TimeoutConfig struct {
	Call  time.Duration `yaml:"call" validate:"gt=0"`
	Batch time.Duration `yaml:"batch" validate:"gt=0"`
}

// CircuitBreakerConfig controls when a failing provider is taken out of rotation.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" validate:"gte=1"`
	Cooldown         time.Duration `yaml:"cooldown" validate:"gt=0"`
}

// BatchConfig controls batch fan-out.
type BatchConfig struct {
	MaxConcurrency int `yaml:"max_concurrency" validate:"gte=1"`
	MaxSize        int `yaml:"max_size" validate:"gte=1"`
}

// ScoringConfig controls the success-rate bonus in confidence scoring.
type ScoringConfig struct {
	SuccessRateThreshold float64 `yaml:"success_rate_threshold" validate:"gte=0,lte=1"`
	MinSamples           int     `yaml:"min_samples" validate:"gte=0"`
}

// LimitsConfig holds request size limits.
type LimitsConfig struct {
	MaxSourceBytes int `yaml:"max_source_bytes" validate:"gte=0"`
}

// HistoryConfig controls the conversion log. An empty DBPath disables it.
// Records older than Retention are pruned at startup; zero keeps everything.
type HistoryConfig struct {
	DBPath    string        `yaml:"db_path"`
	Retention time.Duration `yaml:"retention" validate:"gte=0"`
}

// APIConfig controls the HTTP front end. A zero RateLimit disables per-client
// throttling.
type APIConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	RateLimit      float64  `yaml:"rate_limit" validate:"gte=0"`
	RateBurst      int      `yaml:"rate_burst" validate:"gte=0"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:    ":8080",
		Languages: slices.Clone(models.DefaultLanguages),
		Cache: CacheConfig{
			Enabled:       true,
			TTL:           15 * time.Minute,
			Capacity:      1000,
			SweepInterval: time.Minute,
		},
		Timeouts: TimeoutConfig{
			Call:  30 * time.Second,
			Batch: 2 * time.Minute,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 3,
			Cooldown:         time.Minute,
		},
		Batch: BatchConfig{
			MaxConcurrency: 4,
			MaxSize:        10,
		},
		Scoring: ScoringConfig{
			SuccessRateThreshold: 0.9,
			MinSamples:           10,
		},
		Limits: LimitsConfig{
			MaxSourceBytes: 1 << 20,
		},
		API: APIConfig{
			AllowedOrigins: []string{"http://localhost:*"},
			RateLimit:      1,
			RateBurst:      10,
		},
		History: HistoryConfig{
			Retention: 30 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML config file and expands environment variables. A .env
// file next to the config is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize lowercases language tags the way requests are normalized.
func (c *Config) normalize() {
	c.Languages = normalizeTags(c.Languages)
	for i := range c.Providers {
		c.Providers[i].Languages = normalizeTags(c.Providers[i].Languages)
	}
}

func normalizeTags(tags []string) []string {
	for i, t := range tags {
		tags[i] = strings.ToLower(strings.TrimSpace(t))
	}
	return tags
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if seen[p.ID] {
			return fmt.Errorf("validate config: duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		for _, lang := range p.Languages {
			if !slices.Contains(c.Languages, lang) {
				return fmt.Errorf("validate config: provider %q lists unsupported language %q", p.ID, lang)
			}
		}
	}
	return nil
}

// Descriptors returns the registry records for every configured provider.
func (c *Config) Descriptors() []models.ProviderDescriptor {
	out := make([]models.ProviderDescriptor, 0, len(c.Providers))
	for _, p := range c.Providers {
		out = append(out, p.Descriptor())
	}
	return out
}
