// Package openai invokes nodes against an OpenAI-compatible chat completions API.
//
// The default endpoint is OpenRouter. Each invocation may run a short tool-call
// loop against a registry.Registry, and every request goes through a rate
// limiter, a circuit breaker and exponential-backoff retries.
package openai

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aretw0/neonflow/pkg/domain"
)

// Defaults applied by DefaultConfig.
const (
	DefaultBaseURL       = "https://openrouter.ai/api/v1"
	DefaultAPIKeyEnv     = "API_KEY"
	DefaultMaxToolRounds = 3
)

// Config holds the transport settings.
type Config struct {
	APIKey  string `yaml:"-" json:"-"`
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Model and Temperature apply when the workflow does not set its own.
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`

	// MaxToolRounds bounds how many tool-call round trips one invocation may take.
	MaxToolRounds int `yaml:"max_tool_rounds" json:"max_tool_rounds"`

	Retry   RetryPolicy   `yaml:"retry" json:"retry"`
	Breaker BreakerConfig `yaml:"breaker" json:"breaker"`

	// RateLimit is the number of requests allowed per RateLimitInterval. 0 disables it.
	RateLimit         int           `yaml:"rate_limit" json:"rate_limit"`
	RateLimitInterval time.Duration `yaml:"rate_limit_interval" json:"rate_limit_interval"`
}

// DefaultConfig returns the OpenRouter defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		Model:             domain.DefaultModel,
		Temperature:       domain.DefaultTemperature,
		MaxToolRounds:     DefaultMaxToolRounds,
		Retry:             DefaultRetryPolicy(),
		Breaker:           DefaultBreakerConfig(),
		RateLimitInterval: time.Minute,
	}
}

// NewConfigFromEnv reads API_KEY and the optional NEONFLOW_BASE_URL,
// NEONFLOW_MODEL and NEONFLOW_RATE_LIMIT overrides on top of DefaultConfig.
func NewConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	cfg.APIKey = os.Getenv(DefaultAPIKeyEnv)
	if v := os.Getenv("NEONFLOW_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("NEONFLOW_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("NEONFLOW_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid NEONFLOW_RATE_LIMIT %q: %w", v, err)
		}
		cfg.RateLimit = n
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required (set %s)", DefaultAPIKeyEnv)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if c.MaxToolRounds < 1 {
		return fmt.Errorf("max_tool_rounds must be at least 1")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateLimitInterval <= 0 {
		return fmt.Errorf("rate_limit_interval must be positive when rate_limit is set")
	}
	return nil
}
