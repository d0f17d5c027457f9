// Package config loads engine configuration from the environment, with
// optional .env support for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config is the full runtime configuration of the payment engine.
type Config struct {
	LogLevel string `env:"PAYWIRE_LOG_LEVEL" envDefault:"info"`

	Facilitator struct {
		URL     string        `env:"FACILITATOR_URL,required"`
		APIKey  string        `env:"FACILITATOR_API_KEY"`
		Timeout time.Duration `env:"FACILITATOR_TIMEOUT" envDefault:"30s"`
		// Sustained request rate against the facilitator, tokens/second.
		RateLimit float64 `env:"FACILITATOR_RATE_LIMIT" envDefault:"5"`
	}

	Routing struct {
		URL     string        `env:"ROUTING_URL,required"`
		APIKey  string        `env:"ROUTING_API_KEY"`
		Timeout time.Duration `env:"ROUTING_TIMEOUT" envDefault:"30s"`
		// Routers publish hard per-minute quotas in addition to sustained rates.
		RateLimit    float64 `env:"ROUTING_RATE_LIMIT" envDefault:"2"`
		PerMinuteCap int     `env:"ROUTING_PER_MINUTE_CAP" envDefault:"100"`
	}

	Chain struct {
		// RPC endpoints keyed by network name, e.g. "base=https://...".
		RPCURLs   map[string]string `env:"CHAIN_RPC_URLS" envSeparator:","`
		RateLimit float64           `env:"CHAIN_RATE_LIMIT" envDefault:"10"`
	}

	Bridge struct {
		// Slippage tolerance applied when solving a source amount from a
		// required destination amount.
		Slippage        float64       `env:"BRIDGE_SLIPPAGE" envDefault:"0.015"`
		PollInterval    time.Duration `env:"BRIDGE_POLL_INTERVAL" envDefault:"5s"`
		MaxPollAttempts int           `env:"BRIDGE_MAX_POLL_ATTEMPTS" envDefault:"60"`
		ApprovalTimeout time.Duration `env:"BRIDGE_APPROVAL_TIMEOUT" envDefault:"2m"`
	}
}

// Load reads configuration from the environment. A missing .env file is
// not an error; in production the variables are set directly.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would produce a non-functional or
// unsafe engine.
func (c *Config) Validate() error {
	if c.Facilitator.RateLimit <= 0 {
		return fmt.Errorf("facilitator rate limit must be positive")
	}
	if c.Routing.RateLimit <= 0 {
		return fmt.Errorf("routing rate limit must be positive")
	}
	if c.Bridge.Slippage < 0 || c.Bridge.Slippage >= 1 {
		return fmt.Errorf("bridge slippage must be in [0, 1)")
	}
	if c.Bridge.MaxPollAttempts <= 0 {
		return fmt.Errorf("bridge max poll attempts must be positive")
	}
	if c.Bridge.PollInterval <= 0 {
		return fmt.Errorf("bridge poll interval must be positive")
	}
	return nil
}
