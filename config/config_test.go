package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("FACILITATOR_URL", "https://facilitator.example.com")
	t.Setenv("ROUTING_URL", "https://router.example.com")
	t.Setenv("ROUTING_RATE_LIMIT", "3.5")
	t.Setenv("BRIDGE_POLL_INTERVAL", "2s")
	t.Setenv("CHAIN_RPC_URLS", "base=https://rpc.base.example,ethereum=https://rpc.eth.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://facilitator.example.com", cfg.Facilitator.URL)
	assert.Equal(t, 30*time.Second, cfg.Facilitator.Timeout)
	assert.Equal(t, 5.0, cfg.Facilitator.RateLimit)
	assert.Equal(t, 3.5, cfg.Routing.RateLimit)
	assert.Equal(t, 100, cfg.Routing.PerMinuteCap)
	assert.Equal(t, 2*time.Second, cfg.Bridge.PollInterval)
	assert.Equal(t, 0.015, cfg.Bridge.Slippage)
	assert.Equal(t, "https://rpc.base.example", cfg.Chain.RPCURLs["base"])
	assert.Equal(t, "https://rpc.eth.example", cfg.Chain.RPCURLs["ethereum"])
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("FACILITATOR_URL", "placeholder")
	os.Unsetenv("FACILITATOR_URL")
	t.Setenv("ROUTING_URL", "https://router.example.com")

	_, err := Load()
	require.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.Facilitator.RateLimit = 5
		cfg.Routing.RateLimit = 2
		cfg.Bridge.Slippage = 0.015
		cfg.Bridge.PollInterval = 5 * time.Second
		cfg.Bridge.MaxPollAttempts = 60
		return cfg
	}

	cases := map[string]func(*Config){
		"zero facilitator rate": func(c *Config) { c.Facilitator.RateLimit = 0 },
		"negative routing rate": func(c *Config) { c.Routing.RateLimit = -1 },
		"slippage at 100%":      func(c *Config) { c.Bridge.Slippage = 1 },
		"negative slippage":     func(c *Config) { c.Bridge.Slippage = -0.01 },
		"zero poll attempts":    func(c *Config) { c.Bridge.MaxPollAttempts = 0 },
		"zero poll interval":    func(c *Config) { c.Bridge.PollInterval = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}

	require.NoError(t, base().Validate())
}
