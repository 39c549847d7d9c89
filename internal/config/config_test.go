package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	var got *Config
	cmd := NewCommand("test", func(_ context.Context, cfg *Config) error {
		got = cfg
		return nil
	})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return got, err
}

func TestDefaults(t *testing.T) {
	cfg, err := execute(t)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, "memory", cfg.DatabaseDriver)
	assert.Equal(t, 5*time.Second, cfg.DecayInterval)
	assert.Equal(t, 60*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 3*time.Second, cfg.WriteTimeout)
	assert.False(t, cfg.EnforceAdmin)
}

func TestFlags(t *testing.T) {
	cfg, err := execute(t, "--port", "9000", "--enforce_admin", "--decay-interval", "1s",
		"--database-driver", "sqlite", "--database-dsn", "rooms.db")
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.True(t, cfg.EnforceAdmin)
	assert.Equal(t, time.Second, cfg.DecayInterval)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POKER_PORT", "7070")
	t.Setenv("POKER_PUBLIC_URL", "https://poker.example.com")

	cfg, err := execute(t)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "https://poker.example.com", cfg.PublicURL)

	// flags win over the environment
	cfg, err = execute(t, "--port", "7071")
	require.NoError(t, err)
	assert.Equal(t, 7071, cfg.Port)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Port: 8080, PublicURL: "http://localhost:8080", DatabaseDriver: "memory",
			DecayInterval: time.Second, ReadTimeout: time.Second, WriteTimeout: time.Second,
			SubscriptionBuffer: 1,
		}
	}
	ok := valid()
	require.NoError(t, ok.Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Port = 0 }},
		{"driver", func(c *Config) { c.DatabaseDriver = "oracle" }},
		{"dsn", func(c *Config) { c.DatabaseDriver = "postgres" }},
		{"public url", func(c *Config) { c.PublicURL = "localhost" }},
		{"decay", func(c *Config) { c.DecayInterval = 0 }},
		{"timeout", func(c *Config) { c.WriteTimeout = 0 }},
		{"buffer", func(c *Config) { c.SubscriptionBuffer = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
