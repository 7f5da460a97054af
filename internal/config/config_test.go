package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Poll.MaxState)
	assert.Equal(t, 10, cfg.Poll.ReinitEvery)
	assert.Equal(t, 30*time.Second, cfg.Poll.Interval)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  port: 9090
  auth_token: secret
  allowed_origins: ["http://example.com"]
search:
  endpoint: https://search.example.com
  query: "hangout named"
  limit: 20
  timeout: 5s
poll:
  interval: 15s
  reinit_every: 5
privacy:
  public_only: true
  blocked_circles: ["work-*"]
notify:
  redis:
    addr: localhost:6379
log:
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "unset fields keep defaults")
	assert.Equal(t, "secret", cfg.Server.AuthToken)
	assert.Equal(t, []string{"http://example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "https://search.example.com", cfg.Search.Endpoint)
	assert.Equal(t, "hangout named", cfg.Search.Query)
	assert.Equal(t, 20, cfg.Search.Limit)
	assert.Equal(t, 5*time.Second, cfg.Search.Timeout)
	assert.Equal(t, 15*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 1, cfg.Poll.MaxState)
	assert.Equal(t, 5, cfg.Poll.ReinitEvery)
	assert.True(t, cfg.Privacy.PublicOnly)
	assert.Equal(t, []string{"work-*"}, cfg.Privacy.BlockedCircles)
	assert.Equal(t, "localhost:6379", cfg.Notify.Redis.Addr)
	assert.Equal(t, "hangwatch:signal", cfg.Notify.Redis.Channel)
	assert.Equal(t, "json", cfg.Log.Format)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
}

func TestLoadEmptyFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, t.TempDir(), "\n  \n"))
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
}

func TestLoadExistingRejectsMissingAndEmpty(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadExisting(filepath.Join(dir, "absent.yaml"))
	assert.ErrorIs(t, err, ErrEmptyConfig)

	_, err = LoadExisting(writeConfig(t, dir, ""))
	assert.ErrorIs(t, err, ErrEmptyConfig)

	cfg, err := LoadExisting(writeConfig(t, dir, "search:\n  query: q\n"))
	require.NoError(t, err)
	assert.Equal(t, "q", cfg.Search.Query)
	assert.Equal(t, 50, cfg.Search.Limit)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "poll: [unterminated")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"interval zero", func(c *Config) { c.Poll.Interval = 0 }, "poll.interval"},
		{"max state zero", func(c *Config) { c.Poll.MaxState = 0 }, "poll.max_state"},
		{"reinit zero", func(c *Config) { c.Poll.ReinitEvery = 0 }, "poll.reinit_every"},
		{"timeout zero", func(c *Config) { c.Search.Timeout = 0 }, "search.timeout"},
		{"negative limit", func(c *Config) { c.Search.Limit = -1 }, "search.limit"},
		{"negative rate", func(c *Config) { c.Search.RateLimit = -1 }, "search.rate_limit"},
		{"snapshot zero", func(c *Config) { c.Broadcast.SnapshotInterval = 0 }, "broadcast.snapshot_interval"},
		{"negative max connections", func(c *Config) { c.Broadcast.MaxConnections = -1 }, "broadcast.max_connections"},
		{"failure rate above one", func(c *Config) { c.Mock.FailureRate = 1.5 }, "mock.failure_rate"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
