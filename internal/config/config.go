package config

import (
	"bytes"
	"io/fs"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/hangwatch/backend/internal/session"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// ErrEmptyConfig is returned by LoadExisting for a missing or blank file.
var ErrEmptyConfig = errors.New("config file is missing or empty")

type Config struct {
	Server    ServerConfig          `yaml:"server"`
	Search    SearchConfig          `yaml:"search"`
	Poll      PollConfig            `yaml:"poll"`
	Broadcast BroadcastConfig       `yaml:"broadcast"`
	Privacy   session.PrivacyFilter `yaml:"privacy"`
	Notify    NotifyConfig          `yaml:"notify"`
	Mock      MockConfig            `yaml:"mock"`
	Log       LogConfig             `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SearchConfig describes the upstream search source.
type SearchConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	APIKey    string        `yaml:"api_key"`
	Query     string        `yaml:"query"`
	Limit     int           `yaml:"limit"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second, 0 disables limiting
	Burst     int           `yaml:"burst"`
}

type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	// MaxState is the last state of the reset/incremental cycle. With the
	// default of 1 every other poll is a full reset.
	MaxState int `yaml:"max_state"`
	// ReinitEvery is how many consecutive failed ticks pass before the
	// upstream search session is reinitialised.
	ReinitEvery int `yaml:"reinit_every"`
	// HealthThreshold is the consecutive failure count at which the search
	// source is reported as failed.
	HealthThreshold int `yaml:"health_threshold"`
}

type BroadcastConfig struct {
	Throttle         time.Duration `yaml:"throttle"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	MaxConnections   int           `yaml:"max_connections"` // 0 means unlimited
}

// MockConfig drives the simulated search source used with --mock.
type MockConfig struct {
	Seed        uint64  `yaml:"seed"`
	FailureRate float64 `yaml:"failure_rate"`
}

type NotifyConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig enables publishing badge signals over Redis pub/sub when Addr
// is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Search: SearchConfig{
			Query:     "hangout",
			Limit:     50,
			Timeout:   20 * time.Second,
			RateLimit: 1,
			Burst:     2,
		},
		Poll: PollConfig{
			Interval:        30 * time.Second,
			MaxState:        1,
			ReinitEvery:     10,
			HealthThreshold: 3,
		},
		Broadcast: BroadcastConfig{
			Throttle:         100 * time.Millisecond,
			SnapshotInterval: 30 * time.Second,
			MaxConnections:   64,
		},
		Mock: MockConfig{
			Seed: 1,
		},
		Notify: NotifyConfig{
			Redis: RedisConfig{
				Channel: "hangwatch:signal",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error: the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg, err := LoadExisting(path)
	if errors.Is(err, ErrEmptyConfig) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// LoadExisting is Load for a file that must be present. A missing file or one
// with no content returns ErrEmptyConfig, so a save caught halfway through is
// not mistaken for a request to restore the defaults.
func LoadExisting(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(ErrEmptyConfig, "reading config %s", path)
		}
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.Wrapf(ErrEmptyConfig, "reading config %s", path)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}

	return cfg, nil
}

// Validate reports the first setting that would stop the daemon from working.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return errors.Wrapf(ErrInvalidConfig, "server.port %d out of range", c.Server.Port)
	case c.Poll.Interval <= 0:
		return errors.Wrap(ErrInvalidConfig, "poll.interval must be positive")
	case c.Poll.MaxState < 1:
		return errors.Wrapf(ErrInvalidConfig, "poll.max_state must be at least 1, got %d", c.Poll.MaxState)
	case c.Poll.ReinitEvery < 1:
		return errors.Wrapf(ErrInvalidConfig, "poll.reinit_every must be at least 1, got %d", c.Poll.ReinitEvery)
	case c.Search.Timeout <= 0:
		return errors.Wrap(ErrInvalidConfig, "search.timeout must be positive")
	case c.Search.Limit < 0:
		return errors.Wrapf(ErrInvalidConfig, "search.limit must not be negative, got %d", c.Search.Limit)
	case c.Search.RateLimit < 0:
		return errors.Wrap(ErrInvalidConfig, "search.rate_limit must not be negative")
	case c.Broadcast.SnapshotInterval <= 0:
		return errors.Wrap(ErrInvalidConfig, "broadcast.snapshot_interval must be positive")
	case c.Broadcast.MaxConnections < 0:
		return errors.Wrap(ErrInvalidConfig, "broadcast.max_connections must not be negative")
	case c.Mock.FailureRate < 0 || c.Mock.FailureRate > 1:
		return errors.Wrapf(ErrInvalidConfig, "mock.failure_rate must be within [0,1], got %v", c.Mock.FailureRate)
	case c.Log.Format != "text" && c.Log.Format != "json":
		return errors.Wrapf(ErrInvalidConfig, "log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
