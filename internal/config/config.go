package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/logger"
	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/mock"
)

// Source kinds.
const (
	SourcePoll = "poll"
	SourceMock = "mock"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Source  SourceConfig  `yaml:"source"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	History HistoryConfig `yaml:"history"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// ClientBuffer is the number of queued messages per websocket client
	// before it is considered too slow and disconnected.
	ClientBuffer int `yaml:"client_buffer"`
	// MaxConnections caps concurrent websocket clients. Zero means no limit.
	MaxConnections int `yaml:"max_connections"`
}

type SourceConfig struct {
	Kind             string        `yaml:"kind"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	FastPollInterval time.Duration `yaml:"fast_poll_interval"`
	FastPollDuration time.Duration `yaml:"fast_poll_duration"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Ignore           []string      `yaml:"ignore"`
	Mock             MockConfig    `yaml:"mock"`
}

type MockConfig struct {
	Interval       time.Duration         `yaml:"interval"`
	Seed           uint64                `yaml:"seed"`
	FailActivation bool                  `yaml:"fail_activation"`
	Interfaces     []MockInterfaceConfig `yaml:"interfaces"`
}

type MockInterfaceConfig struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Period  int    `yaml:"period"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// HistoryConfig controls the persisted transition log. While enabled the
// daemon stays subscribed, so the source is watched even with no clients.
type HistoryConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Dir          string        `yaml:"dir"`
	MaxEntries   int           `yaml:"max_entries"`
	SaveInterval time.Duration `yaml:"save_interval"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "127.0.0.1",
			ClientBuffer:   16,
			MaxConnections: 64,
		},
		Source: SourceConfig{
			Kind:             SourcePoll,
			PollInterval:     2 * time.Second,
			FastPollInterval: 500 * time.Millisecond,
			FastPollDuration: 10 * time.Second,
			FailureThreshold: 3,
			Ignore:           []string{"docker*", "veth*", "br-*", "virbr*"},
			Mock: MockConfig{
				Interval: 500 * time.Millisecond,
				Seed:     1,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		History: HistoryConfig{
			MaxEntries:   256,
			SaveInterval: 30 * time.Second,
		},
	}
}

// Load reads a YAML config file. Fields absent from the file keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// Validate checks values that the defaults cannot repair.
func (c *Config) Validate() error {
	var err error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.ClientBuffer <= 0 {
		err = multierr.Append(err, fmt.Errorf("server.client_buffer must be positive"))
	}
	if c.Server.MaxConnections < 0 {
		err = multierr.Append(err, fmt.Errorf("server.max_connections must not be negative"))
	}
	switch c.Source.Kind {
	case SourcePoll, SourceMock:
	default:
		err = multierr.Append(err, fmt.Errorf("source.kind %q is not one of %s, %s", c.Source.Kind, SourcePoll, SourceMock))
	}
	if c.Source.PollInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("source.poll_interval must be positive"))
	}
	if c.Source.FastPollInterval > c.Source.PollInterval {
		err = multierr.Append(err, fmt.Errorf("source.fast_poll_interval %s exceeds poll_interval %s", c.Source.FastPollInterval, c.Source.PollInterval))
	}
	for _, p := range c.Source.Ignore {
		if _, matchErr := path.Match(p, ""); matchErr != nil {
			err = multierr.Append(err, fmt.Errorf("source.ignore pattern %q: %w", p, matchErr))
		}
	}
	for i, mi := range c.Source.Mock.Interfaces {
		if mi.Name == "" {
			err = multierr.Append(err, fmt.Errorf("source.mock.interfaces[%d] has no name", i))
		}
		if !mock.ValidPattern(mi.Pattern) {
			err = multierr.Append(err, fmt.Errorf("source.mock.interfaces[%d] pattern %q is not one of %s", i, mi.Pattern, strings.Join(mock.Patterns, ", ")))
		}
	}
	if _, levelErr := logger.ParseLevel(c.Log.Level); levelErr != nil {
		err = multierr.Append(err, fmt.Errorf("log.level: %w", levelErr))
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		err = multierr.Append(err, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		err = multierr.Append(err, fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path))
	}
	if c.History.Enabled && c.History.MaxEntries <= 0 {
		err = multierr.Append(err, fmt.Errorf("history.max_entries must be positive"))
	}
	if c.History.Enabled && c.History.SaveInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("history.save_interval must be positive"))
	}
	return err
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
