package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/sirupsen/logrus"

	"github.com/st3v3nmw/raftsim/internal/attest"
	"github.com/st3v3nmw/raftsim/pkg/fixture"
)

const configPath = "raftsim.yaml"

// Cluster is the simulated cluster used by commands that build their own,
// like trace.
type Cluster struct {
	Servers int `yaml:"servers"`
	Voting  int `yaml:"voting"`

	fixture.Config `yaml:",inline"`
}

type Config struct {
	Cluster Cluster `yaml:"cluster"`

	// RetryTimeout for Eventually and Consistently checks, in virtual milliseconds.
	RetryTimeout uint64 `yaml:"retry_timeout"`

	LogLevel string `yaml:"log_level"`
	Verbose  bool   `yaml:"verbose"`
}

// Default returns the configuration written by 'raftsim init'.
func Default() *Config {
	return &Config{
		Cluster: Cluster{
			Servers: 3,
			Voting:  3,
			Config:  *fixture.DefaultConfig(),
		},
		RetryTimeout: attest.DefaultConfig().DefaultRetryTimeout,
		LogLevel:     logrus.WarnLevel.String(),
	}
}

func Load() (*Config, error) {
	return LoadFrom(configPath)
}

func LoadFrom(path string) (*Config, error) {
	// Parse config
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s not found\nRun 'raftsim init' to create one", path)
	}

	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(bytes, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Cluster.Config = cfg.Cluster.Config.WithDefaults()
	if cfg.RetryTimeout == 0 {
		cfg.RetryTimeout = attest.DefaultConfig().DefaultRetryTimeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports the first out-of-range setting.
func (c *Config) Validate() error {
	servers := c.Cluster.Servers
	if servers < 1 || servers > fixture.MaxServers {
		return fmt.Errorf("cluster.servers must be between 1 and %d, got %d", fixture.MaxServers, servers)
	}

	if c.Cluster.Voting < 1 || c.Cluster.Voting > servers {
		return fmt.Errorf("cluster.voting must be between 1 and %d, got %d", servers, c.Cluster.Voting)
	}

	if c.Cluster.TickInterval == 0 {
		return fmt.Errorf("cluster.tick_interval must be positive")
	}

	if c.Cluster.HeartbeatTimeout >= c.Cluster.ElectionTimeout {
		return fmt.Errorf("cluster.heartbeat_timeout (%d) must be below cluster.election_timeout (%d)",
			c.Cluster.HeartbeatTimeout, c.Cluster.ElectionTimeout)
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}

	return nil
}

// Logger returns a logger at the configured level. Verbose forces debug.
func (c *Config) Logger() *logrus.Entry {
	l := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.WarnLevel
	}
	if c.Verbose {
		level = logrus.DebugLevel
	}

	l.SetLevel(level)
	return logrus.NewEntry(l)
}

// Attest returns the scenario framework configuration.
func (c *Config) Attest() *attest.Config {
	return &attest.Config{
		Cluster:             c.Cluster.Config,
		DefaultRetryTimeout: c.RetryTimeout,
		Logger:              c.Logger(),
	}
}

func Save(cfg *Config) error {
	return SaveTo(cfg, configPath)
}

func SaveTo(cfg *Config, path string) error {
	bytes, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, bytes, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
