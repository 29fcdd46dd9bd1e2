package fixture

import (
	"github.com/sirupsen/logrus"

	"github.com/st3v3nmw/raftsim/pkg/raft"
)

// MaxServers is the largest cluster the fixture can simulate.
const MaxServers = 8

// MemberFactory builds the member driven by the fixture for a server.
type MemberFactory func(id uint64, address string, fsm raft.FSM) Member

// Config holds the timing of a simulated cluster. Times are in milliseconds.
type Config struct {
	// TickInterval between two timer events of the same server.
	TickInterval uint64 `yaml:"tick_interval"`
	// ElectionTimeout of server 0; server i gets ElectionTimeout + i*TimeoutStep.
	ElectionTimeout uint64 `yaml:"election_timeout"`
	TimeoutStep     uint64 `yaml:"timeout_step"`
	// HeartbeatTimeout used by the default member.
	HeartbeatTimeout uint64 `yaml:"heartbeat_timeout"`

	// NetworkLatency is the default outbound latency of every server.
	NetworkLatency uint64 `yaml:"network_latency"`
	// DiskLatency is the default latency of asynchronous disk writes.
	DiskLatency uint64 `yaml:"disk_latency"`

	Logger    *logrus.Entry `yaml:"-"`
	NewMember MemberFactory `yaml:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		TickInterval:     100,
		ElectionTimeout:  1000,
		TimeoutStep:      100,
		HeartbeatTimeout: 100,
		NetworkLatency:   15,
		DiskLatency:      10,
	}
}

// WithDefaults returns a copy of config whose zero fields are set to the
// defaults.
func (config Config) WithDefaults() Config {
	return *merge(&config)
}

// merge fills zero fields of config from the defaults.
func merge(config *Config) *Config {
	merged := DefaultConfig()
	if config == nil {
		return merged
	}

	if config.TickInterval != 0 {
		merged.TickInterval = config.TickInterval
	}

	if config.ElectionTimeout != 0 {
		merged.ElectionTimeout = config.ElectionTimeout
	}

	if config.TimeoutStep != 0 {
		merged.TimeoutStep = config.TimeoutStep
	}

	if config.HeartbeatTimeout != 0 {
		merged.HeartbeatTimeout = config.HeartbeatTimeout
	}

	if config.NetworkLatency != 0 {
		merged.NetworkLatency = config.NetworkLatency
	}

	if config.DiskLatency != 0 {
		merged.DiskLatency = config.DiskLatency
	}

	merged.Logger = config.Logger
	merged.NewMember = config.NewMember
	return merged
}
