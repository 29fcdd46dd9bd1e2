package attest

import (
	"github.com/sirupsen/logrus"

	"github.com/st3v3nmw/raftsim/pkg/fixture"
)

// Config holds configuration options for the test framework. Durations are
// virtual milliseconds on the cluster clock.
type Config struct {
	// Cluster is the timing of the simulated cluster.
	Cluster fixture.Config

	// DefaultRetryTimeout for Eventually and Consistently operations.
	DefaultRetryTimeout uint64

	// Logger receives the cluster's event trace at debug level.
	Logger *logrus.Entry
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Cluster:             *fixture.DefaultConfig(),
		DefaultRetryTimeout: 5000,
	}
}
