// Package scenarios registers every built-in scenario collection.
package scenarios

import (
	_ "github.com/st3v3nmw/raftsim/scenarios/election"
	_ "github.com/st3v3nmw/raftsim/scenarios/replication"
)
