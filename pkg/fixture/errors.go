package fixture

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidIndex   = errors.New("server index out of range")
	ErrTooManyServers = errors.New("too many servers")
	ErrAlreadyStarted = errors.New("cluster already started")
	ErrNotStarted     = errors.New("cluster not started")
	ErrHasLeader      = errors.New("cluster already has a leader")
	ErrNoLeader       = errors.New("cluster has no leader")
	ErrNotFollower    = errors.New("a candidate or leader already exists")
	ErrNotVoter       = errors.New("server is not a voting member")
	ErrNoMajority     = errors.New("server is not connected to a voting majority")
	ErrTimeout        = errors.New("condition not reached in time")
	ErrCantBootstrap  = errors.New("server store is not empty")
	ErrNoEvents       = errors.New("no pending events")
	ErrClosed         = errors.New("cluster closed")
)

// Properties checked by the safety monitor.
const (
	ElectionSafety   = "election safety"
	LeaderAppendOnly = "leader append-only"
)

// SafetyViolation is the panic value raised when a protocol invariant is
// broken. It means the member implementation is wrong, not the test.
type SafetyViolation struct {
	Property string
	Time     uint64
	Detail   string
}

func (v *SafetyViolation) Error() string {
	return fmt.Sprintf("%s violated at %dms: %s", v.Property, v.Time, v.Detail)
}
