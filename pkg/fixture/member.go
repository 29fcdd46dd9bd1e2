package fixture

import "github.com/st3v3nmw/raftsim/pkg/raft"

// Member is the consensus server driven by the fixture. The fixture never
// looks inside it: it only delivers ticks, messages and disk completions, and
// reads its state back through the accessors.
type Member interface {
	ID() uint64
	Start(io raft.IO) error

	Tick()
	Recv(msg raft.Message)
	Sent(msg raft.Message)
	Persisted(op raft.DiskOp, err error)

	Role() raft.Role
	Term() uint64
	VotedFor() uint64
	Leader() uint64
	Log() *raft.Log
	CommitIndex() uint64
	LastApplied() uint64
	Configuration() raft.Configuration
}

// Proposer is implemented by members that accept client commands and
// membership changes while leading.
type Proposer interface {
	Apply(data []byte) (uint64, error)
	Reconfigure(conf raft.Configuration) (uint64, error)
}

var (
	_ Member   = (*raft.Node)(nil)
	_ Proposer = (*raft.Node)(nil)
)

func (c *Cluster) newNode(id uint64, address string, fsm raft.FSM) Member {
	return raft.NewNode(id, address, fsm, raft.Options{
		ElectionTimeout:  c.config.ElectionTimeout,
		HeartbeatTimeout: c.config.HeartbeatTimeout,
		Logger:           c.logger,
	})
}
