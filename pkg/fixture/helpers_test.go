package fixture_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/st3v3nmw/raftsim/pkg/fixture"
	"github.com/st3v3nmw/raftsim/pkg/raft"
)

// stub is a scripted member: it does nothing on its own and records what
// the fixture tells it.
type stub struct {
	id     uint64
	io     raft.IO
	role   raft.Role
	term   uint64
	vote   uint64
	leader uint64
	log    *raft.Log
	conf   raft.Configuration

	onTick func(s *stub)
	ticks  int

	recv      []raft.Message
	sent      []raft.Message
	persisted []error
}

func (s *stub) ID() uint64 { return s.id }

func (s *stub) Start(io raft.IO) error {
	s.io = io
	return nil
}

func (s *stub) Tick() {
	s.ticks++
	if s.onTick != nil {
		s.onTick(s)
	}
}

func (s *stub) Recv(msg raft.Message)               { s.recv = append(s.recv, msg) }
func (s *stub) Sent(msg raft.Message)               { s.sent = append(s.sent, msg) }
func (s *stub) Persisted(op raft.DiskOp, err error) { s.persisted = append(s.persisted, err) }

func (s *stub) Role() raft.Role                   { return s.role }
func (s *stub) Term() uint64                      { return s.term }
func (s *stub) VotedFor() uint64                  { return s.vote }
func (s *stub) Leader() uint64                    { return s.leader }
func (s *stub) Log() *raft.Log                    { return s.log.Clone() }
func (s *stub) CommitIndex() uint64               { return 0 }
func (s *stub) LastApplied() uint64               { return 0 }
func (s *stub) Configuration() raft.Configuration { return s.conf.Clone() }

// newStubCluster creates a started cluster of n stub members.
func newStubCluster(t *testing.T, n int) (*fixture.Cluster, []*stub) {
	t.Helper()

	var stubs []*stub
	config := &fixture.Config{
		NewMember: func(id uint64, address string, fsm raft.FSM) fixture.Member {
			s := &stub{id: id, log: raft.NewLog(nil, nil)}
			stubs = append(stubs, s)
			return s
		},
	}

	c, err := fixture.New(n, nil, config)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.Start())
	return c, stubs
}

// fsm records what the cluster applies to it.
type fsm struct {
	applied  []string
	restored string
}

func (f *fsm) Apply(data []byte) error {
	f.applied = append(f.applied, string(data))
	return nil
}

func (f *fsm) Restore(data []byte) error {
	f.restored = string(data)
	f.applied = nil
	return nil
}

// newCluster creates a started cluster of n raft nodes, bootstrapped with
// the first voting servers as voters.
func newCluster(t *testing.T, n, voting int) (*fixture.Cluster, []*fsm) {
	t.Helper()

	fsms := make([]*fsm, n)
	machines := make([]raft.FSM, n)
	for i := range n {
		fsms[i] = &fsm{}
		machines[i] = fsms[i]
	}

	c, err := fixture.New(n, machines, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.Bootstrap(c.Configuration(voting)))
	require.NoError(t, c.Start())
	return c, fsms
}

func proposer(t *testing.T, c *fixture.Cluster, i int) fixture.Proposer {
	t.Helper()

	p, ok := c.Get(i).(fixture.Proposer)
	require.True(t, ok, "server %d does not accept commands", i)
	return p
}

// violation runs fn and returns the safety violation it panicked with.
func violation(t *testing.T, fn func()) (v *fixture.SafetyViolation) {
	t.Helper()

	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a safety violation")

		var ok bool
		v, ok = r.(*fixture.SafetyViolation)
		require.True(t, ok, "unexpected panic: %v", r)
	}()

	fn()
	return nil
}
