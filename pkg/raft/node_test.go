package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIO struct {
	now     uint64
	timeout uint64
	state   PersistedState
	sent    []Message
	ops     []DiskOp
	sendErr error
}

func (io *fakeIO) Now() uint64                   { return io.now }
func (io *fakeIO) ElectionTimeout() uint64       { return io.timeout }
func (io *fakeIO) Load() (PersistedState, error) { return io.state, nil }
func (io *fakeIO) Truncate(index uint64) error   { return nil }

func (io *fakeIO) SetTerm(term uint64) error {
	io.state.Term = term
	return nil
}

func (io *fakeIO) SetVote(id uint64) error {
	io.state.Vote = id
	return nil
}

func (io *fakeIO) Append(index uint64, entries []Entry) error {
	io.ops = append(io.ops, DiskOp{Kind: DiskAppend, Index: index, Entries: entries})
	return nil
}

func (io *fakeIO) PutSnapshot(s Snapshot) error {
	io.ops = append(io.ops, DiskOp{Kind: DiskSnapshot, Index: s.Index, Snapshot: &s})
	return nil
}

func (io *fakeIO) Send(msg Message) error {
	if io.sendErr != nil {
		return io.sendErr
	}
	io.sent = append(io.sent, msg)
	return nil
}

// take returns and forgets the messages sent so far.
func (io *fakeIO) take() []Message {
	sent := io.sent
	io.sent = nil
	return sent
}

// takeOp returns and forgets the oldest pending disk request.
func (io *fakeIO) takeOp(t *testing.T) DiskOp {
	t.Helper()
	require.NotEmpty(t, io.ops)
	op := io.ops[0]
	io.ops = io.ops[1:]
	return op
}

type recorder struct {
	applied  []string
	restored string
}

func (r *recorder) Apply(data []byte) error {
	r.applied = append(r.applied, string(data))
	return nil
}

func (r *recorder) Restore(data []byte) error {
	r.restored = string(data)
	return nil
}

func voters(n int) Configuration {
	var conf Configuration
	for i := 1; i <= n; i++ {
		conf.Servers = append(conf.Servers, Server{ID: uint64(i), Voting: true})
	}
	return conf
}

// newTestNode starts server id with a bootstrapped log holding conf.
func newTestNode(t *testing.T, id uint64, conf Configuration) (*Node, *fakeIO, *recorder) {
	t.Helper()

	io := &fakeIO{
		timeout: 1000,
		state: PersistedState{
			Term:    1,
			Entries: []Entry{{Term: 1, Type: EntryConfiguration, Conf: &conf}},
		},
	}
	fsm := &recorder{}
	n := NewNode(id, "", fsm, DefaultOptions())
	require.NoError(t, n.Start(io))
	return n, io, fsm
}

// elect makes n the leader of term 2 with the vote of server 2.
func elect(t *testing.T, n *Node, io *fakeIO) {
	t.Helper()

	io.now = 1000
	n.Tick()
	require.Equal(t, Candidate, n.Role())
	io.take()

	n.Recv(Message{Type: RequestVoteResult, From: 2, To: n.ID(), Term: n.Term(), VoteGranted: true})
	require.Equal(t, Leader, n.Role())
	io.take()
}

func TestNodeStart(t *testing.T) {
	conf := voters(3)
	io := &fakeIO{state: PersistedState{
		Term:    3,
		Vote:    2,
		Entries: []Entry{{Term: 1, Type: EntryConfiguration, Conf: &conf}, {Term: 3}},
	}}

	n := NewNode(1, "1", nil, Options{})
	_, err := n.Apply(nil)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, n.Start(io))
	assert.Error(t, n.Start(io))

	assert.Equal(t, Follower, n.Role())
	assert.Equal(t, uint64(3), n.Term())
	assert.Equal(t, uint64(2), n.VotedFor())
	assert.Equal(t, uint64(2), n.Log().LastIndex())
	assert.Equal(t, uint64(2), n.PersistedIndex())
	assert.True(t, n.Configuration().Equal(conf))
	assert.Zero(t, n.Leader())
}

func TestNodeStartFromSnapshot(t *testing.T) {
	fsm := &recorder{}
	io := &fakeIO{state: PersistedState{
		Term:     2,
		Snapshot: &Snapshot{Index: 4, Term: 2, Conf: voters(3), Data: []byte("state")},
	}}

	n := NewNode(1, "1", fsm, Options{})
	require.NoError(t, n.Start(io))

	assert.Equal(t, "state", fsm.restored)
	assert.Equal(t, uint64(4), n.CommitIndex())
	assert.Equal(t, uint64(4), n.LastApplied())
	assert.True(t, n.Configuration().IsVoter(3))
}

func TestNodeCampaign(t *testing.T) {
	n, io, _ := newTestNode(t, 1, voters(3))

	io.now = 900
	n.Tick()
	assert.Equal(t, Follower, n.Role())
	assert.Empty(t, io.sent)

	io.now = 1000
	n.Tick()
	assert.Equal(t, Candidate, n.Role())
	assert.Equal(t, uint64(2), n.Term())
	assert.Equal(t, uint64(1), n.VotedFor())
	assert.Equal(t, uint64(2), io.state.Term)
	assert.Equal(t, uint64(1), io.state.Vote)

	sent := io.take()
	require.Len(t, sent, 2)
	for k, msg := range sent {
		assert.Equal(t, RequestVote, msg.Type)
		assert.Equal(t, uint64(k+2), msg.To)
		assert.Equal(t, uint64(1), msg.From)
		assert.Equal(t, uint64(2), msg.Term)
		assert.Equal(t, uint64(1), msg.LastLogIndex)
		assert.Equal(t, uint64(1), msg.LastLogTerm)
	}

	// Split vote: a new election starts after another timeout.
	io.now = 2000
	n.Tick()
	assert.Equal(t, uint64(3), n.Term())
}

func TestNodeSingleVoter(t *testing.T) {
	n, io, _ := newTestNode(t, 1, voters(1))

	io.now = 1000
	n.Tick()
	assert.Equal(t, Leader, n.Role())
	assert.Equal(t, uint64(1), n.Leader())
	assert.Empty(t, io.sent)

	index, err := n.Apply([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), index)
	assert.Zero(t, n.CommitIndex(), "not committed before it is persisted")

	n.Persisted(io.takeOp(t), nil)
	assert.Equal(t, uint64(2), n.CommitIndex())
	assert.Equal(t, uint64(2), n.LastApplied())
}

func TestNodeNonVoter(t *testing.T) {
	conf := voters(2)
	conf.Servers = append(conf.Servers, Server{ID: 3})
	n, io, _ := newTestNode(t, 3, conf)

	io.now = 10000
	n.Tick()
	assert.Equal(t, Follower, n.Role())
	assert.Empty(t, io.sent)
}

func TestNodeRequestVote(t *testing.T) {
	tests := []struct {
		name    string
		vote    uint64
		msg     Message
		granted bool
	}{
		{
			name:    "up to date candidate",
			msg:     Message{From: 2, Term: 2, LastLogIndex: 2, LastLogTerm: 1},
			granted: true,
		},
		{
			name:    "longer log",
			msg:     Message{From: 2, Term: 2, LastLogIndex: 3, LastLogTerm: 1},
			granted: true,
		},
		{
			name:    "shorter log",
			msg:     Message{From: 2, Term: 2, LastLogIndex: 1, LastLogTerm: 1},
			granted: false,
		},
		{
			name:    "stale term",
			msg:     Message{From: 2, Term: 0, LastLogIndex: 2, LastLogTerm: 1},
			granted: false,
		},
		{
			name:    "already voted for another",
			vote:    3,
			msg:     Message{From: 2, Term: 1, LastLogIndex: 2, LastLogTerm: 1},
			granted: false,
		},
		{
			name:    "already voted for the same",
			vote:    2,
			msg:     Message{From: 2, Term: 1, LastLogIndex: 2, LastLogTerm: 1},
			granted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := voters(3)
			io := &fakeIO{timeout: 1000, state: PersistedState{
				Term:    1,
				Vote:    tt.vote,
				Entries: []Entry{{Term: 1, Type: EntryConfiguration, Conf: &conf}, {Term: 1}},
			}}
			n := NewNode(1, "1", nil, Options{})
			require.NoError(t, n.Start(io))

			msg := tt.msg
			msg.Type = RequestVote
			msg.To = 1
			n.Recv(msg)

			sent := io.take()
			require.Len(t, sent, 1)
			assert.Equal(t, RequestVoteResult, sent[0].Type)
			assert.Equal(t, tt.granted, sent[0].VoteGranted)
			if tt.granted {
				assert.Equal(t, uint64(2), n.VotedFor())
			}
		})
	}
}

func TestNodeWinsElection(t *testing.T) {
	n, io, _ := newTestNode(t, 1, voters(3))
	elect(t, n, io)

	assert.Equal(t, uint64(1), n.Leader())

	// A late vote changes nothing.
	n.Recv(Message{Type: RequestVoteResult, From: 3, Term: 2, VoteGranted: true})
	assert.Equal(t, Leader, n.Role())

	// Heartbeats every 100ms.
	io.now = 1050
	n.Tick()
	assert.Empty(t, io.take())

	io.now = 1100
	n.Tick()
	sent := io.take()
	require.Len(t, sent, 2)
	for _, msg := range sent {
		assert.Equal(t, AppendEntries, msg.Type)
		assert.Equal(t, uint64(1), msg.PrevLogIndex)
		assert.Equal(t, uint64(1), msg.PrevLogTerm)
		assert.Empty(t, msg.Entries)
	}
}

func TestNodeStepsDownOnHigherTerm(t *testing.T) {
	n, io, _ := newTestNode(t, 1, voters(3))
	elect(t, n, io)

	n.Recv(Message{Type: AppendEntries, From: 3, Term: 5, PrevLogIndex: 1, PrevLogTerm: 1})
	assert.Equal(t, Follower, n.Role())
	assert.Equal(t, uint64(5), n.Term())
	assert.Equal(t, uint64(3), n.Leader())
	assert.Zero(t, n.VotedFor())

	sent := io.take()
	require.Len(t, sent, 1)
	assert.True(t, sent[0].Success)
}

func TestNodeLeaderStepsDown(t *testing.T) {
	n, io, _ := newTestNode(t, 1, voters(3))
	elect(t, n, io)

	// Server 2 keeps answering, server 3 is silent: still a majority.
	for now := uint64(1100); now <= 2500; now += 100 {
		io.now = now
		n.Recv(Message{Type: AppendEntriesResult, From: 2, Term: 2, Success: true, LastLogIndex: 1})
		n.Tick()
		require.Equal(t, Leader, n.Role(), "at %d", now)
	}

	// Nobody answers for a whole election timeout.
	io.now = 3400
	n.Tick()
	assert.Equal(t, Leader, n.Role())
	io.now = 3500
	n.Tick()
	assert.Equal(t, Follower, n.Role())
	assert.Equal(t, uint64(2), n.Term())
	assert.Zero(t, n.Leader())
}

func TestNodeFollowerAppend(t *testing.T) {
	n, io, fsm := newTestNode(t, 2, voters(3))

	n.Recv(Message{
		Type:         AppendEntries,
		From:         1,
		Term:         2,
		PrevLogIndex: 1,
		PrevLogTerm:  1,
		Entries:      []Entry{{Term: 2, Data: []byte("a")}, {Term: 2, Data: []byte("b")}},
		LeaderCommit: 1,
	})
	assert.Equal(t, uint64(1), n.Leader())
	assert.Equal(t, uint64(3), n.Log().LastIndex())
	assert.Equal(t, uint64(1), n.CommitIndex())
	assert.Empty(t, io.sent, "acknowledged once persisted")

	op := io.takeOp(t)
	assert.Equal(t, uint64(2), op.Index)
	require.Len(t, op.Entries, 2)

	n.Persisted(op, nil)
	sent := io.take()
	require.Len(t, sent, 1)
	assert.Equal(t, AppendEntriesResult, sent[0].Type)
	assert.True(t, sent[0].Success)
	assert.Equal(t, uint64(3), sent[0].LastLogIndex)
	assert.Equal(t, uint64(3), n.PersistedIndex())

	// A heartbeat carries the new commit index.
	n.Recv(Message{Type: AppendEntries, From: 1, Term: 2, PrevLogIndex: 3, PrevLogTerm: 2, LeaderCommit: 3})
	assert.Equal(t, uint64(3), n.CommitIndex())
	assert.Equal(t, []string{"a", "b"}, fsm.applied)

	sent = io.take()
	require.Len(t, sent, 1)
	assert.True(t, sent[0].Success)
	assert.Equal(t, uint64(3), sent[0].LastLogIndex)
}

func TestNodeFollowerReject(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		hint uint64
	}{
		{
			name: "missing entries",
			msg:  Message{Term: 2, PrevLogIndex: 5, PrevLogTerm: 2},
			hint: 1,
		},
		{
			name: "term mismatch",
			msg:  Message{Term: 2, PrevLogIndex: 1, PrevLogTerm: 2},
			hint: 0,
		},
		{
			name: "stale leader",
			msg:  Message{Term: 0, PrevLogIndex: 1, PrevLogTerm: 1},
			hint: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, io, _ := newTestNode(t, 2, voters(3))

			msg := tt.msg
			msg.Type = AppendEntries
			msg.From = 1
			n.Recv(msg)

			sent := io.take()
			require.Len(t, sent, 1)
			assert.False(t, sent[0].Success)
			assert.Equal(t, tt.hint, sent[0].LastLogIndex)
			assert.Empty(t, io.ops)
		})
	}
}

func TestNodeFollowerConflict(t *testing.T) {
	conf := voters(3)
	io := &fakeIO{timeout: 1000, state: PersistedState{
		Term:    2,
		Entries: []Entry{{Term: 1, Type: EntryConfiguration, Conf: &conf}, {Term: 2}, {Term: 2}},
	}}
	n := NewNode(2, "2", nil, Options{})
	require.NoError(t, n.Start(io))

	n.Recv(Message{
		Type:         AppendEntries,
		From:         3,
		Term:         3,
		PrevLogIndex: 1,
		PrevLogTerm:  1,
		Entries:      []Entry{{Term: 3, Data: []byte("x")}},
	})

	assert.Equal(t, uint64(2), n.Log().LastIndex())
	assert.Equal(t, uint64(3), n.Log().LastTerm())
	assert.Equal(t, uint64(1), n.PersistedIndex())

	op := io.takeOp(t)
	assert.Equal(t, uint64(2), op.Index)
}

func TestNodeFollowerPersistFailure(t *testing.T) {
	n, io, _ := newTestNode(t, 2, voters(3))

	n.Recv(Message{Type: AppendEntries, From: 1, Term: 2, PrevLogIndex: 1, PrevLogTerm: 1, Entries: []Entry{{Term: 2}}})
	n.Persisted(io.takeOp(t), ErrIO)

	assert.Equal(t, uint64(1), n.Log().LastIndex())
	sent := io.take()
	require.Len(t, sent, 1)
	assert.False(t, sent[0].Success)
	assert.Equal(t, uint64(1), sent[0].LastLogIndex)
	assert.Equal(t, Follower, n.Role())
}

func TestNodeLeaderReplication(t *testing.T) {
	n, io, fsm := newTestNode(t, 1, voters(3))
	elect(t, n, io)

	index, err := n.Apply([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), index)

	sent := io.take()
	require.Len(t, sent, 2)
	assert.Len(t, sent[0].Entries, 1)

	n.Persisted(io.takeOp(t), nil)
	assert.Equal(t, uint64(0), n.CommitIndex(), "the leader alone is not a majority")

	n.Recv(Message{Type: AppendEntriesResult, From: 3, Term: 2, Success: true, LastLogIndex: 2})
	assert.Equal(t, uint64(2), n.CommitIndex())
	assert.Equal(t, []string{"a"}, fsm.applied)
}

func TestNodeLeaderBacksOff(t *testing.T) {
	n, io, _ := newTestNode(t, 1, voters(3))
	elect(t, n, io)

	_, err := n.Apply([]byte("a"))
	require.NoError(t, err)
	_, err = n.Apply([]byte("b"))
	require.NoError(t, err)
	io.take()

	n.Recv(Message{Type: AppendEntriesResult, From: 2, Term: 2, LastLogIndex: 1})
	sent := io.take()
	require.Len(t, sent, 1)
	assert.Equal(t, uint64(2), sent[0].To)
	assert.Equal(t, uint64(1), sent[0].PrevLogIndex)
	assert.Len(t, sent[0].Entries, 2)
}

func TestNodeLeaderPersistFailure(t *testing.T) {
	n, io, _ := newTestNode(t, 1, voters(3))
	elect(t, n, io)

	_, err := n.Apply([]byte("a"))
	require.NoError(t, err)
	n.Persisted(io.takeOp(t), ErrIO)

	assert.Equal(t, Follower, n.Role())
	assert.Equal(t, uint64(1), n.Log().LastIndex())
	_, err = n.Apply([]byte("b"))
	assert.ErrorIs(t, err, ErrNotLeader)
}

func TestNodeReconfigure(t *testing.T) {
	n, io, _ := newTestNode(t, 1, voters(3))
	elect(t, n, io)

	index, err := n.Reconfigure(voters(4))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), index)
	assert.True(t, n.Configuration().IsVoter(4))

	sent := io.take()
	require.Len(t, sent, 3)
	assert.Equal(t, uint64(4), sent[2].To)
}

func TestNodeInstallSnapshot(t *testing.T) {
	n, io, fsm := newTestNode(t, 2, voters(3))

	n.Recv(Message{
		Type:     InstallSnapshot,
		From:     1,
		Term:     2,
		Snapshot: &Snapshot{Index: 10, Term: 2, Conf: voters(3), Data: []byte("state")},
	})

	assert.Equal(t, "state", fsm.restored)
	assert.Equal(t, uint64(10), n.CommitIndex())
	assert.Equal(t, uint64(10), n.LastApplied())
	assert.Equal(t, uint64(10), n.Log().SnapshotIndex())
	assert.Empty(t, io.sent)

	op := io.takeOp(t)
	assert.Equal(t, DiskSnapshot, op.Kind)
	n.Persisted(op, nil)

	sent := io.take()
	require.Len(t, sent, 1)
	assert.True(t, sent[0].Success)
	assert.Equal(t, uint64(10), sent[0].LastLogIndex)
	assert.Equal(t, uint64(10), n.PersistedIndex())
}

func TestNodeSendFailure(t *testing.T) {
	n, io, _ := newTestNode(t, 1, voters(3))
	io.sendErr = ErrNoConnection

	io.now = 1000
	assert.NotPanics(t, n.Tick)
	assert.Equal(t, Candidate, n.Role())
}
