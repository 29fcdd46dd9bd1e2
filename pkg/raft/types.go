package raft

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrNoConnection is returned by IO.Send when the link to the receiver is down.
	ErrNoConnection = errors.New("no connection to remote server")
	// ErrIO is reported to a member when a persistence request fails.
	ErrIO = errors.New("I/O error")
	// ErrNotLeader is returned by operations that only a leader can serve.
	ErrNotLeader = errors.New("server is not the leader")
	// ErrNotStarted is returned when a member is used before Start.
	ErrNotStarted = errors.New("server has not been started")
)

// Role of a server in the cluster.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// MessageType identifies an RPC.
type MessageType int

const (
	RequestVote MessageType = iota
	RequestVoteResult
	AppendEntries
	AppendEntriesResult
	InstallSnapshot

	// NumMessageTypes is the number of message types, usable as an array size.
	NumMessageTypes
)

func (t MessageType) String() string {
	switch t {
	case RequestVote:
		return "request-vote"
	case RequestVoteResult:
		return "request-vote-result"
	case AppendEntries:
		return "append-entries"
	case AppendEntriesResult:
		return "append-entries-result"
	case InstallSnapshot:
		return "install-snapshot"
	default:
		return fmt.Sprintf("message(%d)", int(t))
	}
}

// Message is an RPC exchanged between two servers. Only the fields relevant
// to Type are set.
type Message struct {
	Type MessageType
	From uint64
	To   uint64
	Term uint64

	// RequestVote, and AppendEntriesResult (last index stored by the follower).
	LastLogIndex uint64
	LastLogTerm  uint64

	// RequestVoteResult
	VoteGranted bool

	// AppendEntries
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []Entry
	LeaderCommit uint64

	// AppendEntriesResult
	Success bool

	// InstallSnapshot
	Snapshot *Snapshot
}

// Clone returns a deep copy, so the receiver never shares memory with the
// sender.
func (m Message) Clone() Message {
	c := m
	if m.Entries != nil {
		c.Entries = make([]Entry, len(m.Entries))
		for i, e := range m.Entries {
			c.Entries[i] = e.Clone()
		}
	}
	if m.Snapshot != nil {
		s := m.Snapshot.Clone()
		c.Snapshot = &s
	}
	return c
}

// EntryType tells what a log entry carries.
type EntryType int

const (
	EntryCommand EntryType = iota
	EntryConfiguration
)

// Entry is a single log entry. Its index is implied by its position in the log.
type Entry struct {
	Term uint64
	Type EntryType
	Data []byte
	Conf *Configuration
}

func (e Entry) Clone() Entry {
	c := e
	if e.Data != nil {
		c.Data = append([]byte(nil), e.Data...)
	}
	if e.Conf != nil {
		conf := e.Conf.Clone()
		c.Conf = &conf
	}
	return c
}

// Equal reports whether two entries have the same term, type and payload.
func (e Entry) Equal(o Entry) bool {
	if e.Term != o.Term || e.Type != o.Type || !bytes.Equal(e.Data, o.Data) {
		return false
	}
	if (e.Conf == nil) != (o.Conf == nil) {
		return false
	}
	return e.Conf == nil || e.Conf.Equal(*o.Conf)
}

// Server is a member of a configuration.
type Server struct {
	ID      uint64
	Address string
	Voting  bool
}

// Configuration is the set of servers taking part in the cluster.
type Configuration struct {
	Servers []Server
}

func (c Configuration) Clone() Configuration {
	return Configuration{Servers: append([]Server(nil), c.Servers...)}
}

func (c Configuration) Equal(o Configuration) bool {
	if len(c.Servers) != len(o.Servers) {
		return false
	}
	for i := range c.Servers {
		if c.Servers[i] != o.Servers[i] {
			return false
		}
	}
	return true
}

// Get returns the server with the given ID.
func (c Configuration) Get(id uint64) (Server, bool) {
	for _, s := range c.Servers {
		if s.ID == id {
			return s, true
		}
	}
	return Server{}, false
}

// IsVoter reports whether id is a voting member.
func (c Configuration) IsVoter(id uint64) bool {
	s, ok := c.Get(id)
	return ok && s.Voting
}

// NumVoting returns the number of voting members.
func (c Configuration) NumVoting() int {
	n := 0
	for _, s := range c.Servers {
		if s.Voting {
			n++
		}
	}
	return n
}

// Add appends a server, failing if the ID is already present.
func (c *Configuration) Add(id uint64, address string, voting bool) error {
	if _, ok := c.Get(id); ok {
		return fmt.Errorf("server %d already in configuration", id)
	}
	c.Servers = append(c.Servers, Server{ID: id, Address: address, Voting: voting})
	return nil
}

// Snapshot is a compacted prefix of the log together with the FSM state.
type Snapshot struct {
	Index uint64
	Term  uint64
	Conf  Configuration
	Data  []byte
}

func (s Snapshot) Clone() Snapshot {
	c := s
	c.Conf = s.Conf.Clone()
	if s.Data != nil {
		c.Data = append([]byte(nil), s.Data...)
	}
	return c
}

// FSM is the user state machine being replicated.
type FSM interface {
	Apply(data []byte) error
	Restore(data []byte) error
}

// DiskOpKind identifies an asynchronous persistence request.
type DiskOpKind int

const (
	DiskAppend DiskOpKind = iota
	DiskSnapshot
)

func (k DiskOpKind) String() string {
	switch k {
	case DiskAppend:
		return "append"
	case DiskSnapshot:
		return "snapshot"
	default:
		return fmt.Sprintf("disk(%d)", int(k))
	}
}

// DiskOp describes an asynchronous persistence request. For appends, Index is
// the index of the first entry.
type DiskOp struct {
	Kind     DiskOpKind
	Index    uint64
	Entries  []Entry
	Snapshot *Snapshot
}

// LastIndex returns the index of the last entry the operation persists.
func (op DiskOp) LastIndex() uint64 {
	if op.Kind == DiskSnapshot && op.Snapshot != nil {
		return op.Snapshot.Index
	}
	return op.Index + uint64(len(op.Entries)) - 1
}

// PersistedState is what a server finds on its disk when it starts.
type PersistedState struct {
	Term     uint64
	Vote     uint64
	Snapshot *Snapshot
	Entries  []Entry
}

// IO is the environment a member runs in: a clock, a network and a disk. All
// calls are synchronous; asynchronous completions are reported back through
// the member's Sent and Persisted methods.
type IO interface {
	// Now returns the current time in milliseconds.
	Now() uint64
	// ElectionTimeout returns the randomized election timeout to use.
	ElectionTimeout() uint64
	Load() (PersistedState, error)
	SetTerm(term uint64) error
	SetVote(id uint64) error
	// Truncate deletes all persisted entries from index onwards.
	Truncate(index uint64) error
	Send(msg Message) error
	Append(index uint64, entries []Entry) error
	PutSnapshot(snapshot Snapshot) error
}
