package raft

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Options tunes a Node's timing. Times are in milliseconds.
type Options struct {
	// ElectionTimeout is how long a leader may go without hearing from a
	// majority before stepping down.
	ElectionTimeout uint64
	// HeartbeatTimeout is the interval between leader heartbeats.
	HeartbeatTimeout uint64
	Logger           *logrus.Entry
}

// DefaultOptions returns the default timing.
func DefaultOptions() Options {
	return Options{
		ElectionTimeout:  1000,
		HeartbeatTimeout: 100,
	}
}

type progress struct {
	next        uint64
	match       uint64
	lastContact uint64
}

// Node is a single-threaded raft server. It has no clock, socket or disk of
// its own: everything goes through the IO handed to Start, and it only moves
// when its Tick, Recv, Sent or Persisted methods are called.
type Node struct {
	id      uint64
	address string
	fsm     FSM
	opts    Options
	logger  *logrus.Entry

	io      IO
	started bool

	role Role
	term uint64
	vote uint64
	log  *Log

	conf      Configuration
	confIndex uint64

	commitIndex    uint64
	lastApplied    uint64
	persistedIndex uint64

	// Term at submission of each in-flight disk request. The disk completes
	// requests in submission order.
	pending []uint64

	electionStart  uint64
	heartbeatStart uint64
	leaderSince    uint64

	leader   uint64
	votes    map[uint64]bool
	progress map[uint64]*progress
}

// NewNode creates a server. fsm may be nil.
func NewNode(id uint64, address string, fsm FSM, opts Options) *Node {
	defaults := DefaultOptions()
	if opts.ElectionTimeout == 0 {
		opts.ElectionTimeout = defaults.ElectionTimeout
	}
	if opts.HeartbeatTimeout == 0 {
		opts.HeartbeatTimeout = defaults.HeartbeatTimeout
	}

	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		logger = logrus.NewEntry(l)
	}

	return &Node{
		id:      id,
		address: address,
		fsm:     fsm,
		opts:    opts,
		logger:  logger.WithField("server", id),
		log:     NewLog(nil, nil),
	}
}

func (n *Node) ID() uint64                   { return n.id }
func (n *Node) Address() string              { return n.address }
func (n *Node) Role() Role                   { return n.role }
func (n *Node) Term() uint64                 { return n.term }
func (n *Node) VotedFor() uint64             { return n.vote }
func (n *Node) CommitIndex() uint64          { return n.commitIndex }
func (n *Node) LastApplied() uint64          { return n.lastApplied }
func (n *Node) PersistedIndex() uint64       { return n.persistedIndex }
func (n *Node) Log() *Log                    { return n.log.Clone() }
func (n *Node) Configuration() Configuration { return n.conf.Clone() }

// Leader returns the ID of the leader this server currently follows, its own
// ID when it is the leader, or 0.
func (n *Node) Leader() uint64 {
	return n.leader
}

// Start loads the persisted state and begins serving as a follower.
func (n *Node) Start(io IO) error {
	if n.started {
		return errors.New("server already started")
	}

	state, err := io.Load()
	if err != nil {
		return fmt.Errorf("failed to load persisted state: %w", err)
	}

	n.io = io
	n.term = state.Term
	n.vote = state.Vote
	n.log = NewLog(state.Snapshot, state.Entries)

	if state.Snapshot != nil {
		if n.fsm != nil {
			if err := n.fsm.Restore(state.Snapshot.Data); err != nil {
				return fmt.Errorf("failed to restore snapshot: %w", err)
			}
		}
		n.commitIndex = state.Snapshot.Index
		n.lastApplied = state.Snapshot.Index
	}

	n.persistedIndex = n.log.LastIndex()
	n.conf, n.confIndex = n.log.LastConfiguration()
	n.role = Follower
	n.electionStart = io.Now()
	n.started = true

	return nil
}

// Tick is called periodically by the environment.
func (n *Node) Tick() {
	if !n.started {
		return
	}

	now := n.io.Now()
	switch n.role {
	case Follower, Candidate:
		if !n.conf.IsVoter(n.id) {
			return
		}
		if now-n.electionStart >= n.io.ElectionTimeout() {
			n.campaign()
		}
	case Leader:
		if !n.hasQuorumContact(now) {
			n.logger.Debug("Lost contact with a majority, stepping down")
			n.becomeFollower(n.term, 0)
			return
		}
		if now-n.heartbeatStart >= n.opts.HeartbeatTimeout {
			n.broadcastAppend()
		}
	}
}

// Recv handles a message delivered by the network.
func (n *Node) Recv(msg Message) {
	if !n.started {
		return
	}

	if msg.Term > n.term {
		var leader uint64
		if msg.Type == AppendEntries || msg.Type == InstallSnapshot {
			leader = msg.From
		}
		n.becomeFollower(msg.Term, leader)
	}

	switch msg.Type {
	case RequestVote:
		n.recvRequestVote(msg)
	case RequestVoteResult:
		n.recvRequestVoteResult(msg)
	case AppendEntries:
		n.recvAppendEntries(msg)
	case AppendEntriesResult:
		n.recvAppendEntriesResult(msg)
	case InstallSnapshot:
		n.recvInstallSnapshot(msg)
	}
}

// Sent is called once the network has taken ownership of a message sent by
// this server. Messages are copied on send, so there is nothing to release.
func (n *Node) Sent(msg Message) {}

// Persisted is called when an asynchronous disk request completes.
func (n *Node) Persisted(op DiskOp, err error) {
	if !n.started {
		return
	}

	var submitTerm uint64
	tracked := len(n.pending) > 0
	if tracked {
		submitTerm = n.pending[0]
		n.pending = n.pending[1:]
	}

	switch op.Kind {
	case DiskAppend:
		n.appendDone(op, submitTerm, tracked, err)
	case DiskSnapshot:
		n.snapshotDone(op, submitTerm, tracked, err)
	}
}

// Apply appends a command to the leader's log and starts replicating it. It
// returns the index the command will have once committed.
func (n *Node) Apply(data []byte) (uint64, error) {
	if !n.started {
		return 0, ErrNotStarted
	}
	if n.role != Leader {
		return 0, ErrNotLeader
	}

	index := n.log.LastIndex() + 1
	entry := Entry{Term: n.term, Type: EntryCommand, Data: append([]byte(nil), data...)}
	if err := n.appendEntries(index, []Entry{entry}); err != nil {
		return 0, err
	}

	n.broadcastAppend()
	return index, nil
}

// Reconfigure appends a new configuration to the leader's log. It takes
// effect as soon as it is appended.
func (n *Node) Reconfigure(conf Configuration) (uint64, error) {
	if !n.started {
		return 0, ErrNotStarted
	}
	if n.role != Leader {
		return 0, ErrNotLeader
	}

	c := conf.Clone()
	index := n.log.LastIndex() + 1
	entry := Entry{Term: n.term, Type: EntryConfiguration, Conf: &c}
	if err := n.appendEntries(index, []Entry{entry}); err != nil {
		return 0, err
	}

	n.broadcastAppend()
	return index, nil
}

func (n *Node) campaign() {
	now := n.io.Now()
	n.electionStart = now

	term := n.term + 1
	if err := n.io.SetTerm(term); err != nil {
		n.logger.WithError(err).Warn("Failed to persist term, not campaigning")
		return
	}
	if err := n.io.SetVote(n.id); err != nil {
		n.logger.WithError(err).Warn("Failed to persist vote, not campaigning")
		return
	}

	n.term = term
	n.vote = n.id
	n.role = Candidate
	n.leader = 0
	n.progress = nil
	n.votes = map[uint64]bool{n.id: true}
	n.logger.WithField("term", term).Debug("Starting election")

	if n.hasMajority(n.votes) {
		n.becomeLeader()
		return
	}

	for _, s := range n.conf.Servers {
		if s.ID == n.id || !s.Voting {
			continue
		}
		n.send(Message{
			Type:         RequestVote,
			To:           s.ID,
			Term:         n.term,
			LastLogIndex: n.log.LastIndex(),
			LastLogTerm:  n.log.LastTerm(),
		})
	}
}

func (n *Node) becomeFollower(term uint64, leader uint64) {
	if term > n.term {
		if err := n.io.SetTerm(term); err != nil {
			n.logger.WithError(err).Warn("Failed to persist term")
		}
		if err := n.io.SetVote(0); err != nil {
			n.logger.WithError(err).Warn("Failed to persist vote")
		}
		n.term = term
		n.vote = 0
	}

	if n.role != Follower {
		n.logger.WithField("term", n.term).Debug("Converting to follower")
		n.electionStart = n.io.Now()
	}

	n.role = Follower
	n.leader = leader
	n.votes = nil
	n.progress = nil
}

func (n *Node) becomeLeader() {
	now := n.io.Now()

	n.role = Leader
	n.leader = n.id
	n.leaderSince = now
	n.votes = nil
	n.progress = make(map[uint64]*progress)
	n.syncProgress(now)
	n.logger.WithField("term", n.term).Debug("Became leader")

	n.broadcastAppend()
}

// syncProgress makes the leader track exactly the servers in the current
// configuration.
func (n *Node) syncProgress(now uint64) {
	if n.role != Leader {
		return
	}

	for _, s := range n.conf.Servers {
		if s.ID == n.id {
			continue
		}
		if _, ok := n.progress[s.ID]; !ok {
			n.progress[s.ID] = &progress{next: n.log.LastIndex() + 1, lastContact: now}
		}
	}
	for id := range n.progress {
		if _, ok := n.conf.Get(id); !ok {
			delete(n.progress, id)
		}
	}
}

func (n *Node) hasMajority(set map[uint64]bool) bool {
	count := 0
	for _, s := range n.conf.Servers {
		if s.Voting && set[s.ID] {
			count++
		}
	}
	return count > n.conf.NumVoting()/2
}

func (n *Node) hasQuorumContact(now uint64) bool {
	if now-n.leaderSince < n.opts.ElectionTimeout {
		return true
	}

	contacted := map[uint64]bool{n.id: true}
	for id, p := range n.progress {
		if now-p.lastContact < n.opts.ElectionTimeout {
			contacted[id] = true
		}
	}
	return n.hasMajority(contacted)
}

func (n *Node) send(msg Message) {
	msg.From = n.id
	if err := n.io.Send(msg); err != nil {
		n.logger.WithError(err).WithFields(logrus.Fields{
			"to":   msg.To,
			"type": msg.Type,
		}).Debug("Failed to send message")
	}
}

func (n *Node) broadcastAppend() {
	n.heartbeatStart = n.io.Now()
	for _, s := range n.conf.Servers {
		if s.ID != n.id {
			n.replicate(s.ID)
		}
	}
}

func (n *Node) replicate(id uint64) {
	p, ok := n.progress[id]
	if !ok {
		return
	}

	prev := p.next - 1
	if prev < n.log.SnapshotIndex() {
		snapshot := n.log.Snapshot().Clone()
		n.send(Message{
			Type:         InstallSnapshot,
			To:           id,
			Term:         n.term,
			LeaderCommit: n.commitIndex,
			Snapshot:     &snapshot,
		})
		return
	}

	prevTerm, _ := n.log.TermOf(prev)
	n.send(Message{
		Type:         AppendEntries,
		To:           id,
		Term:         n.term,
		PrevLogIndex: prev,
		PrevLogTerm:  prevTerm,
		Entries:      n.log.From(p.next),
		LeaderCommit: n.commitIndex,
	})
}

func (n *Node) recvRequestVote(msg Message) {
	reply := Message{Type: RequestVoteResult, To: msg.From, Term: n.term}

	upToDate := msg.LastLogTerm > n.log.LastTerm() ||
		(msg.LastLogTerm == n.log.LastTerm() && msg.LastLogIndex >= n.log.LastIndex())

	if msg.Term == n.term && n.role == Follower && (n.vote == 0 || n.vote == msg.From) && upToDate {
		if err := n.io.SetVote(msg.From); err != nil {
			n.logger.WithError(err).Warn("Failed to persist vote")
		} else {
			n.vote = msg.From
			n.electionStart = n.io.Now()
			reply.VoteGranted = true
		}
	}

	n.send(reply)
}

func (n *Node) recvRequestVoteResult(msg Message) {
	if n.role != Candidate || msg.Term != n.term || !msg.VoteGranted {
		return
	}

	n.votes[msg.From] = true
	if n.hasMajority(n.votes) {
		n.becomeLeader()
	}
}

func (n *Node) recvAppendEntries(msg Message) {
	if msg.Term < n.term {
		n.send(Message{Type: AppendEntriesResult, To: msg.From, Term: n.term, LastLogIndex: n.log.LastIndex()})
		return
	}

	if n.role != Follower {
		n.becomeFollower(msg.Term, msg.From)
	}
	n.leader = msg.From
	n.electionStart = n.io.Now()

	reject := func(hint uint64) {
		n.send(Message{Type: AppendEntriesResult, To: msg.From, Term: n.term, LastLogIndex: hint})
	}

	if msg.PrevLogIndex > n.log.LastIndex() {
		reject(n.log.LastIndex())
		return
	}
	if msg.PrevLogIndex >= n.log.SnapshotIndex() {
		term, ok := n.log.TermOf(msg.PrevLogIndex)
		if !ok || term != msg.PrevLogTerm {
			reject(msg.PrevLogIndex - 1)
			return
		}
	}

	var first uint64
	var entries []Entry
	for k, e := range msg.Entries {
		index := msg.PrevLogIndex + uint64(k) + 1
		if index <= n.log.SnapshotIndex() {
			continue
		}
		if index <= n.log.LastIndex() {
			if term, _ := n.log.TermOf(index); term == e.Term {
				continue
			}
			n.truncate(index)
		}
		first = index
		entries = msg.Entries[k:]
		break
	}

	matchEnd := msg.PrevLogIndex + uint64(len(msg.Entries))
	if len(entries) > 0 {
		if err := n.appendEntries(first, entries); err != nil {
			reject(n.log.LastIndex())
			return
		}
	}

	if commit := min(msg.LeaderCommit, matchEnd); commit > n.commitIndex {
		n.commitIndex = commit
		n.applyCommitted()
	}

	// New entries are acknowledged once persisted.
	if len(entries) == 0 {
		n.send(Message{
			Type:         AppendEntriesResult,
			To:           msg.From,
			Term:         n.term,
			Success:      true,
			LastLogIndex: min(matchEnd, n.persistedIndex),
		})
	}
}

func (n *Node) recvAppendEntriesResult(msg Message) {
	if n.role != Leader || msg.Term != n.term {
		return
	}
	p, ok := n.progress[msg.From]
	if !ok {
		return
	}
	p.lastContact = n.io.Now()

	if !msg.Success {
		p.next = max(p.match+1, min(msg.LastLogIndex+1, n.log.LastIndex()+1))
		n.replicate(msg.From)
		return
	}

	if msg.LastLogIndex > p.match {
		p.match = msg.LastLogIndex
	}
	if p.next < p.match+1 {
		p.next = p.match + 1
	}
	n.maybeCommit()
}

func (n *Node) recvInstallSnapshot(msg Message) {
	if msg.Term < n.term || msg.Snapshot == nil {
		n.send(Message{Type: AppendEntriesResult, To: msg.From, Term: n.term, LastLogIndex: n.log.LastIndex()})
		return
	}

	if n.role != Follower {
		n.becomeFollower(msg.Term, msg.From)
	}
	n.leader = msg.From
	n.electionStart = n.io.Now()

	snapshot := msg.Snapshot.Clone()
	if snapshot.Index <= n.commitIndex {
		n.send(Message{Type: AppendEntriesResult, To: msg.From, Term: n.term, Success: true, LastLogIndex: n.commitIndex})
		return
	}

	if n.fsm != nil {
		if err := n.fsm.Restore(snapshot.Data); err != nil {
			n.logger.WithError(err).Warn("Failed to restore snapshot")
			n.send(Message{Type: AppendEntriesResult, To: msg.From, Term: n.term, LastLogIndex: n.log.LastIndex()})
			return
		}
	}

	n.log = NewLog(&snapshot, nil)
	n.conf, n.confIndex = n.log.LastConfiguration()
	n.commitIndex = snapshot.Index
	n.lastApplied = snapshot.Index

	n.pending = append(n.pending, n.term)
	if err := n.io.PutSnapshot(snapshot); err != nil {
		n.pending = n.pending[:len(n.pending)-1]
		n.logger.WithError(err).Warn("Failed to submit snapshot")
	}
}

// appendEntries adds entries to the in-memory log at index and submits them
// to disk.
func (n *Node) appendEntries(index uint64, entries []Entry) error {
	for k, e := range entries {
		e = e.Clone()
		n.log.Append(e)
		if e.Type == EntryConfiguration && e.Conf != nil {
			n.conf = e.Conf.Clone()
			n.confIndex = index + uint64(k)
			n.syncProgress(n.io.Now())
		}
	}

	n.pending = append(n.pending, n.term)
	if err := n.io.Append(index, n.log.From(index)); err != nil {
		n.pending = n.pending[:len(n.pending)-1]
		n.truncate(index)
		return fmt.Errorf("failed to submit entries at %d: %w", index, err)
	}

	return nil
}

// truncate deletes entries from index onwards, in memory and on disk.
func (n *Node) truncate(index uint64) {
	n.log.TruncateFrom(index)
	if err := n.io.Truncate(index); err != nil {
		n.logger.WithError(err).Warn("Failed to truncate log")
	}
	if n.persistedIndex >= index {
		n.persistedIndex = index - 1
	}
	if n.confIndex >= index {
		n.conf, n.confIndex = n.log.LastConfiguration()
		n.syncProgress(n.io.Now())
	}
}

func (n *Node) appendDone(op DiskOp, submitTerm uint64, tracked bool, err error) {
	if err != nil {
		n.logger.WithError(err).WithField("index", op.Index).Debug("Failed to persist entries")

		if n.log.LastIndex() > n.persistedIndex {
			n.truncate(n.persistedIndex + 1)
		}

		switch n.role {
		case Leader:
			n.becomeFollower(n.term, 0)
		case Follower:
			if n.leader != 0 {
				n.send(Message{Type: AppendEntriesResult, To: n.leader, Term: n.term, LastLogIndex: n.log.LastIndex()})
			}
		}
		return
	}

	// A gap means an earlier request failed and these entries were dropped.
	if op.Index > n.persistedIndex+1 {
		return
	}
	last := op.Index - 1
	for k, e := range op.Entries {
		index := op.Index + uint64(k)
		term, ok := n.log.TermOf(index)
		if !ok || term != e.Term {
			break
		}
		last = index
	}
	if last > n.persistedIndex {
		n.persistedIndex = last
	}
	if last < op.LastIndex() {
		return
	}

	switch n.role {
	case Leader:
		n.maybeCommit()
	case Follower:
		if tracked && submitTerm == n.term && n.leader != 0 {
			n.send(Message{Type: AppendEntriesResult, To: n.leader, Term: n.term, Success: true, LastLogIndex: last})
		}
	}
}

func (n *Node) snapshotDone(op DiskOp, submitTerm uint64, tracked bool, err error) {
	if err != nil {
		n.logger.WithError(err).Debug("Failed to persist snapshot")
		if n.role == Follower && n.leader != 0 {
			n.send(Message{Type: AppendEntriesResult, To: n.leader, Term: n.term})
		}
		return
	}

	if op.Snapshot != nil && n.log.SnapshotIndex() == op.Snapshot.Index {
		n.persistedIndex = n.log.LastIndex()
	}

	if n.role == Follower && tracked && submitTerm == n.term && n.leader != 0 {
		n.send(Message{Type: AppendEntriesResult, To: n.leader, Term: n.term, Success: true, LastLogIndex: op.LastIndex()})
	}
}

// maybeCommit advances the leader's commit index to the highest entry of the
// current term stored by a majority of voters.
func (n *Node) maybeCommit() {
	for index := n.log.LastIndex(); index > n.commitIndex; index-- {
		if term, _ := n.log.TermOf(index); term != n.term {
			break
		}

		stored := map[uint64]bool{}
		if n.persistedIndex >= index {
			stored[n.id] = true
		}
		for id, p := range n.progress {
			if p.match >= index {
				stored[id] = true
			}
		}

		if n.hasMajority(stored) {
			n.commitIndex = index
			n.applyCommitted()
			return
		}
	}
}

func (n *Node) applyCommitted() {
	for n.lastApplied < n.commitIndex {
		index := n.lastApplied + 1
		e, ok := n.log.Get(index)
		if !ok {
			break
		}
		if e.Type == EntryCommand && n.fsm != nil {
			if err := n.fsm.Apply(e.Data); err != nil {
				n.logger.WithError(err).WithField("index", index).Warn("Failed to apply entry")
			}
		}
		n.lastApplied = index
	}
}
