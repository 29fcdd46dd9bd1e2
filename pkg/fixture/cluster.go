// Package fixture simulates a cluster of raft members on a single virtual
// clock. Timers, disk writes and network messages are all events fired one
// at a time by Step, so a test script always produces the same run.
package fixture

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/st3v3nmw/raftsim/pkg/raft"
)

// Cluster is a simulated raft cluster.
type Cluster struct {
	config *Config
	logger *logrus.Entry

	time    uint64
	servers []*server
	started bool
	closed  bool

	// Cluster-wide sequence number, used for FIFO ordering.
	seq uint64
	// Messages waiting for their send completion.
	sends []send

	// Safety monitor state: the last stable leader (-1 for none) and a copy
	// of its log.
	leaderIndex int
	leaderID    uint64
	leaderLog   *raft.Log
	commitIndex uint64

	event Event
	hook  func(*Cluster, Event)
}

type server struct {
	alive   bool
	running bool
	id      uint64
	address string
	fsm     raft.FSM
	member  Member
	store   *store
	io      *serverIO

	timeout        uint64
	networkLatency uint64
	diskLatency    uint64
	fault          fault

	nextTick uint64
	disk     []diskRequest
	inbox    []delivery

	// Links towards other servers, keyed by their index.
	disconnected map[int]bool
	saturated    map[int]bool
	drop         [raft.NumMessageTypes]bool

	nSend        [raft.NumMessageTypes]uint64
	nRecv        [raft.NumMessageTypes]uint64
	diskFailures uint64
}

// New creates a cluster of n servers. fsms may be nil, or hold one state
// machine per server.
func New(n int, fsms []raft.FSM, config *Config) (*Cluster, error) {
	if n < 0 || n > MaxServers {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyServers, n, MaxServers)
	}
	if fsms != nil && len(fsms) != n {
		return nil, fmt.Errorf("got %d state machines for %d servers", len(fsms), n)
	}

	config = merge(config)
	logger := config.Logger
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		logger = logrus.NewEntry(l)
	}

	c := &Cluster{
		config:      config,
		logger:      logger,
		leaderIndex: -1,
	}

	for i := range n {
		var fsm raft.FSM
		if fsms != nil {
			fsm = fsms[i]
		}
		c.addServer(fsm)
	}
	return c, nil
}

func (c *Cluster) addServer(fsm raft.FSM) *server {
	i := len(c.servers)
	id := uint64(i + 1)
	address := strconv.FormatUint(id, 10)

	s := &server{
		alive:          true,
		id:             id,
		address:        address,
		fsm:            fsm,
		store:          &store{},
		timeout:        c.config.ElectionTimeout + uint64(i)*c.config.TimeoutStep,
		networkLatency: c.config.NetworkLatency,
		diskLatency:    c.config.DiskLatency,
		fault:          noFault(),
		disconnected:   make(map[int]bool),
		saturated:      make(map[int]bool),
	}
	s.io = &serverIO{c: c, i: i}

	factory := c.config.NewMember
	if factory == nil {
		factory = c.newNode
	}
	s.member = factory(id, address, fsm)

	c.servers = append(c.servers, s)
	return s
}

// Close releases all servers. The cluster can't be used afterwards.
func (c *Cluster) Close() {
	c.closed = true
	c.servers = nil
	c.sends = nil
	c.leaderLog = nil
	c.hook = nil
}

func (c *Cluster) check(i int) error {
	if c.closed {
		return ErrClosed
	}
	if i < 0 || i >= len(c.servers) {
		return fmt.Errorf("%w: %d", ErrInvalidIndex, i)
	}
	return nil
}

// Configuration lists every server, the first nVoting of them as voters.
func (c *Cluster) Configuration(nVoting int) raft.Configuration {
	var conf raft.Configuration
	for i, s := range c.servers {
		conf.Servers = append(conf.Servers, raft.Server{
			ID:      s.id,
			Address: s.address,
			Voting:  i < nVoting,
		})
	}
	return conf
}

// Bootstrap writes conf as the first log entry of every server.
func (c *Cluster) Bootstrap(conf raft.Configuration) error {
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return ErrAlreadyStarted
	}

	for i, s := range c.servers {
		if !s.store.empty() {
			return fmt.Errorf("%w: server %d", ErrCantBootstrap, i)
		}
	}

	for _, s := range c.servers {
		conf := conf.Clone()
		s.store.term = 1
		s.store.entries = []raft.Entry{{Term: 1, Type: raft.EntryConfiguration, Conf: &conf}}
	}
	return nil
}

// Start starts every live server.
func (c *Cluster) Start() error {
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return ErrAlreadyStarted
	}

	for i, s := range c.servers {
		if !s.alive {
			continue
		}
		if err := c.startServer(i); err != nil {
			return err
		}
	}

	c.started = true
	return nil
}

func (c *Cluster) startServer(i int) error {
	s := c.servers[i]
	if err := s.member.Start(s.io); err != nil {
		return fmt.Errorf("failed to start server %d: %w", i, err)
	}
	s.running = true
	s.nextTick = c.time + c.config.TickInterval
	return nil
}

// N returns the number of servers, dead ones included.
func (c *Cluster) N() int {
	return len(c.servers)
}

// Time returns the current virtual time in milliseconds.
func (c *Cluster) Time() uint64 {
	return c.time
}

// Get returns the member of the i'th server.
func (c *Cluster) Get(i int) Member {
	return c.servers[i].member
}

func (c *Cluster) Alive(i int) bool {
	return c.servers[i].alive
}

// LeaderIndex returns the index of the stable leader, or N() if there is none.
func (c *Cluster) LeaderIndex() int {
	if c.leaderIndex < 0 {
		return c.N()
	}
	return c.leaderIndex
}

// VotedFor returns the index of the server the i'th server voted for in its
// current term, or N() if it did not vote.
func (c *Cluster) VotedFor(i int) int {
	return c.indexOf(c.servers[i].member.VotedFor())
}

func (c *Cluster) indexOf(id uint64) int {
	for i, s := range c.servers {
		if s.id == id {
			return i
		}
	}
	return c.N()
}

// NSend returns the number of messages of the given type sent by server i.
func (c *Cluster) NSend(i int, t raft.MessageType) uint64 {
	return c.servers[i].nSend[t]
}

// NRecv returns the number of messages of the given type received by server i.
func (c *Cluster) NRecv(i int, t raft.MessageType) uint64 {
	return c.servers[i].nRecv[t]
}

// DiskFailures returns the number of faulted disk writes reported to server i.
func (c *Cluster) DiskFailures(i int) uint64 {
	return c.servers[i].diskFailures
}

// Kill stops the i'th server for good. Its pending sends and disk writes
// are discarded, and messages still travelling to it are lost.
func (c *Cluster) Kill(i int) error {
	if err := c.check(i); err != nil {
		return err
	}

	s := c.servers[i]
	s.alive = false
	s.disk = nil

	kept := c.sends[:0]
	for _, snd := range c.sends {
		if snd.from != i {
			kept = append(kept, snd)
		}
	}
	c.sends = kept

	c.logger.WithField("server", i).Debug("Killed server")
	return nil
}

// Grow adds a server with an empty store, connected to every other one. It
// is started right away if the cluster is running, and takes part in no
// configuration until a leader adds it.
func (c *Cluster) Grow(fsm raft.FSM) error {
	if c.closed {
		return ErrClosed
	}
	if c.N() >= MaxServers {
		return fmt.Errorf("%w: already %d servers", ErrTooManyServers, c.N())
	}

	c.addServer(fsm)

	if c.started {
		return c.startServer(c.N() - 1)
	}
	return nil
}

// SetRandomizedElectionTimeout overrides the election timeout of server i.
func (c *Cluster) SetRandomizedElectionTimeout(i int, msecs uint64) error {
	if err := c.check(i); err != nil {
		return err
	}
	c.servers[i].timeout = msecs
	return nil
}

// SetNetworkLatency sets the latency of messages sent by server i.
func (c *Cluster) SetNetworkLatency(i int, msecs uint64) error {
	if err := c.check(i); err != nil {
		return err
	}
	c.servers[i].networkLatency = msecs
	return nil
}

// SetDiskLatency sets the latency of server i's asynchronous disk writes.
func (c *Cluster) SetDiskLatency(i int, msecs uint64) error {
	if err := c.check(i); err != nil {
		return err
	}
	c.servers[i].diskLatency = msecs
	return nil
}

// Fault makes the disk writes of server i fail: after delay successful
// submissions, the next repeat ones fail. A negative delay clears the
// schedule, a negative repeat fails every write after the delay.
func (c *Cluster) Fault(i int, delay, repeat int) error {
	if err := c.check(i); err != nil {
		return err
	}
	if delay < 0 {
		c.servers[i].fault = noFault()
		return nil
	}
	c.servers[i].fault = fault{countdown: delay, n: repeat}
	return nil
}

func (c *Cluster) presetStore(i int) (*store, error) {
	if err := c.check(i); err != nil {
		return nil, err
	}
	if c.started {
		return nil, ErrAlreadyStarted
	}
	return c.servers[i].store, nil
}

// SetTerm sets the persisted term of server i before the cluster starts.
func (c *Cluster) SetTerm(i int, term uint64) error {
	s, err := c.presetStore(i)
	if err != nil {
		return err
	}
	s.term = term
	return nil
}

// SetSnapshot sets the persisted snapshot of server i before the cluster
// starts. Stored entries are discarded.
func (c *Cluster) SetSnapshot(i int, snapshot raft.Snapshot) error {
	s, err := c.presetStore(i)
	if err != nil {
		return err
	}
	s.putSnapshot(snapshot)
	return nil
}

// SetEntries replaces the persisted entries of server i before the cluster
// starts. The first entry follows the snapshot, if any.
func (c *Cluster) SetEntries(i int, entries []raft.Entry) error {
	s, err := c.presetStore(i)
	if err != nil {
		return err
	}
	s.entries = nil
	for _, e := range entries {
		s.entries = append(s.entries, e.Clone())
	}
	return nil
}

// AddEntry appends an entry to the persisted log of server i before the
// cluster starts.
func (c *Cluster) AddEntry(i int, entry raft.Entry) error {
	s, err := c.presetStore(i)
	if err != nil {
		return err
	}
	s.entries = append(s.entries, entry.Clone())
	return nil
}

// Drop makes server i silently drop every message of the given type it sends.
func (c *Cluster) Drop(i int, t raft.MessageType, on bool) error {
	if err := c.check(i); err != nil {
		return err
	}
	c.servers[i].drop[t] = on
	return nil
}

// Disconnect makes sends between servers i and j fail, in both directions.
func (c *Cluster) Disconnect(i, j int) error {
	return c.setLink(i, j, true)
}

// Reconnect undoes Disconnect.
func (c *Cluster) Reconnect(i, j int) error {
	return c.setLink(i, j, false)
}

func (c *Cluster) setLink(i, j int, disconnected bool) error {
	if err := c.check(i); err != nil {
		return err
	}
	if err := c.check(j); err != nil {
		return err
	}
	c.servers[i].disconnected[j] = disconnected
	c.servers[j].disconnected[i] = disconnected
	return nil
}

// Saturate makes messages from server i to server j get lost silently.
func (c *Cluster) Saturate(i, j int) error {
	if err := c.check(i); err != nil {
		return err
	}
	if err := c.check(j); err != nil {
		return err
	}
	c.servers[i].saturated[j] = true
	return nil
}

// Desaturate undoes Saturate.
func (c *Cluster) Desaturate(i, j int) error {
	if err := c.check(i); err != nil {
		return err
	}
	if err := c.check(j); err != nil {
		return err
	}
	c.servers[i].saturated[j] = false
	return nil
}

// Saturated reports whether messages from server i to server j are lost.
func (c *Cluster) Saturated(i, j int) bool {
	return c.servers[i].saturated[j]
}

// Disconnected reports whether servers i and j can't reach each other.
func (c *Cluster) Disconnected(i, j int) bool {
	return c.servers[i].disconnected[j] || c.servers[j].disconnected[i]
}
