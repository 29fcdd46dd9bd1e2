package attest

import (
	"context"
	"fmt"
	"strings"

	"github.com/st3v3nmw/raftsim/pkg/fixture"
	"github.com/st3v3nmw/raftsim/pkg/raft"
)

// Do provides the test harness and acts as the test runner. It drives a
// single simulated cluster; every operation panics with a readable message
// when it can't be carried out.
type Do struct {
	config  *Config
	cluster *fixture.Cluster
	fsms    []*Recorder

	ctx    context.Context
	cancel context.CancelFunc
}

// newDo creates a new Do instance with custom configuration
func newDo(ctx context.Context, config *Config) *Do {
	doCtx, cancel := context.WithCancel(ctx)

	return &Do{
		config: config,
		ctx:    doCtx,
		cancel: cancel,
	}
}

// Recorder is the state machine given to every simulated server. It keeps
// the commands applied so far.
type Recorder struct {
	commands []string
}

func (r *Recorder) Apply(data []byte) error {
	r.commands = append(r.commands, string(data))
	return nil
}

func (r *Recorder) Restore(data []byte) error {
	r.commands = nil
	if len(data) > 0 {
		r.commands = strings.Split(string(data), "\n")
	}
	return nil
}

// Commands returns the applied commands in order.
func (r *Recorder) Commands() []string {
	return append([]string(nil), r.commands...)
}

func (do *Do) must(err error, format string, args ...any) {
	if err != nil {
		panic(fmt.Sprintf("Failed to %s: %v", fmt.Sprintf(format, args...), err))
	}
}

// Start creates and starts a cluster of n servers, the first voting of
// which are voters.
func (do *Do) Start(n, voting int) {
	if do.cluster != nil {
		panic("cluster already started")
	}

	machines := make([]raft.FSM, n)
	do.fsms = make([]*Recorder, n)
	for i := range n {
		do.fsms[i] = &Recorder{}
		machines[i] = do.fsms[i]
	}

	config := do.config.Cluster
	if do.config.Logger != nil {
		config.Logger = do.config.Logger
	}

	c, err := fixture.New(n, machines, &config)
	do.must(err, "create a cluster of %d servers", n)
	do.must(c.Bootstrap(c.Configuration(voting)), "bootstrap %d voters", voting)
	do.must(c.Start(), "start the cluster")

	do.cluster = c
}

// Cluster returns the simulated cluster for direct manipulation.
func (do *Do) Cluster() *fixture.Cluster {
	if do.cluster == nil {
		panic("cluster not started, call Start first")
	}
	return do.cluster
}

// Elect makes server i the leader.
func (do *Do) Elect(i int) {
	do.must(do.Cluster().Elect(i), "elect server %d", i)
}

// Depose makes the current leader step down.
func (do *Do) Depose() {
	do.must(do.Cluster().Depose(), "depose the leader")
}

func (do *Do) Disconnect(i, j int) {
	do.must(do.Cluster().Disconnect(i, j), "disconnect %d and %d", i, j)
}

func (do *Do) Reconnect(i, j int) {
	do.must(do.Cluster().Reconnect(i, j), "reconnect %d and %d", i, j)
}

func (do *Do) Saturate(i, j int) {
	do.must(do.Cluster().Saturate(i, j), "saturate %d -> %d", i, j)
}

func (do *Do) Desaturate(i, j int) {
	do.must(do.Cluster().Desaturate(i, j), "desaturate %d -> %d", i, j)
}

// Isolate disconnects server i from every other server.
func (do *Do) Isolate(i int) {
	c := do.Cluster()
	for j := range c.N() {
		if j != i {
			do.Disconnect(i, j)
		}
	}
}

// Heal reconnects every pair of servers.
func (do *Do) Heal() {
	c := do.Cluster()
	for i := range c.N() {
		for j := i + 1; j < c.N(); j++ {
			do.Reconnect(i, j)
		}
	}
}

func (do *Do) Kill(i int) {
	do.must(do.Cluster().Kill(i), "kill server %d", i)
}

// Grow adds a server and returns its index.
func (do *Do) Grow() int {
	fsm := &Recorder{}
	do.must(do.Cluster().Grow(fsm), "add a server")
	do.fsms = append(do.fsms, fsm)
	return do.cluster.N() - 1
}

// Fault makes server i's disk fail after delay writes, repeat times.
func (do *Do) Fault(i, delay, repeat int) {
	do.must(do.Cluster().Fault(i, delay, repeat), "set a fault on server %d", i)
}

// Drop discards every message of type t sent by server i while on.
func (do *Do) Drop(i int, t raft.MessageType, on bool) {
	do.must(do.Cluster().Drop(i, t, on), "drop %s from server %d", t, i)
}

// Apply submits a command to the current leader and returns its index.
func (do *Do) Apply(command string) uint64 {
	p := do.leader()
	index, err := p.Apply([]byte(command))
	do.must(err, "apply %q", command)
	return index
}

// Reconfigure makes the leader append a configuration holding every server
// of the cluster, the first voting of which are voters.
func (do *Do) Reconfigure(voting int) uint64 {
	p := do.leader()
	index, err := p.Reconfigure(do.cluster.Configuration(voting))
	do.must(err, "reconfigure with %d voters", voting)
	return index
}

func (do *Do) leader() fixture.Proposer {
	c := do.Cluster()
	i := c.LeaderIndex()
	if i == c.N() {
		panic("no stable leader")
	}

	p, ok := c.Get(i).(fixture.Proposer)
	if !ok {
		panic(fmt.Sprintf("server %d does not accept commands", i))
	}
	return p
}

// Step fires the next n events.
func (do *Do) Step(n int) {
	c := do.Cluster()
	for range n {
		select {
		case <-do.ctx.Done():
			return
		default:
		}

		c.Step()
	}
}

// Elapse fires every event due within the next msecs.
func (do *Do) Elapse(msecs uint64) {
	select {
	case <-do.ctx.Done():
		return
	default:
	}

	do.Cluster().StepUntilElapsed(msecs)
}

// Applied returns the commands server i applied.
func (do *Do) Applied(i int) []string {
	do.Cluster()
	if i < 0 || i >= len(do.fsms) {
		panic(fmt.Sprintf("server %d not found", i))
	}
	return do.fsms[i].Commands()
}

// Cancel stops the running suite.
func (do *Do) Cancel() {
	do.cancel()
}

// Done releases the cluster.
func (do *Do) Done() {
	do.cancel()

	if do.cluster != nil {
		do.cluster.Close()
	}
}

// Server creates a deferred check of server i.
func (do *Do) Server(i int) *ServerPromise {
	do.Cluster()
	return &ServerPromise{PromiseBase: do.promise(), index: i}
}

// Leader creates a deferred check of the stable leader.
func (do *Do) Leader() *LeaderPromise {
	do.Cluster()
	return &LeaderPromise{PromiseBase: do.promise()}
}

// State creates a deferred check of the cluster's JSON state.
func (do *Do) State() *StatePromise {
	do.Cluster()
	return &StatePromise{PromiseBase: do.promise()}
}

func (do *Do) promise() PromiseBase {
	return PromiseBase{
		timing: TimingImmediate,
		ctx:    do.ctx,
		config: do.config,
		do:     do,
	}
}
