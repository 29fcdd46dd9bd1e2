package fixture

import (
	"fmt"

	"github.com/st3v3nmw/raftsim/pkg/raft"
)

// Predicate is a read-only condition over the cluster.
type Predicate func(c *Cluster) bool

// maxTimeout is an election timeout that never expires.
const maxTimeout = uint64(1) << 62

// StepUntil steps until pred holds or the next event would fire more than
// maxMsecs after the current time. It reports whether pred holds.
func (c *Cluster) StepUntil(pred Predicate, maxMsecs uint64) bool {
	deadline := c.time + maxMsecs
	for !pred(c) {
		e, ok := c.next()
		if !ok || e.Time > deadline {
			return false
		}
		c.Step()
	}
	return true
}

// StepUntilElapsed fires every event due within the next msecs. The clock
// stops at the last event fired, never past the deadline, and an idle
// cluster does not move at all.
func (c *Cluster) StepUntilElapsed(msecs uint64) {
	c.StepUntil(func(*Cluster) bool { return false }, msecs)
}

func HasLeader(c *Cluster) bool {
	return c.leaderIndex >= 0
}

func HasNoLeader(c *Cluster) bool {
	return c.leaderIndex < 0
}

// Applied holds once server i applied index. If i is N(), every live server
// must have applied it.
func Applied(i int, index uint64) Predicate {
	return func(c *Cluster) bool {
		if i == c.N() {
			for _, s := range c.servers {
				if s.alive && s.member.LastApplied() < index {
					return false
				}
			}
			return true
		}
		return c.servers[i].member.LastApplied() >= index
	}
}

func RoleIs(i int, role raft.Role) Predicate {
	return func(c *Cluster) bool {
		return c.servers[i].member.Role() == role
	}
}

func TermIs(i int, term uint64) Predicate {
	return func(c *Cluster) bool {
		return c.servers[i].member.Term() == term
	}
}

// VotedFor holds once server i voted for server j.
func VotedFor(i, j int) Predicate {
	return func(c *Cluster) bool {
		return c.VotedFor(i) == j
	}
}

// Delivered holds when every message server i sent to server j has been
// delivered: none is waiting for its send completion or travelling. Lost
// messages are never delivered, so they do not count as travelling. It holds
// trivially if i never sent anything to j.
func Delivered(i, j int) Predicate {
	return func(c *Cluster) bool {
		for _, snd := range c.sends {
			if snd.from == i && snd.to == j && !snd.lost {
				return false
			}
		}
		for _, d := range c.servers[j].inbox {
			if d.from == i {
				return false
			}
		}
		return true
	}
}

func (c *Cluster) StepUntilHasLeader(maxMsecs uint64) bool {
	return c.StepUntil(HasLeader, maxMsecs)
}

func (c *Cluster) StepUntilHasNoLeader(maxMsecs uint64) bool {
	return c.StepUntil(HasNoLeader, maxMsecs)
}

func (c *Cluster) StepUntilApplied(i int, index uint64, maxMsecs uint64) bool {
	return c.StepUntil(Applied(i, index), maxMsecs)
}

func (c *Cluster) StepUntilRoleIs(i int, role raft.Role, maxMsecs uint64) bool {
	return c.StepUntil(RoleIs(i, role), maxMsecs)
}

func (c *Cluster) StepUntilTermIs(i int, term uint64, maxMsecs uint64) bool {
	return c.StepUntil(TermIs(i, term), maxMsecs)
}

func (c *Cluster) StepUntilVotedFor(i, j int, maxMsecs uint64) bool {
	return c.StepUntil(VotedFor(i, j), maxMsecs)
}

func (c *Cluster) StepUntilDelivered(i, j int, maxMsecs uint64) bool {
	return c.StepUntil(Delivered(i, j), maxMsecs)
}

// Elect makes server i the stable leader. No leader or candidate may exist,
// and i must be a voter connected to a voting majority. Every other server's
// election timeout is pushed out until i wins.
func (c *Cluster) Elect(i int) error {
	if err := c.check(i); err != nil {
		return err
	}
	if !c.started {
		return ErrNotStarted
	}
	if c.leaderIndex >= 0 {
		return ErrHasLeader
	}
	for j, s := range c.servers {
		if s.alive && s.member.Role() != raft.Follower {
			return fmt.Errorf("%w: server %d is %s", ErrNotFollower, j, s.member.Role())
		}
	}

	m := c.servers[i].member
	conf := m.Configuration()
	if !c.servers[i].alive || !conf.IsVoter(m.ID()) {
		return fmt.Errorf("%w: server %d", ErrNotVoter, i)
	}

	reachable := 0
	for j, s := range c.servers {
		if s.alive && conf.IsVoter(s.id) && (j == i || !c.Disconnected(i, j)) {
			reachable++
		}
	}
	if reachable <= conf.NumVoting()/2 {
		return fmt.Errorf("%w: server %d reaches %d of %d voters", ErrNoMajority, i, reachable, conf.NumVoting())
	}

	restore := c.freezeTimeouts(i)
	defer restore()

	if !c.StepUntil(func(c *Cluster) bool { return c.leaderIndex == i }, c.config.ElectionTimeout*20) {
		return fmt.Errorf("%w: server %d not elected", ErrTimeout, i)
	}
	return nil
}

// Depose makes the stable leader step down by dropping every append
// acknowledgement sent to it, until it notices it lost its majority.
func (c *Cluster) Depose() error {
	if c.closed {
		return ErrClosed
	}
	leader := c.leaderIndex
	if leader < 0 {
		return ErrNoLeader
	}

	restore := c.freezeTimeouts(leader)
	defer restore()

	for j, s := range c.servers {
		if j != leader {
			s.drop[raft.AppendEntriesResult] = true
		}
	}
	defer func() {
		for j, s := range c.servers {
			if j != leader {
				s.drop[raft.AppendEntriesResult] = false
			}
		}
	}()

	if !c.StepUntilHasNoLeader(c.config.ElectionTimeout * 3) {
		return fmt.Errorf("%w: server %d still leading", ErrTimeout, leader)
	}
	return nil
}

// freezeTimeouts pushes out the election timeout of every server but i, and
// returns a function restoring them.
func (c *Cluster) freezeTimeouts(i int) func() {
	saved := make([]uint64, len(c.servers))
	for j, s := range c.servers {
		saved[j] = s.timeout
		if j != i {
			s.timeout = maxTimeout
		}
	}

	return func() {
		for j, s := range c.servers {
			if j < len(saved) {
				s.timeout = saved[j]
			}
		}
	}
}
