package fixture

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/st3v3nmw/raftsim/pkg/raft"
)

// monitor runs after every event. It panics with a *SafetyViolation if two
// leaders share a term, or if the stable leader's log lost or changed an
// entry since it was last observed.
func (c *Cluster) monitor() {
	leader := c.stableLeader()
	if leader < 0 {
		if c.leaderIndex >= 0 {
			c.logger.WithField("time", c.time).Debug("Cluster has no stable leader")
		}
		c.leaderIndex = -1
		c.leaderID = 0
		c.leaderLog = nil
		c.commitIndex = 0
		return
	}

	m := c.servers[leader].member
	current := m.Log()

	if c.leaderIndex == leader && c.leaderID == m.ID() && c.leaderLog != nil {
		if detail, ok := appendOnly(c.leaderLog, current); !ok {
			panic(&SafetyViolation{
				Property: LeaderAppendOnly,
				Time:     c.time,
				Detail:   fmt.Sprintf("server %d: %s", leader, detail),
			})
		}
	} else {
		c.logger.WithFields(logrus.Fields{
			"server": leader,
			"term":   m.Term(),
			"time":   c.time,
		}).Debug("Cluster has a stable leader")
	}

	c.leaderIndex = leader
	c.leaderID = m.ID()
	c.leaderLog = current
	c.commitIndex = m.CommitIndex()
}

// stableLeader returns the index of the stable leader, or -1.
func (c *Cluster) stableLeader() int {
	var leaders []int
	for i, s := range c.servers {
		if s.alive && s.running && s.member.Role() == raft.Leader {
			leaders = append(leaders, i)
		}
	}

	leader := -1
	for k, i := range leaders {
		term := c.servers[i].member.Term()
		for _, j := range leaders[k+1:] {
			if c.servers[j].member.Term() == term {
				panic(&SafetyViolation{
					Property: ElectionSafety,
					Time:     c.time,
					Detail:   fmt.Sprintf("servers %d and %d both lead term %d", i, j, term),
				})
			}
		}
		if leader < 0 || term > c.servers[leader].member.Term() {
			leader = i
		}
	}
	if leader < 0 {
		return -1
	}

	l := c.servers[leader].member
	conf := l.Configuration()

	acked := 0
	if conf.IsVoter(l.ID()) {
		acked++
	}
	for i, s := range c.servers {
		if i == leader || !s.alive || !s.running || c.Disconnected(leader, i) {
			continue
		}
		m := s.member
		if _, ok := conf.Get(m.ID()); !ok {
			continue
		}
		if m.Role() != raft.Follower || m.Term() != l.Term() || m.Leader() != l.ID() {
			return -1
		}
		if conf.IsVoter(m.ID()) {
			acked++
		}
	}

	if acked <= conf.NumVoting()/2 {
		return -1
	}
	return leader
}

// appendOnly checks that current extends prev. Entries compacted into a
// snapshot on either side are skipped.
func appendOnly(prev, current *raft.Log) (string, bool) {
	if current.LastIndex() < prev.LastIndex() {
		return fmt.Sprintf("last index went from %d to %d", prev.LastIndex(), current.LastIndex()), false
	}

	first := max(prev.SnapshotIndex(), current.SnapshotIndex()) + 1
	for index := first; index <= prev.LastIndex(); index++ {
		before, _ := prev.Get(index)
		after, ok := current.Get(index)
		if !ok || !before.Equal(after) {
			return fmt.Sprintf("entry %d changed", index), false
		}
	}
	return "", true
}
