package election

// Timing (virtual milliseconds, default cluster config):
//   - Ticks every 100ms, election timeout of server i is 1,000 + 100*i
//   - Heartbeats every 100ms, 15ms network latency, 10ms disk latency
//   - The first election completes shortly after 1,000ms

import (
	. "github.com/st3v3nmw/raftsim/internal/attest"
	"github.com/st3v3nmw/raftsim/pkg/raft"
)

func LeaderElection() *Suite {
	return New().
		// 0
		Setup(func(do *Do) {
			do.Start(5, 5)
		}).

		// 1
		Test("Leader Is Elected", func(do *Do) {
			do.Leader().
				Eventually().Within(3000).
				Returns().Exists().Term(AtLeast(uint64(2))).
				Assert("A cluster of five connected voters should elect a leader\n" +
					"once the first election timeout expires.")
		}).

		// 2
		Test("Leader Keeps Its Authority", func(do *Do) {
			leader := do.Cluster().LeaderIndex()

			do.Leader().
				Consistently().For(3000).
				Returns().Index(Is(leader)).
				Assert("A leader that keeps sending heartbeats should not be replaced.")
		}).

		// 3
		Test("Followers Agree With The Leader", func(do *Do) {
			c := do.Cluster()
			leader := c.LeaderIndex()
			term := c.Get(leader).Term()

			for i := range c.N() {
				if i == leader {
					continue
				}

				do.Server(i).
					Returns().Role(Is(raft.Follower)).Term(Is(term)).
					Assert("Every follower should be in the leader's term.")
			}
		}).

		// 4
		Test("Leader Sends Heartbeats", func(do *Do) {
			c := do.Cluster()
			leader := c.LeaderIndex()
			sent := c.NSend(leader, raft.AppendEntries)

			do.Elapse(1000)

			do.Server(leader).
				Returns().Sent(raft.AppendEntries, AtLeast(sent+20)).
				Assert("The leader should send a heartbeat to every follower\n" +
					"each heartbeat interval.")
		})
}
