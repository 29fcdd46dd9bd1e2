package replication

import (
	. "github.com/st3v3nmw/raftsim/internal/attest"
	"github.com/st3v3nmw/raftsim/pkg/raft"
)

func Growth() *Suite {
	return New().
		// 0
		Setup(func(do *Do) {
			do.Start(3, 3)
			do.Elect(0)
		}).

		// 1
		Test("New Server Starts Outside The Configuration", func(do *Do) {
			i := do.Grow()

			do.Server(i).
				Consistently().For(2000).
				Returns().Role(Is(raft.Follower)).Term(Is(uint64(0))).
				Assert("A server that is in no configuration should never campaign.")

			do.Leader().
				Returns().Index(Is(0)).
				Assert("Adding a server should not disturb the leader.")
		}).

		// 2
		Test("Reconfiguration Adds A Voter", func(do *Do) {
			do.Reconfigure(4)

			do.State().
				Eventually().Within(2000).
				Returns().JSON("servers.3.voting", Is("true")).
				Assert("The new server should learn it is a voter.")
		}).

		// 3
		Test("New Server Applies Commands", func(do *Do) {
			do.Apply("x")

			do.Server(3).
				Eventually().Within(2000).
				Returns().Applied(Is("x")).
				Assert("The new server should apply commands like any other.")
		}).

		// 4
		Test("Cluster Survives Losing The Original Leader", func(do *Do) {
			do.Kill(0)

			do.Leader().
				Eventually().
				Returns().Index(OneOf(1, 2, 3)).
				Assert("Three voters out of four should elect a new leader.")

			do.Apply("y")

			do.Server(3).
				Eventually().Within(2000).
				Returns().Applied(Is("x,y")).Alive(Is(true)).
				Assert("Commands should still reach the newest server.")
		})
}
