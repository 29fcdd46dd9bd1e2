package replication

import (
	. "github.com/st3v3nmw/raftsim/internal/attest"
	"github.com/st3v3nmw/raftsim/pkg/raft"
)

func DiskFault() *Suite {
	return New().
		// 0
		Setup(func(do *Do) {
			do.Start(3, 3)
			do.Elect(0)
		}).

		// 1
		Test("Follower Recovers From A Failed Write", func(do *Do) {
			do.Fault(1, 0, 1)
			do.Apply("a")

			do.Server(1).
				Eventually().Within(2000).
				Returns().Applied(Is("a")).DiskFailures(Is(uint64(1))).
				Assert("A follower whose write failed should get the entry again\n" +
					"from the leader and apply it.")

			do.Leader().
				Returns().Index(Is(0)).
				Assert("A follower's disk fault should not affect the leader.")
		}).

		// 2
		Test("Leader Steps Down On A Failed Write", func(do *Do) {
			do.Fault(0, 0, 1)
			do.Apply("b")

			do.Server(0).
				Eventually().Within(500).
				Returns().Role(Not(Is(raft.Leader))).DiskFailures(Is(uint64(1))).
				Assert("A leader that can't persist its own entry should step down.")

			do.Leader().
				Eventually().
				Returns().Exists().
				Assert("The cluster should elect a new leader.")
		}).

		// 3
		Test("Cluster Keeps Committing", func(do *Do) {
			do.Apply("c")

			for i := range 3 {
				do.Server(i).
					Eventually().Within(3000).
					Returns().Applied(Matches(`^a,(b,)?c$`)).
					Assert("Every server should apply commands of the new leader.")
			}
		})
}
