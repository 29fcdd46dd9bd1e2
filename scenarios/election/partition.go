package election

import (
	. "github.com/st3v3nmw/raftsim/internal/attest"
	"github.com/st3v3nmw/raftsim/pkg/raft"
)

var (
	minority = []int{0, 1}
	majority = []int{2, 3, 4}
)

func Partition() *Suite {
	return New().
		// 0
		Setup(func(do *Do) {
			do.Start(5, 5)
			do.Elect(0)
		}).

		// 1
		Test("Majority Partition Elects A New Leader", func(do *Do) {
			for _, i := range minority {
				for _, j := range majority {
					do.Disconnect(i, j)
				}
			}

			do.Leader().
				Eventually().
				Returns().Index(OneOf(majority...)).
				Assert("The three servers cut off from the leader should elect\n" +
					"a leader of their own.")
		}).

		// 2
		Test("Minority Partition Cannot Elect A Leader", func(do *Do) {
			do.Server(0).
				Eventually().Within(3000).
				Returns().Role(Not(Is(raft.Leader))).
				Assert("A leader that can't reach a majority should step down.")

			for _, i := range minority {
				do.Server(i).
					Consistently().For(2000).
					Returns().Role(Not(Is(raft.Leader))).
					Assert("Two servers out of five can't win an election.")
			}
		}).

		// 3
		Test("Healing Restores A Single Leader", func(do *Do) {
			do.Heal()
			do.Step(1)

			do.Leader().
				Eventually().
				Returns().Exists().
				Assert("Once the partition heals, the cluster should settle on one leader.")

			c := do.Cluster()
			term := c.Get(c.LeaderIndex()).Term()
			for i := range c.N() {
				do.Server(i).
					Returns().Term(Is(term)).
					Assert("Every server should be in the leader's term after healing.")
			}

			do.State().
				Returns().JSON("servers.0.disconnected.#", Is("0")).
				Assert("Healing should reconnect every link.")
		})
}
