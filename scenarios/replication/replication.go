package replication

import (
	. "github.com/st3v3nmw/raftsim/internal/attest"
)

func Replication() *Suite {
	return New().
		// 0
		Setup(func(do *Do) {
			do.Start(3, 3)
			do.Elect(0)
		}).

		// 1
		Test("Commands Are Replicated", func(do *Do) {
			for _, command := range []string{"a", "b", "c"} {
				do.Apply(command)
			}

			for i := range 3 {
				do.Server(i).
					Eventually().Within(2000).
					Returns().Applied(Is("a,b,c")).
					Assert("Every server should apply the leader's commands in order.")
			}
		}).

		// 2
		Test("Commit Index Advances", func(do *Do) {
			for i := range 3 {
				do.Server(i).
					Returns().CommitIndex(Is(uint64(4))).LastApplied(Is(uint64(4))).
					Assert("The configuration entry and three commands should be committed.")
			}

			do.State().
				Returns().
				JSON("servers.#(role==\"leader\").index", Is("0")).
				JSON("servers.1.last_log_index", Is("4")).
				Assert("The cluster state should show the replicated log.")
		}).

		// 3
		Test("Follower Catches Up After Reconnecting", func(do *Do) {
			do.Isolate(2)
			do.Apply("d")

			do.Server(1).
				Eventually().Within(2000).
				Returns().Applied(Is("a,b,c,d")).
				Assert("A majority is enough to commit new commands.")

			do.Server(2).
				Consistently().For(500).
				Returns().Applied(Is("a,b,c")).
				Assert("An isolated follower can't receive new commands.")

			do.Heal()

			do.Server(2).
				Eventually().
				Returns().Applied(Is("a,b,c,d")).
				Assert("A reconnected follower should catch up with the leader.")

			do.Leader().
				Eventually().
				Returns().Exists().
				Assert("The cluster should have a leader after healing.")
		})
}
