package election

import (
	. "github.com/st3v3nmw/raftsim/internal/attest"
	"github.com/st3v3nmw/raftsim/pkg/raft"
)

func Depose() *Suite {
	return New().
		// 0
		Setup(func(do *Do) {
			do.Start(3, 3)
			do.Elect(0)
		}).

		// 1
		Test("Deposed Leader Steps Down", func(do *Do) {
			term := do.Cluster().Get(0).Term()

			do.Depose()

			do.Leader().
				Returns().Index(Is(3)).
				Assert("Deposing should leave the cluster without a leader.")

			do.Server(0).
				Returns().Role(Is(raft.Follower)).Term(Is(term)).
				Assert("A leader that stops hearing from its followers should step down\n" +
					"without starting a new term.")
		}).

		// 2
		Test("A New Leader Takes Over", func(do *Do) {
			do.Leader().
				Eventually().
				Returns().Exists().
				Assert("Followers should elect a new leader once their timeouts expire.")
		}).

		// 3
		Test("Any Voter Can Be Elected", func(do *Do) {
			do.Depose()
			do.Elect(2)

			do.Leader().
				Returns().Index(Is(2)).
				Assert("Server 2 should win when it is the only one whose timeout expires.")

			do.Server(2).
				Returns().VotedFor(Is(2)).
				Assert("A leader votes for itself.")
		})
}
