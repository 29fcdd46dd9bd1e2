package attest_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/st3v3nmw/raftsim/internal/attest"
	"github.com/st3v3nmw/raftsim/pkg/raft"
)

func TestCluster(t *testing.T) {
	tests := []struct {
		name       string
		config     *attest.Config
		testFunc   func(*attest.Do)
		shouldPass bool
	}{
		{
			name: "Eventually OK",
			testFunc: func(do *attest.Do) {
				do.Leader().
					Eventually().
					Returns().Exists().
					Assert("A leader should be elected without help")
			},
			shouldPass: true,
		},
		{
			name: "Elect OK",
			testFunc: func(do *attest.Do) {
				do.Elect(1)

				do.Leader().
					Returns().Index(attest.Is(1)).Term(attest.AtLeast(uint64(2))).
					Assert("Server 1 should lead")

				do.Server(1).
					Returns().Role(attest.Is(raft.Leader)).VotedFor(attest.Is(1)).
					Assert("Server 1 should have voted for itself")

				do.Server(0).
					Returns().Role(attest.Not(attest.Is(raft.Leader))).
					Assert("Server 0 should follow")
			},
			shouldPass: true,
		},
		{
			name:   "Eventually Timeout",
			config: &attest.Config{DefaultRetryTimeout: 3000},
			testFunc: func(do *attest.Do) {
				do.Isolate(0)
				do.Isolate(1)

				do.Leader().
					Eventually().
					Returns().Exists().
					Assert("Should fail when no server can reach a majority")
			},
			shouldPass: false,
		},
		{
			name: "Eventually Cancellation",
			testFunc: func(do *attest.Do) {
				do.Cancel()

				do.Leader().
					Eventually().Within(10000).
					Returns().Exists().
					Assert("Should fail when cancelled before a leader is elected")
			},
			shouldPass: false,
		},
		{
			name: "Consistently OK",
			testFunc: func(do *attest.Do) {
				do.Elect(0)

				do.Leader().
					Consistently().For(3000).
					Returns().Index(attest.Is(0)).
					Assert("A connected leader should keep leading")
			},
			shouldPass: true,
		},
		{
			name: "Consistently Failure",
			testFunc: func(do *attest.Do) {
				do.Elect(0)
				do.Isolate(0)

				do.Leader().
					Consistently().For(3000).
					Returns().Index(attest.Is(0)).
					Assert("Should fail when the leader is cut off from its followers")
			},
			shouldPass: false,
		},
		{
			name: "Consistently Cancellation",
			testFunc: func(do *attest.Do) {
				do.Elect(0)
				do.Cancel()

				do.Leader().
					Consistently().For(3000).
					Returns().Index(attest.Is(0)).
					Assert("Should pass when cancelled during consistency check")
			},
			shouldPass: true,
		},
		{
			name: "Replication OK",
			testFunc: func(do *attest.Do) {
				do.Elect(0)
				do.Apply("x")
				do.Apply("y")

				for i := range 3 {
					do.Server(i).
						Eventually().Within(1000).
						Returns().Applied(attest.Is("x,y")).CommitIndex(attest.Is(uint64(3))).
						Assert("Every server should apply both commands")
				}

				do.State().
					Returns().
					JSON("leader", attest.Is("0")).
					JSON("servers.1.last_applied", attest.AtLeast("3")).
					JSON("servers.2.role", attest.Is("follower")).
					Assert("The cluster state should reflect replication")
			},
			shouldPass: true,
		},
		{
			name: "JSON Mismatch",
			testFunc: func(do *attest.Do) {
				do.Elect(0)

				do.State().
					Returns().JSON("leader", attest.IsNull()).
					Assert("Should fail when expecting no leader")
			},
			shouldPass: false,
		},
		{
			name: "Usage Error",
			testFunc: func(do *attest.Do) {
				do.Elect(5)
			},
			shouldPass: false,
		},
		{
			name: "Apply Without Leader",
			testFunc: func(do *attest.Do) {
				do.Apply("x")
			},
			shouldPass: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			suite := attest.New().Output(&out)
			if tt.config != nil {
				suite = suite.WithConfig(tt.config)
			}

			success := suite.
				Setup(func(do *attest.Do) {
					do.Start(3, 3)
				}).
				Test(tt.name, func(do *attest.Do) {
					tt.testFunc(do)
				}).
				Run(context.Background())

			if success != tt.shouldPass {
				if tt.shouldPass {
					t.Errorf("%s test should pass but failed:\n%s", tt.name, out.String())
				} else {
					t.Errorf("%s test should fail but passed", tt.name)
				}
			}
		})
	}
}

func TestSuiteStopsOnFirstFailure(t *testing.T) {
	var out bytes.Buffer
	ran := false

	success := attest.New().
		Output(&out).
		Setup(func(do *attest.Do) {
			do.Start(1, 1)
		}).
		Test("first", func(do *attest.Do) {
			do.Server(0).
				Returns().Role(attest.Is(raft.Leader)).
				Assert("Nobody has campaigned yet")
		}).
		Test("second", func(do *attest.Do) {
			ran = true
		}).
		Run(context.Background())

	if success {
		t.Fatal("suite should fail")
	}
	if ran {
		t.Error("second test should not run after a failure")
	}

	output := out.String()
	for _, want := range []string{"first", "Expected role: leader", "Actual role: follower", "Nobody has campaigned yet", "FAILED"} {
		if !strings.Contains(output, want) {
			t.Errorf("output %q should contain %q", output, want)
		}
	}
}

func TestSuiteSetupFailure(t *testing.T) {
	var out bytes.Buffer

	success := attest.New().
		Output(&out).
		Setup(func(do *attest.Do) {
			do.Start(9, 3)
		}).
		Test("never", func(do *attest.Do) {
			t.Error("tests should not run after a failed setup")
		}).
		Run(context.Background())

	if success {
		t.Fatal("suite should fail")
	}
	if !strings.Contains(out.String(), "SETUP") {
		t.Errorf("output %q should report the setup failure", out.String())
	}
}

func TestSuiteTests(t *testing.T) {
	suite := attest.New().
		Test("a", func(*attest.Do) {}).
		Test("b", func(*attest.Do) {})

	if got := strings.Join(suite.Tests(), ","); got != "a,b" {
		t.Errorf("Tests() = %q, want %q", got, "a,b")
	}
}

func TestWithinRequiresEventually(t *testing.T) {
	var out bytes.Buffer

	success := attest.New().
		Output(&out).
		Setup(func(do *attest.Do) {
			do.Start(3, 3)
		}).
		Test("misuse", func(do *attest.Do) {
			do.Leader().Within(100)
		}).
		Run(context.Background())

	if success {
		t.Fatal("suite should fail")
	}
	if !strings.Contains(out.String(), "Within() can only be called after Eventually()") {
		t.Errorf("output %q should explain the misuse", out.String())
	}
}

func TestRecorder(t *testing.T) {
	r := &attest.Recorder{}
	r.Apply([]byte("a"))
	r.Apply([]byte("b"))

	if got := strings.Join(r.Commands(), ","); got != "a,b" {
		t.Errorf("Commands() = %q, want %q", got, "a,b")
	}

	r.Restore([]byte("x\ny"))
	if got := strings.Join(r.Commands(), ","); got != "x,y" {
		t.Errorf("Commands() after restore = %q, want %q", got, "x,y")
	}

	r.Restore(nil)
	if len(r.Commands()) != 0 {
		t.Errorf("Commands() after empty restore = %v, want none", r.Commands())
	}
}
