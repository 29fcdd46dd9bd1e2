package attest

import (
	"context"
	"fmt"
	"strings"

	"github.com/st3v3nmw/raftsim/pkg/fixture"
	"github.com/st3v3nmw/raftsim/pkg/raft"
)

// eventually steps the cluster until the condition holds, for at most
// timeout virtual milliseconds.
func eventually(ctx context.Context, c *fixture.Cluster, condition func() bool, timeout uint64) bool {
	var cancelled bool
	held := c.StepUntil(func(*fixture.Cluster) bool {
		if ctx.Err() != nil {
			cancelled = true
			return true
		}
		return condition()
	}, timeout)

	return held && !cancelled
}

// consistently steps the cluster for timeout virtual milliseconds, checking
// the condition before the first and after every event.
func consistently(ctx context.Context, c *fixture.Cluster, condition func() bool, timeout uint64) bool {
	held := true
	c.StepUntil(func(*fixture.Cluster) bool {
		if ctx.Err() != nil || !condition() {
			held = false
			return true
		}
		return false
	}, timeout)

	return held
}

// Assert defines the interface for executing and validating test assertions.
type Assert interface {
	// Assert evaluates the checks with the promise's timing and validates the result.
	Assert(help string)
	// execute evaluates the checks once and returns whether they all pass.
	execute() bool
	// check validates the result and panics with formatted error message on failure.
	check()
	// formatHelp formats help text with proper indentation for error messages.
	formatHelp() string
}

var _ Assert = (*ServerAssert)(nil)
var _ Assert = (*LeaderAssert)(nil)
var _ Assert = (*StateAssert)(nil)

// AssertBase provides common assertion functionality.
type AssertBase struct {
	help string

	timing  timing
	timeout uint64
	ctx     context.Context
	do      *Do
}

func (a *AssertBase) formatHelp() string {
	return "\n\n  " + strings.ReplaceAll(a.help, "\n", "\n  ")
}

func (a *AssertBase) wait(execute func() bool) {
	c := a.do.Cluster()
	switch a.timing {
	case TimingEventually:
		eventually(a.ctx, c, execute, a.timeout)
	case TimingConsistently:
		consistently(a.ctx, c, execute, a.timeout)
	default:
		execute()
	}
}

// fieldCheck validates one observable value against a checker.
type fieldCheck struct {
	name string
	run  func(onFail func(expected string, actual any)) bool
}

func field[T any](name string, get func() T, checker Checker[T]) fieldCheck {
	return fieldCheck{
		name: name,
		run: func(onFail func(string, any)) bool {
			actual := get()
			if checker.Check(actual) {
				return true
			}

			if onFail != nil {
				onFail(checker.Expected(), actual)
			}
			return false
		},
	}
}

// checkFields returns true if all checks pass.
// If onFail is provided, it's called with the first failing check.
func checkFields(checks []fieldCheck, onFail func(name, expected string, actual any)) bool {
	for _, fc := range checks {
		var report func(string, any)
		if onFail != nil {
			report = func(expected string, actual any) {
				onFail(fc.name, expected, actual)
			}
		}

		if !fc.run(report) {
			return false
		}
	}

	return true
}

// ServerAssert provides assertions over a single server.
type ServerAssert struct {
	AssertBase

	index  int
	checks []fieldCheck
}

func (a *ServerAssert) member() fixture.Member {
	c := a.do.Cluster()
	if a.index < 0 || a.index >= c.N() {
		panic(fmt.Sprintf("server %d not found", a.index))
	}
	return c.Get(a.index)
}

// Role adds expected role checkers.
func (a *ServerAssert) Role(checkers ...Checker[raft.Role]) *ServerAssert {
	for _, checker := range checkers {
		a.checks = append(a.checks, field("role", func() raft.Role { return a.member().Role() }, checker))
	}
	return a
}

// Term adds expected current term checkers.
func (a *ServerAssert) Term(checkers ...Checker[uint64]) *ServerAssert {
	for _, checker := range checkers {
		a.checks = append(a.checks, field("term", func() uint64 { return a.member().Term() }, checker))
	}
	return a
}

// VotedFor adds checkers on the index of the server voted for, N when none.
func (a *ServerAssert) VotedFor(checkers ...Checker[int]) *ServerAssert {
	for _, checker := range checkers {
		a.checks = append(a.checks, field("vote", func() int {
			a.member()
			return a.do.cluster.VotedFor(a.index)
		}, checker))
	}
	return a
}

// CommitIndex adds expected commit index checkers.
func (a *ServerAssert) CommitIndex(checkers ...Checker[uint64]) *ServerAssert {
	for _, checker := range checkers {
		a.checks = append(a.checks, field("commit index", func() uint64 { return a.member().CommitIndex() }, checker))
	}
	return a
}

// LastApplied adds expected last applied index checkers.
func (a *ServerAssert) LastApplied(checkers ...Checker[uint64]) *ServerAssert {
	for _, checker := range checkers {
		a.checks = append(a.checks, field("last applied", func() uint64 { return a.member().LastApplied() }, checker))
	}
	return a
}

// Applied adds checkers on the applied commands, joined with commas.
func (a *ServerAssert) Applied(checkers ...Checker[string]) *ServerAssert {
	for _, checker := range checkers {
		a.checks = append(a.checks, field("applied commands", func() string {
			a.member()
			return strings.Join(a.do.Applied(a.index), ",")
		}, checker))
	}
	return a
}

// Alive adds checkers on whether the server is alive.
func (a *ServerAssert) Alive(checkers ...Checker[bool]) *ServerAssert {
	for _, checker := range checkers {
		a.checks = append(a.checks, field("alive", func() bool {
			a.member()
			return a.do.cluster.Alive(a.index)
		}, checker))
	}
	return a
}

// Sent adds checkers on the number of messages of type t the server sent.
func (a *ServerAssert) Sent(t raft.MessageType, checkers ...Checker[uint64]) *ServerAssert {
	for _, checker := range checkers {
		a.checks = append(a.checks, field("sent "+t.String(), func() uint64 {
			a.member()
			return a.do.cluster.NSend(a.index, t)
		}, checker))
	}
	return a
}

// DiskFailures adds checkers on the number of failed disk writes.
func (a *ServerAssert) DiskFailures(checkers ...Checker[uint64]) *ServerAssert {
	for _, checker := range checkers {
		a.checks = append(a.checks, field("disk failures", func() uint64 {
			a.member()
			return a.do.cluster.DiskFailures(a.index)
		}, checker))
	}
	return a
}

func (a *ServerAssert) Assert(help string) {
	a.help = help
	a.wait(a.execute)
	a.check()
}

func (a *ServerAssert) execute() bool {
	return checkFields(a.checks, nil)
}

func (a *ServerAssert) check() {
	checkFields(a.checks, func(name, expected string, actual any) {
		msg := fmt.Sprintf("server %d\n  Expected %s: %s\n  Actual %s: %v%s",
			a.index, name, expected, name, actual, a.formatHelp())
		panic(msg)
	})
}

// LeaderAssert provides assertions over the stable leader.
type LeaderAssert struct {
	AssertBase

	checks []fieldCheck
}

// Index adds checkers on the stable leader's index, N when there is none.
func (a *LeaderAssert) Index(checkers ...Checker[int]) *LeaderAssert {
	for _, checker := range checkers {
		a.checks = append(a.checks, field("leader", func() int { return a.do.Cluster().LeaderIndex() }, checker))
	}
	return a
}

// Exists checks that there is a stable leader.
func (a *LeaderAssert) Exists() *LeaderAssert {
	a.checks = append(a.checks, field("leader", func() bool {
		return fixture.HasLeader(a.do.Cluster())
	}, Checker[bool](Is(true))))
	return a
}

// Term adds checkers on the stable leader's term, 0 when there is none.
func (a *LeaderAssert) Term(checkers ...Checker[uint64]) *LeaderAssert {
	for _, checker := range checkers {
		a.checks = append(a.checks, field("leader term", func() uint64 {
			c := a.do.Cluster()
			i := c.LeaderIndex()
			if i == c.N() {
				return 0
			}
			return c.Get(i).Term()
		}, checker))
	}
	return a
}

func (a *LeaderAssert) Assert(help string) {
	a.help = help
	a.wait(a.execute)
	a.check()
}

func (a *LeaderAssert) execute() bool {
	return checkFields(a.checks, nil)
}

func (a *LeaderAssert) check() {
	checkFields(a.checks, func(name, expected string, actual any) {
		msg := fmt.Sprintf("cluster of %d servers\n  Expected %s: %s\n  Actual %s: %v%s",
			a.do.cluster.N(), name, expected, name, actual, a.formatHelp())
		panic(msg)
	})
}

// StateAssert provides assertions over the cluster's JSON state.
type StateAssert struct {
	AssertBase

	state        string
	jsonCheckers []JSONFieldChecker
}

// JSON adds expected checkers for a JSON field at the given gjson path.
// All checkers must pass.
func (a *StateAssert) JSON(path string, checkers ...Checker[string]) *StateAssert {
	for _, checker := range checkers {
		a.jsonCheckers = append(a.jsonCheckers, JSONFieldChecker{
			Path:    path,
			Checker: checker,
		})
	}

	return a
}

func (a *StateAssert) Assert(help string) {
	a.help = help
	a.wait(a.execute)
	a.check()
}

func (a *StateAssert) execute() bool {
	state, err := a.do.Cluster().JSON()
	if err != nil {
		panic(fmt.Sprintf("An error occurred: %v", err))
	}

	a.state = string(state)
	return checkAllJSON(a.state, a.jsonCheckers, nil)
}

func (a *StateAssert) check() {
	checkAllJSON(a.state, a.jsonCheckers, func(m JSONFieldChecker, actual any) {
		msg := fmt.Sprintf("cluster state\n  Expected JSON field %q: %s\n  Actual value: %v%s",
			m.Path, m.Checker.Expected(), actual, a.formatHelp())
		panic(msg)
	})
}
