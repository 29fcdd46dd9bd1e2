package attest

import "context"

// timing defines when deferred checks are evaluated
type timing int

const (
	TimingImmediate timing = iota
	TimingEventually
	TimingConsistently
)

// Promise represents a deferred check of the cluster. Timeouts are virtual
// milliseconds: waiting steps the simulation instead of sleeping.
type Promise[P any, A any] interface {
	// Eventually configures the promise to step the cluster until the check passes or times out
	Eventually() P
	// Within sets a custom timeout for Eventually operations
	Within(msecs uint64) P
	// Consistently configures the promise to verify the check holds after every event for the entire duration
	Consistently() P
	// For sets a custom timeout for Consistently operations
	For(msecs uint64) P
	// Returns creates an assertion to validate the result
	Returns() A
}

// Compile-time type checks
var _ Promise[*ServerPromise, *ServerAssert] = (*ServerPromise)(nil)
var _ Promise[*LeaderPromise, *LeaderAssert] = (*LeaderPromise)(nil)
var _ Promise[*StatePromise, *StateAssert] = (*StatePromise)(nil)

// PromiseBase provides common promise functionality
type PromiseBase struct {
	timing  timing
	timeout uint64
	ctx     context.Context
	config  *Config
	do      *Do
}

func (b *PromiseBase) setEventually() {
	b.timing = TimingEventually
	b.timeout = b.config.DefaultRetryTimeout
}

func (b *PromiseBase) setWithin(msecs uint64) {
	if b.timing != TimingEventually {
		panic("Within() can only be called after Eventually()")
	}

	b.timeout = msecs
}

func (b *PromiseBase) setConsistently() {
	b.timing = TimingConsistently
	b.timeout = b.config.DefaultRetryTimeout
}

func (b *PromiseBase) setFor(msecs uint64) {
	if b.timing != TimingConsistently {
		panic("For() can only be called after Consistently()")
	}

	b.timeout = msecs
}

func (b *PromiseBase) base() AssertBase {
	return AssertBase{
		timing:  b.timing,
		timeout: b.timeout,
		ctx:     b.ctx,
		do:      b.do,
	}
}

// ServerPromise is a deferred check of a single server.
type ServerPromise struct {
	PromiseBase

	index int
}

func (p *ServerPromise) Eventually() *ServerPromise {
	p.setEventually()
	return p
}

func (p *ServerPromise) Within(msecs uint64) *ServerPromise {
	p.setWithin(msecs)
	return p
}

func (p *ServerPromise) Consistently() *ServerPromise {
	p.setConsistently()
	return p
}

func (p *ServerPromise) For(msecs uint64) *ServerPromise {
	p.setFor(msecs)
	return p
}

func (p *ServerPromise) Returns() *ServerAssert {
	return &ServerAssert{AssertBase: p.base(), index: p.index}
}

// LeaderPromise is a deferred check of the stable leader.
type LeaderPromise struct {
	PromiseBase
}

func (p *LeaderPromise) Eventually() *LeaderPromise {
	p.setEventually()
	return p
}

func (p *LeaderPromise) Within(msecs uint64) *LeaderPromise {
	p.setWithin(msecs)
	return p
}

func (p *LeaderPromise) Consistently() *LeaderPromise {
	p.setConsistently()
	return p
}

func (p *LeaderPromise) For(msecs uint64) *LeaderPromise {
	p.setFor(msecs)
	return p
}

func (p *LeaderPromise) Returns() *LeaderAssert {
	return &LeaderAssert{AssertBase: p.base()}
}

// StatePromise is a deferred check of the cluster's JSON state.
type StatePromise struct {
	PromiseBase
}

func (p *StatePromise) Eventually() *StatePromise {
	p.setEventually()
	return p
}

func (p *StatePromise) Within(msecs uint64) *StatePromise {
	p.setWithin(msecs)
	return p
}

func (p *StatePromise) Consistently() *StatePromise {
	p.setConsistently()
	return p
}

func (p *StatePromise) For(msecs uint64) *StatePromise {
	p.setFor(msecs)
	return p
}

func (p *StatePromise) Returns() *StateAssert {
	return &StateAssert{AssertBase: p.base()}
}
