package fixture

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/st3v3nmw/raftsim/pkg/raft"
)

// EventType is the category of a fired event.
type EventType int

const (
	EventTick EventType = iota + 1
	EventDisk
	EventNetwork
)

func (t EventType) String() string {
	switch t {
	case EventTick:
		return "tick"
	case EventDisk:
		return "disk"
	case EventNetwork:
		return "network"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event describes what a single step fired. Network events are attributed
// to the receiver on delivery, and to the sender on send completion.
type Event struct {
	Server int
	Type   EventType
	Time   uint64
}

func (e Event) String() string {
	return fmt.Sprintf("%6dms %d %s", e.Time, e.Server, e.Type)
}

// send is a message waiting for its send completion. The link is evaluated
// when the message is sent: lost is set if it must never be delivered.
type send struct {
	seq  uint64
	from int
	to   int
	lost bool
	msg  raft.Message
}

// delivery is a message travelling towards a server.
type delivery struct {
	seq  uint64
	from int
	at   uint64
	msg  raft.Message
}

// diskRequest is an asynchronous write waiting for completion.
type diskRequest struct {
	at  uint64
	op  raft.DiskOp
	err error
}

func (c *Cluster) nextSeq() uint64 {
	c.seq++
	return c.seq
}

// send queues a message sent by server i.
func (c *Cluster) send(i int, msg raft.Message) error {
	j := c.indexOf(msg.To)
	if j == c.N() || c.servers[i].disconnected[j] || c.servers[j].disconnected[i] {
		return raft.ErrNoConnection
	}

	s := c.servers[i]
	msg.From = s.id
	c.sends = append(c.sends, send{
		seq:  c.nextSeq(),
		from: i,
		to:   j,
		lost: s.saturated[j] || s.drop[msg.Type],
		msg:  msg.Clone(),
	})
	return nil
}

// submit queues an asynchronous disk write of server i. Writes complete in
// submission order, each one no earlier than now plus the disk latency.
func (c *Cluster) submit(i int, op raft.DiskOp) {
	s := c.servers[i]

	at := c.time + s.diskLatency
	if n := len(s.disk); n > 0 && s.disk[n-1].at > at {
		at = s.disk[n-1].at
	}

	var err error
	if s.fault.tick() {
		err = raft.ErrIO
	}

	s.disk = append(s.disk, diskRequest{at: at, op: op, err: err})
}

// next finds the event the next step would fire, without firing it.
func (c *Cluster) next() (Event, bool) {
	if len(c.sends) > 0 {
		return Event{Server: c.sends[0].from, Type: EventNetwork, Time: c.time}, true
	}

	var best Event
	found := false
	consider := func(i int, t EventType, at uint64) {
		if !found || at < best.Time {
			best = Event{Server: i, Type: t, Time: at}
			found = true
		}
	}

	for i, s := range c.servers {
		if s.alive && s.running {
			consider(i, EventTick, s.nextTick)
		}
		if s.alive && len(s.disk) > 0 {
			consider(i, EventDisk, s.disk[0].at)
		}
		if len(s.inbox) > 0 {
			consider(i, EventNetwork, s.inbox[0].at)
		}
	}

	return best, found
}

// Step advances the clock to the next event and fires it. It panics if
// nothing can happen.
func (c *Cluster) Step() Event {
	if c.closed {
		panic(ErrClosed)
	}

	if len(c.sends) > 0 {
		return c.fire(c.release())
	}

	e, ok := c.next()
	if !ok {
		panic(ErrNoEvents)
	}
	c.time = e.Time

	switch e.Type {
	case EventTick:
		c.tick(e.Server)
	case EventDisk:
		c.complete(e.Server)
	case EventNetwork:
		c.deliver(e.Server)
	}

	return c.fire(e)
}

// StepN steps n times and returns the last event.
func (c *Cluster) StepN(n int) Event {
	var e Event
	for range n {
		e = c.Step()
	}
	return e
}

func (c *Cluster) fire(e Event) Event {
	c.logger.WithFields(logrus.Fields{
		"server": e.Server,
		"type":   e.Type,
		"time":   e.Time,
	}).Debug("Fired event")

	c.monitor()
	c.event = e
	if c.hook != nil {
		c.hook(c, e)
	}
	return e
}

func (c *Cluster) release() Event {
	snd := c.sends[0]
	c.sends = c.sends[1:]

	s := c.servers[snd.from]
	s.nSend[snd.msg.Type]++
	s.member.Sent(snd.msg)

	if !snd.lost {
		c.enqueue(snd.to, delivery{
			seq:  snd.seq,
			from: snd.from,
			at:   c.time + s.networkLatency,
			msg:  snd.msg,
		})
	}

	return Event{Server: snd.from, Type: EventNetwork, Time: c.time}
}

// enqueue inserts d in server j's inbox, ordered by delivery time then
// sequence number.
func (c *Cluster) enqueue(j int, d delivery) {
	inbox := c.servers[j].inbox
	pos, _ := slices.BinarySearchFunc(inbox, d, func(a, b delivery) int {
		if n := cmp.Compare(a.at, b.at); n != 0 {
			return n
		}
		return cmp.Compare(a.seq, b.seq)
	})
	c.servers[j].inbox = slices.Insert(inbox, pos, d)
}

func (c *Cluster) tick(i int) {
	s := c.servers[i]
	s.nextTick += c.config.TickInterval
	s.member.Tick()
}

func (c *Cluster) complete(i int) {
	s := c.servers[i]
	req := s.disk[0]
	s.disk = s.disk[1:]

	err := req.err
	if err == nil {
		switch req.op.Kind {
		case raft.DiskAppend:
			err = s.store.append(req.op.Index, req.op.Entries)
		case raft.DiskSnapshot:
			s.store.putSnapshot(*req.op.Snapshot)
		}
	}
	if err != nil {
		s.diskFailures++
	}

	s.member.Persisted(req.op, err)
}

func (c *Cluster) deliver(j int) {
	s := c.servers[j]
	d := s.inbox[0]
	s.inbox = s.inbox[1:]

	if !s.alive || !s.running {
		return
	}

	s.nRecv[d.msg.Type]++
	s.member.Recv(d.msg)
}

// Hook registers fn to be called after every fired event.
func (c *Cluster) Hook(fn func(*Cluster, Event)) {
	c.hook = fn
}

// Event returns the last fired event.
func (c *Cluster) Event() Event {
	return c.event
}
