package fixture

import (
	"fmt"

	"github.com/st3v3nmw/raftsim/pkg/raft"
)

// serverIO is the environment of the i'th server: the cluster's clock, its
// network and its own store and disk.
type serverIO struct {
	c *Cluster
	i int
}

func (io *serverIO) server() *server {
	return io.c.servers[io.i]
}

func (io *serverIO) Now() uint64 {
	return io.c.time
}

func (io *serverIO) ElectionTimeout() uint64 {
	return io.server().timeout
}

func (io *serverIO) Load() (raft.PersistedState, error) {
	return io.server().store.load(), nil
}

func (io *serverIO) SetTerm(term uint64) error {
	s := io.server().store
	s.term = term
	s.vote = 0
	return nil
}

func (io *serverIO) SetVote(id uint64) error {
	io.server().store.vote = id
	return nil
}

func (io *serverIO) Truncate(index uint64) error {
	io.server().store.truncate(index)
	return nil
}

func (io *serverIO) Send(msg raft.Message) error {
	return io.c.send(io.i, msg)
}

func (io *serverIO) Append(index uint64, entries []raft.Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("empty append at index %d", index)
	}

	op := raft.DiskOp{Kind: raft.DiskAppend, Index: index}
	for _, e := range entries {
		op.Entries = append(op.Entries, e.Clone())
	}
	io.c.submit(io.i, op)
	return nil
}

func (io *serverIO) PutSnapshot(snapshot raft.Snapshot) error {
	s := snapshot.Clone()
	io.c.submit(io.i, raft.DiskOp{Kind: raft.DiskSnapshot, Index: s.Index, Snapshot: &s})
	return nil
}
