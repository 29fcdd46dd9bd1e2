package fixture

import "github.com/st3v3nmw/raftsim/pkg/raft"

// store is the in-memory disk of a server.
type store struct {
	term     uint64
	vote     uint64
	snapshot *raft.Snapshot
	entries  []raft.Entry
}

func (s *store) empty() bool {
	return s.term == 0 && s.vote == 0 && s.snapshot == nil && len(s.entries) == 0
}

func (s *store) snapshotIndex() uint64 {
	if s.snapshot == nil {
		return 0
	}
	return s.snapshot.Index
}

func (s *store) lastIndex() uint64 {
	return s.snapshotIndex() + uint64(len(s.entries))
}

func (s *store) load() raft.PersistedState {
	state := raft.PersistedState{Term: s.term, Vote: s.vote}
	if s.snapshot != nil {
		snapshot := s.snapshot.Clone()
		state.Snapshot = &snapshot
	}
	for _, e := range s.entries {
		state.Entries = append(state.Entries, e.Clone())
	}
	return state
}

// append writes entries starting at index, replacing anything stored from
// index onwards. Writing past the end of the log is an I/O error.
func (s *store) append(index uint64, entries []raft.Entry) error {
	if index == 0 || index > s.lastIndex()+1 {
		return raft.ErrIO
	}

	first := s.snapshotIndex() + 1
	for k, e := range entries {
		i := index + uint64(k)
		if i < first {
			continue
		}
		pos := int(i - first)
		if pos < len(s.entries) {
			s.entries = s.entries[:pos]
		}
		s.entries = append(s.entries, e.Clone())
	}
	return nil
}

func (s *store) truncate(index uint64) {
	first := s.snapshotIndex() + 1
	if index > s.lastIndex() {
		return
	}
	if index < first {
		index = first
	}
	s.entries = s.entries[:index-first]
}

// putSnapshot replaces the whole log with the snapshot.
func (s *store) putSnapshot(snapshot raft.Snapshot) {
	c := snapshot.Clone()
	s.snapshot = &c
	s.entries = nil
}
