package raft

// Log is an in-memory raft log. Entries before and including the snapshot
// index have been compacted away.
type Log struct {
	snapshot *Snapshot
	entries  []Entry
}

// NewLog creates a log starting after the given snapshot, which may be nil.
func NewLog(snapshot *Snapshot, entries []Entry) *Log {
	l := &Log{}
	if snapshot != nil {
		s := snapshot.Clone()
		l.snapshot = &s
	}
	for _, e := range entries {
		l.entries = append(l.entries, e.Clone())
	}
	return l
}

// SnapshotIndex returns the index of the last compacted entry, or 0.
func (l *Log) SnapshotIndex() uint64 {
	if l.snapshot == nil {
		return 0
	}
	return l.snapshot.Index
}

// Snapshot returns the snapshot the log starts from, or nil.
func (l *Log) Snapshot() *Snapshot {
	return l.snapshot
}

func (l *Log) LastIndex() uint64 {
	return l.SnapshotIndex() + uint64(len(l.entries))
}

func (l *Log) LastTerm() uint64 {
	term, _ := l.TermOf(l.LastIndex())
	return term
}

// Len returns the number of entries held in memory.
func (l *Log) Len() int {
	return len(l.entries)
}

// TermOf returns the term of the entry at index. Index 0 and the snapshot
// index are always known.
func (l *Log) TermOf(index uint64) (uint64, bool) {
	if index == 0 {
		return 0, true
	}
	if l.snapshot != nil && index == l.snapshot.Index {
		return l.snapshot.Term, true
	}
	e, ok := l.Get(index)
	if !ok {
		return 0, false
	}
	return e.Term, true
}

// Get returns the entry at index, if it is held in memory.
func (l *Log) Get(index uint64) (Entry, bool) {
	first := l.SnapshotIndex() + 1
	if index < first || index > l.LastIndex() {
		return Entry{}, false
	}
	return l.entries[index-first], true
}

func (l *Log) Append(entries ...Entry) {
	l.entries = append(l.entries, entries...)
}

// TruncateFrom deletes the entry at index and all entries after it.
func (l *Log) TruncateFrom(index uint64) {
	first := l.SnapshotIndex() + 1
	if index > l.LastIndex() {
		return
	}
	if index < first {
		index = first
	}
	l.entries = l.entries[:index-first]
}

// From returns copies of the entries from index to the end of the log.
func (l *Log) From(index uint64) []Entry {
	first := l.SnapshotIndex() + 1
	if index < first {
		index = first
	}
	if index > l.LastIndex() {
		return nil
	}
	out := make([]Entry, 0, l.LastIndex()-index+1)
	for _, e := range l.entries[index-first:] {
		out = append(out, e.Clone())
	}
	return out
}

// LastConfiguration returns the most recent configuration in the log,
// falling back to the snapshot's one.
func (l *Log) LastConfiguration() (Configuration, uint64) {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Type == EntryConfiguration && l.entries[i].Conf != nil {
			return l.entries[i].Conf.Clone(), l.SnapshotIndex() + uint64(i) + 1
		}
	}
	if l.snapshot != nil {
		return l.snapshot.Conf.Clone(), l.snapshot.Index
	}
	return Configuration{}, 0
}

// Clone returns a deep copy of the log.
func (l *Log) Clone() *Log {
	return NewLog(l.snapshot, l.entries)
}
