package fixture

import (
	"encoding/json"

	"github.com/st3v3nmw/raftsim/pkg/raft"
)

// State is a read-only view of the cluster, suitable for JSON encoding.
type State struct {
	Time    uint64        `json:"time"`
	Leader  *int          `json:"leader"`
	Event   *Event        `json:"event"`
	Servers []ServerState `json:"servers"`
}

type ServerState struct {
	Index   int    `json:"index"`
	ID      uint64 `json:"id"`
	Address string `json:"address"`
	Alive   bool   `json:"alive"`
	Voting  bool   `json:"voting"`

	Role          string `json:"role"`
	Term          uint64 `json:"term"`
	Vote          uint64 `json:"vote"`
	Leader        uint64 `json:"leader"`
	CommitIndex   uint64 `json:"commit_index"`
	LastApplied   uint64 `json:"last_applied"`
	LastLogIndex  uint64 `json:"last_log_index"`
	LastLogTerm   uint64 `json:"last_log_term"`
	SnapshotIndex uint64 `json:"snapshot_index"`

	ElectionTimeout uint64 `json:"election_timeout"`
	NetworkLatency  uint64 `json:"network_latency"`
	DiskLatency     uint64 `json:"disk_latency"`
	DiskFailures    uint64 `json:"disk_failures"`
	PendingDisk     int    `json:"pending_disk"`
	InFlight        int    `json:"in_flight"`

	Sent         map[string]uint64 `json:"sent"`
	Received     map[string]uint64 `json:"received"`
	Disconnected []int             `json:"disconnected"`
	Saturated    []int             `json:"saturated"`
}

// State returns a snapshot of every server's observable state.
func (c *Cluster) State() State {
	state := State{Time: c.time, Servers: []ServerState{}}
	if c.leaderIndex >= 0 {
		leader := c.leaderIndex
		state.Leader = &leader
	}
	if c.event.Type != 0 {
		e := c.event
		state.Event = &e
	}

	for i, s := range c.servers {
		m := s.member
		log := m.Log()
		conf := m.Configuration()

		ss := ServerState{
			Index:           i,
			ID:              s.id,
			Address:         s.address,
			Alive:           s.alive,
			Voting:          conf.IsVoter(s.id),
			Role:            m.Role().String(),
			Term:            m.Term(),
			Vote:            m.VotedFor(),
			Leader:          m.Leader(),
			CommitIndex:     m.CommitIndex(),
			LastApplied:     m.LastApplied(),
			LastLogIndex:    log.LastIndex(),
			LastLogTerm:     log.LastTerm(),
			SnapshotIndex:   log.SnapshotIndex(),
			ElectionTimeout: s.timeout,
			NetworkLatency:  s.networkLatency,
			DiskLatency:     s.diskLatency,
			DiskFailures:    s.diskFailures,
			PendingDisk:     len(s.disk),
			InFlight:        len(s.inbox),
			Sent:            make(map[string]uint64),
			Received:        make(map[string]uint64),
			Disconnected:    []int{},
			Saturated:       []int{},
		}

		for t := range raft.NumMessageTypes {
			ss.Sent[t.String()] = s.nSend[t]
			ss.Received[t.String()] = s.nRecv[t]
		}

		for j := range c.servers {
			if j == i {
				continue
			}
			if c.Disconnected(i, j) {
				ss.Disconnected = append(ss.Disconnected, j)
			}
			if s.saturated[j] {
				ss.Saturated = append(ss.Saturated, j)
			}
		}

		state.Servers = append(state.Servers, ss)
	}

	return state
}

// JSON returns the cluster state encoded as JSON.
func (c *Cluster) JSON() ([]byte, error) {
	return json.Marshal(c.State())
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Server int    `json:"server"`
		Type   string `json:"type"`
		Time   uint64 `json:"time"`
	}{e.Server, e.Type.String(), e.Time})
}
