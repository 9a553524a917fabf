// Package manager replicates the agents heartbeat table across agent
// processes using Raft, scoped to that single table rather than a full
// orchestrator object model.
package manager

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/cuemby/tenantsync/pkg/types"
)

// Command is the JSON envelope applied through Raft, mirroring the
// teacher's {Op, Data} shape.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const opPutAgent = "put_agent"

// registryFSM implements raft.FSM over an in-memory agent table.
type registryFSM struct {
	mu     sync.RWMutex
	agents map[string]types.AgentInfo
}

func newRegistryFSM() *registryFSM {
	return &registryFSM{agents: map[string]types.AgentInfo{}}
}

func (f *registryFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return err
	}
	switch cmd.Op {
	case opPutAgent:
		var a types.AgentInfo
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return err
		}
		f.mu.Lock()
		f.agents[a.ID] = a
		f.mu.Unlock()
		return nil
	default:
		return nil
	}
}

func (f *registryFSM) list() []types.AgentInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]types.AgentInfo, 0, len(f.agents))
	for _, a := range f.agents {
		out = append(out, a)
	}
	return out
}

type registrySnapshot struct {
	Agents []types.AgentInfo `json:"agents"`
}

func (f *registryFSM) Snapshot() (raft.FSMSnapshot, error) {
	return &registrySnapshot{Agents: f.list()}, nil
}

func (s *registrySnapshot) Persist(sink raft.SnapshotSink) error {
	data, err := json.Marshal(s)
	if err != nil {
		sink.Cancel()
		return err
	}
	if _, err := sink.Write(data); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *registrySnapshot) Release() {}

func (f *registryFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap registrySnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return err
	}
	f.mu.Lock()
	f.agents = map[string]types.AgentInfo{}
	for _, a := range snap.Agents {
		f.agents[a.ID] = a
	}
	f.mu.Unlock()
	return nil
}
