package manager

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/cuemby/tenantsync/pkg/types"
)

const applyTimeout = 5 * time.Second

// Registry is a Raft-replicated agents table: every agent process runs a
// voter, writes its own heartbeat row via Apply, and reads the local
// FSM-applied table directly for the Serve Controller's peer list —
// deliberately not leader-gated reads, since every voter's local state is
// already current enough for eligibility filtering.
type Registry struct {
	raft    *raft.Raft
	fsm     *registryFSM
	dataDir string
}

// Config parameterizes one Registry node.
type Config struct {
	NodeID  string
	Bind    string
	DataDir string
}

// New starts a single Raft voter backed by a BoltDB log/stable store and
// file snapshot store. It does not form or join a cluster: call Bootstrap
// to form a new one, or AddVoter on the existing leader to add this node.
func New(cfg Config) (*Registry, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	fsm := newRegistryFSM()

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)

	addr, err := net.ResolveTCPAddr("tcp", cfg.Bind)
	if err != nil {
		return nil, fmt.Errorf("resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.Bind, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("new tcp transport: %w", err)
	}

	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("new snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("new log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("new stable store: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("new raft: %w", err)
	}

	return &Registry{raft: r, fsm: fsm, dataDir: cfg.DataDir}, nil
}

// Bootstrap forms a new single-voter cluster rooted at this node.
func (reg *Registry) Bootstrap(nodeID, bindAddr string) error {
	cfg := raft.Configuration{
		Servers: []raft.Server{{ID: raft.ServerID(nodeID), Address: raft.ServerAddress(bindAddr)}},
	}
	return reg.raft.BootstrapCluster(cfg).Error()
}

// AddVoter adds a peer node to the cluster (must be called on the leader).
func (reg *Registry) AddVoter(nodeID, addr string) error {
	return reg.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 0).Error()
}

// IsLeader reports whether this node currently holds Raft leadership.
func (reg *Registry) IsLeader() bool {
	return reg.raft.State() == raft.Leader
}

func (reg *Registry) apply(cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return reg.raft.Apply(data, applyTimeout).Error()
}

// PutAgent replicates one agent's heartbeat row. It must be routed to the
// leader by the transport in a real multi-node deployment; a single-node
// agent applies directly.
func (reg *Registry) PutAgent(a types.AgentInfo) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return reg.apply(Command{Op: opPutAgent, Data: data})
}

// Agents reads the local FSM-applied table directly, without a round trip
// through the leader.
func (reg *Registry) Agents() []types.AgentInfo {
	return reg.fsm.list()
}

// Shutdown stops the Raft node.
func (reg *Registry) Shutdown() error {
	return reg.raft.Shutdown().Error()
}
