package distribution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/tenantsync/pkg/types"
)

type fixedPeers struct {
	peers []types.AgentInfo
	roots []string
}

func (f fixedPeers) Peers() []types.AgentInfo { return f.peers }
func (f fixedPeers) AllRoots() []string       { return f.roots }

func TestSingleAIDServesAllRoots(t *testing.T) {
	now := time.Now()
	peers := fixedPeers{
		peers: []types.AgentInfo{{ID: "a1", Version: "v1", AdminStateUp: true, LastHeartbeat: now}},
		roots: []string{"r1", "r2", "r3"},
	}
	c := New(Config{AgentID: "a1", Version: "v1", SingleAID: true, AgentDownTime: time.Minute, MaxDownTime: time.Minute}, peers, nil, nil, nil)
	assert.ElementsMatch(t, []string{"r1", "r2", "r3"}, c.RootsToServe())
}

func TestMultiAIDGivesEveryRootAtLeastTwoServers(t *testing.T) {
	now := time.Now()
	agents := []types.AgentInfo{
		{ID: "a1", Version: "v1", AdminStateUp: true, LastHeartbeat: now},
		{ID: "a2", Version: "v1", AdminStateUp: true, LastHeartbeat: now},
		{ID: "a3", Version: "v1", AdminStateUp: true, LastHeartbeat: now},
	}
	roots := []string{"r1", "r2", "r3", "r4", "r5"}
	assignment := map[string]int{}
	for _, agent := range agents {
		c := New(Config{AgentID: agent.ID, Version: "v1", AgentDownTime: time.Minute, MaxDownTime: time.Minute},
			fixedPeers{peers: agents, roots: roots}, nil, nil, nil)
		for _, r := range c.RootsToServe() {
			assignment[r]++
		}
	}
	for _, r := range roots {
		assert.GreaterOrEqual(t, assignment[r], 2, "root %s should have >=2 servers", r)
	}
}

func TestIneligiblePeerFilteredOut(t *testing.T) {
	now := time.Now()
	agents := []types.AgentInfo{
		{ID: "a1", Version: "v1", AdminStateUp: true, LastHeartbeat: now},
		{ID: "a2", Version: "v1", AdminStateUp: true, LastHeartbeat: now.Add(-time.Hour)}, // stale
	}
	c := New(Config{AgentID: "a1", Version: "v1", AgentDownTime: time.Minute, MaxDownTime: time.Minute},
		fixedPeers{peers: agents, roots: []string{"r1"}}, nil, nil, nil)
	// only one eligible peer remains, so MinServersPerRoot caps at 1 and
	// a1 must be assigned.
	assert.Equal(t, []string{"r1"}, c.RootsToServe())
}

func TestSelfStaleHeartbeatTriggersHarakiri(t *testing.T) {
	now := time.Now()
	called := false
	agents := []types.AgentInfo{{ID: "a1", Version: "v1", AdminStateUp: true, LastHeartbeat: now.Add(-time.Hour)}}
	c := New(Config{AgentID: "a1", Version: "v1", AgentDownTime: time.Minute, MaxDownTime: time.Minute},
		fixedPeers{peers: agents, roots: []string{"r1"}}, nil, nil, func(reason string, code int) {
			called = true
			assert.Equal(t, 3, code)
		})
	got := c.RootsToServe()
	assert.Nil(t, got)
	assert.True(t, called)
}
