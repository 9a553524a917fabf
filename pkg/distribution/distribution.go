// Package distribution implements the Serve Controller: which agent
// instance serves which tenant root, computed from peer heartbeats and
// consistent hashing over (root, peer).
package distribution

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"time"

	"github.com/cuemby/tenantsync/pkg/types"
)

// Config parameterizes the controller.
type Config struct {
	AgentID      string
	Version      string
	SingleAID    bool
	AgentDownTime time.Duration
	MaxDownTime   time.Duration
	// MinServersPerRoot is the floor the multi-AID partition guarantees
	// when enough eligible peers exist.
	MinServersPerRoot int
}

// PeerSource supplies the current agent roster and the union of roots with
// any Intent or observed state.
type PeerSource interface {
	Peers() []types.AgentInfo
	AllRoots() []string
}

// Controller computes, each tick, the subset of roots this agent must
// serve, and starts/stops Tenant Workers accordingly.
type Controller struct {
	cfg      Config
	peers    PeerSource
	harakiri func(reason string, exitCode int)

	starter func(root string)
	stopper func(root string)

	served map[string]bool
}

// New constructs a Serve Controller.
func New(cfg Config, peers PeerSource, starter, stopper func(root string), harakiri func(reason string, exitCode int)) *Controller {
	if cfg.MinServersPerRoot == 0 {
		cfg.MinServersPerRoot = 2
	}
	return &Controller{cfg: cfg, peers: peers, starter: starter, stopper: stopper, harakiri: harakiri, served: map[string]bool{}}
}

// eligible filters peers to admin_state_up, fresh heartbeat, matching
// version.
func (c *Controller) eligible(now time.Time) []types.AgentInfo {
	all := c.peers.Peers()
	var out []types.AgentInfo
	for _, p := range all {
		if !p.AdminStateUp {
			continue
		}
		if now.Sub(p.LastHeartbeat) >= c.cfg.AgentDownTime {
			continue
		}
		if p.Version != c.cfg.Version {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RootsToServe returns the set of roots this agent must serve at this
// tick.
func (c *Controller) RootsToServe() []string {
	now := time.Now()

	if !c.selfEligible(now) {
		if c.harakiri != nil {
			c.harakiri("own heartbeat stale", 3)
		}
		return nil
	}

	peers := c.eligible(now)
	roots := c.peers.AllRoots()

	if c.cfg.SingleAID {
		return roots
	}

	return c.partition(roots, peers)
}

func (c *Controller) selfEligible(now time.Time) bool {
	for _, p := range c.peers.Peers() {
		if p.ID == c.cfg.AgentID {
			return now.Sub(p.LastHeartbeat) < c.cfg.MaxDownTime
		}
	}
	return false
}

// partition assigns roots across eligible peers via consistent hashing
// over (root_rn, peer_id), ensuring every root has at least
// MinServersPerRoot servers when enough peers exist.
func (c *Controller) partition(roots []string, peers []types.AgentInfo) []string {
	if len(peers) == 0 {
		return nil
	}
	want := c.cfg.MinServersPerRoot
	if want > len(peers) {
		want = len(peers)
	}

	var mine []string
	for _, root := range roots {
		type scored struct {
			id    string
			score uint64
		}
		scores := make([]scored, 0, len(peers))
		for _, p := range peers {
			scores = append(scores, scored{id: p.ID, score: hashOf(root, p.ID)})
		}
		sort.Slice(scores, func(i, j int) bool {
			if scores[i].score != scores[j].score {
				return scores[i].score < scores[j].score
			}
			return scores[i].id < scores[j].id
		})
		for i := 0; i < want; i++ {
			if scores[i].id == c.cfg.AgentID {
				mine = append(mine, root)
				break
			}
		}
	}
	return mine
}

func hashOf(root, peerID string) uint64 {
	h := sha256.Sum256([]byte(root + "|" + peerID))
	return binary.BigEndian.Uint64(h[:8])
}

// EnsureServing starts Tenant Workers for newly-served roots and stops
// them for roots no longer in the set.
func (c *Controller) EnsureServing(roots []string) {
	wanted := map[string]bool{}
	for _, r := range roots {
		wanted[r] = true
	}
	for r := range wanted {
		if !c.served[r] {
			c.served[r] = true
			if c.starter != nil {
				c.starter(r)
			}
		}
	}
	for r := range c.served {
		if !wanted[r] {
			delete(c.served, r)
			if c.stopper != nil {
				c.stopper(r)
			}
		}
	}
}
