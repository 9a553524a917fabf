// Package agent wires the core components (Tenant Workers, the six
// universes, the reconciler, the Serve Controller, the Status Reporter and
// the Raft agent registry) into one runnable process.
package agent

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/tenantsync/pkg/config"
	"github.com/cuemby/tenantsync/pkg/converter"
	"github.com/cuemby/tenantsync/pkg/distribution"
	"github.com/cuemby/tenantsync/pkg/fabric"
	"github.com/cuemby/tenantsync/pkg/hashtree"
	"github.com/cuemby/tenantsync/pkg/log"
	"github.com/cuemby/tenantsync/pkg/manager"
	"github.com/cuemby/tenantsync/pkg/reconciler"
	"github.com/cuemby/tenantsync/pkg/status"
	"github.com/cuemby/tenantsync/pkg/store"
	"github.com/cuemby/tenantsync/pkg/types"
	"github.com/cuemby/tenantsync/pkg/universe"
	"github.com/cuemby/tenantsync/pkg/worker"
)

// Deps carries the two components the agent treats as external,
// interfaces only: the Fabric session and the Converter. A production
// deployment supplies its own concrete implementations; this module only
// ships test doubles (fabric.Fake, converter.Fake).
type Deps struct {
	Fabric    fabric.Session
	Converter converter.Converter
}

// Agent owns the Tenant Worker registry, the multiverse, the reconciler
// and the Serve Controller for one process.
type Agent struct {
	cfg   *config.Config
	deps  Deps
	store store.Store
	reg   *manager.Registry

	mu      sync.RWMutex
	workers map[string]*worker.Worker

	rec  *reconciler.Reconciler
	dist *distribution.Controller

	stopCh chan struct{}
}

// New constructs an Agent. reg may be nil for a single-process deployment
// (the agent then only ever sees its own heartbeat row).
func New(cfg *config.Config, deps Deps, st store.Store, reg *manager.Registry) *Agent {
	a := &Agent{
		cfg:     cfg,
		deps:    deps,
		store:   st,
		reg:     reg,
		workers: map[string]*worker.Worker{},
		stopCh:  make(chan struct{}),
	}

	currentSource := &workerSource{a: a}
	desiredSource := &storeSource{st: st}

	universes := universe.AllSix(currentSource, desiredSource, &currentConfigPusher{a: a})

	statusReporter := status.New(st)

	a.dist = distribution.New(distribution.Config{
		AgentID:           cfg.AimServiceIdentifier,
		Version:           cfg.Version,
		SingleAID:         cfg.SingleAID,
		AgentDownTime:     cfg.AgentDownTime,
		MaxDownTime:       cfg.MaxDownTime,
		MinServersPerRoot: 2,
	}, &agentPeerSource{a: a}, a.startRoot, a.stopRoot, a.harakiri)

	a.rec = reconciler.New(reconciler.Config{
		PollingInterval: cfg.AgentPollingInterval,
		ResetRetryLimit: cfg.MaxOperationRetry / 2,
		PurgeRetryLimit: cfg.MaxOperationRetry,
		RetryCooldown:   cfg.RetryCooldownDuration(),
	}, universes, reconcilerServeAdapter{dist: a.dist}, statusReporter, a.harakiri)

	return a
}

// reconcilerServeAdapter lets distribution.Controller satisfy
// reconciler.ServeController without an import cycle.
type reconcilerServeAdapter struct{ dist *distribution.Controller }

func (r reconcilerServeAdapter) RootsToServe() []string   { return r.dist.RootsToServe() }
func (r reconcilerServeAdapter) EnsureServing(roots []string) { r.dist.EnsureServing(roots) }

// Run starts the heartbeat loop and the reconciler, blocking until ctx is
// cancelled or Stop is called.
func (a *Agent) Run(ctx context.Context) {
	go a.heartbeatLoop(ctx)
	go a.rec.Run()

	select {
	case <-ctx.Done():
	case <-a.stopCh:
	}
	a.rec.Stop()
	a.mu.Lock()
	for root, w := range a.workers {
		w.Stop()
		delete(a.workers, root)
	}
	a.mu.Unlock()
}

// Stop ends Run.
func (a *Agent) Stop() {
	close(a.stopCh)
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.AgentReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.heartbeat()
		}
	}
}

func (a *Agent) heartbeat() {
	a.mu.RLock()
	served := make([]string, 0, len(a.workers))
	for r := range a.workers {
		served = append(served, r)
	}
	a.mu.RUnlock()

	info := types.AgentInfo{
		ID:            a.cfg.AimServiceIdentifier,
		Version:       a.cfg.Version,
		AdminStateUp:  true,
		LastHeartbeat: time.Now(),
		ServedRoots:   served,
	}
	if a.reg != nil {
		if err := a.reg.PutAgent(info); err != nil {
			log.Warn("heartbeat: failed to replicate agent row: " + err.Error())
		}
		return
	}
	_ = a.store.PutAgent(info)
}

func (a *Agent) harakiri(reason string, exitCode int) {
	log.Error("agent self-terminating: " + reason)
	ExitFunc(exitCode)
}

// ExitFunc is os.Exit by default; overridable in tests.
var ExitFunc = os.Exit

func (a *Agent) startRoot(root string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.workers[root]; ok {
		return
	}
	cfg := worker.Config{
		RootRN:       root,
		IsInfra:      root == "infra",
		SystemID:     a.cfg.AimSystemID,
		PollingYield: a.cfg.AciTenantPollingYield,
		ClassCSV:     "fvTenant,infraInfra,fvBD,fvRsCtx,fvCtx,fvSubnet,faultInst,tagInst",
	}
	w := worker.New(cfg, a.deps.Fabric, a.deps.Converter, worker.Callbacks{
		OnSuccess: func(m *types.ModelObject) {
			a.rec.ReportOutcome(reconciler.PushOutcome{Root: types.DN(root), DN: m.DN})
		},
		OnFailure: func(m *types.ModelObject, err error) {
			a.rec.ReportOutcome(reconciler.PushOutcome{Root: types.DN(root), DN: m.DN, Err: err})
		},
	})
	a.workers[root] = w
	w.Start(context.Background())
	log.Info("tenant worker started for root " + root)
}

func (a *Agent) stopRoot(root string) {
	a.mu.Lock()
	w, ok := a.workers[root]
	if ok {
		delete(a.workers, root)
	}
	a.mu.Unlock()
	if ok {
		w.Stop()
		log.Info("tenant worker stopped for root " + root)
	}
}

// workerSource implements universe.Source for the current-side universes,
// reading trees from the live Tenant Workers.
type workerSource struct{ a *Agent }

func (s *workerSource) Roots() []string {
	s.a.mu.RLock()
	defer s.a.mu.RUnlock()
	roots := make([]string, 0, len(s.a.workers))
	for r := range s.a.workers {
		roots = append(roots, r)
	}
	return roots
}

func (s *workerSource) Tree(root string, v universe.Variant) *hashtree.Tree {
	s.a.mu.RLock()
	w, ok := s.a.workers[root]
	s.a.mu.RUnlock()
	if !ok {
		return hashtree.New()
	}
	switch v {
	case universe.Config:
		return w.SnapshotConfig()
	case universe.Operational:
		return w.SnapshotOperational()
	case universe.Monitored:
		return w.SnapshotMonitored()
	default:
		return hashtree.New()
	}
}

// storeSource implements universe.Source for the desired-side universes,
// reading from the persisted Intent trees.
type storeSource struct{ st store.Store }

func (s *storeSource) Roots() []string {
	roots, _ := s.st.Roots()
	return roots
}

func (s *storeSource) Tree(root string, v universe.Variant) *hashtree.Tree {
	t, err := s.st.GetTree(root, string(v))
	if err != nil || t == nil {
		return hashtree.New()
	}
	return t
}

// currentConfigPusher fans current-config diff batches out to the
// responsible Tenant Worker's Push.
type currentConfigPusher struct{ a *Agent }

func (p *currentConfigPusher) Push(root string, batch types.PushBatch) {
	p.a.mu.RLock()
	w, ok := p.a.workers[root]
	p.a.mu.RUnlock()
	if ok {
		w.Push(batch)
	}
}

// agentPeerSource implements distribution.PeerSource.
type agentPeerSource struct{ a *Agent }

func (s *agentPeerSource) Peers() []types.AgentInfo {
	if s.a.reg != nil {
		return s.a.reg.Agents()
	}
	agents, _ := s.a.store.Agents()
	return agents
}

func (s *agentPeerSource) AllRoots() []string {
	roots, _ := s.a.store.Roots()
	return roots
}

// NewSystemID returns a fresh random identifier. The agent command uses
// it as this agent's service identifier (aim_service_identifier) when none
// is configured.
func NewSystemID() string {
	return uuid.NewString()
}
