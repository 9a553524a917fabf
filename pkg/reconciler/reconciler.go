// Package reconciler implements the multiverse loop: per served root, diff
// desired vs. current across the three (config, operational, monitored)
// pairs, filter through a per-object retry cache, push the result, and
// categorize errors from the previous tick.
package reconciler

import (
	"errors"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/cuemby/tenantsync/pkg/fabric"
	"github.com/cuemby/tenantsync/pkg/hashtree"
	"github.com/cuemby/tenantsync/pkg/log"
	"github.com/cuemby/tenantsync/pkg/types"
	"github.com/cuemby/tenantsync/pkg/universe"
)

// ServeController supplies the set of roots this agent must serve and
// drives Tenant Worker lifecycle transitions.
type ServeController interface {
	RootsToServe() []string
	EnsureServing(roots []string)
}

// StatusReporter is the sink for per-object sync status and fault rows.
type StatusReporter interface {
	ReportStatus(types.SyncStatus)
}

// Harakiri is invoked when a SessionFatal/SYSTEM_CRITICAL error demands
// process self-termination so the supervisor restarts it.
type Harakiri func(reason string, exitCode int)

// PushOutcome is one result fed back from a Tenant Worker's push callbacks.
type PushOutcome struct {
	Root types.DN
	DN   types.DN
	Err  error
}

// Config parameterizes the reconciler's retry and polling behavior.
type Config struct {
	PollingInterval time.Duration
	ResetRetryLimit int
	PurgeRetryLimit int
	RetryCooldown   time.Duration // < 0 means no expiration
}

var pairs = []universe.Variant{universe.Config, universe.Operational, universe.Monitored}

// Reconciler runs one tick per PollingInterval.
type Reconciler struct {
	cfg      Config
	serve    ServeController
	status   StatusReporter
	harakiri Harakiri
	universes map[universe.Name]*universe.Universe

	retryMu sync.Mutex
	retry   *gocache.Cache
	failed  map[string]bool

	outcomesMu sync.Mutex
	outcomes   []PushOutcome

	stopCh chan struct{}
}

// New constructs a Reconciler. universes must contain all six names built
// by universe.AllSix.
func New(cfg Config, universes map[universe.Name]*universe.Universe, serve ServeController, status StatusReporter, harakiri Harakiri) *Reconciler {
	ttl := gocache.NoExpiration
	if cfg.RetryCooldown > 0 {
		ttl = cfg.RetryCooldown
	}
	return &Reconciler{
		cfg:       cfg,
		serve:     serve,
		status:    status,
		harakiri:  harakiri,
		universes: universes,
		retry:     gocache.New(ttl, ttl),
		failed:    map[string]bool{},
		stopCh:    make(chan struct{}),
	}
}

// ReportOutcome is the entry point Tenant Worker push callbacks feed into;
// safe to call from any goroutine.
func (r *Reconciler) ReportOutcome(o PushOutcome) {
	r.outcomesMu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.outcomesMu.Unlock()
}

// Run blocks, ticking every PollingInterval, until Stop is called.
func (r *Reconciler) Run() {
	ticker := time.NewTicker(r.cfg.PollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.Tick()
		}
	}
}

// Stop ends Run's loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

// Tick runs exactly one reconciliation cycle.
func (r *Reconciler) Tick() {
	r.categorizeOutcomes()

	roots := r.serve.RootsToServe()
	r.serve.EnsureServing(roots)

	r.observeNeeded()

	for _, root := range roots {
		for _, variant := range pairs {
			r.reconcilePair(root, variant)
		}
	}
}

// observeNeeded refreshes every universe this tick's diffs will touch,
// derived from the cross-reading table (universe.RelevantReads): both
// sides of each reconciled pair plus every universe they read against.
// Since all three pairs are reconciled each tick, the set covers all six
// universes.
func (r *Reconciler) observeNeeded() {
	needed := map[universe.Name]bool{}
	for _, variant := range pairs {
		for _, side := range []universe.Side{universe.Current, universe.Desired} {
			name := universe.Name{Side: side, Variant: variant}
			needed[name] = true
			for _, dep := range universe.RelevantReads(name) {
				needed[dep] = true
			}
		}
	}
	for name := range needed {
		if u, ok := r.universes[name]; ok {
			u.Observe()
		}
	}
}

func (r *Reconciler) reconcilePair(root string, variant universe.Variant) {
	cur := r.universes[universe.Name{Side: universe.Current, Variant: variant}]
	des := r.universes[universe.Name{Side: universe.Desired, Variant: variant}]

	curTree := cur.Tree(root)
	desTree := des.Tree(root)
	d := hashtree.DiffTrees(curTree, desTree)

	desLeaves := hashtree.Leaves(desTree)
	curLeaves := hashtree.Leaves(curTree)

	removeDNs := d.Remove
	if variant == universe.Config {
		// A config-tree leaf folded in from a monitored take-over
		// (pre_existing) isn't Intent's to delete just because Intent
		// never declared it; only an explicit Fabric-side removal
		// (observed via the worker, which clears the leaf itself)
		// retires it.
		removeDNs = removeDNs[:0:0]
		for _, dn := range d.Remove {
			if leaf, ok := curLeaves[types.DN(dn)]; ok && leaf.PreExisting {
				continue
			}
			removeDNs = append(removeDNs, dn)
		}
	}

	creates := r.filterRetry(root, variant, "create", d.Add, desLeaves)
	deletes := r.filterRetry(root, variant, "delete", removeDNs, curLeaves)

	if variant != universe.Operational {
		r.reportConverged(root, desLeaves, d.Add)
	}

	if len(creates) == 0 && len(deletes) == 0 {
		return
	}

	sortByDepth(creates, true)
	sortByDepth(deletes, false)

	if variant == universe.Operational {
		// Faults are never pushed — observed only.
		for _, m := range creates {
			r.reportSynced(root, m)
		}
		for _, m := range deletes {
			r.reportSynced(root, m)
		}
		return
	}

	if len(creates) > 0 {
		cur.PushResources(root, types.PushBatch{Op: types.PushCreate, Objects: creates})
	}
	if len(deletes) > 0 {
		cur.PushResources(root, types.PushBatch{Op: types.PushDelete, Objects: deletes})
	}
	for _, m := range creates {
		r.reportPending(root, m)
	}
	for _, m := range deletes {
		r.reportPending(root, m)
	}
}

// reportConverged marks every desired leaf that the diff didn't flag as
// missing (d.Add) SYNCED. A leaf stuck in d.Add stays out of this report
// whether it's merely pending its first push or has already exceeded
// purge_retry_limit and been excluded by the retry cache — either way
// it isn't converged yet.
func (r *Reconciler) reportConverged(root string, desLeaves map[types.DN]hashtree.Leaf, added []string) {
	pending := make(map[string]bool, len(added))
	for _, dn := range added {
		pending[dn] = true
	}
	for dn, leaf := range desLeaves {
		if pending[string(dn)] {
			continue
		}
		r.status.ReportStatus(types.SyncStatus{
			ResourceType: leaf.Class,
			ResourceID:   string(dn),
			ResourceRoot: root,
			Status:       types.SyncSynced,
			UpdatedAt:    time.Now(),
		})
	}
}

func (r *Reconciler) reportSynced(root string, m *types.ModelObject) {
	r.status.ReportStatus(types.SyncStatus{
		ResourceType: m.Class,
		ResourceID:   string(m.DN),
		ResourceRoot: root,
		Status:       types.SyncSynced,
		UpdatedAt:    time.Now(),
	})
}

func (r *Reconciler) reportPending(root string, m *types.ModelObject) {
	r.status.ReportStatus(types.SyncStatus{
		ResourceType: m.Class,
		ResourceID:   string(m.DN),
		ResourceRoot: root,
		Status:       types.SyncPending,
		UpdatedAt:    time.Now(),
	})
}

func retryKey(root string, variant universe.Variant, op string, dn types.DN) string {
	return root + "|" + string(variant) + "|" + op + "|" + string(dn)
}

// filterRetry applies the per-object retry cache, converting each
// surviving DN into a Model object drawn from the leaf data carried on
// the source tree.
func (r *Reconciler) filterRetry(root string, variant universe.Variant, op string, dns []string, leaves map[types.DN]hashtree.Leaf) []*types.ModelObject {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()

	var out []*types.ModelObject
	for _, dnStr := range dns {
		dn := types.DN(dnStr)
		key := retryKey(root, variant, op, dn)

		if r.failed[key] {
			continue // excluded from future diffs until Intent touches it again
		}

		count := 1
		if v, ok := r.retry.Get(key); ok {
			count = v.(int) + 1
		}

		switch {
		case count < r.cfg.ResetRetryLimit:
			r.retry.Set(key, count, gocache.DefaultExpiration)
		case count < r.cfg.PurgeRetryLimit:
			if count == r.cfg.ResetRetryLimit {
				r.resetPair(root, variant)
			}
			r.retry.Set(key, count, gocache.DefaultExpiration)
		default:
			r.failed[key] = true
			r.retry.Delete(key)
			leaf, ok := leaves[dn]
			class := ""
			if ok {
				class = leaf.Class
			}
			r.status.ReportStatus(types.SyncStatus{
				ResourceType: class,
				ResourceID:   dnStr,
				ResourceRoot: root,
				Status:       types.SyncFailed,
				Message:      "exceeded purge_retry_limit",
				RetryCount:   count,
				UpdatedAt:    time.Now(),
			})
			continue
		}

		leaf, ok := leaves[dn]
		m := &types.ModelObject{DN: dn}
		if ok {
			m.Class = leaf.Class
			m.Attrs = leaf.Attrs
		}
		out = append(out, m)
	}
	return out
}

// resetPair reinitializes both sides of a pair's root trees from the
// store, forcing a full re-diff once an object has been stuck retrying
// past ResetRetryLimit.
func (r *Reconciler) resetPair(root string, variant universe.Variant) {
	log.Warn("reconciler: divergence detected, resetting " + root + "/" + string(variant))
	r.universes[universe.Name{Side: universe.Current, Variant: variant}].Reset([]string{root})
	r.universes[universe.Name{Side: universe.Desired, Variant: variant}].Reset([]string{root})
}

// categorizeOutcomes processes the previous tick's push results.
func (r *Reconciler) categorizeOutcomes() {
	r.outcomesMu.Lock()
	pending := r.outcomes
	r.outcomes = nil
	r.outcomesMu.Unlock()

	for _, o := range pending {
		if o.Err == nil {
			continue
		}
		kind := classify(o.Err)
		switch kind {
		case fabric.ObjectPermanent:
			r.status.ReportStatus(types.SyncStatus{
				ResourceID: string(o.DN), ResourceRoot: string(o.Root),
				Status: types.SyncFailed, Message: o.Err.Error(), UpdatedAt: time.Now(),
			})
		case fabric.SessionFatal:
			if r.harakiri != nil {
				r.harakiri("fabric session fatal: "+o.Err.Error(), 2)
			}
		case fabric.ObjectTransient, fabric.Unknown:
			// retried up to purge_retry_limit via the retry cache on the
			// next diff pass; no immediate status change here.
		case fabric.TransientNetwork:
			// retried silently, never fails the object on its own.
		}
	}
}

func classify(err error) fabric.ErrorKind {
	var ferr *fabric.Error
	if !errors.As(err, &ferr) {
		return fabric.Unknown
	}
	return ferr.Kind
}

func sortByDepth(objs []*types.ModelObject, ascending bool) {
	sort.SliceStable(objs, func(i, j int) bool {
		if ascending {
			return objs[i].DN.Depth() < objs[j].DN.Depth()
		}
		return objs[i].DN.Depth() > objs[j].DN.Depth()
	})
}
