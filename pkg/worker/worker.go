// Package worker implements the per-tenant-root Tenant Worker: the single
// writer of a root's three hash trees, owning its Fabric subscription and
// its outbound push FIFO.
package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cuemby/tenantsync/pkg/converter"
	"github.com/cuemby/tenantsync/pkg/fabric"
	"github.com/cuemby/tenantsync/pkg/hashtree"
	"github.com/cuemby/tenantsync/pkg/log"
	"github.com/cuemby/tenantsync/pkg/types"
)

// State is the tenant-root state machine.
type State string

const (
	StateInit         State = "INIT"
	StateSubscribing  State = "SUBSCRIBING"
	StateWarming      State = "WARMING"
	StateWarm         State = "WARM"
	StateReconnecting State = "RECONNECTING"
	StateStopped      State = "STOPPED"
)

// warmupIterations is how many successful drain ticks a root spends in
// WARMING before it's promoted to WARM.
const warmupIterations = 3

// Callbacks are invoked by the worker after an outbound push attempt.
type Callbacks struct {
	OnSuccess func(*types.ModelObject)
	OnFailure func(*types.ModelObject, error)
}

// Config parameterizes one Tenant Worker.
type Config struct {
	RootRN       string
	IsInfra      bool
	SystemID     string
	PollingYield time.Duration
	ClassCSV     string
}

// Worker is one long-lived per-root task.
type Worker struct {
	cfg       Config
	fabricSes fabric.Session
	conv      converter.Converter
	cb        Callbacks

	mu           sync.RWMutex
	state        State
	warmCounter  int
	subID        string
	tagSet       map[string]bool // parent DN -> owned
	config       *hashtree.Tree
	operational  *hashtree.Tree
	monitored    *hashtree.Tree

	backlogMu sync.Mutex
	backlog   []types.PushBatch

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Tenant Worker for one root. It starts in INIT and does
// nothing until Start is called.
func New(cfg Config, session fabric.Session, conv converter.Converter, cb Callbacks) *Worker {
	return &Worker{
		cfg:         cfg,
		fabricSes:   session,
		conv:        conv,
		cb:          cb,
		state:       StateInit,
		tagSet:      map[string]bool{},
		config:      hashtree.New(),
		operational: hashtree.New(),
		monitored:   hashtree.New(),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the (re)subscribe -> push -> drain -> yield loop in a new
// goroutine. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the worker; it unsubscribes best-effort and exits at the
// next yield point.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	close(w.stopCh)
	<-w.doneCh
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// IsWarm reports whether the observed view is trustworthy enough to diff
// against Intent.
func (w *Worker) IsWarm() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state == StateWarm
}

// HealthState exposes the current state machine value.
func (w *Worker) HealthState() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Push enqueues a batch for the next outbound-drain tick. It never blocks.
func (w *Worker) Push(batch types.PushBatch) {
	w.backlogMu.Lock()
	w.backlog = append(w.backlog, batch)
	w.backlogMu.Unlock()
}

// SnapshotConfig returns an independent deep copy of the config tree, safe
// to read from any goroutine (serialize/deserialize never suspends).
func (w *Worker) SnapshotConfig() *hashtree.Tree {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return hashtree.Clone(w.config)
}

// SnapshotOperational returns an independent deep copy of the operational
// tree.
func (w *Worker) SnapshotOperational() *hashtree.Tree {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return hashtree.Clone(w.operational)
}

// SnapshotMonitored returns an independent deep copy of the monitored tree.
func (w *Worker) SnapshotMonitored() *hashtree.Tree {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return hashtree.Clone(w.monitored)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)
	logger := log.WithRoot(w.cfg.RootRN)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second

	for {
		select {
		case <-w.stopCh:
			w.setState(StateStopped)
			return
		case <-ctx.Done():
			w.setState(StateStopped)
			return
		default:
		}

		if err := w.subscribeAndLoop(ctx); err != nil {
			logger.Warn().Err(err).Msg("tenant worker subscription cycle failed, reconnecting")
			w.setState(StateReconnecting)
			wait := bo.NextBackOff()
			select {
			case <-w.stopCh:
				w.setState(StateStopped)
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
	}
}

func (w *Worker) subscribeAndLoop(ctx context.Context) error {
	w.setState(StateSubscribing)
	url := fabric.SubscriptionURL(w.cfg.RootRN, w.cfg.IsInfra, w.cfg.ClassCSV)
	subID, err := w.fabricSes.Subscribe(ctx, url)
	if err != nil {
		return err
	}
	w.subID = subID
	defer w.fabricSes.Unsubscribe(ctx, subID)

	w.setState(StateWarming)
	w.warmCounter = 0

	for {
		select {
		case <-w.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		if err := w.tick(ctx); err != nil {
			return err
		}

		w.mu.Lock()
		if w.state == StateWarming {
			w.warmCounter++
			if w.warmCounter >= warmupIterations {
				w.state = StateWarm
			}
		}
		w.mu.Unlock()

		select {
		case <-w.stopCh:
			return nil
		case <-time.After(w.cfg.PollingYield):
		}
	}
}

// tick runs one iteration of: push outbound backlog, then drain/fold
// inbound events. The push happens first so a batch enqueued before this
// tick is attempted at or after it, preserving FIFO order per root.
func (w *Worker) tick(ctx context.Context) error {
	w.drainOutbound(ctx)

	events, err := w.fabricSes.Drain(ctx, w.subID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	mos := make([]*types.ManagedObject, 0, len(events))
	for _, e := range events {
		mos = append(mos, e.Object)
	}

	coalesced := drain(mos)

	if rootReset(coalesced, w.cfg.RootRN, w.cfg.IsInfra) {
		w.mu.Lock()
		w.config = hashtree.New()
		w.operational = hashtree.New()
		w.mu.Unlock()
	}

	flat := flatten(coalesced, converter.DefaultRegistry())

	filled, err := w.fill(ctx, flat)
	if err != nil {
		return err
	}

	owned, monitoredEvs := w.filterOwnership(filled)

	batches := w.eventToTree(owned, monitoredEvs)

	w.mu.Lock()
	applyBatches(w.config, w.operational, w.monitored, batches)
	w.mu.Unlock()

	return nil
}

// drain coalesces by (class, dn): a later event with the same class and DN
// as an earlier one replaces it.
func drain(events []*types.ManagedObject) []*types.ManagedObject {
	order := make([]string, 0, len(events))
	byKey := map[string]*types.ManagedObject{}
	for _, e := range events {
		k := e.Key()
		if _, ok := byKey[k]; !ok {
			order = append(order, k)
		}
		byKey[k] = e
	}
	out := make([]*types.ManagedObject, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}

// rootReset detects a full-resync event: a root object (tenant or infra
// container) whose status attribute is absent.
func rootReset(events []*types.ManagedObject, rootRN string, isInfra bool) bool {
	rootClass := "fvTenant"
	if isInfra {
		rootClass = "infraInfra"
	}
	for _, e := range events {
		if e.Class == rootClass && e.Status == types.MOStatusNone {
			return true
		}
	}
	return false
}

// flatten synthesizes child events out of nested `children`, dropping
// classes absent from the registry, and recurses for nested children.
func flatten(events []*types.ManagedObject, reg converter.Registry) []*types.ManagedObject {
	out := make([]*types.ManagedObject, 0, len(events))
	var walk func(parentDN types.DN, mo *types.ManagedObject)
	walk = func(parentDN types.DN, mo *types.ManagedObject) {
		children := mo.Children
		mo.Children = nil
		out = append(out, mo)
		for _, child := range children {
			info, ok := reg[child.Class]
			if !ok {
				log.Warn("flatten: dropping unknown child class " + child.Class)
				continue
			}
			if child.DN == "" {
				rn := child.RN
				if rn == "" {
					rn = info.Prefix
					if info.HasNameOrCode && child.NameOrCode != "" {
						rn = info.Prefix + "-" + child.NameOrCode
					}
				}
				child.DN = mo.DN.Child(rn)
			}
			walk(mo.DN, child)
		}
	}
	for _, e := range events {
		walk("", e)
	}
	return out
}

// fill fetches full objects for modified/operational events, and passes
// through deletes and filler queries.
func (w *Worker) fill(ctx context.Context, events []*types.ManagedObject) ([]*types.ManagedObject, error) {
	visited := map[types.DN]bool{}
	out := make([]*types.ManagedObject, 0, len(events))

	for _, e := range events {
		if e.IsDeleted() {
			out = append(out, e)
			continue
		}
		needsFetch := e.Status == types.MOStatusModified || w.conv.IsOperationalClass(e.Class)
		if !needsFetch {
			out = append(out, e)
			continue
		}
		if visited[e.DN] {
			continue
		}
		visited[e.DN] = true

		opts := fabric.QueryOpts{QueryTargetSubtree: true, ConfigOnly: !w.conv.IsOperationalClass(e.Class)}
		full, err := w.fabricSes.Get(ctx, e.DN, opts)
		if err == fabric.ErrNotFound {
			// treated as deleted
			out = append(out, &types.ManagedObject{Class: e.Class, DN: e.DN, Status: types.MOStatusDeleted})
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, full)

		for _, filler := range w.conv.FillerQueries(e.Class) {
			fdn := e.DN.Child(filler)
			if visited[fdn] {
				continue
			}
			visited[fdn] = true
			if fobj, err := w.fabricSes.Get(ctx, fdn, opts); err == nil {
				out = append(out, fobj)
			}
		}
	}
	return out, nil
}

// filterOwnership separates tag events (which update tag_set) from
// managed events, then classifies each managed event as owned or
// monitored. Multi-parent classes and operational classes (faults) are
// checked at their parent DN, so a fault under an owned object is owned.
// Every deleting event is returned on both sides, so the delete reaches
// whichever tree currently holds the object and neither is left stale.
func (w *Worker) filterOwnership(events []*types.ManagedObject) (owned, monitored []*types.ManagedObject) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var managed []*types.ManagedObject
	for _, e := range events {
		if e.Class == "tagInst" {
			parent := parentDN(e.DN)
			if e.IsDeleted() {
				delete(w.tagSet, parent)
			} else {
				w.tagSet[parent] = true
			}
			continue
		}
		managed = append(managed, e)
	}

	for _, e := range managed {
		ownerDN := e.DN
		if w.conv.IsMultiParentClass(e.Class) || w.conv.IsOperationalClass(e.Class) {
			ownerDN = parentDN(e.DN)
		}
		isOwned := w.tagSet[string(ownerDN)]
		if e.IsDeleted() {
			owned = append(owned, e)
			monitored = append(monitored, e)
			continue
		}
		if isOwned {
			owned = append(owned, e)
		} else {
			monitored = append(monitored, e)
		}
	}
	return owned, monitored
}

func parentDN(dn types.DN) string {
	s := string(dn)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return s[:i]
		}
	}
	return s
}

// applyBatches folds treemaker batches into the three trees.
func applyBatches(config, operational, monitored *hashtree.Tree, batches []treemakerBatch) {
	for _, b := range batches {
		var target *hashtree.Tree
		switch b.kind {
		case types.TreeConfig:
			target = config
		case types.TreeOperational:
			target = operational
		case types.TreeMonitored:
			target = monitored
		}
		if len(b.creates) > 0 {
			hashtree.Update(target, b.creates)
		}
		if len(b.deletes) > 0 {
			hashtree.Delete(target, b.deletes)
			if b.kind == types.TreeConfig {
				hashtree.Delete(operational, b.deletes)
			}
		}
	}
}

type treemakerBatch struct {
	kind    types.TreeKind
	creates []*types.ModelObject
	deletes []*types.ModelObject
}

// eventToTree routes owned/monitored events into config/operational/
// monitored create-delete buckets. A fault event always lands in the
// operational tree regardless of ownership; a monitored non-operational
// event lands in the monitored tree and additionally gets a
// pre-existing-marked copy folded into the config tree, so config-tree
// diffs never try to claim or delete it.
func (w *Worker) eventToTree(owned, monitoredEvs []*types.ManagedObject) []treemakerBatch {
	configCreate, configDelete := []*types.ModelObject{}, []*types.ModelObject{}
	operCreate, operDelete := []*types.ModelObject{}, []*types.ModelObject{}
	monCreate, monDelete := []*types.ModelObject{}, []*types.ModelObject{}

	route := func(e *types.ManagedObject, toOperational, toConfig, toMonitored bool, monitoredFlag bool) {
		models, err := w.conv.ToModel(e)
		if err != nil || len(models) == 0 {
			return
		}
		for _, m := range models {
			m.Monitored = monitoredFlag
			if e.IsDeleted() {
				if toOperational {
					operDelete = append(operDelete, m)
				}
				if toConfig {
					configDelete = append(configDelete, m)
				}
				if toMonitored {
					monDelete = append(monDelete, m)
				}
				continue
			}
			if toOperational {
				operCreate = append(operCreate, m)
			}
			if toConfig {
				configCreate = append(configCreate, m)
			}
			if toMonitored {
				monCreate = append(monCreate, m)
			}
		}
	}

	for _, e := range owned {
		if w.conv.IsOperationalClass(e.Class) {
			route(e, true, false, false, false)
			continue
		}
		route(e, false, true, false, false)
	}

	for _, e := range monitoredEvs {
		if w.conv.IsOperationalClass(e.Class) {
			route(e, true, false, false, false)
			continue
		}
		route(e, false, false, true, true)
		// double-converted screened copy into config tree, pre_existing,
		// so config-tree diffs never try to create or delete it.
		models, err := w.conv.ToModel(e)
		if err == nil {
			for _, m := range models {
				screened := m.Clone()
				screened.Monitored = false
				screened.PreExisting = true
				if e.IsDeleted() {
					configDelete = append(configDelete, screened)
				} else {
					configCreate = append(configCreate, screened)
				}
			}
		}
	}

	sortByDepthAsc(configCreate)
	sortByDepthAsc(operCreate)
	sortByDepthAsc(monCreate)
	sortByDepthDesc(configDelete)
	sortByDepthDesc(operDelete)
	sortByDepthDesc(monDelete)

	return []treemakerBatch{
		{kind: types.TreeConfig, creates: configCreate, deletes: configDelete},
		{kind: types.TreeOperational, creates: operCreate, deletes: operDelete},
		{kind: types.TreeMonitored, creates: monCreate, deletes: monDelete},
	}
}

func sortByDepthAsc(objs []*types.ModelObject) {
	sort.SliceStable(objs, func(i, j int) bool { return objs[i].DN.Depth() < objs[j].DN.Depth() })
}

func sortByDepthDesc(objs []*types.ModelObject) {
	sort.SliceStable(objs, func(i, j int) bool { return objs[i].DN.Depth() > objs[j].DN.Depth() })
}

// drainOutbound pops the FIFO backlog and pushes each batch to the Fabric.
func (w *Worker) drainOutbound(ctx context.Context) {
	w.backlogMu.Lock()
	batches := w.backlog
	w.backlog = nil
	w.backlogMu.Unlock()

	for _, batch := range batches {
		switch batch.Op {
		case types.PushCreate:
			w.pushCreate(ctx, batch.Objects)
		case types.PushDelete:
			w.pushDelete(ctx, batch.Objects)
		}
	}
}

func (w *Worker) pushCreate(ctx context.Context, objects []*types.ModelObject) {
	mos := make([]*types.ManagedObject, 0, len(objects)*2)
	for _, m := range objects {
		model := m
		if model.Monitored {
			// take ownership: clear monitored, mark pre_existing
			// before conversion.
			model = m.Clone()
			model.Monitored = false
			model.PreExisting = true
		}
		mo, err := w.conv.ToMO(model)
		if err != nil {
			if w.cb.OnFailure != nil {
				w.cb.OnFailure(m, err)
			}
			continue
		}
		mos = append(mos, mo)
		mos = append(mos, &types.ManagedObject{
			Class: "tagInst",
			DN:    mo.DN.Child("tag-" + w.cfg.SystemID),
		})
	}
	if len(mos) == 0 {
		return
	}
	if err := w.fabricSes.Transaction(ctx, mos); err != nil {
		for _, m := range objects {
			if w.cb.OnFailure != nil {
				w.cb.OnFailure(m, err)
			}
		}
		return
	}
	for _, m := range objects {
		if w.cb.OnSuccess != nil {
			w.cb.OnSuccess(m)
		}
	}
}

func (w *Worker) pushDelete(ctx context.Context, objects []*types.ModelObject) {
	for _, m := range objects {
		if err := w.fabricSes.Delete(ctx, m.DN); err != nil {
			if w.cb.OnFailure != nil {
				w.cb.OnFailure(m, err)
			}
			continue
		}
		if w.cb.OnSuccess != nil {
			w.cb.OnSuccess(m)
		}
	}
}
