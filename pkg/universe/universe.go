// Package universe implements the six named collections of per-root hash
// trees — (current, desired) x (config, operational, monitored) — and the
// cross-reading table describing which universes each one depends on.
package universe

import (
	"github.com/cuemby/tenantsync/pkg/hashtree"
	"github.com/cuemby/tenantsync/pkg/types"
)

// Side is current vs desired.
type Side string

const (
	Current Side = "current"
	Desired Side = "desired"
)

// Variant is config, operational or monitored.
type Variant string

const (
	Config      Variant = "config"
	Operational Variant = "operational"
	Monitored   Variant = "monitored"
)

// Name identifies one of the six universes, e.g. "current-config".
type Name struct {
	Side    Side
	Variant Variant
}

func (n Name) String() string { return string(n.Side) + "-" + string(n.Variant) }

// relevantReads lists, for each universe, the universes it depends on to
// compute "what ought to exist" — e.g. current-config also depends on
// desired-monitored and desired-operational, since an object that has
// been taken over or demoted to a fault elsewhere changes what current
// config should look like. The reconciler's per-tick observe pass walks
// this table so it refreshes exactly the universes a round of diffing
// needs rather than observing blindly.
var relevantReads = map[Name][]Name{
	{Current, Config}:      {{Current, Config}, {Desired, Monitored}, {Desired, Operational}},
	{Desired, Config}:      {{Desired, Config}, {Current, Monitored}},
	{Current, Operational}: {{Current, Operational}},
	{Desired, Operational}: {{Current, Config}, {Desired, Monitored}, {Desired, Operational}},
	{Current, Monitored}:   {{Current, Monitored}, {Desired, Config}},
	{Desired, Monitored}:   {{Current, Config}, {Desired, Monitored}, {Desired, Operational}},
}

// RelevantReads returns the set of universes a given universe reads
// against.
func RelevantReads(n Name) []Name {
	return relevantReads[n]
}

// Source supplies the per-root trees a universe observes from: the store
// for desired universes, the set of Tenant Workers for current universes.
type Source interface {
	// Roots lists the roots this source currently has state for.
	Roots() []string
	// Tree returns the tree for one root and variant, or nil if absent.
	Tree(root string, v Variant) *hashtree.Tree
}

// Pusher fans a diff batch out to whatever owns "current config" writes —
// the responsible Tenant Worker's Push. Desired universes use a no-op
// Pusher.
type Pusher interface {
	Push(root string, batch types.PushBatch)
}

// NoopPusher implements Pusher for desired universes, which never write
// back to Fabric.
type NoopPusher struct{}

func (NoopPusher) Push(root string, batch types.PushBatch) {}

// Universe wraps a per-root map of Hash Trees for one (side, variant) pair.
type Universe struct {
	Name   Name
	source Source
	pusher Pusher

	trees map[string]*hashtree.Tree
}

// New constructs a Universe backed by the given Source; pusher may be nil
// for any universe other than current-config.
func New(name Name, source Source, pusher Pusher) *Universe {
	if pusher == nil {
		pusher = NoopPusher{}
	}
	return &Universe{Name: name, source: source, pusher: pusher, trees: map[string]*hashtree.Tree{}}
}

// Observe refreshes this universe's state from its data source.
func (u *Universe) Observe() {
	roots := u.source.Roots()
	fresh := make(map[string]*hashtree.Tree, len(roots))
	for _, r := range roots {
		t := u.source.Tree(r, u.Name.Variant)
		if t == nil {
			t = hashtree.New()
		}
		fresh[r] = t
	}
	u.trees = fresh
}

// Tree returns the observed tree for a root, or an empty tree if absent.
func (u *Universe) Tree(root string) *hashtree.Tree {
	if t, ok := u.trees[root]; ok {
		return t
	}
	return hashtree.New()
}

// PushResources delivers a diff batch. For current-config this fans out to
// the responsible Tenant Worker; for desired universes it is a no-op.
func (u *Universe) PushResources(root string, batch types.PushBatch) {
	if u.Name.Side == Current && u.Name.Variant == Config {
		u.pusher.Push(root, batch)
	}
}

// Reset reinitializes the named roots' trees from scratch.
func (u *Universe) Reset(roots []string) {
	for _, r := range roots {
		u.trees[r] = hashtree.New()
	}
}

// AllSix builds the full multiverse: one Universe per (side, variant).
func AllSix(currentSource, desiredSource Source, currentConfigPusher Pusher) map[Name]*Universe {
	m := map[Name]*Universe{}
	for _, v := range []Variant{Config, Operational, Monitored} {
		m[Name{Current, v}] = New(Name{Current, v}, currentSource, nil)
		m[Name{Desired, v}] = New(Name{Desired, v}, desiredSource, nil)
	}
	m[Name{Current, Config}] = New(Name{Current, Config}, currentSource, currentConfigPusher)
	return m
}
