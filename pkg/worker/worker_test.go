package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/tenantsync/pkg/converter"
	"github.com/cuemby/tenantsync/pkg/types"
)

func mo(dn, class string, status types.MOStatus, attrs map[string]string) *types.ManagedObject {
	return &types.ManagedObject{DN: types.DN(dn), Class: class, Status: status, Attrs: attrs}
}

// S3 — squash duplicate events.
func TestDrainCoalescesByClassAndDN(t *testing.T) {
	e1 := mo("uni/tn-t/BD-test/rsctx", "fvRsCtx", types.MOStatusModified, map[string]string{"tnFvCtxName": "test"})
	e2 := mo("uni/tn-t/BD-test/rsctx", "fvRsCtx", types.MOStatusModified, map[string]string{"tnFvCtxName": "test-2"})

	out := drain([]*types.ManagedObject{e1, e2})
	assert.Len(t, out, 1)
	assert.Equal(t, "test-2", out[0].Attrs["tnFvCtxName"])
}

// S4 — flatten nested faults.
func TestFlattenNestedFaults(t *testing.T) {
	inner := &types.ManagedObject{Class: "faultInst", NameOrCode: "F001"}
	outer := &types.ManagedObject{Class: "faultInst", NameOrCode: "F002", Children: []*types.ManagedObject{inner}}
	root := &types.ManagedObject{
		DN:       "uni/tn-t/BD-test/rsctx",
		Class:    "fvRsCtx",
		Children: []*types.ManagedObject{outer},
	}

	out := flatten([]*types.ManagedObject{root}, converter.DefaultRegistry())

	assert.Len(t, out, 3)
	assert.Equal(t, types.DN("uni/tn-t/BD-test/rsctx"), out[0].DN)
	assert.Equal(t, types.DN("uni/tn-t/BD-test/rsctx/fault-F002"), out[1].DN)
	assert.Equal(t, types.DN("uni/tn-t/BD-test/rsctx/fault-F002/fault-F001"), out[2].DN)
}

func TestFlattenDropsUnknownChildClass(t *testing.T) {
	unknown := &types.ManagedObject{Class: "zzUnknown"}
	root := &types.ManagedObject{DN: "uni/tn-t/BD-test", Class: "fvBD", Children: []*types.ManagedObject{unknown}}

	out := flatten([]*types.ManagedObject{root}, converter.DefaultRegistry())
	assert.Len(t, out, 1)
}

// Invariant 6: flatten is idempotent when there is no nested children.
func TestFlattenIdempotentWithoutChildren(t *testing.T) {
	events := []*types.ManagedObject{
		mo("uni/tn-t/BD-a", "fvBD", types.MOStatusCreated, nil),
		mo("uni/tn-t/BD-b", "fvBD", types.MOStatusCreated, nil),
	}
	out := flatten(events, converter.DefaultRegistry())
	assert.Equal(t, events, out)
}

// S5 — ownership filter.
func TestFilterOwnershipTracksTagSet(t *testing.T) {
	w := New(Config{RootRN: "x", SystemID: "sys1", ClassCSV: "fvRsCtx,faultInst,tagInst"}, nil, converter.NewFake(), Callbacks{})

	rsctx1 := mo("uni/tn-x/BD-test/rsctx", "fvRsCtx", types.MOStatusCreated, nil)
	fault1 := mo("uni/tn-x/BD-test/rsctx/fault-1", "faultInst", types.MOStatusCreated, nil)
	rsctx2 := mo("uni/tn-x/BD-test-2/rsctx", "fvRsCtx", types.MOStatusCreated, nil)
	fault2 := mo("uni/tn-x/BD-test-2/rsctx/fault-1", "faultInst", types.MOStatusCreated, nil)

	owned, _ := w.filterOwnership([]*types.ManagedObject{rsctx1, fault1, rsctx2, fault2})
	assert.Empty(t, owned)

	tag := mo("uni/tn-x/BD-test-2/rsctx/tag-sys1", "tagInst", types.MOStatusCreated, nil)
	owned, _ = w.filterOwnership([]*types.ManagedObject{tag, rsctx1, fault1, rsctx2, fault2})
	assert.Len(t, owned, 2)
	for _, o := range owned {
		assert.Contains(t, string(o.DN), "BD-test-2")
	}

	tagDelete := mo("uni/tn-x/BD-test-2/rsctx/tag-sys1", "tagInst", types.MOStatusDeleted, nil)
	owned, _ = w.filterOwnership([]*types.ManagedObject{tagDelete, rsctx1, fault1, rsctx2, fault2})
	assert.Empty(t, owned)
}

// Multi-parent ownership: fvRsProv's tag lives at its parent EPG's DN,
// not its own.
func TestFilterOwnershipChecksParentDNForMultiParentClass(t *testing.T) {
	w := New(Config{RootRN: "x", SystemID: "sys1", ClassCSV: "fvRsProv,tagInst"}, nil, converter.NewFake(), Callbacks{})

	rsprov := mo("uni/tn-x/epg-web/rsprov-default", "fvRsProv", types.MOStatusCreated, nil)

	owned, monitored := w.filterOwnership([]*types.ManagedObject{rsprov})
	assert.Empty(t, owned)
	assert.Len(t, monitored, 1)

	tag := mo("uni/tn-x/epg-web/tag-sys1", "tagInst", types.MOStatusCreated, nil)
	owned, monitored = w.filterOwnership([]*types.ManagedObject{tag, rsprov})
	assert.Len(t, owned, 1)
	assert.Empty(t, monitored)
	assert.Equal(t, rsprov.DN, owned[0].DN)
}

// Fault events are unconditional on ownership: a monitored object's
// fault children still land in the operational tree, never dropped and
// never routed into the monitored tree.
func TestEventToTreeRoutesMonitoredFaultsToOperational(t *testing.T) {
	w := New(Config{RootRN: "x", SystemID: "sys1", ClassCSV: "faultInst"}, nil, converter.NewFake(), Callbacks{})

	fault := mo("uni/tn-x/BD-mybd/fault-F1", "faultInst", types.MOStatusCreated, nil)

	batches := w.eventToTree(nil, []*types.ManagedObject{fault})

	var operCreates, monCreates, configCreates int
	for _, b := range batches {
		switch b.kind {
		case types.TreeOperational:
			operCreates = len(b.creates)
		case types.TreeMonitored:
			monCreates = len(b.creates)
		case types.TreeConfig:
			configCreates = len(b.creates)
		}
	}
	assert.Equal(t, 1, operCreates)
	assert.Equal(t, 0, monCreates)
	assert.Equal(t, 0, configCreates)
}

func TestRootResetDetectsAbsentStatus(t *testing.T) {
	tenant := mo("uni/tn-x", "fvTenant", types.MOStatusNone, nil)
	assert.True(t, rootReset([]*types.ManagedObject{tenant}, "x", false))

	tenantWithStatus := mo("uni/tn-x", "fvTenant", types.MOStatusModified, nil)
	assert.False(t, rootReset([]*types.ManagedObject{tenantWithStatus}, "x", false))
}
