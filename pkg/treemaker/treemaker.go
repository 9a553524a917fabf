// Package treemaker adapts Model objects into Hash Tree update/delete
// calls. It does not consult the Converter: class lookups are already
// resolved by the Tenant Worker's Flatten/Fill steps.
package treemaker

import (
	"github.com/cuemby/tenantsync/pkg/hashtree"
	"github.com/cuemby/tenantsync/pkg/types"
)

// Batch groups the create/delete Model objects destined for one TreeKind.
type Batch struct {
	Kind    types.TreeKind
	Creates []*types.ModelObject
	Deletes []*types.ModelObject
}

// Apply folds a batch into the three per-root trees. Deleting from the
// config tree also removes the matching subtree from the operational tree,
// since faults do not outlive their object.
func Apply(config, operational, monitored *hashtree.Tree, batches []Batch) {
	for _, b := range batches {
		var target *hashtree.Tree
		switch b.Kind {
		case types.TreeConfig:
			target = config
		case types.TreeOperational:
			target = operational
		case types.TreeMonitored:
			target = monitored
		default:
			continue
		}
		if len(b.Creates) > 0 {
			hashtree.Update(target, b.Creates)
		}
		if len(b.Deletes) > 0 {
			hashtree.Delete(target, b.Deletes)
			if b.Kind == types.TreeConfig {
				hashtree.Delete(operational, b.Deletes)
			}
		}
	}
}
