// Package status implements the Status Reporter: writes per-object sync
// state and fault records back into the store based on reconciler
// outcomes.
package status

import (
	"time"

	"github.com/cuemby/tenantsync/pkg/types"
)

// Store is the persistence boundary the reporter writes through.
type Store interface {
	PutStatus(types.SyncStatus) error
	PutFault(types.Fault) error
	DeleteFault(externalIdentifier string) error
}

// Reporter implements reconciler.StatusReporter.
type Reporter struct {
	store Store
}

// New constructs a Status Reporter backed by store.
func New(store Store) *Reporter {
	return &Reporter{store: store}
}

// ReportStatus upserts a per-object sync-state row.
func (r *Reporter) ReportStatus(s types.SyncStatus) {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	_ = r.store.PutStatus(s)
}

// ReportFault upserts (or clears) a fault row observed in the operational
// universe, keyed by the fault's own DN.
func (r *Reporter) ReportFault(f types.Fault, cleared bool) {
	if cleared {
		_ = r.store.DeleteFault(f.ExternalIdentifier)
		return
	}
	if f.LastUpdate.IsZero() {
		f.LastUpdate = time.Now()
	}
	_ = r.store.PutFault(f)
}
