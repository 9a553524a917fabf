// Package converter defines the bidirectional mapping between Model objects
// and Fabric-native ManagedObjects. The core depends only on this
// interface, never on a concrete wire format.
package converter

import "github.com/cuemby/tenantsync/pkg/types"

// Converter maps Model objects to/from the Fabric's ManagedObject shape.
// A concrete implementation (outside this module's core) knows the full
// class catalogue; the core only ever calls through this interface.
type Converter interface {
	// ToModel converts a ManagedObject event into zero or more typed
	// Model objects (some MO classes expand into multiple Model rows).
	ToModel(mo *types.ManagedObject) ([]*types.ModelObject, error)

	// ToMO converts a Model object into its Fabric wire representation.
	ToMO(m *types.ModelObject) (*types.ManagedObject, error)

	// IsOperationalClass reports whether a Fabric class is a fault or
	// other non-configurable status child (routes to the operational
	// tree only, and requires a full-attribute fetch during Fill).
	IsOperationalClass(class string) bool

	// FillerQueries returns extra query targets to fetch alongside an
	// object of this class during Fill — Fabric classes that reverse-map
	// onto it.
	FillerQueries(class string) []string

	// IsMultiParentClass reports whether ownership of this class must be
	// checked at the parent DN rather than the object's own DN, because
	// several sibling classes share one ownership tag.
	IsMultiParentClass(class string) bool
}

// ClassInfo is one entry of the static class registry that replaces
// per-class dynamic dispatch with a data table.
type ClassInfo struct {
	Prefix         string
	HasNameOrCode  bool
	Operational    bool
	MultiParent    bool
}

// Registry is a static `class_name -> {prefix, has_name_or_code, ...}`
// table. The Tenant Worker's Flatten step consults it to synthesize child
// DNs and to decide whether to drop an unknown child class.
type Registry map[string]ClassInfo

// Prefix looks up the DN-segment prefix for a class, e.g. "fvBD" -> "BD".
func (r Registry) Prefix(class string) (string, bool) {
	info, ok := r[class]
	if !ok {
		return "", false
	}
	return info.Prefix, true
}
