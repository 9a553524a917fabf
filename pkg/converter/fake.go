package converter

import "github.com/cuemby/tenantsync/pkg/types"

// Fake is a minimal, test-only Converter: it passes attributes through
// unchanged and treats class names literally as resource types. It exists
// so the core's tests can exercise the full pipeline without depending on
// the real Fabric wire format.
type Fake struct {
	Operational  map[string]bool
	MultiParent  map[string]bool
	Fillers      map[string][]string
}

// NewFake returns a Fake converter seeded with the default class registry's
// operational classes.
func NewFake() *Fake {
	f := &Fake{
		Operational: map[string]bool{},
		MultiParent: map[string]bool{},
		Fillers:     map[string][]string{},
	}
	for class, info := range DefaultRegistry() {
		if info.Operational {
			f.Operational[class] = true
		}
		if info.MultiParent {
			f.MultiParent[class] = true
		}
	}
	return f
}

func (f *Fake) ToModel(mo *types.ManagedObject) ([]*types.ModelObject, error) {
	return []*types.ModelObject{{
		Class: mo.Class,
		DN:    mo.DN,
		Attrs: mo.Attrs,
	}}, nil
}

func (f *Fake) ToMO(m *types.ModelObject) (*types.ManagedObject, error) {
	return &types.ManagedObject{
		Class: m.Class,
		DN:    m.DN,
		Attrs: m.Attrs,
	}, nil
}

func (f *Fake) IsOperationalClass(class string) bool {
	return f.Operational[class]
}

func (f *Fake) FillerQueries(class string) []string {
	return f.Fillers[class]
}

func (f *Fake) IsMultiParentClass(class string) bool {
	return f.MultiParent[class]
}
