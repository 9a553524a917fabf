package converter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/tenantsync/pkg/types"
)

func TestDefaultRegistryPrefixLookup(t *testing.T) {
	reg := DefaultRegistry()
	prefix, ok := reg.Prefix("fvBD")
	assert.True(t, ok)
	assert.Equal(t, "BD", prefix)

	_, ok = reg.Prefix("unknownClass")
	assert.False(t, ok)
}

func TestDefaultRegistryMarksOperationalClasses(t *testing.T) {
	reg := DefaultRegistry()
	assert.True(t, reg["faultInst"].Operational)
	assert.False(t, reg["fvBD"].Operational)
}

func TestDefaultRegistryMarksMultiParentClasses(t *testing.T) {
	reg := DefaultRegistry()
	assert.True(t, reg["fvRsProv"].MultiParent)
	assert.False(t, reg["fvBD"].MultiParent)
}

func TestFakeConverterRoundtripsAttrsUnchanged(t *testing.T) {
	f := NewFake()
	mo := &types.ManagedObject{Class: "fvBD", DN: "t1/BD-b1", Attrs: map[string]string{"vrf": "v1"}}

	models, err := f.ToModel(mo)
	assert.NoError(t, err)
	assert.Len(t, models, 1)
	assert.Equal(t, "v1", models[0].Attrs["vrf"])

	back, err := f.ToMO(models[0])
	assert.NoError(t, err)
	assert.Equal(t, mo.Class, back.Class)
	assert.Equal(t, mo.DN, back.DN)
}

func TestFakeConverterSeedsOperationalFromDefaultRegistry(t *testing.T) {
	f := NewFake()
	assert.True(t, f.IsOperationalClass("faultInst"))
	assert.False(t, f.IsOperationalClass("fvBD"))
}

func TestFakeConverterSeedsMultiParentFromDefaultRegistry(t *testing.T) {
	f := NewFake()
	assert.True(t, f.IsMultiParentClass("fvRsProv"))
	assert.False(t, f.IsMultiParentClass("fvBD"))
}
