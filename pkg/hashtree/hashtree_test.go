package hashtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tenantsync/pkg/types"
)

func obj(dn string, attrs map[string]string) *types.ModelObject {
	return &types.ModelObject{DN: types.DN(dn), Attrs: attrs}
}

func TestSerializeDeserializeRoundtrip(t *testing.T) {
	tree := New()
	Update(tree, []*types.ModelObject{
		obj("uni/tn-t1/BD-bd1", map[string]string{"vrf_name": "v1"}),
		obj("uni/tn-t1/BD-bd1/rsctx", map[string]string{"tnFvCtxName": "v1"}),
	})

	data, err := Serialize(tree)
	require.NoError(t, err)

	back, err := Deserialize(data)
	require.NoError(t, err)

	assert.Equal(t, tree.RootKey(), back.RootKey())

	data2, err := Serialize(back)
	require.NoError(t, err)
	assert.Equal(t, data, data2)
}

func TestDiffSelfIsEmpty(t *testing.T) {
	tree := New()
	Update(tree, []*types.ModelObject{obj("uni/tn-t1/BD-bd1", map[string]string{"a": "1"})})

	d := DiffTrees(tree, tree)
	assert.Empty(t, d.Add)
	assert.Empty(t, d.Remove)
}

func TestDiffAddOnNewKey(t *testing.T) {
	a := New()
	Update(a, []*types.ModelObject{obj("uni/tn-t1/BD-bd1", map[string]string{"a": "1"})})

	b := Clone(a)
	newObj := obj("uni/tn-t1/BD-bd2", map[string]string{"a": "1"})
	Update(b, []*types.ModelObject{newObj})

	d := DiffTrees(a, b)
	assert.Equal(t, []string{"uni/tn-t1/BD-bd2"}, d.Add)
	assert.Empty(t, d.Remove)
}

func TestDiffSymmetricUnderSwap(t *testing.T) {
	a := New()
	Update(a, []*types.ModelObject{obj("uni/tn-t1/BD-bd1", map[string]string{"a": "1"})})
	b := New()
	Update(b, []*types.ModelObject{obj("uni/tn-t1/BD-bd2", map[string]string{"a": "1"})})

	dab := DiffTrees(a, b)
	dba := DiffTrees(b, a)
	assert.Equal(t, dab.Add, dba.Remove)
	assert.Equal(t, dab.Remove, dba.Add)
}

func TestUpdateIdempotentOnEqualFingerprint(t *testing.T) {
	tree := New()
	o := obj("uni/tn-t1/BD-bd1", map[string]string{"a": "1"})
	Update(tree, []*types.ModelObject{o})
	before := tree.RootKey()

	Update(tree, []*types.ModelObject{obj("uni/tn-t1/BD-bd1", map[string]string{"a": "1"})})
	assert.Equal(t, before, tree.RootKey())
}

func TestDeleteNonExistentIsNoop(t *testing.T) {
	tree := New()
	Update(tree, []*types.ModelObject{obj("uni/tn-t1/BD-bd1", map[string]string{"a": "1"})})
	before := tree.RootKey()

	Delete(tree, []*types.ModelObject{obj("uni/tn-t1/BD-nope", nil)})
	assert.Equal(t, before, tree.RootKey())
}

func TestDeletePrunesEmptyNode(t *testing.T) {
	tree := New()
	o := obj("uni/tn-t1/BD-bd1", map[string]string{"a": "1"})
	Update(tree, []*types.ModelObject{o})

	Delete(tree, []*types.ModelObject{o})
	assert.Equal(t, New().RootKey(), tree.RootKey())
	assert.Empty(t, tree.Root.Children)
}

func TestChildHashOrderIrrelevant(t *testing.T) {
	a := New()
	Update(a, []*types.ModelObject{
		obj("uni/tn-t1/BD-bd1", map[string]string{"a": "1"}),
		obj("uni/tn-t1/BD-bd2", map[string]string{"a": "1"}),
	})

	b := New()
	Update(b, []*types.ModelObject{
		obj("uni/tn-t1/BD-bd2", map[string]string{"a": "1"}),
		obj("uni/tn-t1/BD-bd1", map[string]string{"a": "1"}),
	})

	assert.Equal(t, a.RootKey(), b.RootKey())
}
