package universe

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/tenantsync/pkg/hashtree"
	"github.com/cuemby/tenantsync/pkg/types"
)

type mapSource struct {
	roots map[string]map[Variant]*hashtree.Tree
}

func (s *mapSource) Roots() []string {
	out := make([]string, 0, len(s.roots))
	for r := range s.roots {
		out = append(out, r)
	}
	return out
}

func (s *mapSource) Tree(root string, v Variant) *hashtree.Tree {
	if byVariant, ok := s.roots[root]; ok {
		return byVariant[v]
	}
	return nil
}

type recordingPusher struct {
	calls []types.PushBatch
}

func (p *recordingPusher) Push(root string, batch types.PushBatch) {
	p.calls = append(p.calls, batch)
}

func TestObservePopulatesTreePerRoot(t *testing.T) {
	tr := hashtree.New()
	hashtree.Update(tr, []*types.ModelObject{{Class: "fvBD", DN: "t1/BD-b1", Attrs: map[string]string{"a": "1"}}})

	src := &mapSource{roots: map[string]map[Variant]*hashtree.Tree{
		"t1": {Config: tr},
	}}
	u := New(Name{Current, Config}, src, nil)
	u.Observe()

	assert.Equal(t, tr.RootKey(), u.Tree("t1").RootKey())
	assert.Equal(t, hashtree.New().RootKey(), u.Tree("missing").RootKey())
}

func TestPushResourcesOnlyFansOutForCurrentConfig(t *testing.T) {
	pusher := &recordingPusher{}
	src := &mapSource{roots: map[string]map[Variant]*hashtree.Tree{}}

	cc := New(Name{Current, Config}, src, pusher)
	cc.PushResources("t1", types.PushBatch{Op: types.PushCreate})
	assert.Len(t, pusher.calls, 1)

	desired := New(Name{Desired, Config}, src, pusher)
	desired.PushResources("t1", types.PushBatch{Op: types.PushCreate})
	assert.Len(t, pusher.calls, 1, "desired universes must not fan out pushes")
}

func TestResetReinitializesNamedRoots(t *testing.T) {
	tr := hashtree.New()
	hashtree.Update(tr, []*types.ModelObject{{Class: "fvBD", DN: "t1/BD-b1", Attrs: map[string]string{"a": "1"}}})
	src := &mapSource{roots: map[string]map[Variant]*hashtree.Tree{"t1": {Config: tr}}}

	u := New(Name{Current, Config}, src, nil)
	u.Observe()
	assert.NotEqual(t, hashtree.New().RootKey(), u.Tree("t1").RootKey())

	u.Reset([]string{"t1"})
	assert.Equal(t, hashtree.New().RootKey(), u.Tree("t1").RootKey())
}

func TestAllSixWiresCrossReadingTable(t *testing.T) {
	src := &mapSource{roots: map[string]map[Variant]*hashtree.Tree{}}
	m := AllSix(src, src, &recordingPusher{})
	assert.Len(t, m, 6)
	for _, v := range []Variant{Config, Operational, Monitored} {
		assert.Contains(t, m, Name{Current, v})
		assert.Contains(t, m, Name{Desired, v})
	}
	assert.NotEmpty(t, RelevantReads(Name{Current, Config}))
}
