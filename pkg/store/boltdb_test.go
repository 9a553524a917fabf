package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tenantsync/pkg/hashtree"
	"github.com/cuemby/tenantsync/pkg/types"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenantsync.db")
	s, err := NewBoltStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTreeRoundtrip(t *testing.T) {
	s := openTestStore(t)
	tree := hashtree.New()
	hashtree.Update(tree, []*types.ModelObject{{DN: "uni/tn-a/BD-b", Attrs: map[string]string{"x": "1"}}})

	require.NoError(t, s.PutTree("a", "config", tree))

	back, err := s.GetTree("a", "config")
	require.NoError(t, err)
	assert.Equal(t, tree.RootKey(), back.RootKey())

	roots, err := s.Roots()
	require.NoError(t, err)
	assert.Contains(t, roots, "a")
}

func TestStatusRoundtrip(t *testing.T) {
	s := openTestStore(t)
	st := types.SyncStatus{ResourceType: "fvBD", ResourceID: "uni/tn-a/BD-b", ResourceRoot: "a", Status: types.SyncSynced}
	require.NoError(t, s.PutStatus(st))

	back, err := s.GetStatus("fvBD", "uni/tn-a/BD-b")
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.Equal(t, types.SyncSynced, back.Status)
}

func TestActionLogResetsWhenBoundExceeded(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < actionLogBound+5; i++ {
		require.NoError(t, s.AppendAction("a", types.ActionLogEntry{Op: "create", DN: "uni/tn-a/BD-b", Timestamp: time.Now()}))
	}
	log, err := s.ActionLog("a")
	require.NoError(t, err)
	// entry bound+1 replaced the log with the RESET marker; the last 4
	// entries were appended after it.
	require.Len(t, log, 5)
	assert.Equal(t, types.ActionLogReset, log[0].Op)
}

func TestFaultPutAndDelete(t *testing.T) {
	s := openTestStore(t)
	f := types.Fault{ExternalIdentifier: "uni/tn-a/fault-F1", FaultCode: "F1", Severity: "major"}
	require.NoError(t, s.PutFault(f))
	require.NoError(t, s.DeleteFault(f.ExternalIdentifier))
}
