package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tenantsync/pkg/types"
)

type fakeStore struct {
	statuses []types.SyncStatus
	faults   map[string]types.Fault
	deleted  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{faults: map[string]types.Fault{}}
}

func (f *fakeStore) PutStatus(s types.SyncStatus) error {
	f.statuses = append(f.statuses, s)
	return nil
}

func (f *fakeStore) PutFault(fl types.Fault) error {
	f.faults[fl.ExternalIdentifier] = fl
	return nil
}

func (f *fakeStore) DeleteFault(externalIdentifier string) error {
	delete(f.faults, externalIdentifier)
	f.deleted = append(f.deleted, externalIdentifier)
	return nil
}

func TestReportStatusStampsTimestampWhenZero(t *testing.T) {
	st := newFakeStore()
	r := New(st)
	r.ReportStatus(types.SyncStatus{ResourceID: "t1/BD-b1", Status: types.SyncPending})

	require.Len(t, st.statuses, 1)
	assert.False(t, st.statuses[0].UpdatedAt.IsZero())
}

func TestReportStatusPreservesExplicitTimestamp(t *testing.T) {
	st := newFakeStore()
	r := New(st)
	ts := time.Now().Add(-time.Hour)
	r.ReportStatus(types.SyncStatus{ResourceID: "t1/BD-b1", UpdatedAt: ts})

	require.Len(t, st.statuses, 1)
	assert.True(t, st.statuses[0].UpdatedAt.Equal(ts))
}

func TestReportFaultUpsertsWhenNotCleared(t *testing.T) {
	st := newFakeStore()
	r := New(st)
	r.ReportFault(types.Fault{ExternalIdentifier: "fault-F001"}, false)

	assert.Contains(t, st.faults, "fault-F001")
}

func TestReportFaultDeletesWhenCleared(t *testing.T) {
	st := newFakeStore()
	r := New(st)
	r.ReportFault(types.Fault{ExternalIdentifier: "fault-F001"}, false)
	r.ReportFault(types.Fault{ExternalIdentifier: "fault-F001"}, true)

	assert.NotContains(t, st.faults, "fault-F001")
	assert.Equal(t, []string{"fault-F001"}, st.deleted)
}
