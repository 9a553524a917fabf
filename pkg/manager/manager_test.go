package manager

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/tenantsync/pkg/types"
)

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestSingleNodeBootstrapApplyAndRead(t *testing.T) {
	dir := t.TempDir()
	bind := freePort(t)

	reg, err := New(Config{NodeID: "node-1", Bind: bind, DataDir: dir})
	require.NoError(t, err)
	defer reg.Shutdown()

	require.NoError(t, reg.Bootstrap("node-1", bind))

	require.Eventually(t, reg.IsLeader, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, reg.PutAgent(types.AgentInfo{ID: "agent-1", Version: "1.0", AdminStateUp: true, LastHeartbeat: time.Now()}))

	agents := reg.Agents()
	require.Len(t, agents, 1)
	require.Equal(t, "agent-1", agents[0].ID)
}
