package presence

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddRemoveLifecycle(t *testing.T) {
	registry := NewRegistry()

	registry.Add("tenant-1", "user-1", "conn-a")
	registry.Add("tenant-1", "user-1", "conn-b")

	require.True(t, registry.IsOnline("tenant-1", "user-1"))
	require.Len(t, registry.ConnectionsFor("tenant-1", "user-1"), 2)
	require.Equal(t, 2, registry.Len())

	require.False(t, registry.Remove("conn-a"), "one connection still open")
	require.True(t, registry.Remove("conn-b"), "last connection removed")
	require.False(t, registry.IsOnline("tenant-1", "user-1"))

	// Removing an unknown connection is a no-op.
	require.False(t, registry.Remove("conn-b"))
}

func TestReAddReplacesEntry(t *testing.T) {
	registry := NewRegistry()

	registry.Add("tenant-1", "user-1", "conn-a")
	registry.Add("tenant-1", "user-2", "conn-a")

	require.False(t, registry.IsOnline("tenant-1", "user-1"))
	require.True(t, registry.IsOnline("tenant-1", "user-2"))
	require.Equal(t, 1, registry.Len())
}

func TestTenantIsolation(t *testing.T) {
	registry := NewRegistry()

	registry.Add("tenant-1", "user-1", "conn-a")
	registry.Add("tenant-1", "user-2", "conn-b")
	registry.Add("tenant-2", "user-3", "conn-c")

	got := registry.AllConnections("tenant-1")
	sort.Strings(got)
	require.Equal(t, []string{"conn-a", "conn-b"}, got)
	require.NotContains(t, got, "conn-c")

	require.Equal(t, []string{"conn-c"}, registry.AllConnections("tenant-2"))
	require.Nil(t, registry.AllConnections("tenant-3"))
}

func TestConnectionsForRole(t *testing.T) {
	registry := NewRegistry()

	registry.Add("tenant-1", "user-1", "conn-a")
	registry.Add("tenant-1", "user-2", "conn-b")
	registry.Add("tenant-2", "user-1", "conn-c")

	roleOf := func(tenantID, userID string) string {
		if userID == "user-1" {
			return "case_manager"
		}
		return "viewer"
	}

	got := registry.ConnectionsForRole("tenant-1", "case_manager", roleOf)
	require.Equal(t, []string{"conn-a"}, got)

	// The same user's connection in another tenant is never returned.
	require.NotContains(t, got, "conn-c")
	require.Nil(t, registry.ConnectionsForRole("tenant-1", "case_manager", nil))
}

func TestTouchAndStaleBefore(t *testing.T) {
	registry := NewRegistry()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	registry.now = func() time.Time { return base }

	registry.Add("tenant-1", "user-1", "conn-a")
	registry.Add("tenant-1", "user-2", "conn-b")

	registry.Touch("conn-a", base.Add(30*time.Second))

	stale := registry.StaleBefore(base.Add(10 * time.Second))
	require.Equal(t, []string{"conn-b"}, stale)

	// Touch never moves liveness backwards.
	registry.Touch("conn-a", base.Add(-time.Minute))
	require.Equal(t, []string{"conn-b"}, registry.StaleBefore(base.Add(10*time.Second)))
}
