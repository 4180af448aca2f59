package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPerTenant_FirstBurstAllowed(t *testing.T) {
	r := New(TenantLimit{EventsPerSecond: 1, EventsPerMinute: 60, BurstSize: 1})

	allowed, wait, err := r.Check("tenantA", 1)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Zero(t, wait)

	// Scenario 5: a second rapid publish for the same tenant is denied.
	allowed, wait, err = r.Check("tenantA", 1)
	require.NoError(t, err)
	require.False(t, allowed)
	require.InDelta(t, 1.0, wait, 0.01)
}

func TestPerTenant_RefillOverTime(t *testing.T) {
	start := time.Now()
	r := New(TenantLimit{EventsPerSecond: 10, EventsPerMinute: 600, BurstSize: 1})
	r.now = func() time.Time { return start }

	allowed, _, err := r.Check("t1", 1)
	require.NoError(t, err)
	require.True(t, allowed)

	r.now = func() time.Time { return start.Add(200 * time.Millisecond) }
	allowed, _, err = r.Check("t1", 1)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestPerTenant_TenantIsolation(t *testing.T) {
	r := New(TenantLimit{EventsPerSecond: 1, EventsPerMinute: 60, BurstSize: 1})

	allowedA, _, _ := r.Check("A", 1)
	require.True(t, allowedA)
	deniedA, _, _ := r.Check("A", 1)
	require.False(t, deniedA)

	allowedB, _, _ := r.Check("B", 1)
	require.True(t, allowedB, "tenant B unaffected by tenant A's throttling")
}

func TestTenantLimit_Validate(t *testing.T) {
	require.Error(t, TenantLimit{}.Validate())
	require.NoError(t, TenantLimit{EventsPerSecond: 1, EventsPerMinute: 1, BurstSize: 1}.Validate())
}
