package debounce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllow_SuppressesWithinWindow(t *testing.T) {
	d := New(500 * time.Millisecond)
	t0 := time.Now()

	require.True(t, d.Allow(Event{Path: "/a/x", Action: Modified, Timestamp: t0}))
	require.False(t, d.Allow(Event{Path: "/a/x", Action: Modified, Timestamp: t0.Add(100 * time.Millisecond)}))
	require.True(t, d.Allow(Event{Path: "/a/x", Action: Modified, Timestamp: t0.Add(600 * time.Millisecond)}))
}

func TestAllow_DoesNotCoalesceAcrossPaths(t *testing.T) {
	d := New(500 * time.Millisecond)
	t0 := time.Now()

	require.True(t, d.Allow(Event{Path: "/a/x", Action: Modified, Timestamp: t0}))
	require.True(t, d.Allow(Event{Path: "/a/y", Action: Modified, Timestamp: t0.Add(10 * time.Millisecond)}))
}

func TestAllow_DeleteAlwaysInvalidatesPending(t *testing.T) {
	d := New(500 * time.Millisecond)
	t0 := time.Now()

	require.True(t, d.Allow(Event{Path: "/a/x", Action: Modified, Timestamp: t0}))
	require.True(t, d.Allow(Event{Path: "/a/x", Action: Deleted, Timestamp: t0.Add(10 * time.Millisecond)}))
	require.True(t, d.Allow(Event{Path: "/a/x", Action: Created, Timestamp: t0.Add(20 * time.Millisecond)}))
}

func TestAllow_LaterActionWinsAfterWindow(t *testing.T) {
	d := New(50 * time.Millisecond)
	t0 := time.Now()

	require.True(t, d.Allow(Event{Path: "/a/x", Action: Created, Timestamp: t0}))
	require.True(t, d.Allow(Event{Path: "/a/x", Action: Modified, Timestamp: t0.Add(100 * time.Millisecond)}))
}
