package dht

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaintainerPruneOnceRemovesStaleNodesAndExpiredValues(t *testing.T) {
	rt, err := NewRoutingTable(validFingerprint(0), 8)
	require.NoError(t, err)
	stale := mustNode(t, 1)
	stale.LastSeen = time.Now().Add(-2 * time.Hour)
	require.True(t, rt.AddNode(stale))

	store := NewStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	require.NoError(t, store.Put([]byte("key"), []byte("v"), TTLSevenDay))
	store.now = func() time.Time { return now.Add(8 * 24 * time.Hour) }

	m := NewMaintainer(rt, store, &MaintenanceConfig{PruneInterval: time.Hour, NodeTimeout: time.Hour})
	m.pruneOnce()

	assert.Equal(t, 0, rt.GetTotalNodeCount())
	_, ok := store.Get([]byte("key"))
	assert.False(t, ok)
}

func TestMaintainerStartStopIsIdempotent(t *testing.T) {
	m := NewMaintainer(nil, nil, &MaintenanceConfig{PruneInterval: time.Millisecond, NodeTimeout: time.Hour})
	m.Start()
	m.Start()
	m.Stop()
	m.Stop()
}

func TestMaintainerToleratesNilTargets(t *testing.T) {
	m := NewMaintainer(nil, nil, nil)
	assert.NotPanics(t, func() { m.pruneOnce() })
}
