package cache

import (
	"testing"
	"time"

	"github.com/dnamessenger/core/dht"
	"github.com/dnamessenger/core/keyserver"
	"github.com/stretchr/testify/assert"
)

func TestNewManagerStartsWithEmptyCaches(t *testing.T) {
	client := dht.NewClient()
	m := NewManager(keyserver.New(client))
	defer m.Shutdown()

	stats := m.Stats()
	assert.Equal(t, 0, stats.Connections)
	assert.Equal(t, 0, stats.Contacts)
}

func TestManagerStatsReflectsConnectionsAndContacts(t *testing.T) {
	client := dht.NewClient()
	m := NewManager(keyserver.New(client))
	defer m.Shutdown()

	m.Conns.Put(ConnTCP, "peer-a", &fakeConn{})
	m.Conns.Put(ConnICE, "peer-b", &fakeConn{})
	m.RegisterContactCache("self-identity", 3)

	stats := m.Stats()
	assert.Equal(t, 2, stats.Connections)
	assert.Equal(t, 3, stats.Contacts)
}

func TestManagerShutdownClosesAllConnections(t *testing.T) {
	client := dht.NewClient()
	m := NewManager(keyserver.New(client))

	conn := &fakeConn{}
	m.Conns.Put(ConnTCP, "peer-a", conn)

	m.Shutdown()

	assert.True(t, conn.closed)
}

func TestManagerConnCacheSweepEvictsIdleConnections(t *testing.T) {
	client := dht.NewClient()
	m := &Manager{
		Keyserver: keyserver.New(client),
		Conns:     NewConnCache(time.Millisecond),
		contacts:  make(map[string]int),
		stopSweep: make(chan struct{}),
	}
	defer m.Shutdown()

	conn := &fakeConn{}
	m.Conns.Put(ConnTCP, "peer-a", conn)
	m.Conns.Sweep(time.Now().Add(time.Hour))

	assert.True(t, conn.closed)
}
