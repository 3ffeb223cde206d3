package cache

import (
	"time"

	"github.com/dnamessenger/core/keyserver"
	"github.com/sirupsen/logrus"
)

// defaultIdleTimeout is how long a cached connection may sit unused
// before Manager's sweep loop evicts it.
const defaultIdleTimeout = 15 * time.Minute

// sweepInterval is how often the connection cache is swept for idle entries.
const sweepInterval = 5 * time.Minute

// Stats summarizes the aggregate size of every cache Manager coordinates,
// useful for diagnostics and tests.
type Stats struct {
	Connections int
	Contacts    int
}

// Manager brings up and tears down every process-lifetime cache in a
// fixed order: the keyserver lookup cache first (every other cache's
// contents are meaningless without verified keys), then the connection
// cache, then per-identity contact caches as they're registered.
// Teardown runs in reverse.
type Manager struct {
	Keyserver *keyserver.Cache
	Conns     *ConnCache

	contacts map[string]int

	stopSweep chan struct{}
}

// NewManager wires up the keyserver cache and connection cache, in that
// order, and starts the idle-connection sweep loop.
func NewManager(keyserverCache *keyserver.Cache) *Manager {
	logger := logrus.WithFields(logrus.Fields{"function": "NewManager", "package": "cache"})
	logger.Debug("initializing keyserver cache")

	m := &Manager{
		Keyserver: keyserverCache,
		Conns:     NewConnCache(defaultIdleTimeout),
		contacts:  make(map[string]int),
		stopSweep: make(chan struct{}),
	}
	logger.Debug("initializing connection cache")

	go m.sweepLoop()
	return m
}

// RegisterContactCache records that size contacts are tracked for
// identityFingerprint, for aggregate Stats reporting. Contact state
// itself lives in identity.Contact values owned by the caller; Manager
// only tracks counts for diagnostics.
func (m *Manager) RegisterContactCache(identityFingerprint string, size int) {
	m.contacts[identityFingerprint] = size
}

// Stats reports the current aggregate size of every coordinated cache.
func (m *Manager) Stats() Stats {
	total := 0
	for _, n := range m.contacts {
		total += n
	}
	return Stats{Connections: m.Conns.Len(), Contacts: total}
}

// Shutdown tears down every coordinated cache in the reverse of startup
// order: stop the sweep loop, close all live connections, then drop the
// keyserver cache's reference (its entries are just TTL'd lookups, so
// nothing further to flush).
func (m *Manager) Shutdown() {
	logger := logrus.WithFields(logrus.Fields{"function": "Shutdown", "package": "cache"})

	close(m.stopSweep)
	logger.Debug("closing connection cache")
	m.Conns.CloseAll()
	logger.Debug("keyserver cache released")
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.Conns.Sweep(time.Now())
		}
	}
}
