package cache

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ConnType tags which transport tier a cached connection belongs to.
type ConnType uint8

const (
	ConnTCP ConnType = iota
	ConnICE
)

func (t ConnType) String() string {
	if t == ConnICE {
		return "ice"
	}
	return "tcp"
}

// WireConn is the minimal send/close contract a cached connection must
// satisfy, regardless of whether it wraps a TCP socket or an ICE
// connection. transport.PersistentConn and ice.Conn both implement it.
type WireConn interface {
	Send(envelope []byte) error
	Close() error
}

type connKey struct {
	kind            ConnType
	peerFingerprint string
}

type connEntry struct {
	conn     WireConn
	lastUsed time.Time
}

// ConnCache is a fixed-capacity-in-spirit (practically: idle-swept) table
// of connections keyed by (type, peer_fingerprint), shared by the TCP and
// ICE send tiers so established sockets are reused across sends instead
// of redialed each time.
type ConnCache struct {
	mu          sync.Mutex
	entries     map[connKey]*connEntry
	idleTimeout time.Duration
}

// NewConnCache creates an empty connection cache; entries idle longer
// than idleTimeout are eligible for eviction by Sweep.
func NewConnCache(idleTimeout time.Duration) *ConnCache {
	return &ConnCache{entries: make(map[connKey]*connEntry), idleTimeout: idleTimeout}
}

// Get returns the cached connection for (kind, peerFingerprint), marking
// it as just used, if present. Get does not check idleness itself; an
// idle entry stays cached until Sweep evicts it.
func (c *ConnCache) Get(kind ConnType, peerFingerprint string) (WireConn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := connKey{kind: kind, peerFingerprint: peerFingerprint}
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry.lastUsed = time.Now()
	return entry.conn, true
}

// Put caches conn under (kind, peerFingerprint), replacing and closing
// any connection already cached there.
func (c *ConnCache) Put(kind ConnType, peerFingerprint string, conn WireConn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := connKey{kind: kind, peerFingerprint: peerFingerprint}
	if existing, ok := c.entries[key]; ok {
		existing.conn.Close()
	}
	c.entries[key] = &connEntry{conn: conn, lastUsed: time.Now()}
}

// Remove evicts and closes the cached connection for (kind,
// peerFingerprint), if any.
func (c *ConnCache) Remove(kind ConnType, peerFingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := connKey{kind: kind, peerFingerprint: peerFingerprint}
	if entry, ok := c.entries[key]; ok {
		entry.conn.Close()
		delete(c.entries, key)
	}
}

// Sweep closes and evicts every connection whose last use is older than
// idleTimeout, as measured against now.
func (c *ConnCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger := logrus.WithFields(logrus.Fields{"function": "Sweep", "package": "cache"})
	evicted := 0
	for key, entry := range c.entries {
		if now.Sub(entry.lastUsed) > c.idleTimeout {
			entry.conn.Close()
			delete(c.entries, key)
			evicted++
		}
	}
	if evicted > 0 {
		logger.WithField("evicted", evicted).Debug("swept idle connections")
	}
	return evicted
}

// Len returns the number of currently cached connections, across both tiers.
func (c *ConnCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CloseAll closes and removes every cached connection, used at shutdown.
func (c *ConnCache) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		entry.conn.Close()
		delete(c.entries, key)
	}
}
