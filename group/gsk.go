package group

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/dnamessenger/core/crypto"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// gskLifetime is how long a GSK generation is considered current before
// rotation is due. Expired generations are kept for decrypting history.
const gskLifetime = 7 * 24 * time.Hour

// gskEntry is one row of the local (group_uuid, version) -> key table.
type gskEntry struct {
	Key       [32]byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// GSKManager stores and rotates the group symmetric keys this identity
// holds for its groups, encrypted at rest via the same key-store format
// used for identity private keys.
type GSKManager struct {
	mu      sync.RWMutex
	cache   map[string]*gskEntry
	store   *crypto.EncryptedKeyStore
	nowFunc func() time.Time
}

func gskFileKey(groupID uuid.UUID, version uint32) string {
	return fmt.Sprintf("%s-v%d", groupID.String(), version)
}

// NewGSKManager creates a manager backed by store. store may be nil, in
// which case GSKs live only in memory for the process lifetime.
func NewGSKManager(store *crypto.EncryptedKeyStore) *GSKManager {
	return &GSKManager{
		cache:   make(map[string]*gskEntry),
		store:   store,
		nowFunc: time.Now,
	}
}

// Generate creates a fresh random 32-byte GSK for (groupID, version),
// stores it, and returns it.
func (m *GSKManager) Generate(groupID uuid.UUID, version uint32) ([32]byte, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "Generate", "package": "group", "group": groupID.String(), "version": version})

	raw, err := crypto.RandomBytes(32)
	if err != nil {
		return [32]byte{}, fmt.Errorf("group: generate gsk: %w", err)
	}
	var key [32]byte
	copy(key[:], raw)

	if err := m.Store(groupID, version, key); err != nil {
		return [32]byte{}, err
	}
	logger.Debug("generated new gsk")
	return key, nil
}

// Store saves key as the GSK for (groupID, version), overwriting any
// existing entry at that exact version.
func (m *GSKManager) Store(groupID uuid.UUID, version uint32, key [32]byte) error {
	now := m.nowFunc()
	entry := &gskEntry{Key: key, CreatedAt: now, ExpiresAt: now.Add(gskLifetime)}

	m.mu.Lock()
	m.cache[gskFileKey(groupID, version)] = entry
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	payload := make([]byte, 32+8+8)
	copy(payload[:32], key[:])
	binary.BigEndian.PutUint64(payload[32:40], uint64(now.Unix()))
	binary.BigEndian.PutUint64(payload[40:48], uint64(entry.ExpiresAt.Unix()))
	if err := m.store.WriteEncrypted(gskFileKey(groupID, version)+".gsk", payload); err != nil {
		return fmt.Errorf("group: persist gsk: %w", err)
	}
	return nil
}

// Load returns the GSK for (groupID, version), checking the in-memory
// cache first and falling back to the encrypted key store.
func (m *GSKManager) Load(groupID uuid.UUID, version uint32) ([32]byte, bool) {
	fileKey := gskFileKey(groupID, version)

	m.mu.RLock()
	entry, ok := m.cache[fileKey]
	m.mu.RUnlock()
	if ok {
		return entry.Key, true
	}

	if m.store == nil {
		return [32]byte{}, false
	}
	payload, err := m.store.ReadEncrypted(fileKey + ".gsk")
	if err != nil || len(payload) != 48 {
		return [32]byte{}, false
	}

	var key [32]byte
	copy(key[:], payload[:32])
	loaded := &gskEntry{
		Key:       key,
		CreatedAt: time.Unix(int64(binary.BigEndian.Uint64(payload[32:40])), 0),
		ExpiresAt: time.Unix(int64(binary.BigEndian.Uint64(payload[40:48])), 0),
	}
	m.mu.Lock()
	m.cache[fileKey] = loaded
	m.mu.Unlock()
	return key, true
}

// LatestVersion returns the highest GSK version currently cached for
// groupID, or (0, false) if none is held.
func (m *GSKManager) LatestVersion(groupID uuid.UUID) (uint32, bool) {
	prefix := groupID.String() + "-v"
	m.mu.RLock()
	defer m.mu.RUnlock()

	found := false
	var latest uint32
	for key := range m.cache {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		var version uint32
		if _, err := fmt.Sscanf(key[len(prefix):], "%d", &version); err != nil {
			continue
		}
		if !found || version > latest {
			latest = version
			found = true
		}
	}
	return latest, found
}

// NeedsRotation reports whether the GSK at version for groupID is due for
// rotation: either absent or older than gskLifetime.
func (m *GSKManager) NeedsRotation(groupID uuid.UUID, version uint32) bool {
	m.mu.RLock()
	entry, ok := m.cache[gskFileKey(groupID, version)]
	m.mu.RUnlock()
	if !ok {
		return true
	}
	return m.nowFunc().After(entry.ExpiresAt)
}
