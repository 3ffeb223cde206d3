package keyserver

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dnamessenger/core/crypto"
	"github.com/dnamessenger/core/dht"
	"github.com/sirupsen/logrus"
)

// TTL is how long a cached key bundle is trusted before a fresh DHT
// lookup is attempted again.
const TTL = 7 * 24 * time.Hour

// Bundle is the public key material published for one identity.
type Bundle struct {
	Fingerprint   string `json:"fingerprint"`
	SignPublicKey []byte `json:"sign_public_key"`
	KEMPublicKey  []byte `json:"kem_public_key"`
}

type entry struct {
	bundle   Bundle
	cachedAt time.Time
}

// Cache resolves fingerprints to key bundles, preferring a local cache
// and falling back to the DHT on miss or expiry.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	dht     *dht.Client
	now     func() time.Time
}

// New creates a key cache backed by a DHT client.
func New(client *dht.Client) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		dht:     client,
		now:     time.Now,
	}
}

func dhtKey(fingerprint string) []byte {
	sum := crypto.SHA3_512([]byte(fingerprint + ":pubkeys"))
	return sum[:]
}

// Publish stores this identity's key bundle in the DHT, signed by its
// own signing key, under a permanent TTL class (identity keys never expire).
func (c *Cache) Publish(fingerprint string, signPub, kemPub []byte, signer *crypto.SignKeyPair) error {
	bundle := Bundle{Fingerprint: fingerprint, SignPublicKey: signPub, KEMPublicKey: kemPub}
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("keyserver: marshal bundle: %w", err)
	}

	key := dhtKey(fingerprint)
	if err := c.dht.PutSigned(key, data, 1, 1, dht.TTLPermanent, signer); err != nil {
		return fmt.Errorf("keyserver: publish bundle: %w", err)
	}

	c.mu.Lock()
	c.entries[fingerprint] = &entry{bundle: bundle, cachedAt: c.now()}
	c.mu.Unlock()
	return nil
}

// Lookup resolves fingerprint's key bundle, returning the cached copy if
// it is younger than TTL, otherwise querying the DHT and refreshing the
// cache on success.
func (c *Cache) Lookup(fingerprint string) (Bundle, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "Lookup", "package": "keyserver", "fingerprint": fingerprint})

	c.mu.RLock()
	e, ok := c.entries[fingerprint]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.cachedAt) < TTL {
		return e.bundle, nil
	}

	raw, sig, found, err := c.dht.GetSignedRaw(dhtKey(fingerprint))
	if err != nil {
		return Bundle{}, fmt.Errorf("keyserver: parse signed bundle: %w", err)
	}
	if !found {
		logger.Warn("key bundle not found in DHT")
		return Bundle{}, fmt.Errorf("keyserver: no key bundle for %s", fingerprint)
	}

	var bundle Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return Bundle{}, fmt.Errorf("keyserver: parse bundle: %w", err)
	}
	if bundle.Fingerprint != fingerprint {
		return Bundle{}, fmt.Errorf("keyserver: bundle fingerprint mismatch for %s", fingerprint)
	}

	signPub, err := crypto.UnmarshalSignPublicKey(bundle.SignPublicKey)
	if err != nil {
		return Bundle{}, fmt.Errorf("keyserver: parse bundle signing key: %w", err)
	}
	if err := crypto.Verify(signPub, raw, sig); err != nil {
		return Bundle{}, fmt.Errorf("keyserver: bundle signature invalid: %w", err)
	}

	c.mu.Lock()
	c.entries[fingerprint] = &entry{bundle: bundle, cachedAt: c.now()}
	c.mu.Unlock()

	logger.Debug("key bundle refreshed from DHT")
	return bundle, nil
}

// Invalidate drops a cached entry, forcing the next Lookup to hit the DHT.
func (c *Cache) Invalidate(fingerprint string) {
	c.mu.Lock()
	delete(c.entries, fingerprint)
	c.mu.Unlock()
}
