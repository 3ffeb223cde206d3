package dht

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/dnamessenger/core/crypto"
	"github.com/sirupsen/logrus"
)

// TTLClass names the expiry class a DHT value is published under.
type TTLClass uint8

const (
	// TTLSevenDay covers messages, groups, and social posts.
	TTLSevenDay TTLClass = iota
	// TTL365Day covers name registrations.
	TTL365Day
	// TTLPermanent covers identity keys and contact lists; never expires.
	TTLPermanent
)

// Duration returns the lifetime of values published under this class.
func (c TTLClass) Duration() time.Duration {
	switch c {
	case TTL365Day:
		return 365 * 24 * time.Hour
	case TTLPermanent:
		return 0 // zero means "never expires"; checked explicitly by callers
	default:
		return 7 * 24 * time.Hour
	}
}

var (
	// ErrMixedSignedUnsigned is returned when a key already holds values of
	// the other signedness; put_signed and put must never share a key.
	ErrMixedSignedUnsigned = fmt.Errorf("dht: key already holds values of the other signedness")
	// ErrStaleSeq is returned by PutSigned when seq does not exceed the
	// stored value's seq for the same value_id.
	ErrStaleSeq = fmt.Errorf("dht: seq does not exceed stored value")
)

// value is one entry stored at a key: either an accumulating unsigned
// value, or a signed value identified by (value_id, seq) that replaces
// any prior value sharing the same value_id.
type value struct {
	data      []byte
	signed    bool
	valueID   uint64
	seq       uint32
	ttlClass  TTLClass
	createdAt time.Time
	expiresAt time.Time
}

func (v *value) expired(now time.Time) bool {
	if v.ttlClass == TTLPermanent {
		return false
	}
	return now.After(v.expiresAt)
}

// Store is the local authoritative value store backing one DHT node:
// a map from 64-byte key to the unsigned values accumulated at that key,
// or the signed values keyed by value_id currently live there.
type Store struct {
	mu     sync.RWMutex
	values map[string][]*value
	now    func() time.Time
}

// NewStore creates an empty value store.
func NewStore() *Store {
	return &Store{
		values: make(map[string][]*value),
		now:    time.Now,
	}
}

func keyString(key []byte) string {
	return hex.EncodeToString(key)
}

// Put stores an unsigned value at key with an auto-generated value_id,
// accumulating alongside any existing unsigned values at the same key.
// Returns ErrMixedSignedUnsigned if key already holds signed values.
func (s *Store) Put(key, data []byte, ttlClass TTLClass) error {
	logger := logrus.WithFields(logrus.Fields{"function": "Put", "package": "dht", "key": keyString(key)[:16]})

	s.mu.Lock()
	defer s.mu.Unlock()

	ks := keyString(key)
	existing := s.values[ks]
	for _, v := range existing {
		if v.signed {
			return ErrMixedSignedUnsigned
		}
	}

	randID, err := crypto.RandomBytes(8)
	if err != nil {
		return fmt.Errorf("dht: generate value id: %w", err)
	}
	var valueID uint64
	for i, b := range randID {
		valueID |= uint64(b) << (8 * i)
	}

	now := s.now()
	v := &value{
		data:      append([]byte(nil), data...),
		signed:    false,
		valueID:   valueID,
		ttlClass:  ttlClass,
		createdAt: now,
		expiresAt: now.Add(ttlClass.Duration()),
	}
	s.values[ks] = append(existing, v)
	logger.Debug("unsigned value stored")
	return nil
}

// PutSigned stores a signed value at key under valueID, replacing any
// existing value with the same (key, valueID) whose seq is lower. The
// caller supplies seq explicitly so repeated publication of the same
// logical record (e.g. a refreshed outbox) can increment it monotonically.
func (s *Store) PutSigned(key, data []byte, valueID uint64, seq uint32, ttlClass TTLClass) error {
	logger := logrus.WithFields(logrus.Fields{"function": "PutSigned", "package": "dht", "key": keyString(key)[:16], "value_id": valueID, "seq": seq})

	s.mu.Lock()
	defer s.mu.Unlock()

	ks := keyString(key)
	existing := s.values[ks]
	for _, v := range existing {
		if !v.signed {
			return ErrMixedSignedUnsigned
		}
	}

	now := s.now()
	for i, v := range existing {
		if v.valueID == valueID {
			if seq <= v.seq {
				return ErrStaleSeq
			}
			existing[i] = &value{
				data:      append([]byte(nil), data...),
				signed:    true,
				valueID:   valueID,
				seq:       seq,
				ttlClass:  ttlClass,
				createdAt: now,
				expiresAt: now.Add(ttlClass.Duration()),
			}
			logger.Debug("signed value replaced")
			return nil
		}
	}

	s.values[ks] = append(existing, &value{
		data:      append([]byte(nil), data...),
		signed:    true,
		valueID:   valueID,
		seq:       seq,
		ttlClass:  ttlClass,
		createdAt: now,
		expiresAt: now.Add(ttlClass.Duration()),
	})
	logger.Debug("signed value stored")
	return nil
}

// CurrentSeq returns the seq currently stored for (key, valueID), so a
// caller republishing a replace-by-seq record (like an outbox) knows
// what the next seq must exceed.
func (s *Store) CurrentSeq(key []byte, valueID uint64) (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.values[keyString(key)] {
		if v.signed && v.valueID == valueID {
			return v.seq, true
		}
	}
	return 0, false
}

// Get returns the newest (or, for ties, largest) live value at key, or
// false if nothing live is stored there.
func (s *Store) Get(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var best *value
	for _, v := range s.values[keyString(key)] {
		if v.expired(now) {
			continue
		}
		if best == nil {
			best = v
			continue
		}
		if v.createdAt.After(best.createdAt) {
			best = v
		} else if v.createdAt.Equal(best.createdAt) && len(v.data) > len(best.data) {
			best = v
		}
	}
	if best == nil {
		return nil, false
	}
	return best.data, true
}

// GetAll returns every live value stored at key.
func (s *Store) GetAll(key []byte) [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out [][]byte
	for _, v := range s.values[keyString(key)] {
		if !v.expired(now) {
			out = append(out, v.data)
		}
	}
	return out
}

// PruneExpired removes expired values from the store, returning the count removed.
func (s *Store) PruneExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, values := range s.values {
		live := values[:0]
		for _, v := range values {
			if v.expired(now) {
				removed++
				continue
			}
			live = append(live, v)
		}
		if len(live) == 0 {
			delete(s.values, k)
		} else {
			s.values[k] = live
		}
	}
	return removed
}
