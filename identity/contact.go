package identity

import (
	"time"

	"github.com/dnamessenger/core/limits"
	"github.com/sirupsen/logrus"
)

// TimeProvider abstracts time for deterministic contact tests.
type TimeProvider interface {
	Now() time.Time
}

type defaultTimeProvider struct{}

func (defaultTimeProvider) Now() time.Time { return time.Now() }

var defaultTime TimeProvider = defaultTimeProvider{}

// Contact is a peer known to this identity: a fingerprint, its cached
// public keys, an optional display name, and the time it was last seen
// online. Contacts are created on first interaction and mutated by
// presence lookups; nothing ever deletes one automatically.
type Contact struct {
	Fingerprint   string
	SignPublicKey []byte
	KEMPublicKey  []byte
	Name          string
	LastSeen      time.Time
	timeProvider  TimeProvider
}

// NewContact creates a contact for a fingerprint with no cached keys yet.
func NewContact(fingerprint string) *Contact {
	return NewContactWithTimeProvider(fingerprint, defaultTime)
}

// NewContactWithTimeProvider creates a contact using a custom time provider.
func NewContactWithTimeProvider(fingerprint string, tp TimeProvider) *Contact {
	if tp == nil {
		tp = defaultTime
	}
	logrus.WithFields(logrus.Fields{
		"function":    "NewContact",
		"package":     "identity",
		"fingerprint": fingerprint,
	}).Debug("creating contact")

	return &Contact{
		Fingerprint:  fingerprint,
		timeProvider: tp,
	}
}

// SetName sets the contact's human-readable display name.
func (c *Contact) SetName(name string) error {
	if err := limits.ValidateName(name); err != nil {
		return err
	}
	c.Name = name
	return nil
}

// UpdateKeys caches the public keys learned for this contact, typically
// the result of a keyserver lookup.
func (c *Contact) UpdateKeys(signPub, kemPub []byte) {
	c.SignPublicKey = signPub
	c.KEMPublicKey = kemPub
}

// MarkSeen records a presence observation, advancing LastSeen to now.
func (c *Contact) MarkSeen() {
	tp := c.timeProvider
	if tp == nil {
		tp = defaultTime
	}
	c.LastSeen = tp.Now()
}

// IsLiveWithin reports whether the contact was last seen within window.
func (c *Contact) IsLiveWithin(window time.Duration) bool {
	tp := c.timeProvider
	if tp == nil {
		tp = defaultTime
	}
	return tp.Now().Sub(c.LastSeen) <= window
}
