package identity

import (
	"fmt"

	"github.com/dnamessenger/core/crypto"
	"github.com/sirupsen/logrus"
)

// Identity is this device's long-lived key material: a signing key pair
// and a KEM key pair, plus the fingerprint derived from the signing public
// key. Private keys never leave the device they were generated on.
type Identity struct {
	Fingerprint string
	SignKeys    *crypto.SignKeyPair
	KEMKeys     *crypto.KEMKeyPair
}

// New generates a fresh identity: a new signature key pair and a new KEM
// key pair, with the fingerprint derived as hex(SHA3-512(signing public key)).
func New() (*Identity, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "New", "package": "identity"})

	signKeys, err := crypto.GenerateSignKeyPair()
	if err != nil {
		logger.WithError(err).Error("failed to generate signing key pair")
		return nil, fmt.Errorf("identity: generate signing keys: %w", err)
	}

	kemKeys, err := crypto.GenerateKEMKeyPair()
	if err != nil {
		logger.WithError(err).Error("failed to generate KEM key pair")
		return nil, fmt.Errorf("identity: generate KEM keys: %w", err)
	}

	signPub, err := signKeys.MarshalPublic()
	if err != nil {
		return nil, fmt.Errorf("identity: marshal signing public key: %w", err)
	}

	id := &Identity{
		Fingerprint: crypto.Fingerprint(signPub),
		SignKeys:    signKeys,
		KEMKeys:     kemKeys,
	}

	logger.WithField("fingerprint", id.Fingerprint).Info("identity created")
	return id, nil
}

// FromKeys builds an Identity from existing key pairs, re-deriving the
// fingerprint. Used when loading persisted keys from disk.
func FromKeys(signKeys *crypto.SignKeyPair, kemKeys *crypto.KEMKeyPair) (*Identity, error) {
	signPub, err := signKeys.MarshalPublic()
	if err != nil {
		return nil, fmt.Errorf("identity: marshal signing public key: %w", err)
	}

	return &Identity{
		Fingerprint: crypto.Fingerprint(signPub),
		SignKeys:    signKeys,
		KEMKeys:     kemKeys,
	}, nil
}

// PublicBundle returns the marshaled public keys this identity publishes
// to the DHT and hands to contacts: the signing public key and the KEM
// public key.
func (id *Identity) PublicBundle() (signPub, kemPub []byte, err error) {
	signPub, err = id.SignKeys.MarshalPublic()
	if err != nil {
		return nil, nil, fmt.Errorf("identity: marshal signing public key: %w", err)
	}
	kemPub, err = id.KEMKeys.MarshalPublic()
	if err != nil {
		return nil, nil, fmt.Errorf("identity: marshal KEM public key: %w", err)
	}
	return signPub, kemPub, nil
}
