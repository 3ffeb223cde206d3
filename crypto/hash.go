package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"
)

// SHA3_512 hashes data with SHA3-512, as used for fingerprints and every
// every named DHT key derivation in this module.
func SHA3_512(data []byte) [64]byte {
	return sha3.Sum512(data)
}

// Fingerprint derives the 128-hex-character identity fingerprint from a
// signing public key: hex(SHA3-512(signing public key)).
func Fingerprint(signPublicKey []byte) string {
	sum := SHA3_512(signPublicKey)
	return fmt.Sprintf("%x", sum[:])
}

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "RandomBytes", "package": "crypto", "n": n})

	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		logger.WithError(err).Error("failed to read random bytes")
		return nil, fmt.Errorf("crypto: random bytes: %w", err)
	}
	return buf, nil
}
