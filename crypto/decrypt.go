package crypto

import (
	"github.com/cloudflare/circl/kem"
	"github.com/sirupsen/logrus"
)

// KEMEncap encapsulates a fresh shared secret to pk, returning the
// ciphertext to send to the holder of the matching private key and the
// shared secret (the key-encryption key derived locally).
func KEMEncap(pk kem.PublicKey) (ciphertext, sharedSecret []byte, err error) {
	logger := logrus.WithFields(logrus.Fields{"function": "KEMEncap", "package": "crypto"})

	ct, ss, err := kemScheme.Encapsulate(pk)
	if err != nil {
		logger.WithError(err).Error("KEM encapsulation failed")
		return nil, nil, err
	}
	return ct, ss, nil
}

// KEMDecap decapsulates ciphertext with sk, recovering the shared secret.
// Fails with ErrBadCiphertext if ct is malformed or the wrong length;
// callers must not treat a decapsulation failure as "retry" — it is a
// typed, final error — not a condition callers should retry.
func KEMDecap(sk kem.PrivateKey, ciphertext []byte) ([]byte, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "KEMDecap", "package": "crypto"})

	if len(ciphertext) != kemScheme.CiphertextSize() {
		logger.Warn("KEM decapsulation: bad ciphertext length")
		return nil, ErrBadCiphertext
	}

	ss, err := kemScheme.Decapsulate(sk, ciphertext)
	if err != nil {
		logger.WithError(err).Warn("KEM decapsulation failed")
		return nil, ErrBadCiphertext
	}
	return ss, nil
}
