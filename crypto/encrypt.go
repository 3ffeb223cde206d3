package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/sirupsen/logrus"
)

// AEADNonceSize is the GCM nonce size used throughout the wire formats in
// every AEAD-sealed wire format in this module (12 bytes).
const AEADNonceSize = 12

// AEADTagSize is the GCM authentication tag size appended to every
// ciphertext.
const AEADTagSize = 16

// AEADSeal encrypts plaintext with AES-256-GCM under key, authenticating
// aad alongside it. key must be exactly 32 bytes and nonce exactly
// AEADNonceSize bytes; callers generate a fresh nonce per seal.
func AEADSeal(key, nonce, aad, plaintext []byte) ([]byte, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "AEADSeal", "package": "crypto", "plaintext_size": len(plaintext)})

	if len(key) != 32 {
		logger.Error("AEADSeal: bad key length")
		return nil, ErrBadLength
	}
	if len(nonce) != AEADNonceSize {
		logger.Error("AEADSeal: bad nonce length")
		return nil, ErrBadLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, AEADNonceSize)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, aad)
	logger.WithField("ciphertext_size", len(sealed)).Debug("AES-256-GCM seal complete")
	return sealed, nil
}

// AEADOpen decrypts and authenticates ciphertext produced by AEADSeal.
// Returns ErrBadTag on any authentication failure, never a partial or
// truncated plaintext.
func AEADOpen(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "AEADOpen", "package": "crypto", "ciphertext_size": len(ciphertext)})

	if len(key) != 32 {
		return nil, ErrBadLength
	}
	if len(nonce) != AEADNonceSize {
		return nil, ErrBadLength
	}
	if len(ciphertext) < AEADTagSize {
		return nil, ErrBadCiphertext
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, AEADNonceSize)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		logger.Warn("AES-256-GCM authentication failed")
		return nil, ErrBadTag
	}
	return plaintext, nil
}
