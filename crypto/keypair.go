// Package crypto implements the cryptographic primitives façade for DNA
// Messenger: post-quantum KEM and signature key pairs, AES-256-GCM,
// AES key wrap, and SHA3-512, exposed as pure functions with typed errors.
//
// Example:
//
//	kemKeys, err := crypto.GenerateKEMKeyPair()
//	sigKeys, err := crypto.GenerateSignKeyPair()
//	pub, _ := sigKeys.MarshalPublic()
//	fp := crypto.Fingerprint(pub)
package crypto

import (
	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"
	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
	"github.com/sirupsen/logrus"
)

// kemScheme and sigScheme are the Category-5 lattice schemes backing the
// façade: ML-KEM-1024 for encapsulation, ML-DSA-87 for signatures. Both
// meet the standard ML-KEM-1024/ML-DSA-87 sizes (KEM pk 1568B, ct 1568B, sk 3168B;
// signature ~4627B).
var (
	kemScheme = mlkem1024.Scheme()
	sigScheme = mldsa87.Scheme()
)

// KEMKeyPair holds a post-quantum KEM key pair used to wrap per-recipient
// and per-member symmetric keys.
type KEMKeyPair struct {
	Public  kem.PublicKey
	Private kem.PrivateKey
}

// SignKeyPair holds a post-quantum signature key pair used to authenticate
// identities, IKPs, and message envelopes.
type SignKeyPair struct {
	Public  sign.PublicKey
	Private sign.PrivateKey
}

// GenerateKEMKeyPair creates a new random ML-KEM-1024 key pair.
func GenerateKEMKeyPair() (*KEMKeyPair, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "GenerateKEMKeyPair", "package": "crypto"})
	logger.Debug("generating KEM key pair")

	pk, sk, err := kemScheme.GenerateKeyPair()
	if err != nil {
		logger.WithError(err).Error("KEM key generation failed")
		return nil, err
	}

	logger.WithField("public_key_size", kemScheme.PublicKeySize()).Info("KEM key pair generated")
	return &KEMKeyPair{Public: pk, Private: sk}, nil
}

// GenerateSignKeyPair creates a new random ML-DSA-87 signature key pair.
func GenerateSignKeyPair() (*SignKeyPair, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "GenerateSignKeyPair", "package": "crypto"})
	logger.Debug("generating signature key pair")

	pk, sk, err := sigScheme.GenerateKey()
	if err != nil {
		logger.WithError(err).Error("signature key generation failed")
		return nil, err
	}

	logger.WithField("public_key_size", sigScheme.PublicKeySize()).Info("signature key pair generated")
	return &SignKeyPair{Public: pk, Private: sk}, nil
}

type binaryMarshaler interface {
	MarshalBinary() ([]byte, error)
}

// MarshalPublic returns the binary encoding of a KEM public key.
func (kp *KEMKeyPair) MarshalPublic() ([]byte, error) {
	return kp.Public.(binaryMarshaler).MarshalBinary()
}

// MarshalPublic returns the binary encoding of a signature public key.
func (kp *SignKeyPair) MarshalPublic() ([]byte, error) {
	return kp.Public.(binaryMarshaler).MarshalBinary()
}

// MarshalPrivate returns the binary encoding of a KEM private key, for
// local persistence only; never transmitted.
func (kp *KEMKeyPair) MarshalPrivate() ([]byte, error) {
	return kp.Private.(binaryMarshaler).MarshalBinary()
}

// MarshalPrivate returns the binary encoding of a signature private key,
// for local persistence only; never transmitted.
func (kp *SignKeyPair) MarshalPrivate() ([]byte, error) {
	return kp.Private.(binaryMarshaler).MarshalBinary()
}

// UnmarshalKEMKeyPair reconstructs a KEM key pair from its marshaled
// public and private halves, as read back from local storage.
func UnmarshalKEMKeyPair(pub, priv []byte) (*KEMKeyPair, error) {
	if len(pub) != kemScheme.PublicKeySize() || len(priv) != kemScheme.PrivateKeySize() {
		return nil, ErrBadLength
	}
	pk, err := kemScheme.UnmarshalBinaryPublicKey(pub)
	if err != nil {
		return nil, err
	}
	sk, err := kemScheme.UnmarshalBinaryPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return &KEMKeyPair{Public: pk, Private: sk}, nil
}

// UnmarshalSignKeyPair reconstructs a signature key pair from its
// marshaled public and private halves, as read back from local storage.
func UnmarshalSignKeyPair(pub, priv []byte) (*SignKeyPair, error) {
	if len(pub) != sigScheme.PublicKeySize() || len(priv) != sigScheme.PrivateKeySize() {
		return nil, ErrBadLength
	}
	pk, err := sigScheme.UnmarshalBinaryPublicKey(pub)
	if err != nil {
		return nil, err
	}
	sk, err := sigScheme.UnmarshalBinaryPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return &SignKeyPair{Public: pk, Private: sk}, nil
}

// MarshalSignPublicKey returns the binary encoding of any ML-DSA-87
// public key, including ones not held inside a SignKeyPair (e.g. a key
// recovered from a keyserver lookup).
func MarshalSignPublicKey(pk sign.PublicKey) ([]byte, error) {
	marshaler, ok := pk.(binaryMarshaler)
	if !ok {
		return nil, ErrBadLength
	}
	return marshaler.MarshalBinary()
}

// UnmarshalKEMPublicKey parses a binary-encoded ML-KEM-1024 public key.
func UnmarshalKEMPublicKey(data []byte) (kem.PublicKey, error) {
	if len(data) != kemScheme.PublicKeySize() {
		return nil, ErrBadLength
	}
	return kemScheme.UnmarshalBinaryPublicKey(data)
}

// UnmarshalSignPublicKey parses a binary-encoded ML-DSA-87 public key.
func UnmarshalSignPublicKey(data []byte) (sign.PublicKey, error) {
	if len(data) != sigScheme.PublicKeySize() {
		return nil, ErrBadLength
	}
	return sigScheme.UnmarshalBinaryPublicKey(data)
}

// KEMCiphertextSize returns the fixed KEM ciphertext size (1,568 B for
// ML-KEM-1024), used by the IKP and message codecs to size fixed fields.
func KEMCiphertextSize() int { return kemScheme.CiphertextSize() }

// KEMPublicKeySize returns the fixed KEM public key size.
func KEMPublicKeySize() int { return kemScheme.PublicKeySize() }

// SignatureSize returns the fixed ML-DSA-87 signature size (~4,627 B).
func SignatureSize() int { return sigScheme.SignatureSize() }

// SignPublicKeySize returns the fixed ML-DSA-87 public key size.
func SignPublicKeySize() int { return sigScheme.PublicKeySize() }
