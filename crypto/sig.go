package crypto

import (
	"github.com/cloudflare/circl/sign"
	"github.com/sirupsen/logrus"
)

// Sign produces an ML-DSA-87 signature over msg using sk. Signature length
// is fixed (SignatureSize(), ~4,627 B) regardless of msg length.
func Sign(sk sign.PrivateKey, msg []byte) []byte {
	logrus.WithFields(logrus.Fields{"function": "Sign", "package": "crypto", "msg_size": len(msg)}).Debug("signing message")
	return sigScheme.Sign(sk, msg, nil)
}

// Verify checks an ML-DSA-87 signature over msg against pk. Returns
// ErrBadSignature rather than a bare bool so callers in the fail-fast
// decode path can propagate a typed CryptoError.
func Verify(pk sign.PublicKey, msg, signature []byte) error {
	logger := logrus.WithFields(logrus.Fields{"function": "Verify", "package": "crypto", "msg_size": len(msg)})

	if len(signature) == 0 {
		return ErrBadSignature
	}
	if !sigScheme.Verify(pk, msg, signature, nil) {
		logger.Warn("signature verification failed")
		return ErrBadSignature
	}
	return nil
}
