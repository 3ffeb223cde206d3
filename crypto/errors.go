package crypto

import "errors"

// Typed failures for the crypto façade. Callers branch on these
// with errors.Is rather than string matching; none of them are retried
// silently by higher layers.
var (
	// ErrBadCiphertext indicates a KEM ciphertext or AEAD ciphertext had an
	// invalid length or structure before any cryptographic check ran.
	ErrBadCiphertext = errors.New("crypto: bad ciphertext")
	// ErrBadSignature indicates signature verification failed.
	ErrBadSignature = errors.New("crypto: bad signature")
	// ErrBadTag indicates an AEAD authentication tag or key-wrap integrity
	// check failed.
	ErrBadTag = errors.New("crypto: bad tag")
	// ErrBadLength indicates an input buffer was the wrong size for the
	// operation requested (e.g. a non-32-byte GSK passed to KeyWrap).
	ErrBadLength = errors.New("crypto: bad length")
)
