package crypto

import (
	"crypto/aes"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
)

// defaultIV is the RFC 3394 default integrity check value.
var defaultIV = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// KeyWrap wraps a key under kek using RFC 3394 AES key wrap. key must be a
// multiple of 8 bytes and at least 16; for the 32-byte GSKs and DEKs used
// throughout DNA Messenger, the wrapped output is always 40 bytes
// (the wrapped_key field in every wire format that uses it).
//
// No third-party Go library in the corpus exposes raw RFC 3394 key wrap
// (see DESIGN.md); this implements the algorithm directly atop
// crypto/aes, the same primitive the rest of this package uses for GCM.
func KeyWrap(kek, key []byte) ([]byte, error) {
	if len(kek) != 32 {
		return nil, ErrBadLength
	}
	if len(key) < 16 || len(key)%8 != 0 {
		return nil, ErrBadLength
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("crypto: keywrap cipher: %w", err)
	}

	n := len(key) / 8
	r := make([][8]byte, n)
	for i := 0; i < n; i++ {
		copy(r[i][:], key[i*8:(i+1)*8])
	}

	var a [8]byte
	copy(a[:], defaultIV[:])

	buf := make([]byte, 16)
	for j := 0; j <= 5; j++ {
		for i := 1; i <= n; i++ {
			copy(buf[:8], a[:])
			copy(buf[8:], r[i-1][:])
			block.Encrypt(buf, buf)

			t := uint64(n*j + i)
			var tBytes [8]byte
			binary.BigEndian.PutUint64(tBytes[:], t)
			for k := range a {
				a[k] = buf[k] ^ tBytes[k]
			}
			copy(r[i-1][:], buf[8:])
		}
	}

	out := make([]byte, 8+len(key))
	copy(out[:8], a[:])
	for i := 0; i < n; i++ {
		copy(out[8+i*8:8+(i+1)*8], r[i][:])
	}
	return out, nil
}

// KeyUnwrap reverses KeyWrap, returning ErrBadTag if the integrity check
// value does not match the RFC 3394 default IV (the "MAC check inside
// keyunwrap").
func KeyUnwrap(kek, wrapped []byte) ([]byte, error) {
	if len(kek) != 32 {
		return nil, ErrBadLength
	}
	if len(wrapped) < 24 || len(wrapped)%8 != 0 {
		return nil, ErrBadLength
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("crypto: keyunwrap cipher: %w", err)
	}

	n := len(wrapped)/8 - 1
	var a [8]byte
	copy(a[:], wrapped[:8])

	r := make([][8]byte, n)
	for i := 0; i < n; i++ {
		copy(r[i][:], wrapped[8+i*8:8+(i+1)*8])
	}

	buf := make([]byte, 16)
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			t := uint64(n*j + i)
			var tBytes [8]byte
			binary.BigEndian.PutUint64(tBytes[:], t)

			var xored [8]byte
			for k := range a {
				xored[k] = a[k] ^ tBytes[k]
			}

			copy(buf[:8], xored[:])
			copy(buf[8:], r[i-1][:])
			block.Decrypt(buf, buf)

			copy(a[:], buf[:8])
			copy(r[i-1][:], buf[8:])
		}
	}

	if subtle.ConstantTimeCompare(a[:], defaultIV[:]) != 1 {
		return nil, ErrBadTag
	}

	out := make([]byte, n*8)
	for i := 0; i < n; i++ {
		copy(out[i*8:(i+1)*8], r[i][:])
	}
	return out, nil
}
