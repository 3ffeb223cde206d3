package message

import (
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/sign"
	"github.com/dnamessenger/core/crypto"
	"github.com/google/uuid"
)

var magic = [8]byte{'P', 'Q', 'S', 'I', 'G', 'E', 'N', 'C'}

const wireVersion = 1

// Type distinguishes a direct (per-recipient KEM-wrapped key) envelope
// from a group envelope encrypted under a shared GSK.
type Type uint8

const (
	TypeDirect Type = 0x00
	TypeGroup  Type = 0x01
)

const (
	fingerprintSize  = 64
	kemCiphertextLen = 1568
	wrappedKeyLen    = 40
	recipientLen     = fingerprintSize + kemCiphertextLen + wrappedKeyLen
	headerLen        = 8 + 1 + 1 + 1 + 1 + 4 + 4
	groupFieldsLen   = 16 + 4
)

// ErrNotForMe indicates a direct envelope's recipient table does not
// contain the decoding identity's fingerprint.
var ErrNotForMe = errors.New("message: envelope is not addressed to this identity")

// ErrGSKUnavailable indicates a group envelope references a GSK
// generation not present in gskSource; callers should trigger a fetch and
// retry Decode once. Decode returns this wrapped in a *GSKUnavailableError
// so callers can recover which group and generation triggered it.
var ErrGSKUnavailable = errors.New("message: gsk generation not available locally")

// GSKUnavailableError carries the group and generation a failed decode
// needs fetched before a retry can succeed. errors.Is against
// ErrGSKUnavailable still matches.
type GSKUnavailableError struct {
	GroupID uuid.UUID
	Version uint32
}

func (e *GSKUnavailableError) Error() string {
	return fmt.Sprintf("message: gsk generation %d not available locally for group %s", e.Version, e.GroupID)
}

func (e *GSKUnavailableError) Unwrap() error {
	return ErrGSKUnavailable
}

// ErrSenderMismatch indicates the plaintext-embedded sender fingerprint
// does not match the public key the envelope's signature verified
// against — a defense against signature-stripping mixups.
var ErrSenderMismatch = errors.New("message: embedded sender fingerprint does not match signer")

// DirectRecipient is one recipient's KEM public key for BuildDirect.
type DirectRecipient struct {
	Fingerprint string
	KEMPublic   kem.PublicKey
}

// GSKSource resolves a group's symmetric key by generation.
type GSKSource interface {
	Load(groupID uuid.UUID, version uint32) ([32]byte, bool)
}

// Decoded is a successfully verified and decrypted envelope.
type Decoded struct {
	Type              Type
	SenderFingerprint string
	Timestamp         time.Time
	Plaintext         []byte
	GroupUUID         uuid.UUID // zero for direct messages
	GSKVersion        uint32
}

func fingerprintBytes(fp string) ([fingerprintSize]byte, error) {
	var out [fingerprintSize]byte
	raw, err := hex.DecodeString(fp)
	if err != nil || len(raw) != fingerprintSize {
		return out, fmt.Errorf("message: fingerprint %q does not decode to %d bytes", fp, fingerprintSize)
	}
	copy(out[:], raw)
	return out, nil
}

func buildPayload(senderFingerprint string, now time.Time, plaintext []byte) ([]byte, error) {
	fpBin, err := fingerprintBytes(senderFingerprint)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, fingerprintSize+8+len(plaintext))
	copy(payload[:fingerprintSize], fpBin[:])
	binary.BigEndian.PutUint64(payload[fingerprintSize:fingerprintSize+8], uint64(now.Unix()))
	copy(payload[fingerprintSize+8:], plaintext)
	return payload, nil
}

// BuildDirect encrypts plaintext for every recipient under a fresh
// data-encryption key wrapped per-recipient, and signs the result with
// senderSignKey.
func BuildDirect(senderFingerprint string, senderSignKey *crypto.SignKeyPair, recipients []DirectRecipient, plaintext []byte) ([]byte, error) {
	if len(recipients) == 0 || len(recipients) > 255 {
		return nil, fmt.Errorf("message: recipient_count %d out of range", len(recipients))
	}

	dek, err := crypto.RandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("message: generate dek: %w", err)
	}
	payload, err := buildPayload(senderFingerprint, time.Now(), plaintext)
	if err != nil {
		return nil, err
	}
	nonce, err := crypto.RandomBytes(crypto.AEADNonceSize)
	if err != nil {
		return nil, fmt.Errorf("message: generate nonce: %w", err)
	}

	encryptedSize := uint32(crypto.AEADNonceSize + len(payload) + crypto.AEADTagSize)
	header := make([]byte, headerLen)
	copy(header[0:8], magic[:])
	header[8] = wireVersion
	header[9] = 0 // enc_key_type: reserved for future algorithm agility
	header[10] = uint8(len(recipients))
	header[11] = uint8(TypeDirect)
	binary.BigEndian.PutUint32(header[12:16], encryptedSize)
	binary.BigEndian.PutUint32(header[16:20], uint32(crypto.SignatureSize()))

	table := make([]byte, len(recipients)*recipientLen)
	for i, r := range recipients {
		fpBin, err := fingerprintBytes(r.Fingerprint)
		if err != nil {
			return nil, err
		}
		ct, kek, err := crypto.KEMEncap(r.KEMPublic)
		if err != nil {
			return nil, fmt.Errorf("message: encapsulate to %s: %w", r.Fingerprint, err)
		}
		wrapped, err := crypto.KeyWrap(kek, dek)
		if err != nil {
			return nil, fmt.Errorf("message: wrap dek for %s: %w", r.Fingerprint, err)
		}
		off := i * recipientLen
		copy(table[off:off+fingerprintSize], fpBin[:])
		copy(table[off+fingerprintSize:off+fingerprintSize+kemCiphertextLen], ct)
		copy(table[off+fingerprintSize+kemCiphertextLen:off+recipientLen], wrapped)
	}

	aad := append(append([]byte(nil), header...), table...)
	ciphertext, err := crypto.AEADSeal(dek, nonce, aad, payload)
	if err != nil {
		return nil, fmt.Errorf("message: seal payload: %w", err)
	}

	unsigned := make([]byte, 0, len(aad)+len(nonce)+len(ciphertext))
	unsigned = append(unsigned, aad...)
	unsigned = append(unsigned, nonce...)
	unsigned = append(unsigned, ciphertext...)

	sig := crypto.Sign(senderSignKey.Private, unsigned)
	return append(unsigned, sig...), nil
}

// BuildGroup encrypts plaintext under the group's GSK and signs the
// result with senderSignKey. Overhead is constant regardless of group
// size: there is no per-recipient table.
func BuildGroup(senderFingerprint string, senderSignKey *crypto.SignKeyPair, groupID uuid.UUID, gskVersion uint32, gsk [32]byte, plaintext []byte) ([]byte, error) {
	payload, err := buildPayload(senderFingerprint, time.Now(), plaintext)
	if err != nil {
		return nil, err
	}
	nonce, err := crypto.RandomBytes(crypto.AEADNonceSize)
	if err != nil {
		return nil, fmt.Errorf("message: generate nonce: %w", err)
	}

	encryptedSize := uint32(crypto.AEADNonceSize + len(payload) + crypto.AEADTagSize)
	header := make([]byte, headerLen)
	copy(header[0:8], magic[:])
	header[8] = wireVersion
	header[9] = 0
	header[10] = 0
	header[11] = uint8(TypeGroup)
	binary.BigEndian.PutUint32(header[12:16], encryptedSize)
	binary.BigEndian.PutUint32(header[16:20], uint32(crypto.SignatureSize()))

	groupFields := make([]byte, groupFieldsLen)
	copy(groupFields[0:16], groupID[:])
	binary.BigEndian.PutUint32(groupFields[16:20], gskVersion)

	aad := append(append([]byte(nil), header...), groupFields...)
	ciphertext, err := crypto.AEADSeal(gsk[:], nonce, aad, payload)
	if err != nil {
		return nil, fmt.Errorf("message: seal payload: %w", err)
	}

	unsigned := make([]byte, 0, len(aad)+len(nonce)+len(ciphertext))
	unsigned = append(unsigned, aad...)
	unsigned = append(unsigned, nonce...)
	unsigned = append(unsigned, ciphertext...)

	sig := crypto.Sign(senderSignKey.Private, unsigned)
	return append(unsigned, sig...), nil
}

// Decode verifies data's signature against signerPub before touching any
// encrypted content, then decrypts it for selfFingerprint.
func Decode(data []byte, signerPub sign.PublicKey, selfFingerprint string, selfKEMPriv kem.PrivateKey, gskSource GSKSource) (*Decoded, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("message: envelope too short for header: %d bytes", len(data))
	}
	if subtle.ConstantTimeCompare(data[0:8], magic[:]) != 1 {
		return nil, fmt.Errorf("message: bad magic")
	}
	if data[8] != wireVersion {
		return nil, fmt.Errorf("message: unsupported version %d", data[8])
	}
	recipientCount := int(data[10])
	msgType := Type(data[11])
	encryptedSize := binary.BigEndian.Uint32(data[12:16])
	signatureSize := binary.BigEndian.Uint32(data[16:20])

	var fieldsLen int
	switch msgType {
	case TypeDirect:
		if recipientCount == 0 {
			return nil, fmt.Errorf("message: direct envelope declares zero recipients")
		}
		fieldsLen = recipientCount * recipientLen
	case TypeGroup:
		fieldsLen = groupFieldsLen
	default:
		return nil, fmt.Errorf("message: unknown message_type %d", msgType)
	}

	expected := headerLen + fieldsLen + int(encryptedSize) + int(signatureSize)
	if len(data) != expected {
		return nil, fmt.Errorf("message: declared size mismatch: have %d, want %d", len(data), expected)
	}

	unsignedEnd := headerLen + fieldsLen + int(encryptedSize)
	unsigned := data[:unsignedEnd]
	sig := data[unsignedEnd:]
	if err := crypto.Verify(signerPub, unsigned, sig); err != nil {
		return nil, fmt.Errorf("message: %w", err)
	}

	aad := data[:headerLen+fieldsLen]
	aeadBlock := data[headerLen+fieldsLen : unsignedEnd]
	if len(aeadBlock) < crypto.AEADNonceSize+crypto.AEADTagSize {
		return nil, fmt.Errorf("message: aead block too short")
	}
	nonce := aeadBlock[:crypto.AEADNonceSize]
	ciphertext := aeadBlock[crypto.AEADNonceSize:]

	switch msgType {
	case TypeDirect:
		return decodeDirect(data[headerLen:headerLen+fieldsLen], recipientCount, aad, nonce, ciphertext, signerPub, selfFingerprint, selfKEMPriv)
	default:
		return decodeGroup(data[headerLen:headerLen+fieldsLen], aad, nonce, ciphertext, signerPub, gskSource)
	}
}

func decodeDirect(table []byte, recipientCount int, aad, nonce, ciphertext []byte, signerPub sign.PublicKey, selfFingerprint string, selfKEMPriv kem.PrivateKey) (*Decoded, error) {
	selfBin, err := fingerprintBytes(selfFingerprint)
	if err != nil {
		return nil, err
	}

	found := false
	var entryCT, entryWrapped []byte
	for i := 0; i < recipientCount; i++ {
		off := i * recipientLen
		fpBin := table[off : off+fingerprintSize]
		if subtle.ConstantTimeCompare(fpBin, selfBin[:]) == 1 {
			found = true
			entryCT = table[off+fingerprintSize : off+fingerprintSize+kemCiphertextLen]
			entryWrapped = table[off+fingerprintSize+kemCiphertextLen : off+recipientLen]
		}
	}
	if !found {
		return nil, ErrNotForMe
	}

	kek, err := crypto.KEMDecap(selfKEMPriv, entryCT)
	if err != nil {
		return nil, fmt.Errorf("message: decapsulate dek: %w", err)
	}
	dek, err := crypto.KeyUnwrap(kek, entryWrapped)
	if err != nil {
		return nil, fmt.Errorf("message: unwrap dek: %w", err)
	}
	payload, err := crypto.AEADOpen(dek, nonce, aad, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("message: open payload: %w", err)
	}

	return finishDecode(TypeDirect, payload, signerPub, uuid.UUID{}, 0)
}

func decodeGroup(fields []byte, aad, nonce, ciphertext []byte, signerPub sign.PublicKey, gskSource GSKSource) (*Decoded, error) {
	groupID, err := uuid.FromBytes(fields[0:16])
	if err != nil {
		return nil, fmt.Errorf("message: bad group uuid: %w", err)
	}
	gskVersion := binary.BigEndian.Uint32(fields[16:20])

	gsk, ok := gskSource.Load(groupID, gskVersion)
	if !ok {
		return nil, &GSKUnavailableError{GroupID: groupID, Version: gskVersion}
	}

	payload, err := crypto.AEADOpen(gsk[:], nonce, aad, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("message: open payload: %w", err)
	}

	return finishDecode(TypeGroup, payload, signerPub, groupID, gskVersion)
}

func finishDecode(t Type, payload []byte, signerPub sign.PublicKey, groupID uuid.UUID, gskVersion uint32) (*Decoded, error) {
	if len(payload) < fingerprintSize+8 {
		return nil, fmt.Errorf("message: payload too short: %d bytes", len(payload))
	}
	senderFingerprint := hex.EncodeToString(payload[:fingerprintSize])
	timestamp := time.Unix(int64(binary.BigEndian.Uint64(payload[fingerprintSize:fingerprintSize+8])), 0)
	plaintext := append([]byte(nil), payload[fingerprintSize+8:]...)

	signerPubBin, err := crypto.MarshalSignPublicKey(signerPub)
	if err != nil {
		return nil, fmt.Errorf("message: marshal signer public key: %w", err)
	}
	if senderFingerprint != crypto.Fingerprint(signerPubBin) {
		return nil, ErrSenderMismatch
	}

	return &Decoded{
		Type:              t,
		SenderFingerprint: senderFingerprint,
		Timestamp:         timestamp,
		Plaintext:         plaintext,
		GroupUUID:         groupID,
		GSKVersion:        gskVersion,
	}, nil
}
