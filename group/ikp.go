package group

import (
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/sign"
	"github.com/dnamessenger/core/crypto"
	"github.com/google/uuid"
)

const (
	fingerprintBinarySize = 64
	memberEntrySize       = fingerprintBinarySize + 1568 + 40 // fingerprint || kem_ciphertext || wrapped_key
	headerSize            = 37 + 4 + 1                        // group_uuid string+NUL || version || member_count
)

// MemberEntry is one recipient's slot in an Initial Key Packet: the GSK
// wrapped under a KEK that only this member's KEM private key can
// recover.
type MemberEntry struct {
	Fingerprint   string
	KEMCiphertext []byte
	WrappedKey    []byte
}

// IKP is the Initial Key Packet distributing one GSK generation to every
// current group member.
type IKP struct {
	GroupUUID uuid.UUID
	Version   uint32
	Members   []MemberEntry
	SigType   uint8
	Signature []byte
}

func fingerprintToBinary(fp string) ([fingerprintBinarySize]byte, error) {
	var out [fingerprintBinarySize]byte
	raw, err := hex.DecodeString(fp)
	if err != nil || len(raw) != fingerprintBinarySize {
		return out, fmt.Errorf("group: fingerprint %q does not decode to %d bytes", fp, fingerprintBinarySize)
	}
	copy(out[:], raw)
	return out, nil
}

// BuildIKP wraps gsk for every member, encapsulating a fresh KEM shared
// secret to each member's public key and using it as the key-wrap KEK,
// then signs the resulting packet with the owner's signing key.
func BuildIKP(groupID uuid.UUID, version uint32, members []string, memberKEMKeys map[string]kem.PublicKey, gsk [32]byte, signer *crypto.SignKeyPair) (*IKP, error) {
	entries := make([]MemberEntry, 0, len(members))
	for _, fp := range members {
		pk, ok := memberKEMKeys[fp]
		if !ok {
			return nil, fmt.Errorf("group: no KEM public key cached for member %s", fp)
		}
		ct, kek, err := crypto.KEMEncap(pk)
		if err != nil {
			return nil, fmt.Errorf("group: encapsulate to %s: %w", fp, err)
		}
		wrapped, err := crypto.KeyWrap(kek, gsk[:])
		if err != nil {
			return nil, fmt.Errorf("group: wrap gsk for %s: %w", fp, err)
		}
		entries = append(entries, MemberEntry{Fingerprint: fp, KEMCiphertext: ct, WrappedKey: wrapped})
	}

	ikp := &IKP{GroupUUID: groupID, Version: version, Members: entries, SigType: 0}
	body, err := ikp.encodeBody()
	if err != nil {
		return nil, err
	}
	ikp.Signature = crypto.Sign(signer.Private, body)
	return ikp, nil
}

// encodeBody serializes header and member entries, excluding the trailer,
// so the same bytes can be built for signing and for final encoding.
func (p *IKP) encodeBody() ([]byte, error) {
	uuidStr := p.GroupUUID.String()
	if len(uuidStr) != 36 {
		return nil, fmt.Errorf("group: unexpected uuid string length %d", len(uuidStr))
	}
	if len(p.Members) == 0 || len(p.Members) > 255 {
		return nil, fmt.Errorf("group: member_count %d out of range", len(p.Members))
	}

	buf := make([]byte, headerSize+len(p.Members)*memberEntrySize)
	copy(buf[0:36], uuidStr)
	buf[36] = 0
	binary.BigEndian.PutUint32(buf[37:41], p.Version)
	buf[41] = uint8(len(p.Members))

	offset := headerSize
	for _, m := range p.Members {
		fpBin, err := fingerprintToBinary(m.Fingerprint)
		if err != nil {
			return nil, err
		}
		if len(m.KEMCiphertext) != 1568 {
			return nil, fmt.Errorf("group: member %s kem ciphertext is %d bytes, want 1568", m.Fingerprint, len(m.KEMCiphertext))
		}
		if len(m.WrappedKey) != 40 {
			return nil, fmt.Errorf("group: member %s wrapped key is %d bytes, want 40", m.Fingerprint, len(m.WrappedKey))
		}
		copy(buf[offset:offset+64], fpBin[:])
		copy(buf[offset+64:offset+64+1568], m.KEMCiphertext)
		copy(buf[offset+64+1568:offset+memberEntrySize], m.WrappedKey)
		offset += memberEntrySize
	}
	return buf, nil
}

// Encode serializes the full IKP: header, member entries, and trailing
// signature.
func (p *IKP) Encode() ([]byte, error) {
	body, err := p.encodeBody()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(body)+1+2+len(p.Signature))
	copy(out, body)
	off := len(body)
	out[off] = p.SigType
	binary.BigEndian.PutUint16(out[off+1:off+3], uint16(len(p.Signature)))
	copy(out[off+3:], p.Signature)
	return out, nil
}

// ParseIKP decodes the wire format without verifying the signature.
func ParseIKP(data []byte) (*IKP, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("group: ikp too short for header: %d bytes", len(data))
	}
	if data[36] != 0 {
		return nil, fmt.Errorf("group: ikp uuid field missing NUL terminator")
	}
	groupID, err := uuid.Parse(string(data[0:36]))
	if err != nil {
		return nil, fmt.Errorf("group: ikp bad uuid: %w", err)
	}
	version := binary.BigEndian.Uint32(data[37:41])
	memberCount := int(data[41])
	if memberCount == 0 {
		return nil, fmt.Errorf("group: ikp member_count is zero")
	}

	expected := headerSize + memberCount*memberEntrySize + 1 + 2
	if len(data) < expected {
		return nil, fmt.Errorf("group: ikp declared size mismatch: have %d, need at least %d", len(data), expected)
	}

	members := make([]MemberEntry, 0, memberCount)
	offset := headerSize
	for i := 0; i < memberCount; i++ {
		fpBin := data[offset : offset+64]
		ct := append([]byte(nil), data[offset+64:offset+64+1568]...)
		wrapped := append([]byte(nil), data[offset+64+1568:offset+memberEntrySize]...)
		members = append(members, MemberEntry{
			Fingerprint:   hex.EncodeToString(fpBin),
			KEMCiphertext: ct,
			WrappedKey:    wrapped,
		})
		offset += memberEntrySize
	}

	sigType := data[offset]
	sigLen := int(binary.BigEndian.Uint16(data[offset+1 : offset+3]))
	offset += 3
	if len(data) < offset+sigLen {
		return nil, fmt.Errorf("group: ikp signature length mismatch: declared %d, remaining %d", sigLen, len(data)-offset)
	}

	return &IKP{
		GroupUUID: groupID,
		Version:   version,
		Members:   members,
		SigType:   sigType,
		Signature: append([]byte(nil), data[offset:offset+sigLen]...),
	}, nil
}

// Verify checks the IKP's signature against ownerSignPub, returning the
// error directly from crypto.Verify on mismatch.
func (p *IKP) Verify(ownerSignPub sign.PublicKey) error {
	body, err := p.encodeBody()
	if err != nil {
		return err
	}
	return crypto.Verify(ownerSignPub, body, p.Signature)
}

// FindMember returns this identity's entry in the packet, scanning every
// entry with a constant-time comparison so the match position leaks
// nothing about which member is local.
func (p *IKP) FindMember(fingerprint string) (MemberEntry, bool) {
	target, err := hex.DecodeString(fingerprint)
	if err != nil {
		return MemberEntry{}, false
	}
	found := false
	var match MemberEntry
	for _, m := range p.Members {
		candidate, err := hex.DecodeString(m.Fingerprint)
		if err != nil || len(candidate) != len(target) {
			continue
		}
		if subtle.ConstantTimeCompare(candidate, target) == 1 {
			found = true
			match = m
		}
	}
	return match, found
}

// RecoverGSK decapsulates entry's KEM ciphertext with sk to derive the
// KEK, then unwraps the GSK. Returns crypto.ErrBadTag if the wrapped key
// fails its integrity check (wrong KEM key pair, or packet corruption).
func RecoverGSK(entry MemberEntry, sk kem.PrivateKey) ([32]byte, error) {
	var gsk [32]byte
	kek, err := crypto.KEMDecap(sk, entry.KEMCiphertext)
	if err != nil {
		return gsk, fmt.Errorf("group: decapsulate gsk entry: %w", err)
	}
	raw, err := crypto.KeyUnwrap(kek, entry.WrappedKey)
	if err != nil {
		return gsk, fmt.Errorf("group: unwrap gsk: %w", err)
	}
	if len(raw) != 32 {
		return gsk, fmt.Errorf("group: unwrapped gsk has length %d, want 32", len(raw))
	}
	copy(gsk[:], raw)
	return gsk, nil
}
