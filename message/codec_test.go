package message

import (
	"testing"

	"github.com/dnamessenger/core/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateIdentity(t *testing.T) (string, *crypto.SignKeyPair, *crypto.KEMKeyPair) {
	t.Helper()
	signKeys, err := crypto.GenerateSignKeyPair()
	require.NoError(t, err)
	kemKeys, err := crypto.GenerateKEMKeyPair()
	require.NoError(t, err)
	pub, err := signKeys.MarshalPublic()
	require.NoError(t, err)
	return crypto.Fingerprint(pub), signKeys, kemKeys
}

func TestBuildDirectRoundTrip(t *testing.T) {
	senderFP, senderSign, _ := generateIdentity(t)
	recipientFP, _, recipientKEM := generateIdentity(t)

	envelope, err := BuildDirect(senderFP, senderSign, []DirectRecipient{
		{Fingerprint: recipientFP, KEMPublic: recipientKEM.Public},
	}, []byte("hello there"))
	require.NoError(t, err)

	decoded, err := Decode(envelope, senderSign.Public, recipientFP, recipientKEM.Private, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeDirect, decoded.Type)
	assert.Equal(t, senderFP, decoded.SenderFingerprint)
	assert.Equal(t, []byte("hello there"), decoded.Plaintext)
}

func TestBuildDirectWrongRecipientNotForMe(t *testing.T) {
	senderFP, senderSign, _ := generateIdentity(t)
	recipientFP, _, recipientKEM := generateIdentity(t)
	bystanderFP, _, bystanderKEM := generateIdentity(t)

	envelope, err := BuildDirect(senderFP, senderSign, []DirectRecipient{
		{Fingerprint: recipientFP, KEMPublic: recipientKEM.Public},
	}, []byte("for your eyes only"))
	require.NoError(t, err)

	_, err = Decode(envelope, senderSign.Public, bystanderFP, bystanderKEM.Private, nil)
	assert.ErrorIs(t, err, ErrNotForMe)
}

func TestBuildDirectTamperedSignatureFails(t *testing.T) {
	senderFP, senderSign, _ := generateIdentity(t)
	recipientFP, _, recipientKEM := generateIdentity(t)

	envelope, err := BuildDirect(senderFP, senderSign, []DirectRecipient{
		{Fingerprint: recipientFP, KEMPublic: recipientKEM.Public},
	}, []byte("payload"))
	require.NoError(t, err)

	tampered := append([]byte(nil), envelope...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = Decode(tampered, senderSign.Public, recipientFP, recipientKEM.Private, nil)
	assert.Error(t, err)
}

func TestBuildDirectRejectsTooManyRecipients(t *testing.T) {
	senderFP, senderSign, _ := generateIdentity(t)
	recipients := make([]DirectRecipient, 256)
	for i := range recipients {
		fp, _, kemKeys := generateIdentity(t)
		recipients[i] = DirectRecipient{Fingerprint: fp, KEMPublic: kemKeys.Public}
	}

	_, err := BuildDirect(senderFP, senderSign, recipients, []byte("x"))
	assert.Error(t, err)
}

type fakeGSKSource struct {
	groupID uuid.UUID
	version uint32
	key     [32]byte
}

func (f fakeGSKSource) Load(groupID uuid.UUID, version uint32) ([32]byte, bool) {
	if groupID == f.groupID && version == f.version {
		return f.key, true
	}
	return [32]byte{}, false
}

func TestBuildGroupRoundTrip(t *testing.T) {
	senderFP, senderSign, _ := generateIdentity(t)
	groupID := uuid.New()
	var gsk [32]byte
	copy(gsk[:], []byte("0123456789abcdef0123456789abcdef"))

	envelope, err := BuildGroup(senderFP, senderSign, groupID, 3, gsk, []byte("group message"))
	require.NoError(t, err)

	source := fakeGSKSource{groupID: groupID, version: 3, key: gsk}
	decoded, err := Decode(envelope, senderSign.Public, "", nil, source)
	require.NoError(t, err)
	assert.Equal(t, TypeGroup, decoded.Type)
	assert.Equal(t, groupID, decoded.GroupUUID)
	assert.Equal(t, uint32(3), decoded.GSKVersion)
	assert.Equal(t, []byte("group message"), decoded.Plaintext)
}

func TestBuildGroupUnknownGenerationFails(t *testing.T) {
	senderFP, senderSign, _ := generateIdentity(t)
	groupID := uuid.New()
	var gsk [32]byte

	envelope, err := BuildGroup(senderFP, senderSign, groupID, 1, gsk, []byte("msg"))
	require.NoError(t, err)

	_, err = Decode(envelope, senderSign.Public, "", nil, fakeGSKSource{})
	assert.ErrorIs(t, err, ErrGSKUnavailable)

	var gskErr *GSKUnavailableError
	require.ErrorAs(t, err, &gskErr)
	assert.Equal(t, groupID, gskErr.GroupID)
	assert.Equal(t, uint32(1), gskErr.Version)
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	_, err := Decode([]byte("too short"), nil, "", nil, nil)
	assert.Error(t, err)
}
