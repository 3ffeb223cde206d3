package queue

import (
	"testing"

	"github.com/cloudflare/circl/sign"
	"github.com/dnamessenger/core/crypto"
	"github.com/dnamessenger/core/dht"
	"github.com/dnamessenger/core/message"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type identity struct {
	fingerprint string
	signKeys    *crypto.SignKeyPair
	kemKeys     *crypto.KEMKeyPair
}

func newTestIdentity(t *testing.T) identity {
	t.Helper()
	signKeys, err := crypto.GenerateSignKeyPair()
	require.NoError(t, err)
	kemKeys, err := crypto.GenerateKEMKeyPair()
	require.NoError(t, err)
	pub, err := signKeys.MarshalPublic()
	require.NoError(t, err)
	return identity{fingerprint: crypto.Fingerprint(pub), signKeys: signKeys, kemKeys: kemKeys}
}

func resolverFor(identities map[string]identity) KeyResolver {
	return func(fingerprint string) (sign.PublicKey, error) {
		id, ok := identities[fingerprint]
		if !ok {
			return nil, assert.AnError
		}
		return id.signKeys.Public, nil
	}
}

func TestPollContactsFindsMessageAddressedToSelf(t *testing.T) {
	client := dht.NewClient()
	self := newTestIdentity(t)
	contact := newTestIdentity(t)

	envelope, err := message.BuildDirect(contact.fingerprint, contact.signKeys, []message.DirectRecipient{
		{Fingerprint: self.fingerprint, KEMPublic: self.kemKeys.Public},
	}, []byte("hi from contact"))
	require.NoError(t, err)
	require.NoError(t, Append(client, contact.fingerprint, envelope, contact.signKeys))

	identities := map[string]identity{contact.fingerprint: contact}
	results := PollContacts(client, []string{contact.fingerprint}, self.fingerprint, self.kemKeys.Private, resolverFor(identities), nil, nil)

	require.Len(t, results, 1)
	assert.Equal(t, contact.fingerprint, results[0].SenderFingerprint)
	assert.Equal(t, []byte("hi from contact"), results[0].Decoded.Plaintext)
}

func TestPollContactsSkipsMessagesForOthers(t *testing.T) {
	client := dht.NewClient()
	self := newTestIdentity(t)
	other := newTestIdentity(t)
	contact := newTestIdentity(t)

	envelope, err := message.BuildDirect(contact.fingerprint, contact.signKeys, []message.DirectRecipient{
		{Fingerprint: other.fingerprint, KEMPublic: other.kemKeys.Public},
	}, []byte("not for self"))
	require.NoError(t, err)
	require.NoError(t, Append(client, contact.fingerprint, envelope, contact.signKeys))

	identities := map[string]identity{contact.fingerprint: contact}
	results := PollContacts(client, []string{contact.fingerprint}, self.fingerprint, self.kemKeys.Private, resolverFor(identities), nil, nil)

	assert.Empty(t, results)
}

func TestPollContactsHandlesEmptyAndMissingOutboxes(t *testing.T) {
	client := dht.NewClient()
	self := newTestIdentity(t)
	quietContact := newTestIdentity(t)

	identities := map[string]identity{quietContact.fingerprint: quietContact}
	results := PollContacts(client, []string{quietContact.fingerprint}, self.fingerprint, self.kemKeys.Private, resolverFor(identities), nil, nil)

	assert.Empty(t, results)
}

func TestPollContactsAggregatesAcrossMultipleContacts(t *testing.T) {
	client := dht.NewClient()
	self := newTestIdentity(t)
	contactA := newTestIdentity(t)
	contactB := newTestIdentity(t)

	envelopeA, err := message.BuildDirect(contactA.fingerprint, contactA.signKeys, []message.DirectRecipient{
		{Fingerprint: self.fingerprint, KEMPublic: self.kemKeys.Public},
	}, []byte("from a"))
	require.NoError(t, err)
	require.NoError(t, Append(client, contactA.fingerprint, envelopeA, contactA.signKeys))

	envelopeB, err := message.BuildDirect(contactB.fingerprint, contactB.signKeys, []message.DirectRecipient{
		{Fingerprint: self.fingerprint, KEMPublic: self.kemKeys.Public},
	}, []byte("from b"))
	require.NoError(t, err)
	require.NoError(t, Append(client, contactB.fingerprint, envelopeB, contactB.signKeys))

	identities := map[string]identity{contactA.fingerprint: contactA, contactB.fingerprint: contactB}
	results := PollContacts(client, []string{contactA.fingerprint, contactB.fingerprint}, self.fingerprint, self.kemKeys.Private, resolverFor(identities), nil, nil)

	require.Len(t, results, 2)
}

// lateGSKSource simulates a group key arriving only after refreshGSK is
// invoked, so Decode's first attempt misses and the retry succeeds.
type lateGSKSource struct {
	groupID   uuid.UUID
	version   uint32
	gsk       [32]byte
	available bool
}

func (s *lateGSKSource) Load(groupID uuid.UUID, version uint32) ([32]byte, bool) {
	if s.available && groupID == s.groupID && version == s.version {
		return s.gsk, true
	}
	return [32]byte{}, false
}

func TestPollContactsRetriesDecodeAfterGSKRefresh(t *testing.T) {
	client := dht.NewClient()
	self := newTestIdentity(t)
	contact := newTestIdentity(t)
	groupID := uuid.New()
	var gsk [32]byte
	copy(gsk[:], []byte("group-symmetric-key-bytes-here!"))

	envelope, err := message.BuildGroup(contact.fingerprint, contact.signKeys, groupID, 2, gsk, []byte("group msg"))
	require.NoError(t, err)
	require.NoError(t, Append(client, contact.fingerprint, envelope, contact.signKeys))

	source := &lateGSKSource{groupID: groupID, version: 2, gsk: gsk}
	refreshCalled := false
	refresh := func(id uuid.UUID) bool {
		refreshCalled = true
		assert.Equal(t, groupID, id)
		source.available = true
		return true
	}

	identities := map[string]identity{contact.fingerprint: contact}
	results := PollContacts(client, []string{contact.fingerprint}, self.fingerprint, self.kemKeys.Private, resolverFor(identities), source, refresh)

	assert.True(t, refreshCalled)
	require.Len(t, results, 1)
	assert.Equal(t, []byte("group msg"), results[0].Decoded.Plaintext)
}
