package dnamessenger

import (
	"testing"
	"time"

	"github.com/dnamessenger/core/config"
	"github.com/dnamessenger/core/crypto"
	"github.com/dnamessenger/core/identity"
	"github.com/dnamessenger/core/message"
	"github.com/dnamessenger/core/transport"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestNode(t *testing.T) *Node {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.ListenPort = 0

	n, err := Open(cfg, []byte("test-password"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if n.running {
			_ = n.Close()
		} else {
			_ = n.store.Close()
		}
	})
	return n
}

func TestOpenGeneratesAndPersistsIdentity(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()

	n1, err := Open(cfg, []byte("test-password"))
	require.NoError(t, err)
	fp := n1.Fingerprint()
	require.NoError(t, n1.store.Close())

	n2, err := Open(cfg, []byte("test-password"))
	require.NoError(t, err)
	defer n2.store.Close()

	assert.Equal(t, fp, n2.Fingerprint())
}

func TestCreateGroupIncludesSelfAsMember(t *testing.T) {
	n := openTestNode(t)

	g, err := n.CreateGroup("book club", "weekly chat", nil)
	require.NoError(t, err)
	assert.Contains(t, g.Members(), n.Fingerprint())
	assert.Equal(t, n.Fingerprint(), g.Owner())
	assert.Equal(t, uint32(0), g.GSKVersion())

	_, ok := n.gsk.Load(g.UUID(), 0)
	assert.True(t, ok, "gsk for generation 0 should be stored locally after creation")
}

func TestSendTextWithoutCachedContactFails(t *testing.T) {
	n := openTestNode(t)

	err := n.SendText("0000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000", "hello")
	assert.Error(t, err)
}

func TestAddContactCachesResolvedKeyBundle(t *testing.T) {
	n := openTestNode(t)

	peer, err := identity.New()
	require.NoError(t, err)
	signPub, kemPub, err := peer.PublicBundle()
	require.NoError(t, err)
	require.NoError(t, n.keys.Publish(peer.Fingerprint, signPub, kemPub, peer.SignKeys))

	contact, err := n.AddContact(peer.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, peer.Fingerprint, contact.Fingerprint)

	_, ok := n.contactStore.SignPublicKey(peer.Fingerprint)
	assert.True(t, ok, "resolved contact's signing key should be cached for frame attribution")
}

func TestAddContactWithPublishedPresencePopulatesRoutingTable(t *testing.T) {
	n := openTestNode(t)

	peer, err := identity.New()
	require.NoError(t, err)
	signPub, kemPub, err := peer.PublicBundle()
	require.NoError(t, err)
	require.NoError(t, n.keys.Publish(peer.Fingerprint, signPub, kemPub, peer.SignKeys))
	require.NoError(t, transport.PublishPresence(n.dhtClient, peer.Fingerprint, "127.0.0.1:5555", time.Now(), peer.SignKeys))

	require.Equal(t, 0, n.routingTable.GetTotalNodeCount())

	_, err = n.AddContact(peer.Fingerprint)
	require.NoError(t, err)

	assert.Equal(t, 1, n.routingTable.GetTotalNodeCount())
}

func TestHandleDecodedRoutesAckPayloadWithoutInvokingCallback(t *testing.T) {
	n := openTestNode(t)

	var called bool
	n.OnMessage(func(sender string, groupID uuid.UUID, plaintext []byte) {
		called = true
	})

	hash := crypto.SHA3_512([]byte("some envelope bytes"))
	n.handleDecoded("peer-fingerprint", &message.Decoded{
		SenderFingerprint: "peer-fingerprint",
		Plaintext:         buildAckPayload(hash),
	}, []byte("irrelevant frame"))

	assert.False(t, called, "an acknowledgment payload must never reach OnMessage")
}

func TestContactPresenceTreatsSelfAsAlwaysLive(t *testing.T) {
	n := openTestNode(t)
	presence := &contactPresence{n: n}

	assert.True(t, presence.IsLive(n.Fingerprint()))
	assert.False(t, presence.IsLive("unknown-fingerprint"))
}

func TestContactPresenceReflectsRecentSighting(t *testing.T) {
	n := openTestNode(t)

	peer, err := identity.New()
	require.NoError(t, err)
	signPub, kemPub, err := peer.PublicBundle()
	require.NoError(t, err)
	require.NoError(t, n.keys.Publish(peer.Fingerprint, signPub, kemPub, peer.SignKeys))
	_, err = n.AddContact(peer.Fingerprint)
	require.NoError(t, err)

	presence := &contactPresence{n: n}
	assert.False(t, presence.IsLive(peer.Fingerprint), "never-seen contact is not live")

	n.markSeen(peer.Fingerprint)
	assert.True(t, presence.IsLive(peer.Fingerprint))
}

func TestContainsFingerprint(t *testing.T) {
	list := []string{"a", "b", "c"}
	assert.True(t, containsFingerprint(list, "b"))
	assert.False(t, containsFingerprint(list, "z"))
}

func TestOnMessageCallbackReceivesDecodedPlaintext(t *testing.T) {
	n := openTestNode(t)

	var gotSender string
	var gotGroup uuid.UUID
	var gotText string
	n.OnMessage(func(sender string, groupID uuid.UUID, plaintext []byte) {
		gotSender = sender
		gotGroup = groupID
		gotText = string(plaintext)
	})

	n.deliver("peer-fingerprint", &message.Decoded{
		SenderFingerprint: "peer-fingerprint",
		Plaintext:         []byte("hello"),
	})

	assert.Equal(t, "peer-fingerprint", gotSender)
	assert.Equal(t, uuid.UUID{}, gotGroup)
	assert.Equal(t, "hello", gotText)
}
