package group

import (
	"testing"

	"github.com/cloudflare/circl/sign"
	"github.com/dnamessenger/core/crypto"
	"github.com/dnamessenger/core/dht"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoveryPollOneInstallsNewGeneration(t *testing.T) {
	creator := testFingerprint(1)
	members, pubKeys, privKeys := buildMembers(t, 1, 2)
	g, err := New("book club", "weekly", creator, members)
	require.NoError(t, err)

	client := dht.NewClient()
	ownerGSK := NewGSKManager(nil)
	signer, err := crypto.GenerateSignKeyPair()
	require.NoError(t, err)
	require.NoError(t, CreateAndPublish(client, ownerGSK, g, pubKeys, signer))
	preRotation := g.ToMetadata()
	require.NoError(t, Rotate(client, ownerGSK, g, pubKeys, signer))

	memberFP := members[1]
	memberGSK := NewGSKManager(nil)
	d := NewDiscovery(client, memberGSK, func(fp string) (sign.PublicKey, error) {
		return signer.Public, nil
	}, memberFP, privKeys[memberFP].Private)

	// the member's local copy hasn't seen the rotation yet, but shares the group's uuid
	tracked, err := FromMetadata(preRotation)
	require.NoError(t, err)
	d.Track(tracked)

	d.pollOne(tracked)

	assert.Equal(t, uint32(1), tracked.GSKVersion(), "poll should pick up the rotated generation")
	_, ok := memberGSK.Load(g.UUID(), 1)
	assert.True(t, ok, "member should have recovered generation 1's gsk from the ikp")
}

func TestDiscoveryPollOneSkipsUnchangedGeneration(t *testing.T) {
	creator := testFingerprint(1)
	members, pubKeys, _ := buildMembers(t, 1)
	g, err := New("book club", "weekly", creator, members)
	require.NoError(t, err)

	client := dht.NewClient()
	signer, err := crypto.GenerateSignKeyPair()
	require.NoError(t, err)
	require.NoError(t, CreateAndPublish(client, NewGSKManager(nil), g, pubKeys, signer))

	// simulate the owner having already advanced past generation 0 locally
	g.BumpGSKVersion(5)

	d := NewDiscovery(client, NewGSKManager(nil), func(fp string) (sign.PublicKey, error) {
		return signer.Public, nil
	}, creator, nil)

	d.pollOne(g)
	assert.Equal(t, uint32(5), g.GSKVersion(), "already-current generation must not regress or refetch")
}

func TestDiscoveryTrackAndUntrack(t *testing.T) {
	d := NewDiscovery(dht.NewClient(), NewGSKManager(nil), nil, testFingerprint(1), nil)
	g, err := New("g", "d", testFingerprint(1), []string{testFingerprint(1)})
	require.NoError(t, err)

	d.Track(g)
	d.mu.RLock()
	_, tracked := d.groups[g.UUID()]
	d.mu.RUnlock()
	assert.True(t, tracked)

	d.Untrack(g.UUID())
	d.mu.RLock()
	_, tracked = d.groups[g.UUID()]
	d.mu.RUnlock()
	assert.False(t, tracked)
}
