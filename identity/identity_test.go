package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeneratesDistinctIdentities(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)

	assert.NotEmpty(t, a.Fingerprint)
	assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
	assert.NotNil(t, a.SignKeys)
	assert.NotNil(t, a.KEMKeys)
}

func TestFromKeysRederivesFingerprint(t *testing.T) {
	id, err := New()
	require.NoError(t, err)

	rebuilt, err := FromKeys(id.SignKeys, id.KEMKeys)
	require.NoError(t, err)

	assert.Equal(t, id.Fingerprint, rebuilt.Fingerprint)
}

func TestPublicBundleRoundTrips(t *testing.T) {
	id, err := New()
	require.NoError(t, err)

	signPub, kemPub, err := id.PublicBundle()
	require.NoError(t, err)
	assert.NotEmpty(t, signPub)
	assert.NotEmpty(t, kemPub)
}
