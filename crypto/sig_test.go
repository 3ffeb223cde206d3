package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrips(t *testing.T) {
	kp, err := GenerateSignKeyPair()
	require.NoError(t, err)

	msg := []byte("a group's metadata blob")
	sig := Sign(kp.Private, msg)
	assert.NoError(t, Verify(kp.Public, msg, sig))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	kp, err := GenerateSignKeyPair()
	require.NoError(t, err)

	sig := Sign(kp.Private, []byte("original"))
	assert.ErrorIs(t, Verify(kp.Public, []byte("tampered"), sig), ErrBadSignature)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	kp, err := GenerateSignKeyPair()
	require.NoError(t, err)
	impostor, err := GenerateSignKeyPair()
	require.NoError(t, err)

	msg := []byte("signed by kp")
	sig := Sign(kp.Private, msg)
	assert.ErrorIs(t, Verify(impostor.Public, msg, sig), ErrBadSignature)
}

func TestVerifyRejectsEmptySignature(t *testing.T) {
	kp, err := GenerateSignKeyPair()
	require.NoError(t, err)
	assert.ErrorIs(t, Verify(kp.Public, []byte("msg"), nil), ErrBadSignature)
}
