package dht

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePutAndGet(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Put([]byte("key"), []byte("value"), TTLSevenDay))

	got, ok := s.Get([]byte("key"))
	require.True(t, ok)
	assert.Equal(t, []byte("value"), got)
}

func TestStorePutRejectsMixedSignedness(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Put([]byte("key"), []byte("a"), TTLSevenDay))

	err := s.PutSigned([]byte("key"), []byte("b"), 1, 1, TTLSevenDay)
	assert.ErrorIs(t, err, ErrMixedSignedUnsigned)
}

func TestPutSignedReplacesOnHigherSeq(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.PutSigned([]byte("key"), []byte("v1"), 42, 1, TTLSevenDay))
	require.NoError(t, s.PutSigned([]byte("key"), []byte("v2"), 42, 2, TTLSevenDay))

	got, ok := s.Get([]byte("key"))
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), got)

	seq, ok := s.CurrentSeq([]byte("key"), 42)
	require.True(t, ok)
	assert.Equal(t, uint32(2), seq)
}

func TestPutSignedRejectsStaleSeq(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.PutSigned([]byte("key"), []byte("v1"), 42, 5, TTLSevenDay))

	err := s.PutSigned([]byte("key"), []byte("v0"), 42, 3, TTLSevenDay)
	assert.ErrorIs(t, err, ErrStaleSeq)
}

func TestGetAllReturnsEveryLiveValue(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Put([]byte("key"), []byte("a"), TTLSevenDay))
	require.NoError(t, s.Put([]byte("key"), []byte("b"), TTLSevenDay))

	all := s.GetAll([]byte("key"))
	assert.Len(t, all, 2)
}

func TestPruneExpiredRemovesExpiredValues(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.now = func() time.Time { return now }
	require.NoError(t, s.Put([]byte("key"), []byte("a"), TTLSevenDay))

	s.now = func() time.Time { return now.Add(8 * 24 * time.Hour) }
	removed := s.PruneExpired()

	assert.Equal(t, 1, removed)
	_, ok := s.Get([]byte("key"))
	assert.False(t, ok)
}

func TestPermanentTTLNeverExpires(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.now = func() time.Time { return now }
	require.NoError(t, s.Put([]byte("key"), []byte("a"), TTLPermanent))

	s.now = func() time.Time { return now.Add(365 * 24 * time.Hour) }
	_, ok := s.Get([]byte("key"))
	assert.True(t, ok)
}
