package dht

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/dnamessenger/core/crypto"
	"github.com/dnamessenger/core/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientPutAndGet(t *testing.T) {
	c := NewClient()
	require.NoError(t, c.Put([]byte("key"), []byte("value"), TTLSevenDay))

	got, ok := c.Get([]byte("key"))
	require.True(t, ok)
	assert.Equal(t, []byte("value"), got)
}

func TestClientPutSignedAndGetSignedVerifies(t *testing.T) {
	c := NewClient()
	signer, err := crypto.GenerateSignKeyPair()
	require.NoError(t, err)

	require.NoError(t, c.PutSigned([]byte("key"), []byte("payload"), 1, 1, TTLSevenDay, signer))

	got, ok, err := c.GetSigned([]byte("key"), signer.Public)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)
}

func TestClientGetSignedRejectsWrongKey(t *testing.T) {
	c := NewClient()
	signer, err := crypto.GenerateSignKeyPair()
	require.NoError(t, err)
	other, err := crypto.GenerateSignKeyPair()
	require.NoError(t, err)

	require.NoError(t, c.PutSigned([]byte("key"), []byte("payload"), 1, 1, TTLSevenDay, signer))

	_, _, err = c.GetSigned([]byte("key"), other.Public)
	assert.Error(t, err)
}

func TestClientCurrentSeqReportsStoredGeneration(t *testing.T) {
	c := NewClient()
	signer, err := crypto.GenerateSignKeyPair()
	require.NoError(t, err)

	_, ok := c.CurrentSeq([]byte("key"), 7)
	assert.False(t, ok)

	require.NoError(t, c.PutSigned([]byte("key"), []byte("v"), 7, 3, TTLSevenDay, signer))
	seq, ok := c.CurrentSeq([]byte("key"), 7)
	require.True(t, ok)
	assert.Equal(t, uint32(3), seq)
}

func TestClientGetAsyncDeliversResult(t *testing.T) {
	c := NewClient()
	require.NoError(t, c.Put([]byte("key"), []byte("value"), TTLSevenDay))

	done := make(chan []byte, 1)
	c.GetAsync([]byte("key"), func(v []byte) { done <- v })
	assert.Equal(t, []byte("value"), <-done)
}

func TestClientGetAsyncMissingKeyReturnsNil(t *testing.T) {
	c := NewClient()
	done := make(chan []byte, 1)
	c.GetAsync([]byte("missing"), func(v []byte) { done <- v })
	assert.Nil(t, <-done)
}

func TestClientChunkedStoreAndFetchRoundTrips(t *testing.T) {
	c := NewClient()
	data := bytes.Repeat([]byte("x"), 5)
	require.NoError(t, c.ChunkedStore([]byte("base"), data, 1, TTLSevenDay))

	got, err := c.ChunkedFetch([]byte("base"), 1)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestClientChunkedFetchMissingVersionFails(t *testing.T) {
	c := NewClient()
	_, err := c.ChunkedFetch([]byte("base"), 99)
	assert.Error(t, err)
}

func TestClientChunkedStoreAtThresholdStaysSingleChunk(t *testing.T) {
	c := NewClient()
	data := bytes.Repeat([]byte("y"), limits.ChunkThreshold)
	require.NoError(t, c.ChunkedStore([]byte("base"), data, 1, TTLSevenDay))

	metaBytes, ok := c.Get(chunkKey([]byte("base"), 1, "meta"))
	require.True(t, ok)
	var meta chunkMeta
	require.NoError(t, json.Unmarshal(metaBytes, &meta))
	assert.Equal(t, 1, meta.Chunks)

	got, err := c.ChunkedFetch([]byte("base"), 1)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestClientChunkedStoreOneByteOverThresholdSplitsIntoTwoChunks(t *testing.T) {
	c := NewClient()
	data := bytes.Repeat([]byte("z"), limits.ChunkThreshold+1)
	require.NoError(t, c.ChunkedStore([]byte("base"), data, 1, TTLSevenDay))

	metaBytes, ok := c.Get(chunkKey([]byte("base"), 1, "meta"))
	require.True(t, ok)
	var meta chunkMeta
	require.NoError(t, json.Unmarshal(metaBytes, &meta))
	assert.Equal(t, 2, meta.Chunks)

	got, err := c.ChunkedFetch([]byte("base"), 1)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestClientChunkedStoreLargePayloadRoundTripsBitIdentically(t *testing.T) {
	c := NewClient()
	data := make([]byte, 200*1000)
	for i := range data {
		data[i] = byte(i % 256)
	}
	require.NoError(t, c.ChunkedStore([]byte("base"), data, 1, TTLSevenDay))

	metaBytes, ok := c.Get(chunkKey([]byte("base"), 1, "meta"))
	require.True(t, ok)
	var meta chunkMeta
	require.NoError(t, json.Unmarshal(metaBytes, &meta))
	assert.Equal(t, 4, meta.Chunks)

	got, err := c.ChunkedFetch([]byte("base"), 1)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}
