package dht

import (
	"encoding/json"
	"fmt"

	"github.com/cloudflare/circl/sign"
	"github.com/dnamessenger/core/crypto"
	"github.com/dnamessenger/core/limits"
	"github.com/sirupsen/logrus"
)

// Client is the DHT-facing API used by every other subsystem: signed and
// unsigned put, synchronous and asynchronous get, and chunked store/fetch
// for values over the chunk threshold. It is backed by a local Store; in
// a multi-node deployment a Client would also replicate puts to peers
// discovered via a RoutingTable, but the contract below is what callers
// depend on regardless of replication strategy.
type Client struct {
	store *Store
}

// NewClient creates a DHT client backed by a fresh local store.
func NewClient() *Client {
	return &Client{store: NewStore()}
}

// Store returns the client's backing local store, so a Maintainer can be
// wired to prune it without the client re-exposing every Store method.
func (c *Client) Store() *Store {
	return c.store
}

// Put stores an unsigned value, TTL-classed, at key.
func (c *Client) Put(key, value []byte, ttlClass TTLClass) error {
	return c.store.Put(key, value, ttlClass)
}

// PutSigned signs value with signer's signing key, appending the
// signature, and stores it at key under valueID with seq, replacing any
// prior value sharing that (key, valueID) whose seq is lower.
func (c *Client) PutSigned(key, value []byte, valueID uint64, seq uint32, ttlClass TTLClass, signer *crypto.SignKeyPair) error {
	logger := logrus.WithFields(logrus.Fields{"function": "PutSigned", "package": "dht"})

	sig := crypto.Sign(signer.Private, value)
	signed := make([]byte, 0, len(value)+2+len(sig))
	signed = append(signed, value...)
	var sigLen [2]byte
	sigLen[0] = byte(len(sig) >> 8)
	sigLen[1] = byte(len(sig))
	signed = append(signed, sigLen[:]...)
	signed = append(signed, sig...)

	if err := c.store.PutSigned(key, signed, valueID, seq, ttlClass); err != nil {
		logger.WithError(err).Warn("signed put rejected")
		return err
	}
	return nil
}

// splitSigned strips the trailing [length(2)][signature] trailer appended
// by PutSigned, returning the original value and signature separately.
func splitSigned(blob []byte) (value, sig []byte, err error) {
	if len(blob) < 2 {
		return nil, nil, crypto.ErrBadLength
	}
	sigLen := int(blob[len(blob)-2])<<8 | int(blob[len(blob)-1])
	trailerStart := len(blob) - 2 - sigLen
	if trailerStart < 0 {
		return nil, nil, crypto.ErrBadLength
	}
	return blob[:trailerStart], blob[trailerStart : len(blob)-2], nil
}

// GetSigned fetches the value at key, verifies its trailing signature
// against signerPub, and returns the original (trailer-stripped) bytes.
func (c *Client) GetSigned(key []byte, signerPub sign.PublicKey) ([]byte, bool, error) {
	value, sig, ok, err := c.GetSignedRaw(key)
	if !ok || err != nil {
		return nil, ok, err
	}
	if err := crypto.Verify(signerPub, value, sig); err != nil {
		return nil, true, err
	}
	return value, true, nil
}

// GetSignedRaw fetches the value at key and splits it into its original
// bytes and trailing signature without verifying — used by callers that
// must parse the value first to learn which key to verify against (e.g.
// a self-signed key bundle verified against the key it carries).
func (c *Client) GetSignedRaw(key []byte) (value, sig []byte, ok bool, err error) {
	blob, found := c.store.Get(key)
	if !found {
		return nil, nil, false, nil
	}
	value, sig, err = splitSigned(blob)
	if err != nil {
		return nil, nil, true, err
	}
	return value, sig, true, nil
}

// CurrentSeq returns the seq currently stored for (key, valueID), used by
// callers that append to a replace-by-seq record across repeated puts.
func (c *Client) CurrentSeq(key []byte, valueID uint64) (uint32, bool) {
	return c.store.CurrentSeq(key, valueID)
}

// Get returns the newest/largest live value at key without signature handling.
func (c *Client) Get(key []byte) ([]byte, bool) {
	return c.store.Get(key)
}

// GetAll returns every coexisting live value at key.
func (c *Client) GetAll(key []byte) [][]byte {
	return c.store.GetAll(key)
}

// GetAsync fires off a lookup and invokes callback with the result (or
// nil if absent) from a separate goroutine, mirroring the "DHT thread"
// callback contract used by parallel retrieval paths.
func (c *Client) GetAsync(key []byte, callback func(value []byte)) {
	go func() {
		v, ok := c.store.Get(key)
		if !ok {
			callback(nil)
			return
		}
		callback(v)
	}()
}

type chunkMeta struct {
	Chunks    int `json:"chunks"`
	TotalSize int `json:"total_size"`
}

func chunkKey(baseKey []byte, version uint32, suffix string) []byte {
	label := fmt.Sprintf(":v%d:%s", version, suffix)
	sum := crypto.SHA3_512(append(append([]byte(nil), baseKey...), label...))
	return sum[:]
}

// ChunkedStore splits data into limits.ChunkSize pieces when it exceeds
// limits.ChunkThreshold, storing each chunk at its own derived key and
// publishing a metadata record describing the chunk count and total size.
// Values at or under the threshold are stored as a single chunk0 under
// the same version, with the same metadata record, so ChunkedFetch reads
// both cases the same way.
func (c *Client) ChunkedStore(baseKey, data []byte, version uint32, ttlClass TTLClass) error {
	logger := logrus.WithFields(logrus.Fields{"function": "ChunkedStore", "package": "dht", "size": len(data)})

	numChunks := 1
	if len(data) > limits.ChunkThreshold {
		numChunks = (len(data) + limits.ChunkSize - 1) / limits.ChunkSize
	}

	for i := 0; i < numChunks; i++ {
		start := i * limits.ChunkSize
		end := start + limits.ChunkSize
		if end > len(data) || numChunks == 1 {
			end = len(data)
		}
		if err := c.Put(chunkKey(baseKey, version, fmt.Sprintf("chunk%d", i)), data[start:end], ttlClass); err != nil {
			return fmt.Errorf("dht: store chunk %d: %w", i, err)
		}
	}

	meta := chunkMeta{Chunks: numChunks, TotalSize: len(data)}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("dht: marshal chunk metadata: %w", err)
	}
	if err := c.Put(chunkKey(baseKey, version, "meta"), metaBytes, ttlClass); err != nil {
		return fmt.Errorf("dht: store chunk metadata: %w", err)
	}

	logger.WithField("chunks", numChunks).Debug("chunked store complete")
	return nil
}

// ChunkedFetch reads the metadata record for base_key/version, fetches
// every chunk it names, and reassembles them in order. Fails if any
// chunk is missing.
func (c *Client) ChunkedFetch(baseKey []byte, version uint32) ([]byte, error) {
	metaBytes, ok := c.Get(chunkKey(baseKey, version, "meta"))
	if !ok {
		return nil, fmt.Errorf("dht: no chunk metadata at version %d", version)
	}

	var meta chunkMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("dht: parse chunk metadata: %w", err)
	}

	out := make([]byte, 0, meta.TotalSize)
	for i := 0; i < meta.Chunks; i++ {
		chunk, ok := c.Get(chunkKey(baseKey, version, fmt.Sprintf("chunk%d", i)))
		if !ok {
			return nil, fmt.Errorf("dht: missing chunk %d of %d", i, meta.Chunks)
		}
		out = append(out, chunk...)
	}
	return out, nil
}
