package queue

import (
	"encoding/binary"
	"fmt"

	"github.com/dnamessenger/core/crypto"
	"github.com/dnamessenger/core/dht"
	"github.com/dnamessenger/core/limits"
	"github.com/sirupsen/logrus"
)

// outboxValueID is the fixed value_id every outbox queue is stored under,
// so each put_signed replaces the owner's previous queue rather than
// accumulating.
const outboxValueID = 1

// OutboxKey derives the DHT key an identity's own outbox lives at. Every
// envelope an identity has sent and not yet had acknowledged as delivered
// lives here, regardless of which recipient it is addressed to — only
// that identity ever writes to this key.
func OutboxKey(ownerFingerprint string) []byte {
	sum := crypto.SHA3_512([]byte(ownerFingerprint + ":outbox"))
	return sum[:]
}

// encodeQueue serializes envelopes as count || length-prefixed envelopes.
func encodeQueue(envelopes [][]byte) ([]byte, error) {
	total := 4
	for _, e := range envelopes {
		total += 4 + len(e)
	}
	if total > limits.MaxOutboxBytes {
		return nil, fmt.Errorf("queue: encoded queue is %d bytes, exceeds %d byte limit", total, limits.MaxOutboxBytes)
	}

	buf := make([]byte, 4, total)
	binary.BigEndian.PutUint32(buf, uint32(len(envelopes)))
	for _, e := range envelopes {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, e...)
	}
	return buf, nil
}

// decodeQueue parses the count || length-prefixed envelopes format.
func decodeQueue(blob []byte) ([][]byte, error) {
	if len(blob) < 4 {
		return nil, fmt.Errorf("queue: blob too short for count: %d bytes", len(blob))
	}
	count := binary.BigEndian.Uint32(blob)
	envelopes := make([][]byte, 0, count)
	offset := 4
	for i := uint32(0); i < count; i++ {
		if offset+4 > len(blob) {
			return nil, fmt.Errorf("queue: truncated length prefix at entry %d", i)
		}
		entryLen := int(binary.BigEndian.Uint32(blob[offset : offset+4]))
		offset += 4
		if offset+entryLen > len(blob) {
			return nil, fmt.Errorf("queue: truncated envelope at entry %d", i)
		}
		envelopes = append(envelopes, append([]byte(nil), blob[offset:offset+entryLen]...))
		offset += entryLen
	}
	return envelopes, nil
}

// FetchOwn reads and parses ownerFingerprint's own outbox, returning an
// empty queue (not an error) if none has ever been published.
func FetchOwn(client *dht.Client, ownerFingerprint string) ([][]byte, error) {
	raw, _, found, err := client.GetSignedRaw(OutboxKey(ownerFingerprint))
	if err != nil {
		return nil, fmt.Errorf("queue: parse stored outbox: %w", err)
	}
	if !found {
		return nil, nil
	}
	return decodeQueue(raw)
}

// Append adds envelope to selfFingerprint's own outbox and republishes it,
// signed by signer. Only the outbox owner ever calls this: each identity
// is the sole writer of its own (key, value_id) pair, so the strictly
// increasing seq required by put_signed never has to arbitrate between
// concurrent senders.
func Append(client *dht.Client, selfFingerprint string, envelope []byte, signer *crypto.SignKeyPair) error {
	logger := logrus.WithFields(logrus.Fields{"function": "Append", "package": "queue", "owner": selfFingerprint})

	envelopes, err := FetchOwn(client, selfFingerprint)
	if err != nil {
		return err
	}
	envelopes = append(envelopes, envelope)

	blob, err := encodeQueue(envelopes)
	if err != nil {
		return err
	}

	key := OutboxKey(selfFingerprint)
	seq, _ := client.CurrentSeq(key, outboxValueID)
	if err := client.PutSigned(key, blob, outboxValueID, seq+1, dht.TTLSevenDay, signer); err != nil {
		return fmt.Errorf("queue: publish outbox: %w", err)
	}
	logger.WithField("queue_length", len(envelopes)).Debug("appended to own outbox")
	return nil
}

// Clear replaces selfFingerprint's own outbox with an empty queue at the
// same value_id. Partial clears are not supported: callers must only
// call this after every envelope the owner no longer needs to hold (e.g.
// ones acknowledged delivered) has been durably persisted locally.
func Clear(client *dht.Client, selfFingerprint string, signer *crypto.SignKeyPair) error {
	key := OutboxKey(selfFingerprint)
	seq, _ := client.CurrentSeq(key, outboxValueID)
	blob, err := encodeQueue(nil)
	if err != nil {
		return err
	}
	if err := client.PutSigned(key, blob, outboxValueID, seq+1, dht.TTLSevenDay, signer); err != nil {
		return fmt.Errorf("queue: clear outbox: %w", err)
	}
	return nil
}
