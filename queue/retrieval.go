package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/sign"
	"github.com/dnamessenger/core/dht"
	"github.com/dnamessenger/core/message"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// fetchTimeout bounds how long a single poll of a contact's outbox may
// take before it is counted as a miss.
const fetchTimeout = 30 * time.Second

// Result is one envelope recovered from a contact's outbox and already
// addressed to selfFingerprint.
type Result struct {
	SenderFingerprint string
	Decoded           *message.Decoded
	Envelope          []byte
}

// KeyResolver resolves a fingerprint's signing public key, used to verify
// the envelopes found while polling that fingerprint's outbox. Satisfied
// by a thin wrapper over *keyserver.Cache.Lookup.
type KeyResolver func(fingerprint string) (sign.PublicKey, error)

// RefreshGSK triggers a synchronous fetch of groupID's current GSK
// generation, returning false if the group is not tracked. Satisfied by
// *group.Discovery.FetchNow.
type RefreshGSK func(groupID uuid.UUID) bool

// PollContacts fetches every fingerprint in contacts' own outbox in
// parallel, bounded by fetchTimeout, decodes each envelope found there
// against selfFingerprint/selfKEMPriv, and returns only the ones
// successfully addressed to self. Envelopes that fail to decode (wrong
// recipient, bad signature, unknown GSK generation) are dropped silently;
// a contact's own outbox is not ours to police. refreshGSK may be nil, in
// which case a missing GSK generation is never retried.
func PollContacts(client *dht.Client, contacts []string, selfFingerprint string, selfKEMPriv kem.PrivateKey, resolveSignerKey KeyResolver, gskSource message.GSKSource, refreshGSK RefreshGSK) []Result {
	logger := logrus.WithFields(logrus.Fields{"function": "PollContacts", "package": "queue", "contacts": len(contacts)})

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	var (
		mu  sync.Mutex
		out []Result
		wg  sync.WaitGroup
	)
	for _, contact := range contacts {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			found := pollOne(client, sender, selfFingerprint, selfKEMPriv, resolveSignerKey, gskSource, refreshGSK)
			mu.Lock()
			out = append(out, found...)
			mu.Unlock()
		}(contact)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("outbox poll timed out before every contact responded")
	}

	mu.Lock()
	defer mu.Unlock()
	logger.WithField("found", len(out)).Debug("outbox poll complete")
	return out
}

func pollOne(client *dht.Client, sender, selfFingerprint string, selfKEMPriv kem.PrivateKey, resolveSignerKey KeyResolver, gskSource message.GSKSource, refreshGSK RefreshGSK) []Result {
	logger := logrus.WithFields(logrus.Fields{"function": "pollOne", "package": "queue", "sender": sender})

	envelopes, err := FetchOwn(client, sender)
	if err != nil {
		logger.WithError(err).Debug("could not read contact outbox")
		return nil
	}
	if len(envelopes) == 0 {
		return nil
	}

	signerPub, err := resolveSignerKey(sender)
	if err != nil {
		logger.WithError(err).Debug("could not resolve sender signing key")
		return nil
	}

	var out []Result
	for _, envelope := range envelopes {
		decoded, err := message.Decode(envelope, signerPub, selfFingerprint, selfKEMPriv, gskSource)
		if err != nil {
			var gskErr *message.GSKUnavailableError
			if refreshGSK != nil && errors.As(err, &gskErr) && refreshGSK(gskErr.GroupID) {
				decoded, err = message.Decode(envelope, signerPub, selfFingerprint, selfKEMPriv, gskSource)
			}
			if err != nil {
				continue
			}
		}
		if decoded.SenderFingerprint != sender {
			continue
		}
		out = append(out, Result{SenderFingerprint: sender, Decoded: decoded, Envelope: envelope})
	}
	return out
}
