package transport

import (
	"fmt"
	"strings"
	"time"

	"github.com/cloudflare/circl/sign"
	"github.com/dnamessenger/core/cache"
	"github.com/dnamessenger/core/crypto"
	"github.com/dnamessenger/core/dht"
	"github.com/dnamessenger/core/ice"
	"github.com/dnamessenger/core/queue"
	"github.com/sirupsen/logrus"
)

// ackTimeout bounds how long a TCP or ICE send waits for the recipient's
// ACK byte before the tier is considered to have failed.
const ackTimeout = 10 * time.Second

// ContactLookup resolves a contact's signing public key and last-known
// direct address, as cached by presence lookups and keyserver queries.
type ContactLookup interface {
	SignPublicKey(fingerprint string) (sign.PublicKey, bool)
	Address(fingerprint string) (string, bool)
}

// Dispatcher implements message.Sender as a three-tier ladder: direct TCP
// to the recipient's last-known address, then ICE NAT traversal, then the
// offline DHT outbox as a last resort. Established TCP and ICE
// connections are kept in conns and reused across sends.
type Dispatcher struct {
	client          *dht.Client
	selfFingerprint string
	signer          *crypto.SignKeyPair
	contacts        ContactLookup
	iceAgent        *ice.Agent
	conns           *cache.ConnCache
	onQueued        func(envelope []byte)
}

// NewDispatcher builds a send ladder bound to selfFingerprint's own
// outbox and the shared connection cache. iceAgent may be nil if the
// local ICE agent failed to come up at startup; the ICE tier is then
// always skipped.
func NewDispatcher(client *dht.Client, selfFingerprint string, signer *crypto.SignKeyPair, contacts ContactLookup, iceAgent *ice.Agent, conns *cache.ConnCache) *Dispatcher {
	return &Dispatcher{
		client:          client,
		selfFingerprint: selfFingerprint,
		signer:          signer,
		contacts:        contacts,
		iceAgent:        iceAgent,
		conns:           conns,
	}
}

// SetOnQueued installs a hook invoked with the envelope bytes whenever
// Send falls all the way through to the offline outbox. Absent a
// reachable live tier this is the only signal the caller has that an
// envelope is now sitting in the local outbox awaiting retrieval.
func (d *Dispatcher) SetOnQueued(fn func(envelope []byte)) {
	d.onQueued = fn
}

// Send attempts direct TCP, then ICE, then falls back to the offline
// outbox. It only returns an error if every tier, including the
// always-available offline fallback, fails.
func (d *Dispatcher) Send(recipientFingerprint string, envelope []byte) error {
	logger := logrus.WithFields(logrus.Fields{"function": "Send", "package": "transport", "recipient": recipientFingerprint})

	if err := d.sendViaTCP(recipientFingerprint, envelope); err == nil {
		logger.Debug("delivered via direct TCP")
		return nil
	} else if err != errNoAddress {
		logger.WithError(err).Debug("direct TCP failed, trying ICE")
	}

	if d.iceAgent != nil && d.iceAgent.Ready() {
		if err := d.sendViaICE(recipientFingerprint, envelope); err == nil {
			logger.Debug("delivered via ICE")
			return nil
		} else {
			logger.WithError(err).Debug("ICE failed, falling back to offline outbox")
		}
	}

	if err := queue.Append(d.client, d.selfFingerprint, envelope, d.signer); err != nil {
		return fmt.Errorf("transport: all delivery tiers failed, offline fallback also failed: %w", err)
	}
	logger.Debug("queued to offline outbox")
	if d.onQueued != nil {
		d.onQueued(envelope)
	}
	return nil
}

var errNoAddress = fmt.Errorf("transport: no known direct address")

func (d *Dispatcher) sendViaTCP(recipientFingerprint string, envelope []byte) error {
	if conn, ok := d.conns.Get(cache.ConnTCP, recipientFingerprint); ok {
		if err := conn.Send(envelope); err == nil {
			return nil
		}
		d.conns.Remove(cache.ConnTCP, recipientFingerprint)
	}

	addr, ok := d.contacts.Address(recipientFingerprint)
	if !ok {
		return errNoAddress
	}

	conn, err := DialPersistent(addr, ackTimeout)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	if err := conn.Send(envelope); err != nil {
		conn.Close()
		return fmt.Errorf("transport: send to %s: %w", addr, err)
	}
	d.conns.Put(cache.ConnTCP, recipientFingerprint, conn)
	return nil
}

func (d *Dispatcher) sendViaICE(recipientFingerprint string, envelope []byte) error {
	if conn, ok := d.conns.Get(cache.ConnICE, recipientFingerprint); ok {
		if err := conn.Send(envelope); err == nil {
			return nil
		}
		d.conns.Remove(cache.ConnICE, recipientFingerprint)
	}

	recipientSignPub, ok := d.contacts.SignPublicKey(recipientFingerprint)
	if !ok {
		return fmt.Errorf("transport: no cached signing key for %s", recipientFingerprint)
	}

	controlling := d.selfFingerprint < recipientFingerprint
	conn, err := d.iceAgent.Connect(recipientFingerprint, recipientSignPub, controlling)
	if err != nil {
		return fmt.Errorf("transport: establish ICE connection: %w", err)
	}
	if err := conn.Send(envelope); err != nil {
		conn.Close()
		return fmt.Errorf("transport: send over ICE: %w", err)
	}
	d.conns.Put(cache.ConnICE, recipientFingerprint, conn)
	return nil
}

// StaticContacts is a ContactLookup backed by in-memory maps, sufficient
// for wiring a Dispatcher in tests and simple single-process deployments.
type StaticContacts struct {
	signPub map[string]sign.PublicKey
	address map[string]string
}

// NewStaticContacts builds an empty in-memory ContactLookup.
func NewStaticContacts() *StaticContacts {
	return &StaticContacts{signPub: make(map[string]sign.PublicKey), address: make(map[string]string)}
}

func (s *StaticContacts) SignPublicKey(fingerprint string) (sign.PublicKey, bool) {
	k, ok := s.signPub[strings.ToLower(fingerprint)]
	return k, ok
}

func (s *StaticContacts) Address(fingerprint string) (string, bool) {
	a, ok := s.address[strings.ToLower(fingerprint)]
	return a, ok
}

// SetSignPublicKey caches a contact's verified signing public key.
func (s *StaticContacts) SetSignPublicKey(fingerprint string, key sign.PublicKey) {
	s.signPub[strings.ToLower(fingerprint)] = key
}

// SetAddress caches a contact's last-known direct address.
func (s *StaticContacts) SetAddress(fingerprint, address string) {
	s.address[strings.ToLower(fingerprint)] = address
}
