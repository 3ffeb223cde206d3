package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cloudflare/circl/sign"
	"github.com/dnamessenger/core/crypto"
	"github.com/dnamessenger/core/dht"
	"github.com/sirupsen/logrus"
)

// presenceValueID is the fixed value_id a presence record is stored
// under, so each refresh replaces the previous record rather than
// accumulating.
const presenceValueID = 2

// presenceTTL bounds how long a stale presence record survives without a
// refresh.
const presenceTTL = dht.TTLSevenDay

// refreshInterval is how often a running Publisher republishes.
const refreshInterval = 10 * time.Minute

// Record is one identity's last-known direct-reachability address.
type Record struct {
	Address   string `json:"address"`
	Timestamp int64  `json:"timestamp"`
}

// PresenceKey derives the DHT key an identity's presence record lives at.
func PresenceKey(fingerprint string) []byte {
	sum := crypto.SHA3_512([]byte(fingerprint + ":presence"))
	return sum[:]
}

// PublishPresence signs and republishes selfFingerprint's reachable
// address, replacing whatever record was previously published.
func PublishPresence(client *dht.Client, selfFingerprint, address string, now time.Time, signer *crypto.SignKeyPair) error {
	record := Record{Address: address, Timestamp: now.Unix()}
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("transport: marshal presence record: %w", err)
	}

	key := PresenceKey(selfFingerprint)
	seq, _ := client.CurrentSeq(key, presenceValueID)
	return client.PutSigned(key, value, presenceValueID, seq+1, presenceTTL, signer)
}

// LookupPresence fetches and verifies peerFingerprint's presence record.
// ok is false if no record has ever been published.
func LookupPresence(client *dht.Client, peerFingerprint string, peerSignPub sign.PublicKey) (Record, bool, error) {
	value, ok, err := client.GetSigned(PresenceKey(peerFingerprint), peerSignPub)
	if !ok || err != nil {
		return Record{}, ok, err
	}
	var record Record
	if err := json.Unmarshal(value, &record); err != nil {
		return Record{}, true, fmt.Errorf("transport: unmarshal presence record: %w", err)
	}
	return record, true, nil
}

// Publisher republishes this identity's presence record on a fixed
// interval so contacts can find a fresh reachable address.
type Publisher struct {
	client          *dht.Client
	selfFingerprint string
	signer          *crypto.SignKeyPair
	address         func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPublisher creates a presence publisher. address is called at each
// refresh tick so a changing listen address (e.g. after a NAT rebind) is
// picked up without restarting the publisher.
func NewPublisher(client *dht.Client, selfFingerprint string, signer *crypto.SignKeyPair, address func() string) *Publisher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{
		client:          client,
		selfFingerprint: selfFingerprint,
		signer:          signer,
		address:         address,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start publishes an initial record immediately, then begins the
// periodic refresh loop.
func (p *Publisher) Start() error {
	if err := PublishPresence(p.client, p.selfFingerprint, p.address(), time.Now(), p.signer); err != nil {
		return err
	}
	p.wg.Add(1)
	go p.refreshLoop()
	return nil
}

// Stop halts the refresh loop and waits for it to exit.
func (p *Publisher) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Publisher) refreshLoop() {
	defer p.wg.Done()
	logger := logrus.WithFields(logrus.Fields{"function": "refreshLoop", "package": "transport"})

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := PublishPresence(p.client, p.selfFingerprint, p.address(), time.Now(), p.signer); err != nil {
				logger.WithError(err).Warn("presence refresh failed")
			}
		}
	}
}
