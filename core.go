package dnamessenger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"sync"
	"time"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/sign"
	"github.com/dnamessenger/core/cache"
	"github.com/dnamessenger/core/config"
	"github.com/dnamessenger/core/crypto"
	"github.com/dnamessenger/core/dht"
	"github.com/dnamessenger/core/group"
	"github.com/dnamessenger/core/ice"
	"github.com/dnamessenger/core/identity"
	"github.com/dnamessenger/core/keyserver"
	"github.com/dnamessenger/core/limits"
	"github.com/dnamessenger/core/localstore"
	"github.com/dnamessenger/core/message"
	"github.com/dnamessenger/core/queue"
	"github.com/dnamessenger/core/transport"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// maintenanceInterval is how often Node's background loop runs pending
// deliveries, offline outbox polling, and group-rotation checks.
const maintenanceInterval = 30 * time.Second

// livenessWindow bounds how recently a contact must have been seen
// before ownership election considers it live.
const livenessWindow = 7 * 24 * time.Hour

// MessageCallback is invoked for every plaintext this identity decodes,
// direct or group, once per message.
type MessageCallback func(senderFingerprint string, groupID uuid.UUID, plaintext []byte)

// Node is one running identity: its key material, its view of the
// shared DHT, its contacts and groups, and the transport stack that
// moves envelopes to peers. It is the single wiring point every other
// package in this module is assembled behind.
type Node struct {
	cfg   *config.Config
	store *localstore.Store
	id    *identity.Identity

	dhtClient    *dht.Client
	routingTable *dht.RoutingTable
	maintainer   *dht.Maintainer
	keys         *keyserver.Cache
	gsk          *group.GSKManager
	discovery    *group.Discovery
	caches       *cache.Manager
	contactStore *transport.StaticContacts

	listener   *transport.Listener
	iceAgent   *ice.Agent
	dispatcher *transport.Dispatcher
	presence   *transport.Publisher
	outbound   *message.Manager

	resolveSignKey func(fingerprint string) (sign.PublicKey, error)

	mu       sync.RWMutex
	contacts map[string]*identity.Contact
	groups   map[uuid.UUID]*group.Group

	ackMu         sync.Mutex
	pendingAcks   map[[64]byte]struct{}
	ignoredQueued map[[64]byte]struct{}

	callbackMu sync.RWMutex
	onMessage  MessageCallback

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Open loads or creates the identity persisted under cfg.DataDir and
// wires every subsystem around it. The returned Node is not yet
// listening or polling; call Start for that.
func Open(cfg *config.Config, masterPassword []byte) (*Node, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "Open", "package": "dnamessenger"})

	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	store, err := localstore.Open(cfg.DataDir, masterPassword)
	if err != nil {
		return nil, fmt.Errorf("dnamessenger: open local store: %w", err)
	}

	id, err := store.LoadIdentity()
	if errors.Is(err, fs.ErrNotExist) {
		id, err = identity.New()
		if err != nil {
			return nil, fmt.Errorf("dnamessenger: generate identity: %w", err)
		}
		if err := store.SaveIdentity(id); err != nil {
			return nil, fmt.Errorf("dnamessenger: persist identity: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("dnamessenger: load identity: %w", err)
	}

	routingTable, err := dht.NewRoutingTable(id.Fingerprint, 8)
	if err != nil {
		return nil, fmt.Errorf("dnamessenger: build routing table: %w", err)
	}
	dhtClient := dht.NewClient()
	maintainer := dht.NewMaintainer(routingTable, dhtClient.Store(), nil)

	keys := keyserver.New(dhtClient)
	signPub, kemPub, err := id.PublicBundle()
	if err != nil {
		return nil, fmt.Errorf("dnamessenger: marshal public bundle: %w", err)
	}
	if err := keys.Publish(id.Fingerprint, signPub, kemPub, id.SignKeys); err != nil {
		return nil, fmt.Errorf("dnamessenger: publish key bundle: %w", err)
	}

	gskManager := group.NewGSKManager(store.KeyStore())
	caches := cache.NewManager(keys)
	contactStore := transport.NewStaticContacts()

	var turnRelays []ice.TURNConfig
	if cfg.TURNServer != (config.TURNServer{}) {
		turnRelays = append(turnRelays, ice.TURNConfig{
			Host:     cfg.TURNServer.Host,
			Port:     cfg.TURNServer.Port,
			Username: cfg.TURNServer.Username,
			Password: cfg.TURNServer.Password,
		})
	}
	iceAgent, err := ice.NewAgent(dhtClient, id.Fingerprint, id.SignKeys, turnRelays...)
	if err != nil {
		logger.WithError(err).Warn("ice agent unavailable, falling back to tcp and offline delivery only")
		iceAgent = nil
	}

	dispatcher := transport.NewDispatcher(dhtClient, id.Fingerprint, id.SignKeys, contactStore, iceAgent, caches.Conns)
	outbound := message.NewManager(dispatcher)

	resolveSignKey := signKeyResolver(keys)
	discovery := group.NewDiscovery(dhtClient, gskManager, resolveSignKey, id.Fingerprint, id.KEMKeys.Private)

	contacts, err := store.LoadContacts()
	if err != nil {
		return nil, fmt.Errorf("dnamessenger: load contacts: %w", err)
	}
	contactMap := make(map[string]*identity.Contact, len(contacts))
	for _, c := range contacts {
		contactMap[c.Fingerprint] = c
		if len(c.SignPublicKey) > 0 {
			if pub, err := crypto.UnmarshalSignPublicKey(c.SignPublicKey); err == nil {
				contactStore.SetSignPublicKey(c.Fingerprint, pub)
			}
		}
	}

	savedGroups, err := store.LoadGroups()
	if err != nil {
		return nil, fmt.Errorf("dnamessenger: load groups: %w", err)
	}
	groupMap := make(map[uuid.UUID]*group.Group, len(savedGroups))
	for _, g := range savedGroups {
		groupMap[g.UUID()] = g
		discovery.Track(g)
	}

	ctx, cancel := context.WithCancel(context.Background())
	node := &Node{
		cfg:            cfg,
		store:          store,
		id:             id,
		dhtClient:      dhtClient,
		routingTable:   routingTable,
		maintainer:     maintainer,
		keys:           keys,
		gsk:            gskManager,
		discovery:      discovery,
		caches:         caches,
		contactStore:   contactStore,
		iceAgent:       iceAgent,
		dispatcher:     dispatcher,
		outbound:       outbound,
		resolveSignKey: resolveSignKey,
		contacts:       contactMap,
		groups:         groupMap,
		pendingAcks:    make(map[[64]byte]struct{}),
		ignoredQueued:  make(map[[64]byte]struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
	dispatcher.SetOnQueued(node.trackQueuedEnvelope)
	return node, nil
}

// signKeyResolver adapts a keyserver cache to the small function-typed
// interfaces group.Discovery and queue.PollContacts each expect.
func signKeyResolver(keys *keyserver.Cache) func(string) (sign.PublicKey, error) {
	return func(fingerprint string) (sign.PublicKey, error) {
		bundle, err := keys.Lookup(fingerprint)
		if err != nil {
			return nil, err
		}
		return crypto.UnmarshalSignPublicKey(bundle.SignPublicKey)
	}
}

// Fingerprint returns this node's own identity fingerprint.
func (n *Node) Fingerprint() string {
	return n.id.Fingerprint
}

// Start binds the persistent TCP listener, begins republishing presence,
// starts DHT and group maintenance, and begins the background
// maintenance loop. Safe to call once.
func (n *Node) Start() error {
	logger := logrus.WithFields(logrus.Fields{"function": "Start", "package": "dnamessenger"})

	addr := net.JoinHostPort("0.0.0.0", fmt.Sprintf("%d", n.cfg.ListenPort))
	listener, err := transport.Listen(addr, n.handleTCPFrame)
	if err != nil {
		return fmt.Errorf("dnamessenger: bind listener: %w", err)
	}
	n.listener = listener

	n.presence = transport.NewPublisher(n.dhtClient, n.id.Fingerprint, n.id.SignKeys, func() string {
		return n.listener.Addr().String()
	})
	if err := n.presence.Start(); err != nil {
		logger.WithError(err).Warn("initial presence publish failed")
	}

	n.maintainer.Start()
	n.discovery.Start()
	n.running = true

	n.wg.Add(1)
	go n.maintenanceLoop()

	logger.WithField("addr", listener.Addr().String()).Info("node started")
	return nil
}

func (n *Node) maintenanceLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.tick()
		}
	}
}

// tick performs one round of background maintenance: retry pending
// outbound deliveries, poll contacts' offline outboxes, and roll over
// any group whose GSK has passed its rotation window.
func (n *Node) tick() {
	n.outbound.ProcessPending()
	n.pollOffline()
	n.rotateDueGroups()
}

func (n *Node) pollOffline() {
	n.mu.RLock()
	contacts := make([]string, 0, len(n.contacts))
	for fp := range n.contacts {
		contacts = append(contacts, fp)
	}
	n.mu.RUnlock()
	if len(contacts) == 0 {
		return
	}

	results := queue.PollContacts(n.dhtClient, contacts, n.id.Fingerprint, n.id.KEMKeys.Private, n.resolveSignKey, n.gsk, n.discovery.FetchNow)
	for _, res := range results {
		n.markSeen(res.SenderFingerprint)
		n.handleDecoded(res.SenderFingerprint, res.Decoded, res.Envelope)
	}
}

func (n *Node) rotateDueGroups() {
	n.mu.RLock()
	groups := make([]*group.Group, 0, len(n.groups))
	for _, g := range n.groups {
		groups = append(groups, g)
	}
	n.mu.RUnlock()

	for _, g := range groups {
		if g.Owner() != n.id.Fingerprint {
			continue
		}
		if !n.gsk.NeedsRotation(g.UUID(), g.GSKVersion()) {
			continue
		}
		if err := n.RotateGroup(g.UUID()); err != nil {
			logrus.WithFields(logrus.Fields{"function": "rotateDueGroups", "package": "dnamessenger", "group": g.UUID().String()}).
				WithError(err).Warn("gsk rotation failed")
		}
	}
}

// Close stops every background loop and releases transport resources.
// The Node must not be used afterward.
func (n *Node) Close() error {
	if !n.running {
		return nil
	}
	n.running = false

	n.cancel()
	n.wg.Wait()

	if n.presence != nil {
		n.presence.Stop()
	}
	n.discovery.Stop()
	n.maintainer.Stop()
	if n.iceAgent != nil {
		n.iceAgent.Close()
	}
	if n.listener != nil {
		n.listener.Close()
	}
	n.caches.Shutdown()

	n.persistState()
	return n.store.Close()
}

func (n *Node) persistState() {
	logger := logrus.WithFields(logrus.Fields{"function": "persistState", "package": "dnamessenger"})

	n.mu.RLock()
	contacts := make([]*identity.Contact, 0, len(n.contacts))
	for _, c := range n.contacts {
		contacts = append(contacts, c)
	}
	groups := make([]*group.Group, 0, len(n.groups))
	for _, g := range n.groups {
		groups = append(groups, g)
	}
	n.mu.RUnlock()

	if err := n.store.SaveContacts(contacts); err != nil {
		logger.WithError(err).Warn("failed to persist contacts")
	}
	if err := n.store.SaveGroups(groups); err != nil {
		logger.WithError(err).Warn("failed to persist groups")
	}
}

// OnMessage installs the callback invoked for every decoded plaintext,
// direct or group. groupID is the zero UUID for direct messages.
func (n *Node) OnMessage(cb MessageCallback) {
	n.callbackMu.Lock()
	defer n.callbackMu.Unlock()
	n.onMessage = cb
}

func (n *Node) deliver(senderFingerprint string, decoded *message.Decoded) {
	n.callbackMu.RLock()
	cb := n.onMessage
	n.callbackMu.RUnlock()
	if cb != nil {
		cb(senderFingerprint, decoded.GroupUUID, decoded.Plaintext)
	}
}

// ackPayloadPrefix marks an application-level delivery acknowledgment so
// it never reaches OnMessage as ordinary plaintext.
const ackPayloadPrefix = 0xAC

// ackPayloadLen is ackPayloadPrefix followed by a SHA3-512 envelope hash.
const ackPayloadLen = 1 + 64

func buildAckPayload(envelopeHash [64]byte) []byte {
	payload := make([]byte, 0, ackPayloadLen)
	payload = append(payload, ackPayloadPrefix)
	payload = append(payload, envelopeHash[:]...)
	return payload
}

func parseAckPayload(plaintext []byte) ([64]byte, bool) {
	var hash [64]byte
	if len(plaintext) != ackPayloadLen || plaintext[0] != ackPayloadPrefix {
		return hash, false
	}
	copy(hash[:], plaintext[1:])
	return hash, true
}

// handleDecoded is the single entry point every inbound delivery path
// (direct TCP, ICE, offline outbox retrieval) routes through: it
// recognizes a delivery acknowledgment and settles it locally, or else
// hands the plaintext to OnMessage and sends an acknowledgment back to
// envelope's sender.
func (n *Node) handleDecoded(senderFingerprint string, decoded *message.Decoded, envelope []byte) {
	if hash, ok := parseAckPayload(decoded.Plaintext); ok {
		n.handleAck(hash)
		return
	}
	n.deliver(senderFingerprint, decoded)
	n.sendDeliveryAck(senderFingerprint, envelope)
}

// trackQueuedEnvelope records that envelope now sits in this identity's
// own offline outbox awaiting the recipient's acknowledgment. Installed
// as the Dispatcher's onQueued hook. Acknowledgment envelopes sent by
// sendDeliveryAck are pre-registered in ignoredQueued so they are never
// mistaken for traffic awaiting its own acknowledgment.
func (n *Node) trackQueuedEnvelope(envelope []byte) {
	hash := crypto.SHA3_512(envelope)
	n.ackMu.Lock()
	defer n.ackMu.Unlock()
	if _, ignore := n.ignoredQueued[hash]; ignore {
		delete(n.ignoredQueued, hash)
		return
	}
	n.pendingAcks[hash] = struct{}{}
}

// sendDeliveryAck tells recipientFingerprint's identity that envelope has
// been received, so it can mark the corresponding Outbound delivered and,
// once every envelope it has queued is acknowledged, clear its own
// offline outbox. Sent directly through the dispatcher rather than
// through outbound.Manager: an acknowledgment is idempotent and a lost
// one simply delays the sender's own outbox clear, so it does not need
// the manager's retry bookkeeping.
func (n *Node) sendDeliveryAck(recipientFingerprint string, envelope []byte) {
	logger := logrus.WithFields(logrus.Fields{"function": "sendDeliveryAck", "package": "dnamessenger", "recipient": recipientFingerprint})

	n.mu.RLock()
	contact, ok := n.contacts[recipientFingerprint]
	n.mu.RUnlock()
	if !ok || len(contact.KEMPublicKey) == 0 {
		return
	}
	kemPub, err := crypto.UnmarshalKEMPublicKey(contact.KEMPublicKey)
	if err != nil {
		logger.WithError(err).Debug("could not parse contact kem key for ack")
		return
	}

	ackEnvelope, err := message.BuildDirect(n.id.Fingerprint, n.id.SignKeys,
		[]message.DirectRecipient{{Fingerprint: recipientFingerprint, KEMPublic: kemPub}},
		buildAckPayload(crypto.SHA3_512(envelope)))
	if err != nil {
		logger.WithError(err).Debug("could not build delivery acknowledgment")
		return
	}
	ackHash := crypto.SHA3_512(ackEnvelope)

	n.ackMu.Lock()
	n.ignoredQueued[ackHash] = struct{}{}
	n.ackMu.Unlock()

	if err := n.dispatcher.Send(recipientFingerprint, ackEnvelope); err != nil {
		logger.WithError(err).Debug("failed to send delivery acknowledgment")
	}

	n.ackMu.Lock()
	delete(n.ignoredQueued, ackHash)
	n.ackMu.Unlock()
}

// handleAck settles a received delivery acknowledgment: it marks the
// matching outbound message delivered and, once no envelope this
// identity queued offline remains unacknowledged, clears its outbox.
// queue.Clear replaces the whole outbox at once, so this never fires
// while any envelope is still outstanding.
func (n *Node) handleAck(envelopeHash [64]byte) {
	n.outbound.MarkDeliveredByEnvelopeHash(envelopeHash)

	n.ackMu.Lock()
	delete(n.pendingAcks, envelopeHash)
	drained := len(n.pendingAcks) == 0
	n.ackMu.Unlock()

	if !drained {
		return
	}
	if err := queue.Clear(n.dhtClient, n.id.Fingerprint, n.id.SignKeys); err != nil {
		logrus.WithFields(logrus.Fields{"function": "handleAck", "package": "dnamessenger"}).
			WithError(err).Debug("failed to clear acknowledged outbox")
	}
}

func (n *Node) markSeen(fingerprint string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok := n.contacts[fingerprint]; ok {
		c.MarkSeen()
	}
}

// AddContact resolves fingerprint's current key bundle from the
// keyserver and registers it as a known contact, ready to receive
// direct messages once a reachable address is found.
func (n *Node) AddContact(fingerprint string) (*identity.Contact, error) {
	bundle, err := n.keys.Lookup(fingerprint)
	if err != nil {
		return nil, fmt.Errorf("dnamessenger: resolve contact key bundle: %w", err)
	}

	contact := identity.NewContact(fingerprint)
	contact.UpdateKeys(bundle.SignPublicKey, bundle.KEMPublicKey)

	signPub, err := crypto.UnmarshalSignPublicKey(bundle.SignPublicKey)
	if err != nil {
		return nil, fmt.Errorf("dnamessenger: parse contact signing key: %w", err)
	}
	n.contactStore.SetSignPublicKey(fingerprint, signPub)

	if record, ok, err := transport.LookupPresence(n.dhtClient, fingerprint, signPub); err == nil && ok {
		n.contactStore.SetAddress(fingerprint, record.Address)
		if addr, err := net.ResolveTCPAddr("tcp", record.Address); err == nil {
			n.addRoutingNode(fingerprint, addr)
		}
	}

	n.mu.Lock()
	n.contacts[fingerprint] = contact
	n.mu.Unlock()

	n.caches.RegisterContactCache(n.id.Fingerprint, len(n.contacts))
	go n.acceptICE(fingerprint, signPub)
	return contact, nil
}

// acceptICE waits, as the non-controlling side, for fingerprint to
// establish an ICE connection, then serves inbound frames on it for as
// long as it stays open. One call per contact is spawned from
// AddContact; a failed or timed-out wait simply exits, since the next
// AddContact/RefreshContact cycle (or the peer's own outgoing Connect)
// will try again.
func (n *Node) acceptICE(peerFingerprint string, peerSignPub sign.PublicKey) {
	if n.iceAgent == nil || !n.iceAgent.Ready() {
		return
	}
	conn, err := n.iceAgent.Connect(peerFingerprint, peerSignPub, false)
	if err != nil {
		return
	}
	n.caches.Conns.Put(cache.ConnICE, peerFingerprint, conn)
	conn.Serve(time.Second, n.iceFrameHandler)
}

// RefreshContact re-resolves a known contact's address from its latest
// published presence record, so a NAT rebind or IP change is picked up.
func (n *Node) RefreshContact(fingerprint string) error {
	signPub, ok := n.contactStore.SignPublicKey(fingerprint)
	if !ok {
		return fmt.Errorf("dnamessenger: unknown contact %s", fingerprint)
	}
	record, ok, err := transport.LookupPresence(n.dhtClient, fingerprint, signPub)
	if err != nil {
		return fmt.Errorf("dnamessenger: lookup presence: %w", err)
	}
	if ok {
		n.contactStore.SetAddress(fingerprint, record.Address)
		if addr, err := net.ResolveTCPAddr("tcp", record.Address); err == nil {
			n.addRoutingNode(fingerprint, addr)
		}
	}
	return nil
}

// addRoutingNode registers fingerprint's resolved address in the
// Kademlia routing table, so maintenance pruning and closest-node
// lookups have a populated table to operate on. Failures to construct a
// dht.Node (a malformed fingerprint) are ignored; routing table entries
// are an optimization, not a correctness requirement.
func (n *Node) addRoutingNode(fingerprint string, addr net.Addr) {
	node, err := dht.NewNode(fingerprint, addr)
	if err != nil {
		return
	}
	n.routingTable.AddNode(node)
}

// SendDirect encodes plaintext for every recipient and hands the
// encoded envelope to the delivery ladder once per recipient.
func (n *Node) SendDirect(recipientFingerprints []string, plaintext []byte) error {
	recipients := make([]message.DirectRecipient, 0, len(recipientFingerprints))
	n.mu.RLock()
	for _, fp := range recipientFingerprints {
		c, ok := n.contacts[fp]
		if !ok || len(c.KEMPublicKey) == 0 {
			n.mu.RUnlock()
			return fmt.Errorf("dnamessenger: no cached kem key for contact %s", fp)
		}
		kemPub, err := crypto.UnmarshalKEMPublicKey(c.KEMPublicKey)
		if err != nil {
			n.mu.RUnlock()
			return fmt.Errorf("dnamessenger: parse kem key for %s: %w", fp, err)
		}
		recipients = append(recipients, message.DirectRecipient{Fingerprint: fp, KEMPublic: kemPub})
	}
	n.mu.RUnlock()

	envelope, err := message.BuildDirect(n.id.Fingerprint, n.id.SignKeys, recipients, plaintext)
	if err != nil {
		return fmt.Errorf("dnamessenger: build direct envelope: %w", err)
	}

	for _, fp := range recipientFingerprints {
		if _, err := n.outbound.Enqueue(fp, envelope); err != nil {
			return fmt.Errorf("dnamessenger: enqueue to %s: %w", fp, err)
		}
	}
	return nil
}

// SendText is a convenience wrapper around SendDirect for a single
// recipient and a UTF-8 text body.
func (n *Node) SendText(recipientFingerprint, text string) error {
	return n.SendDirect([]string{recipientFingerprint}, []byte(text))
}

// CreateGroup builds a new group owned by this identity, generates and
// distributes its first GSK generation to every member, and begins
// tracking it for GSK rotation discovery.
func (n *Node) CreateGroup(name, description string, memberFingerprints []string) (*group.Group, error) {
	if err := limits.ValidateName(name); err != nil {
		return nil, fmt.Errorf("dnamessenger: group name: %w", err)
	}
	if !containsFingerprint(memberFingerprints, n.id.Fingerprint) {
		memberFingerprints = append(memberFingerprints, n.id.Fingerprint)
	}

	memberKEMKeys, err := n.resolveMemberKEMKeys(memberFingerprints)
	if err != nil {
		return nil, err
	}

	g, err := group.New(name, description, n.id.Fingerprint, memberFingerprints)
	if err != nil {
		return nil, fmt.Errorf("dnamessenger: create group: %w", err)
	}

	if err := group.CreateAndPublish(n.dhtClient, n.gsk, g, memberKEMKeys, n.id.SignKeys); err != nil {
		return nil, fmt.Errorf("dnamessenger: publish group: %w", err)
	}

	n.mu.Lock()
	n.groups[g.UUID()] = g
	n.mu.Unlock()
	n.discovery.Track(g)

	return g, nil
}

// RotateGroup publishes the next GSK generation for groupID, rebuilding
// the Initial Key Packet against the group's current member list.
func (n *Node) RotateGroup(groupID uuid.UUID) error {
	n.mu.RLock()
	g, ok := n.groups[groupID]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("dnamessenger: unknown group %s", groupID)
	}

	memberKEMKeys, err := n.resolveMemberKEMKeys(g.Members())
	if err != nil {
		return err
	}
	return group.Rotate(n.dhtClient, n.gsk, g, memberKEMKeys, n.id.SignKeys)
}

func (n *Node) resolveMemberKEMKeys(members []string) (map[string]kem.PublicKey, error) {
	keys := make(map[string]kem.PublicKey, len(members))
	for _, fp := range members {
		if fp == n.id.Fingerprint {
			keys[fp] = n.id.KEMKeys.Public
			continue
		}
		bundle, err := n.keys.Lookup(fp)
		if err != nil {
			return nil, fmt.Errorf("dnamessenger: resolve member %s kem key: %w", fp, err)
		}
		pub, err := crypto.UnmarshalKEMPublicKey(bundle.KEMPublicKey)
		if err != nil {
			return nil, fmt.Errorf("dnamessenger: parse member %s kem key: %w", fp, err)
		}
		keys[fp] = pub
	}
	return keys, nil
}

// SendGroupText encrypts text under groupID's current GSK and enqueues
// delivery to every member but self.
func (n *Node) SendGroupText(groupID uuid.UUID, text string) error {
	n.mu.RLock()
	g, ok := n.groups[groupID]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("dnamessenger: unknown group %s", groupID)
	}

	gsk, ok := n.gsk.Load(groupID, g.GSKVersion())
	if !ok {
		return fmt.Errorf("dnamessenger: no local gsk for group %s generation %d", groupID, g.GSKVersion())
	}

	envelope, err := message.BuildGroup(n.id.Fingerprint, n.id.SignKeys, groupID, g.GSKVersion(), gsk, []byte(text))
	if err != nil {
		return fmt.Errorf("dnamessenger: build group envelope: %w", err)
	}

	for _, member := range g.Members() {
		if member == n.id.Fingerprint {
			continue
		}
		if _, err := n.outbound.Enqueue(member, envelope); err != nil {
			return fmt.Errorf("dnamessenger: enqueue to %s: %w", member, err)
		}
	}
	return nil
}

// handleTCPFrame is the Listener's FrameHandler: it tries every known
// contact's cached signing key until one verifies the frame, since a
// freshly accepted connection carries no prior indication of its sender.
func (n *Node) handleTCPFrame(frame []byte, addr net.Addr) error {
	sender, decoded, err := n.decodeFromKnownContact(frame)
	if err != nil {
		return err
	}
	n.contactStore.SetAddress(sender, addr.String())
	n.addRoutingNode(sender, addr)
	n.markSeen(sender)
	n.handleDecoded(sender, decoded, frame)
	return nil
}

// iceFrameHandler adapts decodeFromKnownContact to ice.FrameHandler's
// address-less signature.
func (n *Node) iceFrameHandler(frame []byte) error {
	sender, decoded, err := n.decodeFromKnownContact(frame)
	if err != nil {
		return err
	}
	n.markSeen(sender)
	n.handleDecoded(sender, decoded, frame)
	return nil
}

func (n *Node) decodeFromKnownContact(frame []byte) (string, *message.Decoded, error) {
	n.mu.RLock()
	candidates := make([]string, 0, len(n.contacts))
	for fp := range n.contacts {
		candidates = append(candidates, fp)
	}
	n.mu.RUnlock()

	for _, fp := range candidates {
		signPub, ok := n.contactStore.SignPublicKey(fp)
		if !ok {
			continue
		}
		decoded, err := message.Decode(frame, signPub, n.id.Fingerprint, n.id.KEMKeys.Private, n.gsk)
		if err != nil {
			var gskErr *message.GSKUnavailableError
			if errors.As(err, &gskErr) && n.discovery.FetchNow(gskErr.GroupID) {
				decoded, err = message.Decode(frame, signPub, n.id.Fingerprint, n.id.KEMKeys.Private, n.gsk)
			}
			if err != nil {
				continue
			}
		}
		if decoded.SenderFingerprint != fp {
			continue
		}
		return fp, decoded, nil
	}
	return "", nil, fmt.Errorf("dnamessenger: frame does not verify against any known contact")
}

// contactPresence adapts Node's contact liveness to group.PresenceSource
// for ownership election.
type contactPresence struct {
	n *Node
}

func (p *contactPresence) IsLive(fingerprint string) bool {
	p.n.mu.RLock()
	defer p.n.mu.RUnlock()
	c, ok := p.n.contacts[fingerprint]
	if !ok {
		return fingerprint == p.n.id.Fingerprint
	}
	return c.IsLiveWithin(livenessWindow)
}

// ElectGroupOwnerIfStale checks whether groupID's current owner has gone
// quiet long enough to trigger election, and if so installs the
// highest-ranked live member as the new owner.
func (n *Node) ElectGroupOwnerIfStale(groupID uuid.UUID) error {
	n.mu.RLock()
	g, ok := n.groups[groupID]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("dnamessenger: unknown group %s", groupID)
	}

	presence := &contactPresence{n: n}
	if !group.ShouldElect(g.Owner(), presence) {
		return nil
	}
	winner, found := group.ElectOwner(g.Members(), presence)
	if !found {
		return fmt.Errorf("dnamessenger: no live member to elect for group %s", groupID)
	}
	return g.SetOwner(winner)
}

func containsFingerprint(list []string, fingerprint string) bool {
	for _, fp := range list {
		if fp == fingerprint {
			return true
		}
	}
	return false
}
