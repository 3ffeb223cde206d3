package group

import (
	"context"
	"sync"
	"time"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/sign"
	"github.com/dnamessenger/core/dht"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// pollInterval is how often each cached group's metadata is checked for a
// GSK generation bump.
const pollInterval = 2 * time.Minute

// OwnerKeyLookup resolves a fingerprint's current signing public key,
// typically backed by a keyserver cache.
type OwnerKeyLookup func(fingerprint string) (sign.PublicKey, error)

// Discovery periodically checks each tracked group's published metadata
// and, when gsk_version has advanced past the locally held generation,
// fetches and installs the new GSK.
type Discovery struct {
	client          *dht.Client
	gskManager      *GSKManager
	ownerKeys       OwnerKeyLookup
	selfFingerprint string
	selfKEMPriv     kem.PrivateKey

	mu     sync.RWMutex
	groups map[uuid.UUID]*Group

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
}

// NewDiscovery creates a poller for the given identity's groups.
func NewDiscovery(client *dht.Client, gskManager *GSKManager, ownerKeys OwnerKeyLookup, selfFingerprint string, selfKEMPriv kem.PrivateKey) *Discovery {
	ctx, cancel := context.WithCancel(context.Background())
	return &Discovery{
		client:          client,
		gskManager:      gskManager,
		ownerKeys:       ownerKeys,
		selfFingerprint: selfFingerprint,
		selfKEMPriv:     selfKEMPriv,
		groups:          make(map[uuid.UUID]*Group),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Track adds g to the set of groups this identity polls for GSK updates.
func (d *Discovery) Track(g *Group) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups[g.UUID()] = g
}

// Untrack removes a group, e.g. after the identity leaves it.
func (d *Discovery) Untrack(groupID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.groups, groupID)
}

// Start begins the polling loop; safe to call once.
func (d *Discovery) Start() {
	d.mu.Lock()
	if d.isRunning {
		d.mu.Unlock()
		return
	}
	d.isRunning = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.loop()
}

// Stop halts the polling loop and waits for it to exit.
func (d *Discovery) Stop() {
	d.cancel()
	d.wg.Wait()
}

func (d *Discovery) loop() {
	defer d.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.pollAll()
		}
	}
}

func (d *Discovery) pollAll() {
	d.mu.RLock()
	groups := make([]*Group, 0, len(d.groups))
	for _, g := range d.groups {
		groups = append(groups, g)
	}
	d.mu.RUnlock()

	for _, g := range groups {
		d.pollOne(g)
	}
}

// FetchNow runs a single synchronous poll of groupID outside the regular
// ticker, so a decode that failed with a missing GSK generation can
// retry immediately instead of waiting out pollInterval. Returns false
// if groupID is not tracked.
func (d *Discovery) FetchNow(groupID uuid.UUID) bool {
	d.mu.RLock()
	g, ok := d.groups[groupID]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	d.pollOne(g)
	return true
}

func (d *Discovery) pollOne(g *Group) {
	logger := logrus.WithFields(logrus.Fields{"function": "pollOne", "package": "group", "group": g.UUID().String()})

	ownerPub, err := d.ownerKeys(g.Owner())
	if err != nil {
		logger.WithError(err).Warn("could not resolve owner signing key")
		return
	}

	meta, err := FetchMetadata(d.client, g.UUID(), ownerPub)
	if err != nil {
		logger.WithError(err).Debug("metadata fetch failed")
		return
	}

	if meta.GSKVersion <= g.GSKVersion() {
		return
	}

	if _, have := d.gskManager.Load(g.UUID(), meta.GSKVersion); have {
		g.BumpGSKVersion(meta.GSKVersion)
		return
	}

	groupID := g.UUID()
	ikpData, err := d.client.ChunkedFetch(groupID[:], meta.GSKVersion)
	if err != nil {
		logger.WithError(err).Warn("ikp fetch failed")
		return
	}
	ikp, err := ParseIKP(ikpData)
	if err != nil {
		logger.WithError(err).Warn("ikp parse failed")
		return
	}
	if err := ikp.Verify(ownerPub); err != nil {
		logger.WithError(err).Warn("ikp signature invalid")
		return
	}

	entry, ok := ikp.FindMember(d.selfFingerprint)
	if !ok {
		logger.Warn("own fingerprint not present in ikp member list")
		return
	}

	gsk, err := RecoverGSK(entry, d.selfKEMPriv)
	if err != nil {
		logger.WithError(err).Warn("gsk recovery failed")
		return
	}

	if err := d.gskManager.Store(g.UUID(), meta.GSKVersion, gsk); err != nil {
		logger.WithError(err).Warn("failed to persist recovered gsk")
		return
	}
	g.BumpGSKVersion(meta.GSKVersion)
	logger.WithField("version", meta.GSKVersion).Info("installed new gsk generation")
}
