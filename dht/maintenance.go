package dht

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MaintenanceConfig controls the periodic upkeep a Node performs on its
// routing table and local value store.
type MaintenanceConfig struct {
	// PruneInterval is how often stale routing-table entries and expired
	// store values are swept.
	PruneInterval time.Duration
	// NodeTimeout is how long a routing-table node may go unseen before
	// it is evicted.
	NodeTimeout time.Duration
}

// DefaultMaintenanceConfig returns sensible defaults.
func DefaultMaintenanceConfig() *MaintenanceConfig {
	return &MaintenanceConfig{
		PruneInterval: 5 * time.Minute,
		NodeTimeout:   1 * time.Hour,
	}
}

// Maintainer periodically prunes a RoutingTable and Store so neither
// accumulates stale entries indefinitely.
type Maintainer struct {
	routingTable *RoutingTable
	store        *Store
	config       *MaintenanceConfig

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewMaintainer creates a maintenance loop for routingTable and store.
// Either may be nil if this node doesn't maintain one of them.
func NewMaintainer(routingTable *RoutingTable, store *Store, config *MaintenanceConfig) *Maintainer {
	if config == nil {
		config = DefaultMaintenanceConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Maintainer{
		routingTable: routingTable,
		store:        store,
		config:       config,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins the prune loop; safe to call once.
func (m *Maintainer) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isRunning {
		return
	}
	m.isRunning = true
	m.wg.Add(1)
	go m.pruneRoutine()
}

// Stop halts the prune loop and waits for it to exit.
func (m *Maintainer) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = false
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Maintainer) pruneRoutine() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.pruneOnce()
		}
	}
}

func (m *Maintainer) pruneOnce() {
	logger := logrus.WithFields(logrus.Fields{"function": "pruneOnce", "package": "dht"})

	if m.routingTable != nil {
		removed := m.routingTable.RemoveStaleNodes(m.config.NodeTimeout)
		if removed > 0 {
			logger.WithField("removed_nodes", removed).Debug("pruned stale routing table nodes")
		}
	}
	if m.store != nil {
		removed := m.store.PruneExpired()
		if removed > 0 {
			logger.WithField("removed_values", removed).Debug("pruned expired store values")
		}
	}
}
