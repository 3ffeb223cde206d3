package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigMatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 4001, cfg.ListenPort)
	assert.Equal(t, 4000, cfg.DHTPort)
	assert.Len(t, cfg.STUNServers, 3)
	assert.Equal(t, TURNServer{}, cfg.TURNServer)
	assert.Equal(t, 7, cfg.GSKRotationDays)
	assert.Equal(t, 120*time.Second, cfg.PresenceRefreshInterval)
	assert.Equal(t, 30*time.Second, cfg.ParallelRetrieveTimeout)
	assert.Equal(t, 16777216, cfg.MaxFrameBytes)
}

func TestDefaultConfigCallsAreIndependent(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()

	a.STUNServers[0] = "mutated"
	assert.NotEqual(t, a.STUNServers[0], b.STUNServers[0])
}
