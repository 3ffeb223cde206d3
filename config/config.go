package config

import "time"

// Config holds every tunable a running identity needs at startup.
// Mirrors the teacher's toxcore.Options: a plain struct with a
// DefaultConfig constructor, no external config-file library.
type Config struct {
	// ListenPort is the TCP port the persistent listener binds.
	ListenPort int
	// DHTPort records a UDP port for DHT traffic. Node does not read it
	// and binds no DHT socket; its dht.Client keeps values in a local
	// in-process Store.
	DHTPort int
	// STUNServers lists STUN servers in the order to try them. Node does
	// not read it; the ICE agent always tries ice.DefaultSTUNServers,
	// which holds the same three defaults.
	STUNServers []string
	// TURNServer optionally names a relay server added to every ICE
	// gather attempt. A zero-value TURNServer means no relay is used.
	TURNServer TURNServer
	// DataDir is the root directory local persistence is written under.
	DataDir string
	// IdentityFingerprint is the active identity's own fingerprint, once
	// known; empty before first identity creation or load.
	IdentityFingerprint string
	// GSKRotationDays records a GSK rotation period in days. Node does not
	// read it; group.GSKManager.NeedsRotation uses the group package's
	// fixed seven-day key lifetime.
	GSKRotationDays int
	// PresenceRefreshInterval records how often a presence record is
	// republished. Node does not read it; transport.Publisher republishes
	// on its own fixed ten-minute interval.
	PresenceRefreshInterval time.Duration
	// ParallelRetrieveTimeout records a bound on PollContacts' fan-out
	// wait. Node does not read it; queue.PollContacts uses its own fixed
	// 30-second bound.
	ParallelRetrieveTimeout time.Duration
	// MaxFrameBytes records a bound on a wire frame's declared length.
	// Node does not read it; frames are checked against
	// limits.MaxFrameBytes, which has the same 16 MiB value.
	MaxFrameBytes int
}

// TURNServer names an optional TURN relay and its long-term credentials.
type TURNServer struct {
	Host     string
	Port     int
	Username string
	Password string
}

// DefaultConfig returns the defaults every identity starts from absent
// explicit overrides.
func DefaultConfig() *Config {
	return &Config{
		ListenPort: 4001,
		DHTPort:    4000,
		STUNServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
			"stun:stun.cloudflare.com:3478",
		},
		DataDir:                 "./dnamessenger-data",
		GSKRotationDays:         7,
		PresenceRefreshInterval: 120 * time.Second,
		ParallelRetrieveTimeout: 30 * time.Second,
		MaxFrameBytes:           16 * 1024 * 1024,
	}
}
