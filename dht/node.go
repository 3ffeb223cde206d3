// Package dht implements the distributed hash table used for key
// publication, presence records, and offline-message outboxes: a
// Kademlia-style routing table over 64-byte (SHA3-512) key space, plus a
// client exposing signed/unsigned put, async get, get-all, and chunked
// store/fetch for values larger than the chunk threshold.
package dht

import (
	"encoding/hex"
	"errors"
	"net"
	"time"
)

var errInvalidFingerprintLength = errors.New("dht: fingerprint does not decode to a 64-byte node id")

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since the given time.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// defaultTimeProvider is the package-level default for standalone functions.
var defaultTimeProvider TimeProvider = DefaultTimeProvider{}

// SetDefaultTimeProvider sets the package-level time provider for testing.
// Pass nil to reset to the default implementation.
func SetDefaultTimeProvider(tp TimeProvider) {
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	defaultTimeProvider = tp
}

func getDefaultTimeProvider() TimeProvider {
	return defaultTimeProvider
}

// NodeStatus represents the connection status of a node.
type NodeStatus uint8

const (
	StatusUnknown NodeStatus = iota
	StatusBad
	StatusGood
)

// PingStats tracks ping statistics for a node.
type PingStats struct {
	LastPingSent     time.Time
	LastPingReceived time.Time
	PingCount        uint32
	SuccessCount     uint32
	FailureCount     uint32
}

// NodeID is a peer's position in the DHT key space: the raw SHA3-512
// digest that also underlies its 128-hex-character fingerprint.
type NodeID [64]byte

// NodeIDFromFingerprint decodes a 128-hex-character fingerprint into its
// NodeID. Returns an error if fingerprint isn't valid hex of the right length.
func NodeIDFromFingerprint(fingerprint string) (NodeID, error) {
	var id NodeID
	raw, err := hex.DecodeString(fingerprint)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errInvalidFingerprintLength
	}
	copy(id[:], raw)
	return id, nil
}

// String renders the NodeID as the hex fingerprint it was derived from.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Node represents a peer known to the DHT routing table.
type Node struct {
	ID        NodeID
	Fingerprint string
	Address   net.Addr
	LastSeen  time.Time
	Status    NodeStatus
	PingStats PingStats
}

// NewNode creates a node object for a peer fingerprint and network address.
func NewNode(fingerprint string, addr net.Addr) (*Node, error) {
	return NewNodeWithTimeProvider(fingerprint, addr, nil)
}

// NewNodeWithTimeProvider creates a node object with a custom time provider.
func NewNodeWithTimeProvider(fingerprint string, addr net.Addr, tp TimeProvider) (*Node, error) {
	id, err := NodeIDFromFingerprint(fingerprint)
	if err != nil {
		return nil, err
	}
	if tp == nil {
		tp = getDefaultTimeProvider()
	}
	return &Node{
		ID:          id,
		Fingerprint: fingerprint,
		Address:     addr,
		LastSeen:    tp.Now(),
		Status:      StatusUnknown,
	}, nil
}

// Distance calculates the XOR distance between this node and another node.
func (n *Node) Distance(other *Node) NodeID {
	var result NodeID
	for i := range result {
		result[i] = n.ID[i] ^ other.ID[i]
	}
	return result
}

// IsActive checks if the node has been seen within the timeout period.
func (n *Node) IsActive(timeout time.Duration) bool {
	return time.Since(n.LastSeen) < timeout
}

// Update marks the node as recently seen and updates its status.
func (n *Node) Update(status NodeStatus) {
	n.UpdateWithTimeProvider(status, nil)
}

// UpdateWithTimeProvider marks the node as recently seen with a custom time provider.
func (n *Node) UpdateWithTimeProvider(status NodeStatus, tp TimeProvider) {
	if tp == nil {
		tp = getDefaultTimeProvider()
	}
	n.LastSeen = tp.Now()
	n.Status = status
}

// RecordPingSent marks that a ping was sent to this node.
func (n *Node) RecordPingSent() {
	n.RecordPingSentWithTimeProvider(nil)
}

// RecordPingSentWithTimeProvider marks that a ping was sent with a custom time provider.
func (n *Node) RecordPingSentWithTimeProvider(tp TimeProvider) {
	if tp == nil {
		tp = getDefaultTimeProvider()
	}
	n.PingStats.LastPingSent = tp.Now()
	n.PingStats.PingCount++
}

// RecordPingResponse marks that a ping response was received from this node.
func (n *Node) RecordPingResponse(success bool) {
	n.RecordPingResponseWithTimeProvider(success, nil)
}

// RecordPingResponseWithTimeProvider marks a ping response with a custom time provider.
func (n *Node) RecordPingResponseWithTimeProvider(success bool, tp TimeProvider) {
	if tp == nil {
		tp = getDefaultTimeProvider()
	}
	if success {
		n.PingStats.LastPingReceived = tp.Now()
		n.PingStats.SuccessCount++
		n.UpdateWithTimeProvider(StatusGood, tp)
	} else {
		n.PingStats.FailureCount++
		if n.PingStats.FailureCount > n.PingStats.SuccessCount {
			n.UpdateWithTimeProvider(StatusBad, tp)
		}
	}
}

// GetReliability returns a reliability score for this node (0.0-1.0).
func (n *Node) GetReliability() float64 {
	if n.PingStats.PingCount == 0 {
		return 0.0
	}
	return float64(n.PingStats.SuccessCount) / float64(n.PingStats.PingCount)
}
