// Package ice implements the persistent NAT-traversal agent: candidate
// gathering at startup, publication of local candidates to the DHT, and
// per-peer connectivity establishment against a remote peer's published
// candidates.
package ice
