// Package keyserver resolves a fingerprint to its published public keys:
// cache-first, falling back to a DHT lookup on miss, with a 7-day
// freshness window on cached entries.
package keyserver
