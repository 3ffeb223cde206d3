// Package transport implements the outgoing send ladder (direct TCP, ICE,
// offline-queue fallback), the persistent TCP listener, presence
// publication, and the length-prefixed frame format shared by both wire
// transports.
package transport
