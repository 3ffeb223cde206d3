// Package cache holds the two pieces of process-lifetime state every
// other subsystem reads from rather than recomputing: the tagged-union
// TCP/ICE connection cache the transport send ladder dials through, and
// the coordinator that brings up and tears down the other caches
// (keyserver lookups, per-identity contact counts) in a fixed order.
package cache
