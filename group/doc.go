// Package group implements group messaging: the group model, the local
// store of versioned group symmetric keys (GSKs), the Initial Key Packet
// (IKP) wire codec used to distribute a GSK to members, and ownership
// election when the current owner goes stale.
package group
