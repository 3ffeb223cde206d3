// Package identity implements local identity and contact state: the
// signing/KEM key pairs and fingerprint that define "this device", and the
// contact book of fingerprints seen through presence lookups or manual
// introduction.
//
// Example:
//
//	id, err := identity.New()
//	c := identity.NewContact(peerFingerprint)
//	c.SetName("Alice")
package identity
