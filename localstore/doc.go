// Package localstore is the file-backed local persistence layer: this
// device's identity key material (always encrypted at rest), and cached
// contacts and group metadata (plaintext by default, optionally routed
// through the same encrypted store). It is the on-disk counterpart to
// the in-memory state identity.Contact and group.Group hold at runtime.
//
// The group symmetric key table has its own persistence in
// group.GSKManager and is not duplicated here.
package localstore
