package group

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrCreatorNotMember is returned when a group is built without its
// creator present in the member list.
var ErrCreatorNotMember = errors.New("group: creator_fingerprint not in members")

// ErrNotOwner is returned when a mutation is attempted by a fingerprint
// other than the group's current owner.
var ErrNotOwner = errors.New("group: acting fingerprint is not the owner")

// Group is a group chat's metadata: membership, the owner (initially its
// creator), and the revision counters that track metadata and GSK
// generations independently.
type Group struct {
	mu sync.RWMutex

	uuid               uuid.UUID
	name               string
	description        string
	creatorFingerprint string
	ownerFingerprint   string
	members            []string
	version            uint32
	gskVersion         uint32
	createdAt          time.Time
	updatedAt          time.Time
}

// New creates a group owned by creatorFingerprint, which must be present
// in members.
func New(name, description, creatorFingerprint string, members []string) (*Group, error) {
	if !contains(members, creatorFingerprint) {
		return nil, ErrCreatorNotMember
	}

	now := time.Now()
	ordered := append([]string(nil), members...)
	return &Group{
		uuid:               uuid.New(),
		name:               name,
		description:        description,
		creatorFingerprint: creatorFingerprint,
		ownerFingerprint:   creatorFingerprint,
		members:            ordered,
		version:            0,
		gskVersion:         0,
		createdAt:          now,
		updatedAt:          now,
	}, nil
}

func contains(members []string, fingerprint string) bool {
	for _, m := range members {
		if m == fingerprint {
			return true
		}
	}
	return false
}

// UUID returns the group's identifier.
func (g *Group) UUID() uuid.UUID {
	return g.uuid
}

// UUIDString returns the group UUID's 36-character string form, without
// the trailing NUL the IKP header adds after it.
func (g *Group) UUIDString() string {
	return g.uuid.String()
}

// Name returns the group's display name.
func (g *Group) Name() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.name
}

// Members returns a copy of the ordered member fingerprint list.
func (g *Group) Members() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.members...)
}

// Owner returns the fingerprint currently responsible for GSK rotation
// and metadata mutation.
func (g *Group) Owner() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ownerFingerprint
}

// Version returns the metadata revision counter.
func (g *Group) Version() uint32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// GSKVersion returns the current GSK generation published for this group.
func (g *Group) GSKVersion() uint32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.gskVersion
}

// AddMember appends a new member fingerprint and bumps the metadata
// version. Only the current owner may call this.
func (g *Group) AddMember(actingFingerprint, newMember string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if actingFingerprint != g.ownerFingerprint {
		return ErrNotOwner
	}
	if contains(g.members, newMember) {
		return nil
	}
	g.members = append(g.members, newMember)
	g.version++
	g.updatedAt = time.Now()
	return nil
}

// RemoveMember drops a member fingerprint and bumps the metadata version.
// Only the current owner may call this; removing the owner is rejected —
// ownership transfer happens via SetOwner during election.
func (g *Group) RemoveMember(actingFingerprint, member string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if actingFingerprint != g.ownerFingerprint {
		return ErrNotOwner
	}
	if member == g.ownerFingerprint {
		return fmt.Errorf("group: cannot remove current owner %s", member)
	}
	for i, m := range g.members {
		if m == member {
			g.members = append(g.members[:i], g.members[i+1:]...)
			g.version++
			g.updatedAt = time.Now()
			return nil
		}
	}
	return nil
}

// SetOwner installs newOwner as the acting owner, used by the election
// path when the prior owner has gone stale. newOwner must already be a
// member.
func (g *Group) SetOwner(newOwner string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !contains(g.members, newOwner) {
		return fmt.Errorf("group: elected owner %s is not a member", newOwner)
	}
	g.ownerFingerprint = newOwner
	g.version++
	g.updatedAt = time.Now()
	return nil
}

// BumpGSKVersion records that a new GSK generation has been published.
func (g *Group) BumpGSKVersion(version uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if version > g.gskVersion {
		g.gskVersion = version
		g.updatedAt = time.Now()
	}
}
