package group

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudflare/circl/sign"
	"github.com/dnamessenger/core/crypto"
	"github.com/dnamessenger/core/dht"
	"github.com/google/uuid"
)

// Metadata is the JSON document published at a group's metadata key,
// letting members discover membership and GSK generation changes without
// fetching the full IKP.
type Metadata struct {
	UUID               string   `json:"uuid"`
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	CreatorFingerprint string   `json:"creator_fingerprint"`
	OwnerFingerprint   string   `json:"owner_fingerprint"`
	Members            []string `json:"members"`
	Version            uint32   `json:"version"`
	GSKVersion         uint32   `json:"gsk_version"`
	CreatedAt          int64    `json:"created_at"`
	UpdatedAt          int64    `json:"updated_at"`
}

// ToMetadata snapshots a Group for publication.
func (g *Group) ToMetadata() Metadata {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Metadata{
		UUID:               g.uuid.String(),
		Name:               g.name,
		Description:        g.description,
		CreatorFingerprint: g.creatorFingerprint,
		OwnerFingerprint:   g.ownerFingerprint,
		Members:            append([]string(nil), g.members...),
		Version:            g.version,
		GSKVersion:         g.gskVersion,
		CreatedAt:          g.createdAt.Unix(),
		UpdatedAt:          g.updatedAt.Unix(),
	}
}

// FromMetadata rebuilds a Group from a previously persisted or fetched
// Metadata snapshot, e.g. when loading local storage at startup or after
// a successful FetchMetadata.
func FromMetadata(meta Metadata) (*Group, error) {
	id, err := uuid.Parse(meta.UUID)
	if err != nil {
		return nil, fmt.Errorf("group: parse metadata uuid: %w", err)
	}
	return &Group{
		uuid:               id,
		name:               meta.Name,
		description:        meta.Description,
		creatorFingerprint: meta.CreatorFingerprint,
		ownerFingerprint:   meta.OwnerFingerprint,
		members:            append([]string(nil), meta.Members...),
		version:            meta.Version,
		gskVersion:         meta.GSKVersion,
		createdAt:          time.Unix(meta.CreatedAt, 0),
		updatedAt:          time.Unix(meta.UpdatedAt, 0),
	}, nil
}

func metadataKey(groupID uuid.UUID) []byte {
	sum := crypto.SHA3_512([]byte(groupID.String() + ":metadata"))
	return sum[:]
}

// PublishMetadata signs and stores the group's current metadata, replacing
// any prior revision at the same key by publishing with the seq after the
// one currently stored there.
func PublishMetadata(client *dht.Client, g *Group, signer *crypto.SignKeyPair) error {
	meta := g.ToMetadata()
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("group: marshal metadata: %w", err)
	}
	key := metadataKey(g.uuid)
	seq, _ := client.CurrentSeq(key, 1)
	return client.PutSigned(key, data, 1, seq+1, dht.TTLSevenDay, signer)
}

// FetchMetadata reads the published metadata for groupID and verifies it
// against ownerSignPub.
func FetchMetadata(client *dht.Client, groupID uuid.UUID, ownerSignPub sign.PublicKey) (Metadata, error) {
	data, ok, err := client.GetSigned(metadataKey(groupID), ownerSignPub)
	if err != nil {
		return Metadata{}, fmt.Errorf("group: verify metadata signature: %w", err)
	}
	if !ok {
		return Metadata{}, fmt.Errorf("group: no metadata published for %s", groupID)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("group: parse metadata: %w", err)
	}
	return meta, nil
}
