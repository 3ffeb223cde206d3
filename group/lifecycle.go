package group

import (
	"fmt"

	"github.com/cloudflare/circl/kem"
	"github.com/dnamessenger/core/crypto"
	"github.com/dnamessenger/core/dht"
)

// CreateAndPublish builds a brand-new group as GSK version 0: generates
// its first GSK, builds and publishes the Initial Key Packet, and
// publishes the group metadata record. memberKEMKeys must hold a cached
// public key for every member in g.
func CreateAndPublish(client *dht.Client, gskManager *GSKManager, g *Group, memberKEMKeys map[string]kem.PublicKey, signer *crypto.SignKeyPair) error {
	return publishGeneration(client, gskManager, g, 0, memberKEMKeys, signer)
}

// Rotate generates the next GSK generation for g, rebuilds the Initial
// Key Packet against the current member list, and republishes both the
// packet and the metadata record. Call this on the 7-day timer, on
// membership change, or on explicit owner action. The prior generation
// remains in gskManager for decrypting history.
func Rotate(client *dht.Client, gskManager *GSKManager, g *Group, memberKEMKeys map[string]kem.PublicKey, signer *crypto.SignKeyPair) error {
	return publishGeneration(client, gskManager, g, g.GSKVersion()+1, memberKEMKeys, signer)
}

func publishGeneration(client *dht.Client, gskManager *GSKManager, g *Group, version uint32, memberKEMKeys map[string]kem.PublicKey, signer *crypto.SignKeyPair) error {
	gsk, err := gskManager.Generate(g.UUID(), version)
	if err != nil {
		return fmt.Errorf("group: generate gsk: %w", err)
	}

	ikp, err := BuildIKP(g.UUID(), version, g.Members(), memberKEMKeys, gsk, signer)
	if err != nil {
		return fmt.Errorf("group: build ikp: %w", err)
	}
	ikpData, err := ikp.Encode()
	if err != nil {
		return fmt.Errorf("group: encode ikp: %w", err)
	}

	groupID := g.UUID()
	if err := client.ChunkedStore(groupID[:], ikpData, version, dht.TTLSevenDay); err != nil {
		return fmt.Errorf("group: store ikp: %w", err)
	}

	g.BumpGSKVersion(version)
	if err := PublishMetadata(client, g, signer); err != nil {
		return fmt.Errorf("group: publish metadata: %w", err)
	}
	return nil
}
