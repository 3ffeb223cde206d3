package group

import (
	"bytes"

	"github.com/dnamessenger/core/crypto"
	"github.com/sirupsen/logrus"
)

// PresenceSource answers whether a fingerprint has been seen within the
// liveness window, letting ownership election stay independent of
// whichever presence cache implementation is wired in.
type PresenceSource interface {
	IsLive(fingerprint string) bool
}

// ElectOwner picks the new owner for a group whose current owner has gone
// stale: the live member whose SHA3-512(fingerprint) is lexicographically
// highest. Returns false if no member is currently live.
func ElectOwner(members []string, presence PresenceSource) (string, bool) {
	logger := logrus.WithFields(logrus.Fields{"function": "ElectOwner", "package": "group"})

	var winner string
	var winnerHash [64]byte
	found := false

	for _, fp := range members {
		if !presence.IsLive(fp) {
			continue
		}
		hash := crypto.SHA3_512([]byte(fp))
		if !found || bytes.Compare(hash[:], winnerHash[:]) > 0 {
			winner = fp
			winnerHash = hash
			found = true
		}
	}

	if !found {
		logger.Warn("no live member to elect as owner")
		return "", false
	}
	logger.WithField("elected", winner).Info("elected new group owner")
	return winner, true
}

// ShouldElect reports whether the current owner has been unseen long
// enough to trigger election, per the 7-day staleness window.
func ShouldElect(ownerFingerprint string, presence PresenceSource) bool {
	return !presence.IsLive(ownerFingerprint)
}
