package woolfarm

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sort"
)

// CanonicalBytes produces the canonical serialization of a snapshot for
// hashing: fields in a fixed order, map keys sorted, decimal amounts as
// exact strings. Two logically identical snapshots serialize identically
// regardless of construction order. The checksum and deviceId fields are
// provenance, not state, and are excluded.
func CanonicalBytes(s *Snapshot) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "v=%d;ts=%d;pt=%d;", s.Version, s.Timestamp.UnixMilli(), s.PlayTimeMs)

	b.WriteString("r:")
	for _, rt := range s.sortedResourceTypes() {
		fmt.Fprintf(&b, "%s=%s,", rt, s.Resources[rt])
	}
	b.WriteString(";b:")
	for _, bt := range s.sortedBuildingTypes() {
		bd := s.Buildings[bt]
		unlocked := 0
		if bd.Unlocked {
			unlocked = 1
		}
		fmt.Fprintf(&b, "%s=%d|%d|%s|%s|%s,", bt, bd.Level, unlocked,
			bd.BaseProduction, bd.ProductionMultiplier, bd.Efficiency)
	}

	b.WriteString(";u:")
	upgrades := make([]string, len(s.PurchasedUpgrades))
	copy(upgrades, s.PurchasedUpgrades)
	sort.Strings(upgrades)
	for _, u := range upgrades {
		b.WriteString(u)
		b.WriteByte(',')
	}

	fmt.Fprintf(&b, ";pl=%d;tp=%d", s.PrestigeLevel, s.TotalPrestiges)
	return b.Bytes()
}

// ComputeChecksum returns the hex-encoded SHA-256 digest of the snapshot's
// canonical serialization. Pure function, no side effects.
func ComputeChecksum(s *Snapshot) string {
	sum := sha256.Sum256(CanonicalBytes(s))
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum recomputes the snapshot checksum and compares it against
// the expected hash in constant time. A mismatch signals corruption and is
// surfaced to the validator; it is never silently repaired here.
func VerifyChecksum(s *Snapshot, expected string) bool {
	want, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(CanonicalBytes(s))
	if len(want) != len(sum) {
		return false
	}
	return subtle.ConstantTimeCompare(sum[:], want) == 1
}
