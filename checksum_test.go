package woolfarm

import (
	"testing"
	"time"
)

func TestComputeChecksumDeterministic(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := testSnapshot(t0)
	b := testSnapshot(t0)

	if ComputeChecksum(a) != ComputeChecksum(b) {
		t.Error("identical snapshots must produce identical checksums")
	}
}

func TestComputeChecksumIgnoresMapOrder(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := testSnapshot(t0)
	a.PurchasedUpgrades = []string{"dye", "shears"}

	b := testSnapshot(t0)
	b.PurchasedUpgrades = []string{"shears", "dye"}

	if ComputeChecksum(a) != ComputeChecksum(b) {
		t.Error("upgrade order must not affect the checksum")
	}
}

func TestComputeChecksumSensitivity(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := testSnapshot(t0)
	baseSum := ComputeChecksum(base)

	mutations := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"resource amount", func(s *Snapshot) { s.Resources[ResourceWool] = MustDecimal("0.000000000001") }},
		{"playtime", func(s *Snapshot) { s.PlayTimeMs = 1 }},
		{"timestamp", func(s *Snapshot) { s.Timestamp = s.Timestamp.Add(time.Millisecond) }},
		{"building level", func(s *Snapshot) {
			b := s.Buildings["barn"]
			b.Level++
			s.Buildings["barn"] = b
		}},
		{"upgrade added", func(s *Snapshot) { s.PurchasedUpgrades = []string{"dye"} }},
		{"prestige", func(s *Snapshot) { s.TotalPrestiges = 1 }},
		{"version", func(s *Snapshot) { s.Version = 2 }},
	}
	for _, m := range mutations {
		s := testSnapshot(t0)
		m.mutate(s)
		if ComputeChecksum(s) == baseSum {
			t.Errorf("%s: checksum unchanged after mutation", m.name)
		}
	}
}

func TestChecksumExcludesProvenance(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := testSnapshot(t0)
	b := testSnapshot(t0)
	b.Checksum = "deadbeef"
	b.DeviceID = "phone-1"

	if ComputeChecksum(a) != ComputeChecksum(b) {
		t.Error("checksum and deviceId fields must not feed the hash")
	}
}

func TestVerifyChecksum(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := testSnapshot(t0)
	sum := ComputeChecksum(s)

	if !VerifyChecksum(s, sum) {
		t.Error("freshly computed checksum must verify")
	}

	s.Resources[ResourceWool] = MustDecimal("1")
	if VerifyChecksum(s, sum) {
		t.Error("tampered snapshot must fail verification")
	}
	if VerifyChecksum(s, "not-hex") {
		t.Error("malformed hash must fail verification")
	}
	if VerifyChecksum(s, "abcd") {
		t.Error("truncated hash must fail verification")
	}
}
