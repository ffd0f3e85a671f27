package woolfarm

import (
	"testing"
	"time"
)

func TestDefaultProductionConfig(t *testing.T) {
	cfg := DefaultProductionConfig()
	if cfg.PrestigeBase.String() != "1.1" {
		t.Errorf("PrestigeBase = %s, want 1.1", cfg.PrestigeBase)
	}
	if cfg.Tolerance.String() != "1.1" {
		t.Errorf("Tolerance = %s, want 1.1", cfg.Tolerance)
	}
	if cfg.OfflineCap != 24*time.Hour {
		t.Errorf("OfflineCap = %v, want 24h", cfg.OfflineCap)
	}
}

func TestClampElapsed(t *testing.T) {
	c := NewProductionCalculator(DefaultProductionConfig())
	if got := c.ClampElapsed(-time.Hour); got != 0 {
		t.Errorf("negative elapsed clamped to %v, want 0", got)
	}
	if got := c.ClampElapsed(time.Hour); got != time.Hour {
		t.Errorf("in-range elapsed changed to %v", got)
	}
	if got := c.ClampElapsed(48 * time.Hour); got != 24*time.Hour {
		t.Errorf("over-cap elapsed clamped to %v, want 24h", got)
	}
}

func TestRatePerSecond(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewProductionCalculator(DefaultProductionConfig())
	s := testSnapshot(t0)

	rates := c.RatePerSecond(s)
	if got := rates[ResourceWool].String(); got != "1" {
		t.Errorf("wool rate = %s, want 1", got)
	}

	// Locked buildings produce nothing.
	b := s.Buildings["barn"]
	b.Unlocked = false
	s.Buildings["barn"] = b
	if rate, ok := c.RatePerSecond(s)[ResourceWool]; ok && !rate.IsZero() {
		t.Errorf("locked building still produces %s", rate)
	}
}

func TestRatePerSecondScalesWithLevel(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewProductionCalculator(DefaultProductionConfig())
	s := testSnapshot(t0)
	b := s.Buildings["barn"]
	b.Level = 5
	b.ProductionMultiplier = MustDecimal("2")
	s.Buildings["barn"] = b

	if got := c.RatePerSecond(s)[ResourceWool].String(); got != "10" {
		t.Errorf("wool rate = %s, want 10", got)
	}
}

func TestGlobalMultiplier(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := DefaultProductionConfig()
	cfg.UpgradeMultipliers = map[string]Decimal{"golden-shears": MustDecimal("2")}
	c := NewProductionCalculator(cfg)

	s := testSnapshot(t0)
	if got := c.GlobalMultiplier(s).String(); got != "1" {
		t.Errorf("base multiplier = %s, want 1", got)
	}

	s.TotalPrestiges = 2
	if got := c.GlobalMultiplier(s).String(); got != "1.21" {
		t.Errorf("prestige multiplier = %s, want 1.21", got)
	}

	s.PurchasedUpgrades = []string{"golden-shears", "cosmetic-hat"}
	if got := c.GlobalMultiplier(s).String(); got != "2.42" {
		t.Errorf("combined multiplier = %s, want 2.42", got)
	}
}

func TestExpectedProduction(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewProductionCalculator(DefaultProductionConfig())
	s := testSnapshot(t0)

	bounds := c.ExpectedProduction(s, time.Hour)
	wool := bounds[ResourceWool]
	if wool.Expected.String() != "3600" {
		t.Errorf("expected wool = %s, want 3600", wool.Expected)
	}
	if wool.Max.String() != "3960" {
		t.Errorf("max wool = %s, want 3960", wool.Max)
	}
}

func TestExpectedProductionOfflineCap(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewProductionCalculator(DefaultProductionConfig())
	s := testSnapshot(t0)

	capped := c.ExpectedProduction(s, 24*time.Hour)[ResourceWool]
	over := c.ExpectedProduction(s, 72*time.Hour)[ResourceWool]
	if capped.Max.Cmp(over.Max) != 0 {
		t.Errorf("production beyond the offline cap: %s vs %s", over.Max, capped.Max)
	}
	if capped.Expected.String() != "86400" {
		t.Errorf("24h expected wool = %s, want 86400", capped.Expected)
	}
}

func TestMaxGain(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewProductionCalculator(DefaultProductionConfig())
	s := testSnapshot(t0)

	if got := c.MaxGain(s, ResourceWool, 10*time.Second).String(); got != "11" {
		t.Errorf("10s wool ceiling = %s, want 11", got)
	}
	if got := c.MaxGain(s, ResourceCoins, time.Hour); !got.IsZero() {
		t.Errorf("coins ceiling = %s, want 0 (nothing produces coins)", got)
	}
}

func TestBuildingOutputRouting(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := DefaultProductionConfig()
	cfg.BuildingOutputs = map[BuildingType]ResourceType{"mint": ResourceCoins}
	c := NewProductionCalculator(cfg)

	s := testSnapshot(t0)
	s.Buildings["mint"] = Building{
		Level:                2,
		Unlocked:             true,
		BaseProduction:       MustDecimal("3"),
		ProductionMultiplier: MustDecimal("1"),
	}

	rates := c.RatePerSecond(s)
	if got := rates[ResourceCoins].String(); got != "6" {
		t.Errorf("coins rate = %s, want 6", got)
	}
	if got := rates[ResourceWool].String(); got != "1" {
		t.Errorf("wool rate = %s, want 1", got)
	}
}
