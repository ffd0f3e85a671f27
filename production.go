package woolfarm

import (
	"time"
)

// ProductionBound holds the expected and maximum obtainable gain for a
// single resource over an elapsed interval. Expected assumes average
// real-time play; Max adds the tolerance factor and is the hard ceiling
// used for rejection.
type ProductionBound struct {
	Expected Decimal
	Max      Decimal
}

// ProductionConfig configures the production calculator. The formulas and
// tables are game-balance inputs; the calculator only evaluates them.
type ProductionConfig struct {
	// PrestigeBase is the base of the exponential prestige multiplier
	// (base^totalPrestiges). Default: 1.1.
	PrestigeBase Decimal `yaml:"prestige_base"`

	// Tolerance is the multiplier applied to Expected to obtain Max,
	// absorbing timing jitter. Default: 1.1.
	Tolerance Decimal `yaml:"tolerance"`

	// OfflineCap is the maximum elapsed window credited for offline
	// progress. Elapsed time beyond the cap is clamped before any
	// calculation. Default: 24h.
	OfflineCap time.Duration `yaml:"offline_cap"`

	// UpgradeMultipliers maps production-targeting upgrade ids to their
	// multiplier. Purchased upgrades absent from this table do not affect
	// production. Composed multiplicatively.
	UpgradeMultipliers map[string]Decimal `yaml:"upgrade_multipliers"`

	// BuildingOutputs maps building types to the resource they produce.
	// Buildings absent from the table produce wool.
	BuildingOutputs map[BuildingType]ResourceType `yaml:"building_outputs"`
}

// DefaultProductionConfig returns the standard balance parameters.
func DefaultProductionConfig() ProductionConfig {
	return ProductionConfig{
		PrestigeBase: MustDecimal("1.1"),
		Tolerance:    MustDecimal("1.1"),
		OfflineCap:   24 * time.Hour,
	}
}

// ProductionCalculator computes resource production bounds over elapsed
// real-time intervals. All methods are pure and use exact decimal
// arithmetic throughout; amounts routinely exceed IEEE double range.
type ProductionCalculator struct {
	config ProductionConfig
}

// NewProductionCalculator creates a calculator with the given config.
func NewProductionCalculator(config ProductionConfig) *ProductionCalculator {
	if config.PrestigeBase.IsZero() {
		config.PrestigeBase = MustDecimal("1.1")
	}
	if config.Tolerance.IsZero() {
		config.Tolerance = MustDecimal("1.1")
	}
	if config.OfflineCap <= 0 {
		config.OfflineCap = 24 * time.Hour
	}
	return &ProductionCalculator{config: config}
}

// OfflineCap returns the configured maximum credited elapsed window.
func (c *ProductionCalculator) OfflineCap() time.Duration {
	return c.config.OfflineCap
}

// ClampElapsed clamps an elapsed interval to the offline cap. Negative
// intervals clamp to zero.
func (c *ProductionCalculator) ClampElapsed(elapsed time.Duration) time.Duration {
	if elapsed < 0 {
		return 0
	}
	if elapsed > c.config.OfflineCap {
		return c.config.OfflineCap
	}
	return elapsed
}

// GlobalMultiplier returns the snapshot-wide production multiplier: all
// purchased production upgrades composed multiplicatively, times the
// prestige multiplier base^totalPrestiges.
func (c *ProductionCalculator) GlobalMultiplier(s *Snapshot) Decimal {
	mult := DecimalFromInt64(1)
	for _, u := range s.PurchasedUpgrades {
		if m, ok := c.config.UpgradeMultipliers[u]; ok {
			mult = mult.Mul(m)
		}
	}
	return mult.Mul(c.config.PrestigeBase.Pow(s.TotalPrestiges))
}

// outputResource returns the resource a building produces.
func (c *ProductionCalculator) outputResource(bt BuildingType) ResourceType {
	if rt, ok := c.config.BuildingOutputs[bt]; ok {
		return rt
	}
	return ResourceWool
}

// RatePerSecond returns the per-second production rate for each resource at
// the snapshot's current configuration: for every unlocked building,
// baseProduction x productionMultiplier x level, summed per output resource
// and scaled by the global multiplier.
func (c *ProductionCalculator) RatePerSecond(s *Snapshot) map[ResourceType]Decimal {
	global := c.GlobalMultiplier(s)
	rates := make(map[ResourceType]Decimal)
	for bt, b := range s.Buildings {
		if !b.Unlocked || b.Level <= 0 {
			continue
		}
		rate := b.BaseProduction.Mul(b.ProductionMultiplier).MulInt64(int64(b.Level))
		rt := c.outputResource(bt)
		rates[rt] = rates[rt].Add(rate)
	}
	for rt, rate := range rates {
		rates[rt] = rate.Mul(global)
	}
	return rates
}

// ExpectedProduction computes the expected and maximum obtainable gain for
// each resource over the elapsed interval, with elapsed time clamped to the
// offline cap first.
func (c *ProductionCalculator) ExpectedProduction(s *Snapshot, elapsed time.Duration) map[ResourceType]ProductionBound {
	elapsed = c.ClampElapsed(elapsed)
	elapsedMs := elapsed.Milliseconds()
	seconds := DecimalFromInt64(elapsedMs).Quo(DecimalFromInt64(1000))

	bounds := make(map[ResourceType]ProductionBound)
	for rt, rate := range c.RatePerSecond(s) {
		expected := rate.Mul(seconds)
		bounds[rt] = ProductionBound{
			Expected: expected,
			Max:      expected.Mul(c.config.Tolerance),
		}
	}
	return bounds
}

// MaxGain returns the production ceiling for a single resource over the
// elapsed interval. Zero for resources nothing produces.
func (c *ProductionCalculator) MaxGain(s *Snapshot, rt ResourceType, elapsed time.Duration) Decimal {
	if bound, ok := c.ExpectedProduction(s, elapsed)[rt]; ok {
		return bound.Max
	}
	return Decimal{}
}
