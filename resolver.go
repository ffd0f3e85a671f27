package woolfarm

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ConflictKind classifies a sync conflict.
type ConflictKind int

const (
	// ConflictValueMismatch is a plain divergence of a scalar field.
	ConflictValueMismatch ConflictKind = iota
	// ConflictConcurrentModification is a divergence where both devices
	// independently progressed the same field.
	ConflictConcurrentModification
	// ConflictStructural is a divergence on structure (levels, upgrade
	// sets, prestige counters).
	ConflictStructural
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictValueMismatch:
		return "value_mismatch"
	case ConflictConcurrentModification:
		return "concurrent_modification"
	case ConflictStructural:
		return "structural"
	default:
		return "unknown"
	}
}

// SyncConflict records one field resolved via a non-trivial policy during a
// three-way merge. All conflicts are auto-resolved; the record exists for
// audit purposes and is ephemeral to the sync call.
type SyncConflict struct {
	ID            string       `json:"id"`
	FieldPath     string       `json:"field_path"`
	LocalValue    string       `json:"local_value"`
	RemoteValue   string       `json:"remote_value"`
	ResolvedValue string       `json:"resolved_value"`
	Kind          ConflictKind `json:"kind"`
	Severity      Severity     `json:"severity"`
	Resolution    string       `json:"resolution"`
}

// ResourceClass determines the merge strategy for a resource type.
type ResourceClass int

const (
	// ResourceClassSpendable is a current balance: spending on one device
	// must not be un-spent by merging. Resolved by max-if-affordable with
	// a configurable fallback.
	ResourceClassSpendable ResourceClass = iota
	// ResourceClassAdditive is a monotonic cumulative counter: both
	// devices' independent deltas are preserved.
	ResourceClassAdditive
)

// Spendable-balance fallback policies for when neither side's increase is
// justified by its own production bound.
const (
	// FallbackLatestTimestamp prefers the side with the later snapshot
	// timestamp. Default.
	FallbackLatestTimestamp = "latest-timestamp"
	// FallbackDeviceID prefers the side with the lexicographically larger
	// device id.
	FallbackDeviceID = "device-id"
)

// CostCurve models a building's level cost: Base * Growth^(level-1).
type CostCurve struct {
	Base   Decimal `yaml:"base"`
	Growth Decimal `yaml:"growth"`
}

// CostAt returns the cost of raising a building to the given level.
func (c CostCurve) CostAt(level int) Decimal {
	if level <= 0 {
		return Decimal{}
	}
	growth := c.Growth
	if growth.IsZero() {
		growth = DecimalFromInt64(1)
	}
	return c.Base.Mul(growth.Pow(level - 1))
}

// ResolverConfig configures the three-way merge policies. Cost tables and
// resource classes are game-balance inputs.
type ResolverConfig struct {
	// ResourceClasses overrides the merge class per resource type.
	// Unlisted resources are spendable balances.
	ResourceClasses map[ResourceType]ResourceClass `yaml:"resource_classes"`

	// SpendResource is the balance that building levels and upgrades are
	// paid from. Default: coins.
	SpendResource ResourceType `yaml:"spend_resource"`

	// BuildingCosts maps building types to their level cost curve.
	// Buildings without a curve are free to raise.
	BuildingCosts map[BuildingType]CostCurve `yaml:"building_costs"`

	// UpgradeCosts maps upgrade ids to their cost in SpendResource.
	// Unlisted upgrades are free.
	UpgradeCosts map[string]Decimal `yaml:"upgrade_costs"`

	// SpendableFallback picks the winner for spendable-balance conflicts
	// when neither increase is production-justified. Default:
	// latest-timestamp.
	SpendableFallback string `yaml:"spendable_fallback"`
}

// DefaultResolverConfig returns the standard merge policies.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		ResourceClasses: map[ResourceType]ResourceClass{
			ResourceLifetimeWool: ResourceClassAdditive,
		},
		SpendResource:     ResourceCoins,
		SpendableFallback: FallbackLatestTimestamp,
	}
}

// ConflictResolver performs the three-way merge between a device's local
// snapshot and the authoritative remote snapshot, using the device's last
// synced snapshot as the shared ancestor. Fully automatic; never blocks on
// user input.
type ConflictResolver struct {
	config ResolverConfig
	calc   *ProductionCalculator
}

// NewConflictResolver creates a resolver. The production calculator is used
// to judge whether a spendable-balance increase is independently justified
// by that side's elapsed-time production bound.
func NewConflictResolver(calc *ProductionCalculator, config ResolverConfig) *ConflictResolver {
	if config.SpendResource == "" {
		config.SpendResource = ResourceCoins
	}
	if config.SpendableFallback == "" {
		config.SpendableFallback = FallbackLatestTimestamp
	}
	return &ConflictResolver{config: config, calc: calc}
}

// mergeState carries the working state of one Resolve call.
type mergeState struct {
	ancestor, local, remote *Snapshot
	resolved                *Snapshot
	conflicts               []SyncConflict
}

func (m *mergeState) record(c SyncConflict) {
	c.ID = uuid.NewString()
	m.conflicts = append(m.conflicts, c)
}

// Resolve merges local and remote against their shared ancestor. For each
// field: an unchanged side yields to the changed side; identical changes
// merge silently; divergent changes apply the field-class policy and are
// recorded as conflicts.
func (r *ConflictResolver) Resolve(ancestor, local, remote *Snapshot) (*Snapshot, []SyncConflict) {
	m := &mergeState{
		ancestor: ancestor,
		local:    local,
		remote:   remote,
		resolved: ancestor.Clone(),
	}

	r.mergeResources(m)
	r.mergePlayTime(m)
	r.mergeBuildings(m)
	r.mergeUpgrades(m)
	r.mergePrestige(m)
	r.mergeScalars(m)

	if local.Version > m.resolved.Version {
		m.resolved.Version = local.Version
	}
	if remote.Version > m.resolved.Version {
		m.resolved.Version = remote.Version
	}
	m.resolved.Checksum = ""
	return m.resolved, m.conflicts
}

// localWins applies the configured fallback policy: later timestamp wins,
// ties broken by the lexicographically larger device id (arbitrary but
// deterministic).
func (r *ConflictResolver) localWins(local, remote *Snapshot) bool {
	if r.config.SpendableFallback == FallbackDeviceID {
		return local.DeviceID > remote.DeviceID
	}
	if !local.Timestamp.Equal(remote.Timestamp) {
		return local.Timestamp.After(remote.Timestamp)
	}
	return local.DeviceID > remote.DeviceID
}

// sideBound returns the production ceiling one side could have earned for a
// resource on its own since the ancestor snapshot.
func (r *ConflictResolver) sideBound(m *mergeState, side *Snapshot, rt ResourceType) Decimal {
	elapsed := side.Timestamp.Sub(m.ancestor.Timestamp)
	return r.calc.MaxGain(m.ancestor, rt, elapsed)
}

func (r *ConflictResolver) resourceClass(rt ResourceType) ResourceClass {
	return r.config.ResourceClasses[rt]
}

func (r *ConflictResolver) mergeResources(m *mergeState) {
	types := make(map[ResourceType]bool)
	for rt := range m.ancestor.Resources {
		types[rt] = true
	}
	for rt := range m.local.Resources {
		types[rt] = true
	}
	for rt := range m.remote.Resources {
		types[rt] = true
	}

	for rt := range types {
		av := m.ancestor.Resource(rt)
		lv := m.local.Resource(rt)
		rv := m.remote.Resource(rt)

		localChanged := lv.Cmp(av) != 0
		remoteChanged := rv.Cmp(av) != 0

		switch {
		case !localChanged && !remoteChanged:
			// ancestor value stands
		case localChanged && !remoteChanged:
			m.resolved.Resources[rt] = lv
		case remoteChanged && !localChanged:
			m.resolved.Resources[rt] = rv
		case lv.Cmp(rv) == 0:
			m.resolved.Resources[rt] = lv
		default:
			r.mergeDivergentResource(m, rt, av, lv, rv)
		}
	}
}

// mergeDivergentResource applies the field-class policy when both sides
// changed a resource to different values.
func (r *ConflictResolver) mergeDivergentResource(m *mergeState, rt ResourceType, av, lv, rv Decimal) {
	path := fmt.Sprintf("resources.%s", rt)

	if r.resourceClass(rt) == ResourceClassAdditive {
		// Both devices independently earned their share; preserve both
		// deltas rather than picking a winner.
		merged := av.Add(lv.Sub(av)).Add(rv.Sub(av))
		m.resolved.Resources[rt] = merged
		m.record(SyncConflict{
			FieldPath:     path,
			LocalValue:    lv.String(),
			RemoteValue:   rv.String(),
			ResolvedValue: merged.String(),
			Kind:          ConflictConcurrentModification,
			Severity:      SeverityLow,
			Resolution:    "additive-merge",
		})
		return
	}

	// Spendable balance: take the maximum only when the winning side's
	// increase is justified by its own elapsed-time production bound;
	// otherwise fall back to the policy winner.
	winner, winnerVal := m.local, lv
	if rv.Cmp(lv) > 0 {
		winner, winnerVal = m.remote, rv
	}

	increase := winnerVal.Sub(av)
	justified := increase.Sign() <= 0 || increase.Cmp(r.sideBound(m, winner, rt)) <= 0

	resolution := "max-justified"
	if !justified {
		resolution = "fallback-" + r.config.SpendableFallback
		if r.localWins(m.local, m.remote) {
			winnerVal = lv
		} else {
			winnerVal = rv
		}
	}

	m.resolved.Resources[rt] = winnerVal
	m.record(SyncConflict{
		FieldPath:     path,
		LocalValue:    lv.String(),
		RemoteValue:   rv.String(),
		ResolvedValue: winnerVal.String(),
		Kind:          ConflictConcurrentModification,
		Severity:      SeverityMedium,
		Resolution:    resolution,
	})
}

// mergePlayTime merges the cumulative play timer additively: time played on
// either device counts once.
func (r *ConflictResolver) mergePlayTime(m *mergeState) {
	dl := m.local.PlayTimeMs - m.ancestor.PlayTimeMs
	dr := m.remote.PlayTimeMs - m.ancestor.PlayTimeMs
	if dl < 0 {
		dl = 0
	}
	if dr < 0 {
		dr = 0
	}
	m.resolved.PlayTimeMs = m.ancestor.PlayTimeMs + dl + dr
	if dl > 0 && dr > 0 {
		m.record(SyncConflict{
			FieldPath:     "playTimeMs",
			LocalValue:    fmt.Sprintf("%d", m.local.PlayTimeMs),
			RemoteValue:   fmt.Sprintf("%d", m.remote.PlayTimeMs),
			ResolvedValue: fmt.Sprintf("%d", m.resolved.PlayTimeMs),
			Kind:          ConflictConcurrentModification,
			Severity:      SeverityLow,
			Resolution:    "additive-merge",
		})
	}
}

func buildingEqual(a, b Building) bool {
	return a.Level == b.Level &&
		a.Unlocked == b.Unlocked &&
		a.BaseProduction.Cmp(b.BaseProduction) == 0 &&
		a.ProductionMultiplier.Cmp(b.ProductionMultiplier) == 0 &&
		a.Efficiency.Cmp(b.Efficiency) == 0
}

// raiseCost returns the cumulative cost of raising a building from level
// "from" (exclusive) to level "to" (inclusive).
func (r *ConflictResolver) raiseCost(bt BuildingType, from, to int) Decimal {
	curve, ok := r.config.BuildingCosts[bt]
	if !ok {
		return Decimal{}
	}
	var total Decimal
	for lvl := from + 1; lvl <= to; lvl++ {
		total = total.Add(curve.CostAt(lvl))
	}
	return total
}

func (r *ConflictResolver) mergeBuildings(m *mergeState) {
	types := make(map[BuildingType]bool)
	for bt := range m.ancestor.Buildings {
		types[bt] = true
	}
	for bt := range m.local.Buildings {
		types[bt] = true
	}
	for bt := range m.remote.Buildings {
		types[bt] = true
	}

	pool := m.ancestor.Resource(r.config.SpendResource)

	for bt := range types {
		ab := m.ancestor.Buildings[bt]
		lb, lok := m.local.Buildings[bt]
		rb, rok := m.remote.Buildings[bt]
		if !lok {
			lb = ab
		}
		if !rok {
			rb = ab
		}

		localChanged := !buildingEqual(lb, ab)
		remoteChanged := !buildingEqual(rb, ab)

		switch {
		case !localChanged && !remoteChanged:
			continue
		case localChanged && !remoteChanged:
			m.resolved.Buildings[bt] = lb
			continue
		case remoteChanged && !localChanged:
			m.resolved.Buildings[bt] = rb
			continue
		case buildingEqual(lb, rb):
			m.resolved.Buildings[bt] = lb
			continue
		}

		// Both sides diverged: monotonic merge. The level takes the
		// maximum among the sides whose raise is affordable from the
		// ancestor's spendable balance; unaffordable raises are rejected
		// back to the ancestor's level.
		path := fmt.Sprintf("buildings.%s", bt)
		level := ab.Level
		severity := SeverityLow
		resolution := "max-merge"

		for _, side := range []Building{lb, rb} {
			if side.Level <= ab.Level {
				continue
			}
			cost := r.raiseCost(bt, ab.Level, side.Level)
			if cost.Cmp(pool) <= 0 {
				if side.Level > level {
					level = side.Level
				}
			} else {
				severity = SeverityMedium
				resolution = "unaffordable-rejected"
			}
		}

		merged := Building{
			Level:                level,
			Unlocked:             ab.Unlocked || lb.Unlocked || rb.Unlocked,
			BaseProduction:       MaxDecimal(lb.BaseProduction, rb.BaseProduction),
			ProductionMultiplier: MaxDecimal(lb.ProductionMultiplier, rb.ProductionMultiplier),
			Efficiency:           MaxDecimal(lb.Efficiency, rb.Efficiency),
		}
		m.resolved.Buildings[bt] = merged

		m.record(SyncConflict{
			FieldPath:     path,
			LocalValue:    fmt.Sprintf("level=%d", lb.Level),
			RemoteValue:   fmt.Sprintf("level=%d", rb.Level),
			ResolvedValue: fmt.Sprintf("level=%d", merged.Level),
			Kind:          ConflictStructural,
			Severity:      severity,
			Resolution:    resolution,
		})
	}
}

func (r *ConflictResolver) mergeUpgrades(m *mergeState) {
	ancSet := m.ancestor.upgradeSet()
	localAdds := diffUpgrades(m.local, ancSet)
	remoteAdds := diffUpgrades(m.remote, ancSet)

	switch {
	case len(localAdds) == 0 && len(remoteAdds) == 0:
		return
	case len(remoteAdds) == 0:
		m.resolved.PurchasedUpgrades = append([]string(nil), m.local.PurchasedUpgrades...)
		return
	case len(localAdds) == 0:
		m.resolved.PurchasedUpgrades = append([]string(nil), m.remote.PurchasedUpgrades...)
		return
	}

	// Both sides purchased upgrades: set union, but each side's additions
	// must have been affordable from the ancestor's spendable balance.
	pool := m.ancestor.Resource(r.config.SpendResource)
	merged := make(map[string]bool, len(ancSet)+len(localAdds)+len(remoteAdds))
	for u := range ancSet {
		merged[u] = true
	}

	severity := SeverityLow
	resolution := "set-union"
	for _, adds := range [][]string{localAdds, remoteAdds} {
		var spent Decimal
		for _, u := range adds {
			spent = spent.Add(r.config.UpgradeCosts[u])
			if spent.Cmp(pool) <= 0 {
				merged[u] = true
			} else {
				severity = SeverityMedium
				resolution = "unaffordable-rejected"
			}
		}
	}

	out := make([]string, 0, len(merged))
	for u := range merged {
		out = append(out, u)
	}
	sort.Strings(out)
	m.resolved.PurchasedUpgrades = out

	m.record(SyncConflict{
		FieldPath:     "purchasedUpgrades",
		LocalValue:    fmt.Sprintf("+%d", len(localAdds)),
		RemoteValue:   fmt.Sprintf("+%d", len(remoteAdds)),
		ResolvedValue: fmt.Sprintf("%d total", len(out)),
		Kind:          ConflictStructural,
		Severity:      severity,
		Resolution:    resolution,
	})
}

func (r *ConflictResolver) mergePrestige(m *mergeState) {
	lvl, tot := m.ancestor.PrestigeLevel, m.ancestor.TotalPrestiges
	changed := false
	for _, side := range []*Snapshot{m.local, m.remote} {
		if side.PrestigeLevel > lvl {
			lvl = side.PrestigeLevel
			changed = true
		}
		if side.TotalPrestiges > tot {
			tot = side.TotalPrestiges
			changed = true
		}
	}
	if lvl > tot {
		lvl = tot
	}
	bothMoved := m.local.TotalPrestiges != m.ancestor.TotalPrestiges &&
		m.remote.TotalPrestiges != m.ancestor.TotalPrestiges &&
		m.local.TotalPrestiges != m.remote.TotalPrestiges
	m.resolved.PrestigeLevel = lvl
	m.resolved.TotalPrestiges = tot
	if changed && bothMoved {
		m.record(SyncConflict{
			FieldPath:     "totalPrestiges",
			LocalValue:    fmt.Sprintf("%d", m.local.TotalPrestiges),
			RemoteValue:   fmt.Sprintf("%d", m.remote.TotalPrestiges),
			ResolvedValue: fmt.Sprintf("%d", tot),
			Kind:          ConflictStructural,
			Severity:      SeverityLow,
			Resolution:    "max-merge",
		})
	}
}

// mergeScalars resolves the point-in-time fields (timestamp, writer device)
// by last-write-wins with the device-id tiebreak.
func (r *ConflictResolver) mergeScalars(m *mergeState) {
	winner := m.remote
	if m.local.Timestamp.After(m.remote.Timestamp) ||
		(m.local.Timestamp.Equal(m.remote.Timestamp) && m.local.DeviceID > m.remote.DeviceID) {
		winner = m.local
	}
	m.resolved.Timestamp = winner.Timestamp
	m.resolved.DeviceID = winner.DeviceID
	if !m.local.Timestamp.Equal(m.remote.Timestamp) {
		m.record(SyncConflict{
			FieldPath:     "timestamp",
			LocalValue:    m.local.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
			RemoteValue:   m.remote.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
			ResolvedValue: winner.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
			Kind:          ConflictValueMismatch,
			Severity:      SeverityLow,
			Resolution:    "last-write-wins",
		})
	}
}

func diffUpgrades(s *Snapshot, ancestor map[string]bool) []string {
	var adds []string
	for _, u := range s.PurchasedUpgrades {
		if !ancestor[u] {
			adds = append(adds, u)
		}
	}
	return adds
}
