package woolfarm

import (
	"fmt"
	"sort"
	"time"
)

// ResourceType identifies a progression resource tier.
type ResourceType string

// Known resource types. Snapshots may carry additional modded tiers; the
// engine treats unknown types as ordinary spendable balances.
const (
	// ResourceWool is the primary production resource.
	ResourceWool ResourceType = "wool"
	// ResourceCoins is the spendable currency.
	ResourceCoins ResourceType = "coins"
	// ResourceSoulShears is the prestige-only currency. It may only grow
	// when totalPrestiges grows.
	ResourceSoulShears ResourceType = "soulShears"
	// ResourceLifetimeWool is the cumulative all-time wool counter. Never
	// spent, merged additively across devices.
	ResourceLifetimeWool ResourceType = "lifetimeWool"
)

// BuildingType identifies a production building.
type BuildingType string

// Building holds the per-building progression state inside a snapshot.
type Building struct {
	Level                int     `json:"level"`
	Unlocked             bool    `json:"unlocked"`
	BaseProduction       Decimal `json:"baseProduction"`
	ProductionMultiplier Decimal `json:"productionMultiplier"`
	Efficiency           Decimal `json:"efficiency"`
}

// Snapshot is a point-in-time, immutable record of a player's full
// progression state. The engine never mutates a snapshot it was handed;
// merges operate on deep copies.
type Snapshot struct {
	Version           int64                     `json:"version"`
	Timestamp         time.Time                 `json:"timestamp"`
	PlayTimeMs        int64                     `json:"playTimeMs"`
	Resources         map[ResourceType]Decimal  `json:"resources"`
	Buildings         map[BuildingType]Building `json:"buildings"`
	PurchasedUpgrades []string                  `json:"purchasedUpgrades"`
	PrestigeLevel     int                       `json:"prestigeLevel"`
	TotalPrestiges    int                       `json:"totalPrestiges"`
	Checksum          string                    `json:"checksum,omitempty"`
	DeviceID          string                    `json:"deviceId,omitempty"`
}

// Resource returns the amount for a resource type, zero if absent.
func (s *Snapshot) Resource(rt ResourceType) Decimal {
	return s.Resources[rt]
}

// HasUpgrade reports whether the upgrade id has been purchased.
func (s *Snapshot) HasUpgrade(id string) bool {
	for _, u := range s.PurchasedUpgrades {
		if u == id {
			return true
		}
	}
	return false
}

// upgradeSet returns the purchased upgrades as a set.
func (s *Snapshot) upgradeSet() map[string]bool {
	set := make(map[string]bool, len(s.PurchasedUpgrades))
	for _, u := range s.PurchasedUpgrades {
		set[u] = true
	}
	return set
}

// sortedResourceTypes returns the snapshot's resource types in sorted order.
func (s *Snapshot) sortedResourceTypes() []ResourceType {
	types := make([]ResourceType, 0, len(s.Resources))
	for rt := range s.Resources {
		types = append(types, rt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// sortedBuildingTypes returns the snapshot's building types in sorted order.
func (s *Snapshot) sortedBuildingTypes() []BuildingType {
	types := make([]BuildingType, 0, len(s.Buildings))
	for bt := range s.Buildings {
		types = append(types, bt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	cp := *s
	cp.Resources = make(map[ResourceType]Decimal, len(s.Resources))
	for rt, amt := range s.Resources {
		cp.Resources[rt] = amt
	}
	cp.Buildings = make(map[BuildingType]Building, len(s.Buildings))
	for bt, b := range s.Buildings {
		cp.Buildings[bt] = b
	}
	cp.PurchasedUpgrades = make([]string, len(s.PurchasedUpgrades))
	copy(cp.PurchasedUpgrades, s.PurchasedUpgrades)
	return &cp
}

// Validate performs the cheap structural checks that gate all further
// processing. A failure here means MalformedInput: the snapshot never
// reaches production or anomaly computation.
func (s *Snapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("nil snapshot")
	}
	if s.Version < 0 {
		return fmt.Errorf("negative version %d", s.Version)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("zero timestamp")
	}
	if s.PlayTimeMs < 0 {
		return fmt.Errorf("negative playTime %d", s.PlayTimeMs)
	}
	for rt, amt := range s.Resources {
		if rt == "" {
			return fmt.Errorf("empty resource type")
		}
		if amt.IsNegative() {
			return fmt.Errorf("negative %s amount %s", rt, amt)
		}
	}
	for bt, b := range s.Buildings {
		if bt == "" {
			return fmt.Errorf("empty building type")
		}
		if b.Level < 0 {
			return fmt.Errorf("negative %s level %d", bt, b.Level)
		}
		if b.BaseProduction.IsNegative() || b.ProductionMultiplier.IsNegative() || b.Efficiency.IsNegative() {
			return fmt.Errorf("negative production parameter on %s", bt)
		}
	}
	seen := make(map[string]bool, len(s.PurchasedUpgrades))
	for _, u := range s.PurchasedUpgrades {
		if u == "" {
			return fmt.Errorf("empty upgrade id")
		}
		if seen[u] {
			return fmt.Errorf("duplicate upgrade %q", u)
		}
		seen[u] = true
	}
	if s.PrestigeLevel < 0 || s.TotalPrestiges < 0 {
		return fmt.Errorf("negative prestige counters")
	}
	if s.PrestigeLevel > s.TotalPrestiges {
		return fmt.Errorf("prestigeLevel %d exceeds totalPrestiges %d", s.PrestigeLevel, s.TotalPrestiges)
	}
	return nil
}
