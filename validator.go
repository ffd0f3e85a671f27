package woolfarm

import (
	"fmt"
	"time"
)

// Severity grades violations, suspicions, anomalies and conflicts.
type Severity int

const (
	// SeverityLow barely affects the confidence score.
	SeverityLow Severity = iota
	// SeverityMedium indicates implausible but not impossible state.
	SeverityMedium
	// SeverityHigh indicates physically impossible or corrupt state; a
	// single high-severity violation rejects the sync.
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Violation type identifiers produced by the validator.
const (
	ViolationTimeRegression     = "time_regression"
	ViolationImpossibleTimeJump = "impossible_time_jump"
	ViolationNegativeResource   = "negative_resource"
	ViolationProductionOverflow = "production_overflow"
	ViolationInvalidCurrencyGain = "invalid_currency_gain"
	ViolationStructural         = "structural"
	ViolationChecksumMismatch   = "checksum_mismatch"
	SuspicionPlaytimeInflation  = "playtime_inflation"
)

// Violation is a single failed check with its severity.
type Violation struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ValidationResult summarizes the plausibility of a state transition.
// Ephemeral: it is returned to the caller and emitted to the audit sink,
// never persisted with the snapshot.
type ValidationResult struct {
	Accepted        bool          `json:"accepted"`
	ConfidenceScore float64       `json:"confidence_score"`
	Violations      []Violation   `json:"violations"`
	Suspicious      []Violation   `json:"suspicious"`
	Anomalies       AnomalyReport `json:"anomalies"`
}

// HasHighSeverity reports whether any violation or suspicion is high
// severity.
func (r *ValidationResult) HasHighSeverity() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityHigh {
			return true
		}
	}
	for _, s := range r.Suspicious {
		if s.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// ValidatorConfig configures the state validator.
type ValidatorConfig struct {
	// AcceptThreshold is the minimum confidence score (exclusive) for a
	// transition to be accepted. Default 0.95: any single high-severity
	// violation rejects, accumulated low-severity noise is tolerated.
	AcceptThreshold float64 `yaml:"accept_threshold"`

	// PlaytimeTolerance bounds playTime growth relative to wall-clock
	// elapsed time. Default: 1.1.
	PlaytimeTolerance float64 `yaml:"playtime_tolerance"`
}

// DefaultValidatorConfig returns sensible defaults.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		AcceptThreshold:   0.95,
		PlaytimeTolerance: 1.1,
	}
}

// Confidence penalties per severity.
var violationPenalty = map[Severity]float64{
	SeverityHigh:   0.3,
	SeverityMedium: 0.15,
	SeverityLow:    0.05,
}

var suspicionPenalty = map[Severity]float64{
	SeverityHigh:   0.2,
	SeverityMedium: 0.1,
	SeverityLow:    0.02,
}

// StateValidator classifies a (previous, current, elapsed) transition into
// accept / flag / reject. Each check is an independent pure function; the
// validator only composes them and scores the result.
type StateValidator struct {
	config   ValidatorConfig
	calc     *ProductionCalculator
	detector *AnomalyDetector
}

// NewStateValidator creates a validator over the given calculator and
// detector.
func NewStateValidator(calc *ProductionCalculator, detector *AnomalyDetector, config ValidatorConfig) *StateValidator {
	if config.AcceptThreshold <= 0 {
		config.AcceptThreshold = 0.95
	}
	if config.PlaytimeTolerance <= 0 {
		config.PlaytimeTolerance = 1.1
	}
	return &StateValidator{config: config, calc: calc, detector: detector}
}

// Validate runs every check against the transition from previous to current
// over the server-observed elapsed interval, merges in anomaly signals from
// the history window, and computes the confidence score.
func (v *StateValidator) Validate(previous, current *Snapshot, elapsed time.Duration, history []*Snapshot) ValidationResult {
	result := ValidationResult{ConfidenceScore: 1.0}

	if err := current.Validate(); err != nil {
		result.Violations = append(result.Violations, Violation{
			Type:     ViolationStructural,
			Severity: SeverityHigh,
			Message:  err.Error(),
		})
	}

	violations, suspicions := checkTimeMonotonicity(previous, current, elapsed, v.calc.OfflineCap(), v.config.PlaytimeTolerance)
	result.Violations = append(result.Violations, violations...)
	result.Suspicious = append(result.Suspicious, suspicions...)

	result.Violations = append(result.Violations, checkResourceBounds(previous, current, v.calc, elapsed)...)
	result.Violations = append(result.Violations, checkCurrencyGates(previous, current)...)
	result.Violations = append(result.Violations, checkStructuralLineage(previous, current)...)
	result.Violations = append(result.Violations, checkChecksum(current)...)

	report := v.detector.Detect(history, current)
	result.Anomalies = report
	for _, a := range report.Anomalies {
		result.Suspicious = append(result.Suspicious, Violation{
			Type:     a.Type,
			Severity: a.Severity,
			Message:  a.Message,
		})
	}

	for _, viol := range result.Violations {
		result.ConfidenceScore -= violationPenalty[viol.Severity]
	}
	for _, susp := range result.Suspicious {
		result.ConfidenceScore -= suspicionPenalty[susp.Severity]
	}
	if result.ConfidenceScore < 0 {
		result.ConfidenceScore = 0
	}
	if result.ConfidenceScore > 1 {
		result.ConfidenceScore = 1
	}

	result.Accepted = result.ConfidenceScore > v.config.AcceptThreshold
	return result
}

// checkTimeMonotonicity verifies the time axis: no timestamp regression, no
// elapsed interval wildly beyond the offline cap, and playTime growth bounded
// by wall-clock elapsed time times the tolerance.
func checkTimeMonotonicity(previous, current *Snapshot, elapsed time.Duration, offlineCap time.Duration, playtimeTolerance float64) ([]Violation, []Violation) {
	var violations, suspicions []Violation

	if current.Timestamp.Before(previous.Timestamp) {
		violations = append(violations, Violation{
			Type:     ViolationTimeRegression,
			Severity: SeverityHigh,
			Message: fmt.Sprintf("snapshot timestamp %s precedes previous %s",
				current.Timestamp.Format(time.RFC3339), previous.Timestamp.Format(time.RFC3339)),
		})
	}

	if elapsed > 2*offlineCap {
		violations = append(violations, Violation{
			Type:     ViolationImpossibleTimeJump,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("elapsed %s exceeds the offline cap %s by more than the cap itself", elapsed, offlineCap),
		})
	}

	playGrowth := current.PlayTimeMs - previous.PlayTimeMs
	if playGrowth < 0 {
		violations = append(violations, Violation{
			Type:     ViolationTimeRegression,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("playTime regressed by %dms", -playGrowth),
		})
	} else if elapsed >= 0 && float64(playGrowth) > float64(elapsed.Milliseconds())*playtimeTolerance {
		suspicions = append(suspicions, Violation{
			Type:     SuspicionPlaytimeInflation,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("playTime grew %dms in %dms wall clock", playGrowth, elapsed.Milliseconds()),
		})
	}

	return violations, suspicions
}

// checkResourceBounds verifies no amount is negative and no per-resource
// gain exceeds the production ceiling for the elapsed interval.
func checkResourceBounds(previous, current *Snapshot, calc *ProductionCalculator, elapsed time.Duration) []Violation {
	var violations []Violation

	for _, rt := range current.sortedResourceTypes() {
		if current.Resources[rt].IsNegative() {
			violations = append(violations, Violation{
				Type:     ViolationNegativeResource,
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("%s amount is negative: %s", rt, current.Resources[rt]),
			})
		}
	}

	bounds := calc.ExpectedProduction(previous, elapsed)
	for _, rt := range current.sortedResourceTypes() {
		if rt == ResourceSoulShears {
			continue // gated on prestige, not production
		}
		gain := current.Resource(rt).Sub(previous.Resource(rt))
		if gain.Sign() <= 0 {
			continue
		}
		bound := bounds[rt]
		if rt == ResourceLifetimeWool {
			// The lifetime counter mirrors wool production.
			bound = bounds[ResourceWool]
		}
		if gain.Cmp(bound.Max) > 0 {
			violations = append(violations, Violation{
				Type:     ViolationProductionOverflow,
				Severity: SeverityHigh,
				Message: fmt.Sprintf("%s gained %s, production ceiling for the interval is %s",
					rt, gain, bound.Max),
			})
		}
	}

	return violations
}

// checkCurrencyGates verifies prestige-only currencies only grow alongside
// totalPrestiges.
func checkCurrencyGates(previous, current *Snapshot) []Violation {
	var violations []Violation
	gain := current.Resource(ResourceSoulShears).Sub(previous.Resource(ResourceSoulShears))
	if gain.Sign() > 0 && current.TotalPrestiges == previous.TotalPrestiges {
		violations = append(violations, Violation{
			Type:     ViolationInvalidCurrencyGain,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("soulShears gained %s without a prestige", gain),
		})
	}
	return violations
}

// checkStructuralLineage verifies the monotonic lineage invariants between
// two snapshots: upgrades are never removed, building unlocks never revert,
// prestige counters never decrease.
func checkStructuralLineage(previous, current *Snapshot) []Violation {
	var violations []Violation

	curUpgrades := current.upgradeSet()
	for _, u := range previous.PurchasedUpgrades {
		if !curUpgrades[u] {
			violations = append(violations, Violation{
				Type:     ViolationStructural,
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("upgrade %q was removed", u),
			})
		}
	}

	for bt, prev := range previous.Buildings {
		cur, ok := current.Buildings[bt]
		if !ok {
			violations = append(violations, Violation{
				Type:     ViolationStructural,
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("building %s disappeared", bt),
			})
			continue
		}
		if prev.Unlocked && !cur.Unlocked {
			violations = append(violations, Violation{
				Type:     ViolationStructural,
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("building %s reverted to locked", bt),
			})
		}
		if cur.Level < prev.Level {
			violations = append(violations, Violation{
				Type:     ViolationStructural,
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("building %s level regressed %d -> %d", bt, prev.Level, cur.Level),
			})
		}
	}

	if current.TotalPrestiges < previous.TotalPrestiges {
		violations = append(violations, Violation{
			Type:     ViolationStructural,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("totalPrestiges regressed %d -> %d", previous.TotalPrestiges, current.TotalPrestiges),
		})
	}

	return violations
}

// checkChecksum verifies the snapshot's carried checksum, when present,
// matches a fresh recomputation. A mismatch is corruption, severity high.
func checkChecksum(current *Snapshot) []Violation {
	if current.Checksum == "" {
		return nil
	}
	if !VerifyChecksum(current, current.Checksum) {
		return []Violation{{
			Type:     ViolationChecksumMismatch,
			Severity: SeverityHigh,
			Message:  "snapshot checksum does not match canonical recomputation",
		}}
	}
	return nil
}
