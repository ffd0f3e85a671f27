package woolfarm

import (
	"fmt"
	"math"
	"time"
)

// Anomaly type identifiers reported by the detector.
const (
	AnomalyProgressionSpike = "progression_spike"
	AnomalyImpossibleRate   = "impossible_rate"
	AnomalyFlatBaseline     = "flat_baseline_deviation"
)

// Anomaly is a single detected deviation from the player's own baseline.
type Anomaly struct {
	Type       string   `json:"type"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Confidence float64  `json:"confidence"`
}

// AnomalyReport is the outcome of anomaly detection for one sync interval.
// The detector never rejects by itself; the report only contributes signals
// to the validator.
type AnomalyReport struct {
	Anomalies  []Anomaly `json:"anomalies"`
	SampleSize int       `json:"sample_size"`
	ZScore     float64   `json:"z_score"`
	Skipped    bool      `json:"skipped"`
}

// AnomalyConfig configures the anomaly detector.
type AnomalyConfig struct {
	// MinHistory is the minimum number of historical snapshots required
	// before statistics are trusted. Below it detection is skipped and no
	// anomaly is raised. Default: 10.
	MinHistory int `yaml:"min_history"`

	// ZScoreThreshold is the z-score beyond which a progression spike is
	// flagged. Default: 3.
	ZScoreThreshold float64 `yaml:"z_score_threshold"`

	// RateTolerance is the fraction by which the observed rate may exceed
	// the theoretical perfect-play maximum before an impossible-rate
	// anomaly is raised. Default: 0.10.
	RateTolerance float64 `yaml:"rate_tolerance"`
}

// DefaultAnomalyConfig returns sensible defaults.
func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		MinHistory:      10,
		ZScoreThreshold: 3.0,
		RateTolerance:   0.10,
	}
}

// AnomalyDetector maintains a statistical view of a player's historical
// progression rate and flags deviations. It is stateless between calls: the
// history window is supplied by the caller and read-only here.
type AnomalyDetector struct {
	config AnomalyConfig
	calc   *ProductionCalculator
}

// NewAnomalyDetector creates a detector backed by the given production
// calculator (used for the theoretical-maximum comparison).
func NewAnomalyDetector(calc *ProductionCalculator, config AnomalyConfig) *AnomalyDetector {
	if config.MinHistory <= 0 {
		config.MinHistory = 10
	}
	if config.ZScoreThreshold <= 0 {
		config.ZScoreThreshold = 3.0
	}
	if config.RateTolerance <= 0 {
		config.RateTolerance = 0.10
	}
	return &AnomalyDetector{config: config, calc: calc}
}

// totalResources sums every resource amount in a snapshot.
func totalResources(s *Snapshot) Decimal {
	var total Decimal
	for _, amt := range s.Resources {
		total = total.Add(amt)
	}
	return total
}

// progressionRate returns (total resource delta) / (elapsed hours) between
// two consecutive snapshots as an exact decimal. Nil when the interval is
// not positive.
func progressionRate(prev, cur *Snapshot) (Decimal, bool) {
	elapsedMs := cur.Timestamp.Sub(prev.Timestamp).Milliseconds()
	if elapsedMs <= 0 {
		return Decimal{}, false
	}
	delta := totalResources(cur).Sub(totalResources(prev))
	hours := DecimalFromInt64(elapsedMs).Quo(DecimalFromInt64(int64(time.Hour / time.Millisecond)))
	return delta.Quo(hours), true
}

// Detect computes the per-interval progression rates across the history
// window, derives the z-score of the current interval's rate against the
// sample mean and standard deviation, and additionally compares the current
// total-resource rate against the production calculator's perfect-play
// maximum. History is ordered oldest to newest.
func (d *AnomalyDetector) Detect(history []*Snapshot, current *Snapshot) AnomalyReport {
	report := AnomalyReport{}

	rates := make([]Decimal, 0, len(history))
	for i := 1; i < len(history); i++ {
		if r, ok := progressionRate(history[i-1], history[i]); ok {
			rates = append(rates, r)
		}
	}
	report.SampleSize = len(rates)

	if len(history) > 0 {
		if cur, ok := progressionRate(history[len(history)-1], current); ok {
			report.Anomalies = append(report.Anomalies, d.spikeAnomalies(rates, cur, &report)...)
		}
		report.Anomalies = append(report.Anomalies,
			d.impossibleRateAnomalies(history[len(history)-1], current)...)
	}

	return report
}

// spikeAnomalies performs the z-score comparison. Amounts can exceed IEEE
// double range, so every rate is first divided by the largest absolute rate
// in the sample (exact rational division); z-scores are invariant under
// that scaling and the normalized values are safe as float64.
func (d *AnomalyDetector) spikeAnomalies(rates []Decimal, current Decimal, report *AnomalyReport) []Anomaly {
	// MinHistory counts snapshots; a window of K snapshots yields K-1
	// intervals.
	if len(rates) < d.config.MinHistory-1 {
		report.Skipped = true
		return nil
	}

	scale := current
	if scale.IsNegative() {
		scale = Decimal{}.Sub(scale)
	}
	for _, r := range rates {
		abs := r
		if abs.IsNegative() {
			abs = Decimal{}.Sub(abs)
		}
		scale = MaxDecimal(scale, abs)
	}
	if scale.IsZero() {
		return nil
	}

	normalized := make([]float64, len(rates))
	for i, r := range rates {
		normalized[i] = r.Quo(scale).Float64()
	}
	curNorm := current.Quo(scale).Float64()

	mean, stddev := meanStddev(normalized)

	if stddev == 0 {
		if curNorm != mean {
			return []Anomaly{{
				Type:       AnomalyFlatBaseline,
				Severity:   SeverityMedium,
				Message:    "progression rate deviates from a previously constant baseline",
				Confidence: 0.5,
			}}
		}
		return nil
	}

	z := math.Abs(curNorm-mean) / stddev
	report.ZScore = z
	if z > d.config.ZScoreThreshold {
		return []Anomaly{{
			Type:       AnomalyProgressionSpike,
			Severity:   SeverityHigh,
			Message:    fmt.Sprintf("progression rate z-score %.2f exceeds threshold %.2f", z, d.config.ZScoreThreshold),
			Confidence: math.Min(z/d.config.ZScoreThreshold, 1),
		}}
	}
	return nil
}

// impossibleRateAnomalies compares the observed total gain against the
// theoretical maximum with perfect play over the same interval, using exact
// arithmetic end to end.
func (d *AnomalyDetector) impossibleRateAnomalies(prev, current *Snapshot) []Anomaly {
	elapsed := current.Timestamp.Sub(prev.Timestamp)
	if elapsed <= 0 {
		return nil
	}

	var theoretical Decimal
	for _, bound := range d.calc.ExpectedProduction(prev, elapsed) {
		theoretical = theoretical.Add(bound.Max)
	}

	gain := totalResources(current).Sub(totalResources(prev))
	if gain.Sign() <= 0 {
		return nil
	}

	// ceiling = theoretical * (1 + tolerance), kept exact.
	tolNum := int64(d.config.RateTolerance * 1000)
	ceiling := theoretical.Mul(DecimalFromInt64(1000 + tolNum).Quo(DecimalFromInt64(1000)))

	if gain.Cmp(ceiling) > 0 {
		return []Anomaly{{
			Type:       AnomalyImpossibleRate,
			Severity:   SeverityHigh,
			Message:    "total resource gain exceeds the perfect-play production ceiling",
			Confidence: 1,
		}}
	}
	return nil
}

// meanStddev returns the sample mean and standard deviation.
func meanStddev(vals []float64) (float64, float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	if len(vals) < 2 {
		return mean, 0
	}
	variance := 0.0
	for _, v := range vals {
		dv := v - mean
		variance += dv * dv
	}
	variance /= float64(len(vals) - 1)
	return mean, math.Sqrt(variance)
}
