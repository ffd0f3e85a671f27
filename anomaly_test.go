package woolfarm

import (
	"testing"
	"time"
)

// anomalyHistory builds a snapshot chain at 1h intervals with the given
// cumulative wool totals.
func anomalyHistory(t0 time.Time, totals ...string) []*Snapshot {
	out := make([]*Snapshot, len(totals))
	for i, total := range totals {
		s := testSnapshot(t0.Add(time.Duration(i) * time.Hour))
		s.Resources[ResourceWool] = MustDecimal(total)
		out[i] = s
	}
	return out
}

func newTestDetector(cfg AnomalyConfig) *AnomalyDetector {
	return NewAnomalyDetector(NewProductionCalculator(DefaultProductionConfig()), cfg)
}

func TestDetectEmptyHistory(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := newTestDetector(DefaultAnomalyConfig())

	report := d.Detect(nil, testSnapshot(t0))
	if len(report.Anomalies) != 0 {
		t.Errorf("no history should yield no anomalies, got %d", len(report.Anomalies))
	}
	if report.SampleSize != 0 {
		t.Errorf("SampleSize = %d, want 0", report.SampleSize)
	}
}

func TestDetectInsufficientHistorySkips(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := newTestDetector(DefaultAnomalyConfig())

	// Three intervals, well under the default MinHistory of 10. A wild
	// spike must not be flagged on thin statistics.
	history := anomalyHistory(t0, "0", "10", "20", "30")
	current := testSnapshot(t0.Add(4 * time.Hour))
	current.Resources[ResourceWool] = MustDecimal("3000")

	report := d.Detect(history, current)
	if !report.Skipped {
		t.Error("expected Skipped with insufficient history")
	}
	for _, a := range report.Anomalies {
		if a.Type == AnomalyProgressionSpike {
			t.Error("spike flagged despite insufficient history")
		}
	}
}

func TestDetectRunsAtExactlyMinHistory(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := DefaultAnomalyConfig()
	cfg.MinHistory = 3
	d := newTestDetector(cfg)

	// Exactly MinHistory snapshots (two intervals) is enough: the window
	// is counted in snapshots, not intervals.
	history := anomalyHistory(t0, "0", "10", "21")
	current := testSnapshot(t0.Add(3 * time.Hour))
	current.Resources[ResourceWool] = MustDecimal("1000")

	report := d.Detect(history, current)
	if report.Skipped {
		t.Fatal("detection skipped at exactly MinHistory snapshots")
	}
	found := false
	for _, a := range report.Anomalies {
		if a.Type == AnomalyProgressionSpike {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a progression spike, got %+v", report.Anomalies)
	}
}

func TestDetectProgressionSpike(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := DefaultAnomalyConfig()
	cfg.MinHistory = 3
	d := newTestDetector(cfg)

	// Baseline around 10 wool/h with mild variance, then a 1000/h interval.
	// Still below the production ceiling (3960/h), so only the statistical
	// check fires.
	history := anomalyHistory(t0, "0", "10", "20", "31", "41")
	current := testSnapshot(t0.Add(5 * time.Hour))
	current.Resources[ResourceWool] = MustDecimal("1041")

	report := d.Detect(history, current)
	found := false
	for _, a := range report.Anomalies {
		if a.Type == AnomalyProgressionSpike {
			found = true
			if a.Severity != SeverityHigh {
				t.Errorf("spike severity = %v, want high", a.Severity)
			}
			if a.Confidence != 1 {
				t.Errorf("spike confidence = %v, want 1 at this magnitude", a.Confidence)
			}
		}
		if a.Type == AnomalyImpossibleRate {
			t.Error("gain within the production ceiling flagged as impossible")
		}
	}
	if !found {
		t.Fatalf("expected a progression spike, got %+v", report.Anomalies)
	}
	if report.ZScore <= cfg.ZScoreThreshold {
		t.Errorf("ZScore = %v, want > %v", report.ZScore, cfg.ZScoreThreshold)
	}
}

func TestDetectConsistentRateClean(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := DefaultAnomalyConfig()
	cfg.MinHistory = 3
	d := newTestDetector(cfg)

	history := anomalyHistory(t0, "0", "10", "20", "31", "41")
	current := testSnapshot(t0.Add(5 * time.Hour))
	current.Resources[ResourceWool] = MustDecimal("51")

	report := d.Detect(history, current)
	if len(report.Anomalies) != 0 {
		t.Errorf("consistent progression flagged: %+v", report.Anomalies)
	}
}

func TestDetectFlatBaselineDeviation(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := DefaultAnomalyConfig()
	cfg.MinHistory = 3
	d := newTestDetector(cfg)

	// Perfectly constant 10/h baseline, then 20/h. Zero variance makes the
	// z-score undefined; the deviation is flagged at medium severity.
	history := anomalyHistory(t0, "0", "10", "20", "30", "40")
	current := testSnapshot(t0.Add(5 * time.Hour))
	current.Resources[ResourceWool] = MustDecimal("60")

	report := d.Detect(history, current)
	if len(report.Anomalies) != 1 {
		t.Fatalf("anomalies = %d, want 1", len(report.Anomalies))
	}
	a := report.Anomalies[0]
	if a.Type != AnomalyFlatBaseline {
		t.Errorf("type = %s, want %s", a.Type, AnomalyFlatBaseline)
	}
	if a.Severity != SeverityMedium {
		t.Errorf("severity = %v, want medium", a.Severity)
	}
}

func TestDetectImpossibleRate(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := newTestDetector(DefaultAnomalyConfig())

	// One barn tops out at 3960 wool over the hour plus 10% tolerance;
	// a million is unreachable with perfect play.
	history := anomalyHistory(t0, "100")
	current := testSnapshot(t0.Add(time.Hour))
	current.Resources[ResourceWool] = MustDecimal("1000100")

	report := d.Detect(history, current)
	found := false
	for _, a := range report.Anomalies {
		if a.Type == AnomalyImpossibleRate {
			found = true
			if a.Severity != SeverityHigh {
				t.Errorf("severity = %v, want high", a.Severity)
			}
		}
	}
	if !found {
		t.Fatalf("expected impossible-rate anomaly, got %+v", report.Anomalies)
	}
}

func TestDetectHugeAmountsNoOverflow(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := DefaultAnomalyConfig()
	cfg.MinHistory = 3
	d := newTestDetector(cfg)

	// Rates far beyond float64 range; z-scores are computed on rates
	// normalized by the largest magnitude, so the statistics stay finite.
	history := anomalyHistory(t0, "0", "1e320", "2e320", "3e320", "4e320")
	current := testSnapshot(t0.Add(5 * time.Hour))
	current.Resources[ResourceWool] = MustDecimal("1e323")

	report := d.Detect(history, current)
	foundSpike := false
	for _, a := range report.Anomalies {
		if a.Type == AnomalyProgressionSpike || a.Type == AnomalyFlatBaseline {
			foundSpike = true
		}
	}
	if !foundSpike {
		t.Errorf("huge-magnitude spike not detected: %+v", report.Anomalies)
	}
}
