package predict

import (
	"errors"
	"math"
	"testing"

	"hwpulse/internal/tsdb"
)

func storeWith(t *testing.T, id string, samples []tsdb.Sample) *tsdb.Store {
	t.Helper()
	s, err := tsdb.Open(tsdb.DefaultOptions(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	for _, smp := range samples {
		if err := s.Append(id, smp); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func linear(slope, intercept float64, from, to, step int64) []tsdb.Sample {
	var out []tsdb.Sample
	for ts := from; ts <= to; ts += step {
		out = append(out, tsdb.Sample{Timestamp: ts, Value: slope*float64(ts) + intercept})
	}
	return out
}

func TestFitPerfectLine(t *testing.T) {
	s := storeWith(t, "disk.used_pct", linear(2, 0, 0, 100, 10))
	m := NewModel(s, 50, 3)

	tr, err := m.Fit("disk.used_pct")
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if math.Abs(tr.Slope-2) > 1e-9 {
		t.Errorf("slope = %g, want 2", tr.Slope)
	}
	if math.Abs(tr.Intercept) > 1e-6 {
		t.Errorf("intercept = %g, want 0", tr.Intercept)
	}
	if math.Abs(tr.RSquared-1) > 1e-9 {
		t.Errorf("r^2 = %g, want 1", tr.RSquared)
	}
}

func TestFitNoisyLineConfidence(t *testing.T) {
	base := linear(1, 10, 0, 190, 10)
	// Alternate +/- noise that cancels symmetrically.
	for i := range base {
		if i%2 == 0 {
			base[i].Value += 3
		} else {
			base[i].Value -= 3
		}
	}
	s := storeWith(t, "mem.used", base)
	m := NewModel(s, 50, 3)
	tr, err := m.Fit("mem.used")
	if err != nil {
		t.Fatal(err)
	}
	if tr.RSquared >= 1 || tr.RSquared <= 0 {
		t.Errorf("noisy fit r^2 = %g, want in (0, 1)", tr.RSquared)
	}
}

func TestInsufficientData(t *testing.T) {
	s := storeWith(t, "cpu.load", linear(1, 0, 0, 10, 10)) // 2 samples
	m := NewModel(s, 50, 3)
	if _, err := m.Fit("cpu.load"); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if _, err := m.Fit("missing"); !errors.Is(err, tsdb.ErrSeriesNotFound) {
		t.Fatalf("expected ErrSeriesNotFound, got %v", err)
	}
}

func TestPredictThresholdCrossing(t *testing.T) {
	// value = 2*t: crosses 1000 exactly at t=500.
	s := storeWith(t, "gpu0.temperature", linear(2, 0, 0, 100, 10))
	m := NewModel(s, 50, 3)

	c, err := m.PredictThresholdCrossing("gpu0.temperature", 1000)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if c == nil {
		t.Fatal("expected a crossing")
	}
	if math.Abs(float64(c.Timestamp)-500) > 1 {
		t.Errorf("crossing at %d, want ~500", c.Timestamp)
	}
	if math.Abs(c.RSquared-1) > 1e-9 {
		t.Errorf("crossing r^2 = %g, want 1", c.RSquared)
	}
}

func TestPredictDivergingReturnsNil(t *testing.T) {
	tests := []struct {
		name      string
		slope     float64
		intercept float64
		threshold float64
	}{
		{"falling series, threshold above", -1, 100, 500},
		{"rising series, threshold below", 1, 100, 10},
		{"flat series", 0, 50, 80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := storeWith(t, "s", linear(tt.slope, tt.intercept, 0, 100, 10))
			m := NewModel(s, 50, 3)
			c, err := m.PredictThresholdCrossing("s", tt.threshold)
			if err != nil {
				t.Fatal(err)
			}
			if c != nil {
				t.Fatalf("expected nil crossing, got %+v", c)
			}
		})
	}
}

func TestPredictFallingTowardThreshold(t *testing.T) {
	// value = 100 - t: crosses 20 at t=80, which is in the past relative
	// to the last sample at t=100. Must not predict backwards.
	s := storeWith(t, "s", linear(-1, 100, 0, 100, 10))
	m := NewModel(s, 50, 3)
	c, err := m.PredictThresholdCrossing("s", 20)
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Fatalf("crossing already past, got %+v", c)
	}

	// Crossing 20 from above at t=80 in the future.
	s2 := storeWith(t, "s", linear(-1, 100, 0, 50, 10))
	m2 := NewModel(s2, 50, 3)
	c2, err := m2.PredictThresholdCrossing("s", 20)
	if err != nil {
		t.Fatal(err)
	}
	if c2 == nil {
		t.Fatal("expected crossing from above")
	}
	if math.Abs(float64(c2.Timestamp)-80) > 1 {
		t.Errorf("crossing at %d, want ~80", c2.Timestamp)
	}
}

func TestFitUsesNewestWindow(t *testing.T) {
	// Old flat history followed by a recent steep rise: a window covering
	// only the rise fits the rise.
	samples := linear(0, 10, 0, 490, 10)
	samples = append(samples, linear(5, -2490, 500, 600, 10)...)
	s := storeWith(t, "s", samples)

	m := NewModel(s, 11, 3) // the last 11 samples are the steep section
	tr, err := m.Fit("s")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(tr.Slope-5) > 1e-9 {
		t.Errorf("slope = %g, want 5 (stale history leaked into window)", tr.Slope)
	}
}
