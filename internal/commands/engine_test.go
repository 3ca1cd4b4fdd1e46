package commands

import (
	"testing"
	"time"

	"hwpulse/internal/alerts"
	"hwpulse/internal/config"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := &config.Config{
		HostID:        "test-host",
		DataDir:       t.TempDir(),
		EventDir:      t.TempDir(),
		CPUThreshold:  85,
		MemThreshold:  90,
		DiskThreshold: 95,
		PredictWindow: 10,
	}
	e, err := OpenEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestOpenEngineWiresAlertPath(t *testing.T) {
	e := testEngine(t)

	// cpu-high fires above 85 on the rising edge only
	base := time.Now().UnixMilli()
	for i, v := range []float64{50, 90, 92, 70} {
		if err := e.Facade.Ingest("cpu.usage_pct", base+int64(i)*1000, v); err != nil {
			t.Fatal(err)
		}
	}

	events, err := e.Facade.GetEvents(e.LocalKey(), alerts.Filter{Kind: alerts.KindThreshold})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("threshold events = %d, want 1", len(events))
	}
	if events[0].SeriesID != "cpu.usage_pct" || events[0].Value != 90 {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestCheckPredictedFailures(t *testing.T) {
	e := testEngine(t)

	// disk usage rising one percent per minute toward the 95 threshold
	base := time.Now().UnixMilli()
	for i := 0; i < 10; i++ {
		ts := base + int64(i)*60_000
		if err := e.Facade.Ingest("disk.used_pct.root", ts, 50+float64(i)); err != nil {
			t.Fatal(err)
		}
	}

	if n := e.CheckPredictedFailures(24 * time.Hour); n != 1 {
		t.Fatalf("emitted = %d, want 1", n)
	}
	// the outstanding prediction suppresses a duplicate
	if n := e.CheckPredictedFailures(24 * time.Hour); n != 0 {
		t.Fatalf("duplicate emitted = %d, want 0", n)
	}

	st := e.HostState()
	if st.PredictedFailures != 1 {
		t.Errorf("host state predicted failures = %d, want 1", st.PredictedFailures)
	}
	if st.HostID != "test-host" {
		t.Errorf("host id = %q", st.HostID)
	}

	// Resolving the prediction removes its health penalty and re-arms
	// emission for the series.
	events, err := e.Facade.GetEvents(e.LocalKey(), alerts.Filter{Kind: alerts.KindPredictedFailure})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) == 0 {
		t.Fatal("no predicted failure event recorded")
	}
	if err := e.Facade.ResolveEvent(e.LocalKey(), events[0].Fingerprint); err != nil {
		t.Fatal(err)
	}
	if st := e.HostState(); st.PredictedFailures != 0 {
		t.Errorf("resolved prediction still counted: %d", st.PredictedFailures)
	}
	if n := e.CheckPredictedFailures(24 * time.Hour); n != 1 {
		t.Errorf("re-emission after resolve = %d, want 1", n)
	}
}
