package facade

import (
	"context"
	"errors"
	"testing"
	"time"

	"hwpulse/internal/access"
	"hwpulse/internal/aggregate"
	"hwpulse/internal/alerts"
	"hwpulse/internal/anomaly"
	"hwpulse/internal/fleet"
	"hwpulse/internal/predict"
	"hwpulse/internal/tsdb"
)

func newFacade(t *testing.T, tokens []access.Token) *Facade {
	t.Helper()
	store, err := tsdb.Open(tsdb.DefaultOptions(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	log, err := alerts.OpenLog(t.TempDir(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { log.Close() })

	f := New(Options{
		Store:      store,
		Aggregates: aggregate.NewEngine(store, time.Minute),
		Events:     log,
		Model:      predict.NewModel(store, 50, 3),
		Fleet:      fleet.NewAggregator(fleet.DefaultPenalties(), time.Minute),
		Controller: access.NewController(tokens, time.Minute),
		QueueSize:  8,
	})
	f.rules = alerts.NewEngine(f.PublishEvent)
	f.detector = anomaly.NewDetector(5, 3.0, f.PublishEvent)
	t.Cleanup(f.Close)
	return f
}

var allScopes = []access.Token{
	{KeyID: "admin", Scopes: []access.Scope{access.ScopeAdmin}},
	{KeyID: "reader", Scopes: []access.Scope{access.ScopeReadMetrics}},
	{KeyID: "none", Scopes: nil},
}

func TestGetRangeRequiresScope(t *testing.T) {
	f := newFacade(t, allScopes)
	if err := f.Ingest("cpu.load", 1000, 42); err != nil {
		t.Fatal(err)
	}

	got, err := f.GetRange(context.Background(), "reader", "cpu.load", 0, 2000)
	if err != nil {
		t.Fatalf("scoped read failed: %v", err)
	}
	if len(got) != 1 || got[0].Value != 42 {
		t.Fatalf("wrong samples: %v", got)
	}

	if _, err := f.GetRange(context.Background(), "none", "cpu.load", 0, 2000); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("unscoped token admitted: %v", err)
	}
}

func TestGetEventsScope(t *testing.T) {
	f := newFacade(t, allScopes)
	// read_metrics alone does not cover events.
	if _, err := f.GetEvents("reader", alerts.Filter{}); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.GetEvents("admin", alerts.Filter{}); err != nil {
		t.Fatalf("admin must read events: %v", err)
	}
}

func TestIngestFeedsAlertPath(t *testing.T) {
	f := newFacade(t, allScopes)
	if err := f.rules.AddRule(alerts.Rule{Name: "hot", SeriesID: "gpu0.temperature", Operator: alerts.OpGreater, Bound: 90, Severity: alerts.SeverityCritical}); err != nil {
		t.Fatal(err)
	}

	f.Ingest("gpu0.temperature", 1, 80)
	f.Ingest("gpu0.temperature", 2, 95)

	got, err := f.GetEvents("admin", alerts.Filter{Kind: alerts.KindThreshold})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 threshold event through the ingest path, got %d", len(got))
	}
	if got[0].Value != 95 {
		t.Errorf("event value = %g, want 95", got[0].Value)
	}
}

func TestPredictThroughFacade(t *testing.T) {
	f := newFacade(t, allScopes)
	for ts := int64(0); ts <= 100; ts += 10 {
		if err := f.Ingest("disk.used_pct", ts, 2*float64(ts)); err != nil {
			t.Fatal(err)
		}
	}
	trend, crossing, err := f.Predict("reader", "disk.used_pct", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if trend.RSquared < 0.999 {
		t.Errorf("r^2 = %g on a perfect line", trend.RSquared)
	}
	if crossing == nil || crossing.Timestamp < 490 || crossing.Timestamp > 510 {
		t.Errorf("crossing = %+v, want ~500", crossing)
	}
}

func TestHealthScoreThroughFacade(t *testing.T) {
	f := newFacade(t, allScopes)
	f.fleet.Report(fleet.HostState{HostID: "node1"})

	s, err := f.GetHealthScore("reader", "node1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Value != 100 {
		t.Errorf("score = %g, want 100", s.Value)
	}
	if _, err := f.GetHealthScore("reader", "ghost"); !errors.Is(err, fleet.ErrHostNotFound) {
		t.Fatalf("expected ErrHostNotFound, got %v", err)
	}
}

func TestSubscribeReceivesSamples(t *testing.T) {
	f := newFacade(t, allScopes)
	sub, err := f.Subscribe("admin", StreamFilter{SeriesID: "cpu.load"})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	f.Ingest("cpu.load", 1, 10)
	f.Ingest("mem.used", 1, 20) // filtered out

	select {
	case u := <-sub.Updates():
		if u.Kind != UpdateSample || u.SeriesID != "cpu.load" || u.Sample.Value != 10 {
			t.Fatalf("wrong update: %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}

	select {
	case u := <-sub.Updates():
		t.Fatalf("filtered series leaked: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeRequiresStreamScope(t *testing.T) {
	f := newFacade(t, allScopes)
	if _, err := f.Subscribe("reader", StreamFilter{}); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("read_metrics token opened a stream: %v", err)
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	f := newFacade(t, allScopes)
	sub, err := f.Subscribe("admin", StreamFilter{})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	// Nobody reads: the queue (size 8) plus the one update parked in the
	// pump absorb some, the rest are dropped oldest-first.
	for i := 0; i < 50; i++ {
		f.Ingest("cpu.load", int64(i), float64(i))
	}

	deadline := time.After(2 * time.Second)
	for sub.Dropped() == 0 {
		select {
		case <-deadline:
			t.Fatal("no drops recorded for a stalled subscriber")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The newest update must still come through.
	var last Update
	for {
		select {
		case u := <-sub.Updates():
			last = u
		case <-time.After(100 * time.Millisecond):
			if last.Sample == nil || last.Sample.Value != 49 {
				t.Fatalf("newest update lost, last seen %+v", last)
			}
			return
		}
	}
}

func TestCancelClosesUpdates(t *testing.T) {
	f := newFacade(t, allScopes)
	sub, err := f.Subscribe("admin", StreamFilter{})
	if err != nil {
		t.Fatal(err)
	}
	sub.Cancel()
	select {
	case _, ok := <-sub.Updates():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Updates not closed after Cancel")
	}
}

func TestAggregateThroughFacade(t *testing.T) {
	f := newFacade(t, allScopes)
	for i := 0; i < 3; i++ {
		f.Ingest("cpu.load", int64(i*1000), float64(10*(i+1)))
	}
	got, err := f.GetAggregate(context.Background(), "reader", "cpu.load", 0, 60_000, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Count != 3 || got[0].Avg != 20 {
		t.Fatalf("aggregate: %+v", got)
	}
}

func TestResolveEventClearsPending(t *testing.T) {
	f := newFacade(t, allScopes)
	ev := alerts.NewEvent(alerts.KindPredictedFailure, alerts.SeverityWarning, "disk.used_pct.root", 1000, 99, "disk filling")
	f.PublishEvent(ev)

	if n := f.events.UnresolvedCount(ev.Fingerprint); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}
	if err := f.ResolveEvent("reader", ev.Fingerprint); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("non-admin resolve: %v", err)
	}
	if err := f.ResolveEvent("admin", ev.Fingerprint); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if n := f.events.UnresolvedCount(ev.Fingerprint); n != 0 {
		t.Errorf("pending after resolve = %d, want 0", n)
	}
}
