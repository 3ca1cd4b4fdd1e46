package alerts

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

func TestThresholdHysteresis(t *testing.T) {
	e := NewEngine(nil)
	if err := e.AddRule(Rule{Name: "cpu-high", SeriesID: "cpu.load", Operator: OpGreater, Bound: 80, Severity: SeverityWarning}); err != nil {
		t.Fatal(err)
	}

	var fired []Event
	for i, v := range []float64{70, 85, 90, 75, 95} {
		fired = append(fired, e.Evaluate("cpu.load", int64(i), v)...)
	}
	if len(fired) != 2 {
		t.Fatalf("expected exactly 2 threshold events, got %d", len(fired))
	}
	if fired[0].Value != 85 || fired[1].Value != 95 {
		t.Errorf("events fired at wrong samples: %g, %g", fired[0].Value, fired[1].Value)
	}
	for _, ev := range fired {
		if ev.Kind != KindThreshold || ev.Threshold != 80 {
			t.Errorf("malformed event: %+v", ev)
		}
	}
}

func TestBoundaryValueDoesNotRetrigger(t *testing.T) {
	e := NewEngine(nil)
	if err := e.AddRule(Rule{Name: "r", SeriesID: "s", Operator: OpGreater, Bound: 80}); err != nil {
		t.Fatal(err)
	}
	var total int
	// 80 itself is not > 80: it resets the state without firing.
	for i, v := range []float64{85, 80, 80, 85} {
		total += len(e.Evaluate("s", int64(i), v))
	}
	if total != 2 {
		t.Fatalf("expected 2 events, got %d", total)
	}
}

func TestOperators(t *testing.T) {
	tests := []struct {
		op       Operator
		bound    float64
		value    float64
		breached bool
	}{
		{OpGreater, 80, 80, false},
		{OpGreater, 80, 80.1, true},
		{OpGreaterEqual, 80, 80, true},
		{OpLess, 10, 10, false},
		{OpLess, 10, 9.9, true},
		{OpLessEqual, 10, 10, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s%g_%g", tt.op, tt.bound, tt.value), func(t *testing.T) {
			if got := tt.op.breached(tt.value, tt.bound); got != tt.breached {
				t.Errorf("breached(%g %s %g) = %v, want %v", tt.value, tt.op, tt.bound, got, tt.breached)
			}
		})
	}
}

func TestAddRuleRejectsUnknownOperator(t *testing.T) {
	e := NewEngine(nil)
	if err := e.AddRule(Rule{Name: "r", SeriesID: "s", Operator: "!="}); err == nil {
		t.Fatal("expected error for unknown operator")
	}
}

func TestStateChangeEvents(t *testing.T) {
	e := NewEngine(nil)
	e.WatchStateChanges("eth0.link")

	var fired []Event
	for i, v := range []float64{1, 1, 0, 0, 1} {
		fired = append(fired, e.Evaluate("eth0.link", int64(i), v)...)
	}
	if len(fired) != 2 {
		t.Fatalf("expected 2 state changes, got %d", len(fired))
	}
	if fired[0].Timestamp != 2 || fired[1].Timestamp != 4 {
		t.Errorf("state changes at wrong samples: %d, %d", fired[0].Timestamp, fired[1].Timestamp)
	}
	// The very first observation never fires.
	e2 := NewEngine(nil)
	e2.WatchStateChanges("eth0.link")
	if got := e2.Evaluate("eth0.link", 0, 1); len(got) != 0 {
		t.Errorf("first sample must not emit, got %d events", len(got))
	}
}

func TestActiveBreaches(t *testing.T) {
	e := NewEngine(nil)
	if err := e.AddRule(Rule{Name: "hot", SeriesID: "gpu0.temperature", Operator: OpGreaterEqual, Bound: 90, Severity: SeverityCritical}); err != nil {
		t.Fatal(err)
	}
	e.Evaluate("gpu0.temperature", 1, 95)
	if got := e.ActiveBreaches(); len(got["gpu0.temperature"]) != 1 {
		t.Fatalf("expected 1 active breach, got %v", got)
	}
	e.Evaluate("gpu0.temperature", 2, 70)
	if got := e.ActiveBreaches(); len(got) != 0 {
		t.Fatalf("breach must clear on recovery, got %v", got)
	}
}

func TestEngineSink(t *testing.T) {
	var sunk []Event
	e := NewEngine(func(ev Event) { sunk = append(sunk, ev) })
	if err := e.AddRule(Rule{Name: "r", SeriesID: "s", Operator: OpGreater, Bound: 1}); err != nil {
		t.Fatal(err)
	}
	e.Evaluate("s", 1, 2)
	if len(sunk) != 1 {
		t.Fatalf("sink received %d events, want 1", len(sunk))
	}
}

func TestEventLogAppendAndQuery(t *testing.T) {
	l, err := OpenLog(t.TempDir(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	for i := 0; i < 5; i++ {
		ev := NewEvent(KindThreshold, SeverityWarning, "cpu.load", int64(100+i), float64(i), "test")
		if err := l.Append(ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := l.Query(Filter{SeriesID: "cpu.load"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 events, got %d", len(got))
	}
	// Newest first.
	if got[0].Timestamp != 104 {
		t.Errorf("expected newest first, got ts=%d", got[0].Timestamp)
	}

	got, err = l.Query(Filter{Kind: KindAnomaly})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("kind filter leaked %d events", len(got))
	}
}

func TestEventLogSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenLog(dir, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	ev := NewEvent(KindAnomaly, SeverityCritical, "mem.used", 42, 999, "spike")
	if err := l.Append(ev); err != nil {
		t.Fatal(err)
	}
	l.Close()

	l2, err := OpenLog(dir, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer l2.Close()
	got, err := l2.Query(Filter{SeriesID: "mem.used"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != ev.ID {
		t.Fatalf("event lost across reopen: %v", got)
	}
}

func TestEventLogRotation(t *testing.T) {
	dir := t.TempDir()
	// Tiny ceiling forces rotation almost immediately.
	l, err := OpenLog(dir, 256, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	for i := 0; i < 50; i++ {
		ev := NewEvent(KindThreshold, SeverityWarning, "disk.io", int64(i+1), float64(i), "fill")
		ev.ID = fmt.Sprintf("fill-%d", i)
		if err := l.Append(ev); err != nil {
			t.Fatal(err)
		}
	}

	archives := 0
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".cbor.zst") {
			archives++
		}
	}
	if archives == 0 {
		t.Fatal("expected at least one compressed archive after rotation")
	}

	// Archived events stay queryable.
	got, err := l.Query(Filter{SeriesID: "disk.io", Since: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 50 {
		t.Fatalf("expected all 50 events across archives, got %d", len(got))
	}
}

func TestAcknowledge(t *testing.T) {
	l, err := OpenLog(t.TempDir(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	ev := NewEvent(KindThreshold, SeverityWarning, "cpu.load", 7, 91, "high")
	if err := l.Append(ev); err != nil {
		t.Fatal(err)
	}
	l.Acknowledge(ev.ID)

	got, err := l.Query(Filter{OnlyUnacked: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("acknowledged event still returned: %v", got)
	}
	got, err = l.Query(Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("acknowledged event must remain in the log")
	}
}

func TestResolveClearsPending(t *testing.T) {
	l, err := OpenLog(t.TempDir(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	ev := NewEvent(KindThreshold, SeverityCritical, "gpu0.temperature", 10, 95, "hot")
	if err := l.Append(ev); err != nil {
		t.Fatal(err)
	}
	if got := l.UnresolvedCount(ev.Fingerprint); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}
	if err := l.Resolve(ev.Fingerprint, 11); err != nil {
		t.Fatal(err)
	}
	if got := l.UnresolvedCount(ev.Fingerprint); got != 0 {
		t.Fatalf("pending after resolve = %d, want 0", got)
	}
}

func TestSweepDeletesOldArchives(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenLog(dir, 128, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	for i := 0; i < 30; i++ {
		if err := l.Append(NewEvent(KindThreshold, SeverityInfo, "s", int64(i+1), 0, "x")); err != nil {
			t.Fatal(err)
		}
	}
	// Horizon of zero expires every archive immediately.
	time.Sleep(10 * time.Millisecond)
	if removed := l.Sweep(0); removed == 0 {
		t.Fatal("expected archives to be swept")
	}
}

func TestQueryCoversEvictedEvents(t *testing.T) {
	l, err := OpenLog(t.TempDir(), 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	for i := 1; i <= 3; i++ {
		if err := l.Append(NewEvent(KindThreshold, SeverityWarning, "cpu.load", int64(i), float64(i), "x")); err != nil {
			t.Fatal(err)
		}
	}
	// The window holds 2 of 3; the oldest must still come back from the
	// active file.
	got, err := l.Query(Filter{Since: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	got, err = l.Query(Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("unfiltered query dropped evicted events: got %d", len(got))
	}
}

func TestResolveMarkerCarriesKind(t *testing.T) {
	l, err := OpenLog(t.TempDir(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	ev := NewEvent(KindPredictedFailure, SeverityWarning, "disk.used_pct.root", 10, 97, "filling")
	if err := l.Append(ev); err != nil {
		t.Fatal(err)
	}
	if err := l.Resolve(ev.Fingerprint, 11); err != nil {
		t.Fatal(err)
	}

	got, err := l.Query(Filter{Kind: KindThreshold})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("resolution marker leaked into threshold queries: %v", got)
	}
	got, err = l.Query(Filter{Kind: KindPredictedFailure})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected event plus marker, got %d", len(got))
	}
}

func TestPendingByKind(t *testing.T) {
	l, err := OpenLog(t.TempDir(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	th := NewEvent(KindThreshold, SeverityWarning, "cpu.load", 1, 91, "high")
	pf := NewEvent(KindPredictedFailure, SeverityWarning, "disk.used_pct.root", 2, 97, "filling")
	for _, ev := range []Event{th, pf} {
		if err := l.Append(ev); err != nil {
			t.Fatal(err)
		}
	}
	if got := l.PendingByKind(KindPredictedFailure); got != 1 {
		t.Fatalf("predicted pending = %d, want 1", got)
	}
	if got := l.PendingByKind(KindThreshold); got != 1 {
		t.Fatalf("threshold pending = %d, want 1", got)
	}
	if err := l.Resolve(pf.Fingerprint, 3); err != nil {
		t.Fatal(err)
	}
	if got := l.PendingByKind(KindPredictedFailure); got != 0 {
		t.Fatalf("resolved prediction still pending: %d", got)
	}
	if got := l.PendingByKind(KindThreshold); got != 1 {
		t.Fatalf("threshold pending changed by unrelated resolve: %d", got)
	}
}
