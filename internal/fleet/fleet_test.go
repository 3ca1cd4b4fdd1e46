package fleet

import (
	"testing"
	"time"

	"hwpulse/internal/alerts"
)

func TestHealthyHostScoresExactly100(t *testing.T) {
	a := NewAggregator(DefaultPenalties(), time.Minute)
	now := time.Now()
	a.Report(HostState{HostID: "node1", LastSeen: now.UnixMilli()})

	s, ok := a.HostScore("node1", now)
	if !ok {
		t.Fatal("host not found")
	}
	if s.Value != 100 {
		t.Errorf("healthy host score = %g, want 100", s.Value)
	}
}

func TestPenaltyWeights(t *testing.T) {
	a := NewAggregator(Penalties{Warning: 10, Critical: 25, PredictedFailure: 15}, time.Minute)
	now := time.Now()

	tests := []struct {
		name     string
		state    HostState
		want     float64
	}{
		{"one warning", HostState{HostID: "h", ActiveBreaches: []alerts.Severity{alerts.SeverityWarning}}, 90},
		{"one critical", HostState{HostID: "h", ActiveBreaches: []alerts.Severity{alerts.SeverityCritical}}, 75},
		{"mixed", HostState{HostID: "h", ActiveBreaches: []alerts.Severity{alerts.SeverityCritical, alerts.SeverityWarning}, PredictedFailures: 1}, 50},
		{"floored at zero", HostState{HostID: "h", ActiveBreaches: []alerts.Severity{
			alerts.SeverityCritical, alerts.SeverityCritical, alerts.SeverityCritical,
			alerts.SeverityCritical, alerts.SeverityCritical,
		}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.state.LastSeen = now.UnixMilli()
			a.Report(tt.state)
			s, ok := a.HostScore("h", now)
			if !ok {
				t.Fatal("host not found")
			}
			if s.Value != tt.want {
				t.Errorf("score = %g, want %g", s.Value, tt.want)
			}
		})
	}
}

func TestUnknownHost(t *testing.T) {
	a := NewAggregator(DefaultPenalties(), time.Minute)
	if _, ok := a.HostScore("ghost", time.Now()); ok {
		t.Fatal("unknown host must not score")
	}
}

func TestGroupScoreExcludesStaleHosts(t *testing.T) {
	a := NewAggregator(Penalties{Warning: 10, Critical: 25, PredictedFailure: 15}, time.Minute)
	now := time.Now()
	tags := map[string]string{"rack": "r1"}

	a.Report(HostState{HostID: "fresh1", Tags: tags, LastSeen: now.UnixMilli()})
	a.Report(HostState{HostID: "fresh2", Tags: tags, LastSeen: now.UnixMilli(),
		ActiveBreaches: []alerts.Severity{alerts.SeverityWarning}})
	a.Report(HostState{HostID: "stale", Tags: tags, LastSeen: now.Add(-10 * time.Minute).UnixMilli(),
		ActiveBreaches: []alerts.Severity{alerts.SeverityCritical, alerts.SeverityCritical}})

	gs, ok := a.GroupScore("rack", "r1", now)
	if !ok {
		t.Fatal("group not found")
	}
	// Mean of 100 and 90; the stale host's 50 must not drag it down.
	if gs.Value != 95 {
		t.Errorf("group score = %g, want 95", gs.Value)
	}
	if gs.Hosts != 2 || gs.Stale != 1 {
		t.Errorf("hosts=%d stale=%d, want 2/1", gs.Hosts, gs.Stale)
	}
}

func TestGroupScoreUnknownTag(t *testing.T) {
	a := NewAggregator(DefaultPenalties(), time.Minute)
	a.Report(HostState{HostID: "h", Tags: map[string]string{"rack": "r1"}})
	if _, ok := a.GroupScore("rack", "r9", time.Now()); ok {
		t.Fatal("expected no group for unmatched tag value")
	}
}

func TestGroupScoreAllStale(t *testing.T) {
	a := NewAggregator(DefaultPenalties(), time.Minute)
	now := time.Now()
	a.Report(HostState{HostID: "h", Tags: map[string]string{"rack": "r1"},
		LastSeen: now.Add(-time.Hour).UnixMilli()})

	gs, ok := a.GroupScore("rack", "r1", now)
	if !ok {
		t.Fatal("group with only stale members still exists")
	}
	if gs.Hosts != 0 || gs.Stale != 1 || gs.Value != 0 {
		t.Errorf("all-stale group: %+v", gs)
	}
}

func TestReportReplacesState(t *testing.T) {
	a := NewAggregator(DefaultPenalties(), time.Minute)
	now := time.Now()
	a.Report(HostState{HostID: "h", LastSeen: now.UnixMilli(),
		ActiveBreaches: []alerts.Severity{alerts.SeverityCritical}})
	a.Report(HostState{HostID: "h", LastSeen: now.UnixMilli()})

	s, _ := a.HostScore("h", now)
	if s.Value != 100 {
		t.Errorf("stale breaches survived re-report: score %g", s.Value)
	}
}

func TestFleetSnapshot(t *testing.T) {
	a := NewAggregator(Penalties{Warning: 10, Critical: 25, PredictedFailure: 15}, time.Minute)
	now := time.Now()
	a.Report(HostState{HostID: "a", LastSeen: now.UnixMilli()})
	a.Report(HostState{HostID: "b", LastSeen: now.UnixMilli(), ActiveBreaches: []alerts.Severity{alerts.SeverityWarning}})
	a.Report(HostState{HostID: "c", LastSeen: now.Add(-5 * time.Minute).UnixMilli()})

	snap := a.FleetSnapshot(now)
	if snap.Hosts != 3 || snap.Online != 2 || snap.Stale != 1 {
		t.Fatalf("snapshot counts = %d/%d/%d, want 3/2/1", snap.Hosts, snap.Online, snap.Stale)
	}
	if len(snap.Scores) != 3 {
		t.Fatalf("snapshot scores = %d, want 3", len(snap.Scores))
	}
	if snap.Scores[0].HostID != "a" || snap.Scores[1].HostID != "b" || snap.Scores[2].HostID != "c" {
		t.Errorf("snapshot not sorted by host id: %+v", snap.Scores)
	}
	if snap.Scores[1].Value != 90 {
		t.Errorf("host b score = %g, want 90", snap.Scores[1].Value)
	}
	if !snap.Scores[2].Stale {
		t.Error("host c should be stale")
	}
}
