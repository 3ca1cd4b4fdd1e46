package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hwpulse/internal/access"
	"hwpulse/internal/alerts"
	"hwpulse/internal/encoding"
	"hwpulse/internal/fleet"
)

func testServer(t *testing.T) (*httptest.Server, *fleet.Aggregator) {
	t.Helper()
	agg := fleet.NewAggregator(fleet.DefaultPenalties(), time.Minute)
	ctrl := access.NewController([]access.Token{
		{KeyID: "agent", Scopes: []access.Scope{access.ScopeAdmin}},
		{KeyID: "reader", Scopes: []access.Scope{access.ScopeReadMetrics}},
	}, time.Minute)
	s := New("127.0.0.1:0", agg, ctrl)
	ts := httptest.NewServer(s.http.Handler)
	t.Cleanup(ts.Close)
	return ts, agg
}

func TestReportThenHealth(t *testing.T) {
	ts, _ := testServer(t)
	client := ts.Client()

	st := fleet.HostState{
		HostID:         "node1",
		Tags:           map[string]string{"rack": "r1"},
		LastSeen:       time.Now().UnixMilli(),
		ActiveBreaches: []alerts.Severity{alerts.SeverityWarning},
	}
	resp, err := encoding.PostCBOR(client, ts.URL+"/fleet/report", st, map[string]string{authHeader: "agent"})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("report status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/fleet/health?host=node1", nil)
	req.Header.Set(authHeader, "reader")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var score fleet.Score
	if err := encoding.ReadCBOR(resp, &score); err != nil {
		t.Fatal(err)
	}
	if score.Value != 90 {
		t.Errorf("score = %g, want 90", score.Value)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/fleet/health?tag=rack&value=r1", nil)
	req.Header.Set(authHeader, "reader")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var gs fleet.GroupScore
	if err := encoding.ReadCBOR(resp, &gs); err != nil {
		t.Fatal(err)
	}
	if gs.Value != 90 || gs.Hosts != 1 {
		t.Errorf("group score: %+v", gs)
	}
}

func TestReportRequiresAdmin(t *testing.T) {
	ts, _ := testServer(t)
	st := fleet.HostState{HostID: "node1"}
	resp, err := encoding.PostCBOR(ts.Client(), ts.URL+"/fleet/report", st, map[string]string{authHeader: "reader"})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHealthUnknownHost(t *testing.T) {
	ts, _ := testServer(t)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/fleet/health?host=ghost", nil)
	req.Header.Set(authHeader, "reader")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestReporterPush(t *testing.T) {
	ts, agg := testServer(t)

	rules := alerts.NewEngine(nil)
	if err := rules.AddRule(alerts.Rule{Name: "hot", SeriesID: "cpu.load", Operator: alerts.OpGreater, Bound: 80, Severity: alerts.SeverityCritical}); err != nil {
		t.Fatal(err)
	}
	rules.Evaluate("cpu.load", 1, 95)

	r := NewReporter(ts.URL+"/fleet/report", "agent", "node2", map[string]string{"rack": "r2"}, time.Second, rules, nil)
	if err := r.Push(); err != nil {
		t.Fatalf("Push: %v", err)
	}

	score, ok := agg.HostScore("node2", time.Now())
	if !ok {
		t.Fatal("host not registered by push")
	}
	if score.Value != 75 {
		t.Errorf("score = %g, want 75 (one critical breach)", score.Value)
	}
}

func TestHostsSnapshot(t *testing.T) {
	ts, agg := testServer(t)
	client := ts.Client()

	now := time.Now()
	agg.Report(fleet.HostState{HostID: "node1", LastSeen: now.UnixMilli()})
	agg.Report(fleet.HostState{HostID: "node2", LastSeen: now.Add(-5 * time.Minute).UnixMilli()})

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/fleet/hosts", nil)
	req.Header.Set(authHeader, "reader")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("hosts status = %d", resp.StatusCode)
	}
	var snap fleet.Snapshot
	if err := encoding.ReadCBOR(resp, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Hosts != 2 || snap.Online != 1 || snap.Stale != 1 {
		t.Errorf("snapshot counts = %d/%d/%d, want 2/1/1", snap.Hosts, snap.Online, snap.Stale)
	}
	if len(snap.Scores) != 2 || snap.Scores[0].HostID != "node1" {
		t.Errorf("unexpected scores: %+v", snap.Scores)
	}
}

func TestRateLimitedReportsRetryAfter(t *testing.T) {
	agg := fleet.NewAggregator(fleet.DefaultPenalties(), time.Minute)
	ctrl := access.NewController([]access.Token{
		{KeyID: "tight", Scopes: []access.Scope{access.ScopeReadMetrics}, RateLimit: 1},
	}, time.Minute)
	s := New("127.0.0.1:0", agg, ctrl)
	ts := httptest.NewServer(s.http.Handler)
	defer ts.Close()
	client := ts.Client()

	agg.Report(fleet.HostState{HostID: "node1", LastSeen: time.Now().UnixMilli()})

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/fleet/health?host=node1", nil)
		req.Header.Set(authHeader, "tight")
		resp, err := client.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if i == 0 && resp.StatusCode != http.StatusOK {
			t.Fatalf("first request status = %d", resp.StatusCode)
		}
		if i == 1 {
			if resp.StatusCode != http.StatusTooManyRequests {
				t.Fatalf("second request status = %d, want 429", resp.StatusCode)
			}
			if resp.Header.Get("Retry-After") == "" {
				t.Error("429 response missing Retry-After header")
			}
		}
	}
}
