// Package commands wires the engine together for the CLI.
package commands

import (
	"fmt"
	"os"
	"time"

	"hwpulse/internal/access"
	"hwpulse/internal/aggregate"
	"hwpulse/internal/alerts"
	"hwpulse/internal/anomaly"
	"hwpulse/internal/collectors"
	"hwpulse/internal/config"
	"hwpulse/internal/facade"
	"hwpulse/internal/fleet"
	"hwpulse/internal/ingest"
	"hwpulse/internal/predict"
	"hwpulse/internal/tsdb"
)

// localKey is the process-local CLI token. Commands run inside the trust
// boundary, so the CLI always holds admin; the configured token table
// gates remote callers only.
const localKey = "local-cli"

// GetCurrentVersion is set by main during build wiring.
var GetCurrentVersion func() string

// Engine bundles every component a command might need.
type Engine struct {
	Cfg       *config.Config
	Store     *tsdb.Store
	Events    *alerts.Log
	Rules     *alerts.Engine
	Detector  *anomaly.Detector
	Model     *predict.Model
	Fleet     *fleet.Aggregator
	Ctrl      *access.Controller
	Facade    *facade.Facade
	Compactor *tsdb.Compactor
	Runner    *ingest.Runner
}

// OpenEngine builds the full engine from configuration.
func OpenEngine(cfg *config.Config) (*Engine, error) {
	opts := tsdb.DefaultOptions(cfg.DataDir)
	if cfg.SegmentMaxSamples > 0 {
		opts.MaxSamplesPerSegment = cfg.SegmentMaxSamples
	}
	if cfg.SegmentMaxSpan > 0 {
		opts.MaxSegmentSpan = cfg.SegmentMaxSpan
	}
	store, err := tsdb.Open(opts)
	if err != nil {
		return nil, err
	}

	events, err := alerts.OpenLog(cfg.EventDir, 0, 0)
	if err != nil {
		store.Close()
		return nil, err
	}

	tokens := append([]access.Token{access.AdminToken(localKey)}, cfg.Tokens...)
	ctrl := access.NewController(tokens, cfg.RateLimitWindow)

	agg := fleet.NewAggregator(fleet.DefaultPenalties(), cfg.StalenessWindow)

	e := &Engine{
		Cfg:       cfg,
		Store:     store,
		Events:    events,
		Model:     predict.NewModel(store, cfg.PredictWindow, 0),
		Fleet:     agg,
		Ctrl:      ctrl,
		Compactor: tsdb.NewCompactor(store, cfg.RetentionHorizon, cfg.CompactionInterval),
	}

	e.Rules = alerts.NewEngine(nil)
	e.Detector = anomaly.NewDetector(cfg.AnomalyWindow, cfg.AnomalyThreshold, nil)

	e.Facade = facade.New(facade.Options{
		Store:      store,
		Aggregates: aggregate.NewEngine(store, cfg.AggregateBucket),
		Events:     events,
		Rules:      e.Rules,
		Detector:   e.Detector,
		Model:      e.Model,
		Fleet:      agg,
		Controller: ctrl,
	})
	e.Rules.SetSink(e.Facade.PublishEvent)
	e.Detector.SetSink(e.Facade.PublishEvent)

	for _, r := range defaultRules(cfg) {
		e.Rules.AddRule(r)
	}
	for _, r := range cfg.Rules {
		e.Rules.AddRule(r)
	}
	for _, id := range cfg.StateSeries {
		e.Rules.WatchStateChanges(id)
	}

	return e, nil
}

// defaultRules derives the built-in threshold rules from configuration.
func defaultRules(cfg *config.Config) []alerts.Rule {
	return []alerts.Rule{
		{Name: "cpu-high", SeriesID: "cpu.usage_pct", Operator: alerts.OpGreater, Bound: cfg.CPUThreshold, Severity: alerts.SeverityWarning},
		{Name: "mem-high", SeriesID: "mem.used_pct", Operator: alerts.OpGreater, Bound: cfg.MemThreshold, Severity: alerts.SeverityWarning},
		{Name: "disk-high", SeriesID: "disk.used_pct.root", Operator: alerts.OpGreater, Bound: cfg.DiskThreshold, Severity: alerts.SeverityCritical},
	}
}

// NewRunner builds the collector runner feeding this engine.
func (e *Engine) NewRunner() *ingest.Runner {
	hostname, _ := os.Hostname()
	tags := map[string]string{"host": hostname}
	for k, v := range e.Cfg.HostTags {
		tags[k] = v
	}
	cs := []ingest.Collector{
		collectors.NewCPU(tags),
		collectors.NewMemory(tags),
		collectors.NewDisk(nil, tags),
		collectors.NewNetwork(tags),
		collectors.NewThermal(tags),
	}
	buf := ingest.NewBuffer(0)
	e.Runner = ingest.NewRunner(cs, buf, e.Facade.Ingest, e.Store, e.Cfg.CollectionInterval)
	return e.Runner
}

// CheckPredictedFailures fits a trend for every series carrying a
// threshold rule and records a predicted failure when the projected
// crossing falls within horizon. At most one outstanding prediction per
// series; a new one can fire after the old is resolved.
func (e *Engine) CheckPredictedFailures(horizon time.Duration) int {
	now := time.Now().UnixMilli()
	emitted := 0
	for _, seriesID := range e.Store.SeriesIDs() {
		rules := e.Rules.Rules(seriesID)
		if len(rules) == 0 {
			continue
		}
		trend, err := e.Model.Fit(seriesID)
		if err != nil {
			continue
		}
		for _, r := range rules {
			crossing := trend.Crossing(r.Bound)
			if crossing == nil || crossing.Timestamp > now+horizon.Milliseconds() {
				continue
			}
			until := time.Duration(crossing.Timestamp-now) * time.Millisecond
			ev := alerts.NewEvent(alerts.KindPredictedFailure, alerts.SeverityWarning, seriesID, 0,
				trend.ValueAt(now),
				fmt.Sprintf("%s projected to cross %g in %s (confidence %.2f)",
					seriesID, r.Bound, until.Round(time.Minute), crossing.RSquared))
			if e.Events.UnresolvedCount(ev.Fingerprint) > 0 {
				continue
			}
			e.Facade.PublishEvent(ev)
			emitted++
			break
		}
	}
	return emitted
}

// LocalKey returns the CLI's own capability token key.
func (e *Engine) LocalKey() string { return localKey }

// HostState snapshots this host for fleet reporting.
func (e *Engine) HostState() fleet.HostState {
	st := fleet.HostState{
		HostID:   e.Cfg.HostID,
		Tags:     e.Cfg.HostTags,
		LastSeen: time.Now().UnixMilli(),
	}
	for _, rules := range e.Rules.ActiveBreaches() {
		for _, r := range rules {
			st.ActiveBreaches = append(st.ActiveBreaches, r.Severity)
		}
	}
	st.PredictedFailures = e.Events.PendingByKind(alerts.KindPredictedFailure)
	return st
}

// Close releases the engine's resources.
func (e *Engine) Close() {
	e.Facade.Close()
	e.Events.Close()
	e.Store.Close()
}
