// Package facade is the single permissioned surface over the engine:
// every query and subscription passes token validation before touching
// the store, and every result or failure is a typed value.
package facade

import (
	"context"
	"time"

	"hwpulse/internal/access"
	"hwpulse/internal/aggregate"
	"hwpulse/internal/alerts"
	"hwpulse/internal/anomaly"
	"hwpulse/internal/fleet"
	"hwpulse/internal/predict"
	"hwpulse/internal/tsdb"
)

// Facade wires the engine's components behind the access controller.
type Facade struct {
	store    *tsdb.Store
	agg      *aggregate.Engine
	events   *alerts.Log
	rules    *alerts.Engine
	detector *anomaly.Detector
	model    *predict.Model
	fleet    *fleet.Aggregator
	ctrl     *access.Controller
	hub      *hub
}

// Options collects the facade's collaborators. Store and Controller are
// required; the rest may be nil, disabling the matching operations.
type Options struct {
	Store      *tsdb.Store
	Aggregates *aggregate.Engine
	Events     *alerts.Log
	Rules      *alerts.Engine
	Detector   *anomaly.Detector
	Model      *predict.Model
	Fleet      *fleet.Aggregator
	Controller *access.Controller
	QueueSize  int
}

func New(opts Options) *Facade {
	return &Facade{
		store:    opts.Store,
		agg:      opts.Aggregates,
		events:   opts.Events,
		rules:    opts.Rules,
		detector: opts.Detector,
		model:    opts.Model,
		fleet:    opts.Fleet,
		ctrl:     opts.Controller,
		hub:      newHub(opts.QueueSize),
	}
}

// Ingest records one sample and runs it through the alert and anomaly
// paths, then publishes it to live subscribers. Collector-facing, not
// token-gated: collectors live in the same process and trust boundary.
func (f *Facade) Ingest(seriesID string, ts int64, value float64) error {
	if err := f.store.Append(seriesID, tsdb.Sample{Timestamp: ts, Value: value}); err != nil {
		return err
	}
	if f.rules != nil {
		f.rules.Evaluate(seriesID, ts, value)
	}
	if f.detector != nil {
		f.detector.Observe(seriesID, ts, value)
	}
	s := tsdb.Sample{Timestamp: ts, Value: value}
	f.hub.publish(Update{Kind: UpdateSample, SeriesID: seriesID, Sample: &s})
	return nil
}

// PublishEvent records an event and fans it out to subscribers. Wired as
// the sink of the alert engine and anomaly detector.
func (f *Facade) PublishEvent(ev alerts.Event) {
	if f.events != nil {
		if err := f.events.Append(ev); err == nil {
			ev := ev
			f.hub.publish(Update{Kind: UpdateEvent, SeriesID: ev.SeriesID, Event: &ev})
		}
	}
}

// GetRange returns raw samples of a series in [start, end].
func (f *Facade) GetRange(ctx context.Context, keyID, seriesID string, start, end int64) ([]tsdb.Sample, error) {
	if err := f.ctrl.Authorize(keyID, access.ScopeReadMetrics); err != nil {
		return nil, err
	}
	it, err := f.store.ReadRange(ctx, seriesID, start, end)
	if err != nil {
		return nil, err
	}
	return it.Collect()
}

// GetAggregate returns bucketed statistics over [start, end].
func (f *Facade) GetAggregate(ctx context.Context, keyID, seriesID string, start, end int64, bucket time.Duration) ([]aggregate.Aggregate, error) {
	if err := f.ctrl.Authorize(keyID, access.ScopeReadMetrics); err != nil {
		return nil, err
	}
	return f.agg.Query(ctx, seriesID, start, end, bucket)
}

// GetEvents returns events matching the filter, newest first.
func (f *Facade) GetEvents(keyID string, filter alerts.Filter) ([]alerts.Event, error) {
	if err := f.ctrl.Authorize(keyID, access.ScopeReadEvents); err != nil {
		return nil, err
	}
	return f.events.Query(filter)
}

// AcknowledgeEvent marks an event as handled. Requires admin.
func (f *Facade) AcknowledgeEvent(keyID, eventID string) error {
	if err := f.ctrl.Authorize(keyID, access.ScopeAdmin); err != nil {
		return err
	}
	f.events.Acknowledge(eventID)
	return nil
}

// ResolveEvent records a resolution for one outstanding occurrence of a
// fingerprint. Requires admin.
func (f *Facade) ResolveEvent(keyID, fingerprint string) error {
	if err := f.ctrl.Authorize(keyID, access.ScopeAdmin); err != nil {
		return err
	}
	return f.events.Resolve(fingerprint, time.Now().UnixMilli())
}

// GetHealthScore returns one host's health score.
func (f *Facade) GetHealthScore(keyID, hostID string) (fleet.Score, error) {
	if err := f.ctrl.Authorize(keyID, access.ScopeReadMetrics); err != nil {
		return fleet.Score{}, err
	}
	s, ok := f.fleet.HostScore(hostID, time.Now())
	if !ok {
		return fleet.Score{}, fleet.ErrHostNotFound
	}
	return s, nil
}

// GetGroupScore returns the mean score of fresh hosts tagged tag=value.
func (f *Facade) GetGroupScore(keyID, tag, value string) (fleet.GroupScore, error) {
	if err := f.ctrl.Authorize(keyID, access.ScopeReadMetrics); err != nil {
		return fleet.GroupScore{}, err
	}
	gs, ok := f.fleet.GroupScore(tag, value, time.Now())
	if !ok {
		return fleet.GroupScore{}, fleet.ErrHostNotFound
	}
	return gs, nil
}

// Predict fits the series trend and extrapolates the threshold crossing.
// The crossing is nil when the trend never reaches the threshold.
func (f *Facade) Predict(keyID, seriesID string, threshold float64) (predict.Trend, *predict.Crossing, error) {
	if err := f.ctrl.Authorize(keyID, access.ScopeReadMetrics); err != nil {
		return predict.Trend{}, nil, err
	}
	trend, err := f.model.Fit(seriesID)
	if err != nil {
		return predict.Trend{}, nil, err
	}
	return trend, trend.Crossing(threshold), nil
}

// Subscribe opens a live feed of samples and events matching the filter.
// The feed runs until the caller cancels it; a slow caller loses oldest
// updates rather than stalling ingestion.
func (f *Facade) Subscribe(keyID string, filter StreamFilter) (*Subscription, error) {
	if err := f.ctrl.Authorize(keyID, access.ScopeStream); err != nil {
		return nil, err
	}
	return f.hub.subscribe(filter), nil
}

// Close shuts down all live subscriptions.
func (f *Facade) Close() {
	f.hub.close()
}
