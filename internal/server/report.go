package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"hwpulse/internal/alerts"
	"hwpulse/internal/encoding"
	"hwpulse/internal/fleet"
	"hwpulse/internal/logger"
)

// Reporter pushes this host's state to a fleet aggregator on a fixed
// cadence. A failed push is logged and retried on the next tick; the
// local engine keeps running regardless.
type Reporter struct {
	url      string
	apiKey   string
	hostID   string
	tags     map[string]string
	interval time.Duration
	rules    *alerts.Engine
	events   *alerts.Log
	client   *http.Client
}

func NewReporter(url, apiKey, hostID string, tags map[string]string, interval time.Duration, rules *alerts.Engine, events *alerts.Log) *Reporter {
	return &Reporter{
		url:      url,
		apiKey:   apiKey,
		hostID:   hostID,
		tags:     tags,
		interval: interval,
		rules:    rules,
		events:   events,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// snapshot folds current alert state into a report payload.
func (r *Reporter) snapshot() fleet.HostState {
	p := fleet.HostState{
		HostID:   r.hostID,
		Tags:     r.tags,
		LastSeen: time.Now().UnixMilli(),
	}
	for _, rules := range r.rules.ActiveBreaches() {
		for _, rule := range rules {
			p.ActiveBreaches = append(p.ActiveBreaches, rule.Severity)
		}
	}
	if r.events != nil {
		p.PredictedFailures = r.events.PendingByKind(alerts.KindPredictedFailure)
	}
	return p
}

// Push sends one report now.
func (r *Reporter) Push() error {
	resp, err := encoding.PostCBOR(r.client, r.url, r.snapshot(), map[string]string{authHeader: r.apiKey})
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("aggregator returned %d", resp.StatusCode)
	}
	return nil
}

// Run pushes on the configured interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Push(); err != nil {
				logger.Warning("fleet report failed: %v", err)
			}
		}
	}
}
