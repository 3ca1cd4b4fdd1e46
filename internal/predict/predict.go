// Package predict fits degradation trends over recent series history and
// extrapolates threshold crossings.
package predict

import (
	"errors"
	"fmt"
	"math"

	constants "hwpulse/config"
	"hwpulse/internal/tsdb"
)

// ErrInsufficientData is returned when a series has fewer samples than the
// minimum needed for a meaningful fit.
var ErrInsufficientData = errors.New("insufficient data")

// Trend is an ordinary least-squares line fitted over a series suffix.
// Slope is in value units per millisecond. RSquared is surfaced as-is;
// discounting low-confidence fits is the caller's call, since what counts
// as low confidence differs per metric.
type Trend struct {
	SeriesID  string  `json:"series_id"`
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	RSquared  float64 `json:"r_squared"`
	Samples   int     `json:"samples"`
	FirstTs   int64   `json:"first_ts"`
	LastTs    int64   `json:"last_ts"`
}

// ValueAt evaluates the fitted line at ts.
func (t Trend) ValueAt(ts int64) float64 {
	return t.Slope*float64(ts) + t.Intercept
}

// Crossing is a predicted threshold crossing.
type Crossing struct {
	Timestamp int64   `json:"timestamp"`
	Threshold float64 `json:"threshold"`
	RSquared  float64 `json:"r_squared"`
}

// Model fits trends from stored samples.
type Model struct {
	store     *tsdb.Store
	window    int
	minPoints int
}

// NewModel builds a model reading the most recent window samples per fit.
func NewModel(store *tsdb.Store, window, minPoints int) *Model {
	if window <= 0 {
		window = constants.DEFAULT_PREDICT_WINDOW
	}
	if minPoints < 2 {
		minPoints = constants.DEFAULT_PREDICT_MIN_POINTS
	}
	return &Model{store: store, window: window, minPoints: minPoints}
}

// Fit computes the OLS line over the newest window samples of a series.
func (m *Model) Fit(seriesID string) (Trend, error) {
	samples, err := m.store.ReadLast(seriesID, m.window)
	if err != nil {
		return Trend{}, err
	}
	if len(samples) < m.minPoints {
		return Trend{}, fmt.Errorf("%w: series %s has %d samples, need %d", ErrInsufficientData, seriesID, len(samples), m.minPoints)
	}
	t := fit(samples)
	t.SeriesID = seriesID
	return t, nil
}

// fit runs OLS over samples. Timestamps are re-based on the first sample
// to keep the normal equations well conditioned with unix-milli inputs.
func fit(samples []tsdb.Sample) Trend {
	base := samples[0].Timestamp
	n := float64(len(samples))

	var sumT, sumV, sumTT, sumTV float64
	for _, s := range samples {
		t := float64(s.Timestamp - base)
		sumT += t
		sumV += s.Value
		sumTT += t * t
		sumTV += t * s.Value
	}

	denom := n*sumTT - sumT*sumT
	var slope float64
	if denom != 0 {
		slope = (n*sumTV - sumT*sumV) / denom
	}
	meanV := sumV / n
	interceptAtBase := meanV - slope*(sumT/n)

	var ssRes, ssTot float64
	for _, s := range samples {
		pred := slope*float64(s.Timestamp-base) + interceptAtBase
		ssRes += (s.Value - pred) * (s.Value - pred)
		ssTot += (s.Value - meanV) * (s.Value - meanV)
	}
	r2 := 1.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}

	return Trend{
		Slope:     slope,
		Intercept: interceptAtBase - slope*float64(base),
		RSquared:  r2,
		Samples:   len(samples),
		FirstTs:   base,
		LastTs:    samples[len(samples)-1].Timestamp,
	}
}

// PredictThresholdCrossing extrapolates the fitted line to the time it
// crosses threshold. It returns nil when the line diverges from the
// threshold or the crossing lies in the past; predictions are always
// strictly after the newest sample.
func (m *Model) PredictThresholdCrossing(seriesID string, threshold float64) (*Crossing, error) {
	t, err := m.Fit(seriesID)
	if err != nil {
		return nil, err
	}
	return t.Crossing(threshold), nil
}

// Crossing extrapolates an already-fitted trend. See
// PredictThresholdCrossing for the nil cases.
func (t Trend) Crossing(threshold float64) *Crossing {
	current := t.ValueAt(t.LastTs)
	if t.Slope == 0 {
		return nil
	}
	// Approaching requires moving toward the threshold from the current
	// side; a line already past it or heading away never crosses.
	if current < threshold && t.Slope <= 0 {
		return nil
	}
	if current > threshold && t.Slope >= 0 {
		return nil
	}
	if current == threshold {
		return nil
	}

	ts := (threshold - t.Intercept) / t.Slope
	at := int64(math.Ceil(ts))
	if at <= t.LastTs {
		return nil
	}
	return &Crossing{Timestamp: at, Threshold: threshold, RSquared: t.RSquared}
}
