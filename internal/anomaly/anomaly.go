// Package anomaly scores incoming samples against a rolling per-series
// window using a z-score test.
package anomaly

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	constants "hwpulse/config"
	"hwpulse/internal/alerts"
)

// ErrInsufficientData is returned while a series' window is still filling.
var ErrInsufficientData = errors.New("insufficient data")

// Detector keeps a bounded window of recent values per series. The score
// of an incoming sample is computed over the window excluding that sample,
// so a spike cannot dilute the baseline it is judged against. No anomaly
// can fire until the window holds minFill samples.
type Detector struct {
	window    int
	minFill   int
	threshold float64

	mu     sync.Mutex
	series map[string]*ring
	sink   func(alerts.Event)
}

// Result is the verdict for one sample.
type Result struct {
	ZScore    float64
	Mean      float64
	StdDev    float64
	Anomalous bool
}

// NewDetector builds a detector. Zero window or threshold fall back to the
// defaults; minFill defaults to the window size.
func NewDetector(window int, threshold float64, sink func(alerts.Event)) *Detector {
	if window <= 0 {
		window = constants.DEFAULT_ANOMALY_WINDOW
	}
	if threshold <= 0 {
		threshold = constants.DEFAULT_ANOMALY_THRESHOLD
	}
	return &Detector{
		window:    window,
		minFill:   window,
		threshold: threshold,
		series:    make(map[string]*ring),
		sink:      sink,
	}
}

// SetSink replaces the event sink.
func (d *Detector) SetSink(sink func(alerts.Event)) {
	d.mu.Lock()
	d.sink = sink
	d.mu.Unlock()
}

// Observe scores one sample and then admits it into the window. During
// cold start it returns ErrInsufficientData and still admits the sample.
func (d *Detector) Observe(seriesID string, ts int64, value float64) (Result, error) {
	d.mu.Lock()
	r, ok := d.series[seriesID]
	if !ok {
		r = newRing(d.window)
		d.series[seriesID] = r
	}

	if r.len() < d.minFill {
		r.push(value)
		d.mu.Unlock()
		return Result{}, fmt.Errorf("%w: series %s has %d of %d samples", ErrInsufficientData, seriesID, r.len(), d.minFill)
	}

	mean, std := r.meanStddev()
	r.push(value)
	sink := d.sink
	d.mu.Unlock()

	res := Result{Mean: mean, StdDev: std}
	if std == 0 {
		// Flat series: any deviation at all is anomalous, none otherwise.
		if value != mean {
			res.ZScore = math.Inf(sign(value - mean))
			res.Anomalous = true
		}
	} else {
		res.ZScore = (value - mean) / std
		res.Anomalous = math.Abs(res.ZScore) > d.threshold
	}

	if res.Anomalous && sink != nil {
		sink(alerts.NewEvent(alerts.KindAnomaly, alerts.SeverityWarning, seriesID, ts, value,
			fmt.Sprintf("z-score %.2f against mean %.2f (stddev %.2f)", res.ZScore, mean, std)))
	}
	return res, nil
}

// Reset drops the window of one series.
func (d *Detector) Reset(seriesID string) {
	d.mu.Lock()
	delete(d.series, seriesID)
	d.mu.Unlock()
}

// SeriesSummary is the current baseline for one observed series.
type SeriesSummary struct {
	SeriesID string  `json:"series_id"`
	Samples  int     `json:"samples"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"stddev"`
}

// Summary reports every series' baseline, sorted by series ID.
func (d *Detector) Summary() []SeriesSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]SeriesSummary, 0, len(d.series))
	for id, r := range d.series {
		mean, std := r.meanStddev()
		out = append(out, SeriesSummary{SeriesID: id, Samples: r.len(), Mean: mean, StdDev: std})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeriesID < out[j].SeriesID })
	return out
}

func sign(v float64) int {
	if v < 0 {
		return -1
	}
	return 1
}

// ring is a fixed-capacity FIFO of float64 with running sums for O(1)
// mean/stddev.
type ring struct {
	buf   []float64
	head  int
	count int
	sum   float64
	sumSq float64
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]float64, capacity)}
}

func (r *ring) len() int { return r.count }

func (r *ring) push(v float64) {
	if r.count == len(r.buf) {
		old := r.buf[r.head]
		r.sum -= old
		r.sumSq -= old * old
	} else {
		r.count++
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	r.sum += v
	r.sumSq += v * v
}

func (r *ring) meanStddev() (float64, float64) {
	if r.count == 0 {
		return 0, 0
	}
	n := float64(r.count)
	mean := r.sum / n
	variance := r.sumSq/n - mean*mean
	if variance < 0 { // floating-point noise on near-constant data
		variance = 0
	}
	return mean, math.Sqrt(variance)
}
