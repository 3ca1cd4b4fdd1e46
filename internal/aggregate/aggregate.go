// Package aggregate computes bucketed summary statistics over raw series
// data. It holds no state of its own; every result is re-derivable from
// the store.
package aggregate

import (
	"context"
	"math"
	"sort"
	"time"

	constants "hwpulse/config"
	"hwpulse/internal/tsdb"
)

// Aggregate summarizes one time bucket of a series. Percentiles use the
// nearest-rank method without interpolation, so p50 of [1,2,3] is 2.
type Aggregate struct {
	SeriesID    string  `json:"series_id"`
	WindowStart int64   `json:"window_start"`
	WindowEnd   int64   `json:"window_end"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Avg         float64 `json:"avg"`
	P50         float64 `json:"p50"`
	P95         float64 `json:"p95"`
	P99         float64 `json:"p99"`
	Count       int     `json:"count"`
}

// Engine derives aggregates from a store.
type Engine struct {
	store  *tsdb.Store
	bucket time.Duration
}

func NewEngine(store *tsdb.Store, defaultBucket time.Duration) *Engine {
	if defaultBucket <= 0 {
		defaultBucket = constants.DEFAULT_AGGREGATE_BUCKET
	}
	return &Engine{store: store, bucket: defaultBucket}
}

// Query partitions [start, end] into epoch-aligned buckets of bucketSize
// and returns one Aggregate per non-empty bucket, in time order. Bucket
// edges depend only on bucketSize, never on the query start, so
// overlapping queries agree on the overlap. Empty buckets are omitted.
func (e *Engine) Query(ctx context.Context, seriesID string, start, end int64, bucketSize time.Duration) ([]Aggregate, error) {
	if bucketSize <= 0 {
		bucketSize = e.bucket
	}
	it, err := e.store.ReadRange(ctx, seriesID, start, end)
	if err != nil {
		return nil, err
	}

	bucketMs := bucketSize.Milliseconds()
	var out []Aggregate
	var cur []float64
	var curStart int64 = math.MinInt64

	flush := func() {
		if len(cur) == 0 {
			return
		}
		out = append(out, summarize(seriesID, curStart, curStart+bucketMs, cur))
		cur = cur[:0]
	}

	for it.Next() {
		s := it.At()
		bs := bucketStart(s.Timestamp, bucketMs)
		if bs != curStart {
			flush()
			curStart = bs
		}
		cur = append(cur, s.Value)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	flush()
	return out, nil
}

func bucketStart(ts, bucketMs int64) int64 {
	// Floor division keeps pre-epoch timestamps aligned too.
	bs := ts / bucketMs * bucketMs
	if ts < 0 && ts%bucketMs != 0 {
		bs -= bucketMs
	}
	return bs
}

func summarize(seriesID string, start, end int64, values []float64) Aggregate {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return Aggregate{
		SeriesID:    seriesID,
		WindowStart: start,
		WindowEnd:   end,
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		Avg:         sum / float64(len(sorted)),
		P50:         nearestRank(sorted, 50),
		P95:         nearestRank(sorted, 95),
		P99:         nearestRank(sorted, 99),
		Count:       len(sorted),
	}
}

// nearestRank picks the p-th percentile of an ascending slice as the value
// at rank ceil(p/100 * n), 1-based.
func nearestRank(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
