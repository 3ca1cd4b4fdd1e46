package tsdb

import (
	"context"
	"os"
	"time"

	constants "hwpulse/config"
	"hwpulse/internal/logger"
	"hwpulse/internal/telemetry"
)

// CompactionResult summarizes one retention sweep.
type CompactionResult struct {
	SegmentsDeleted int
	SamplesDeleted  int
	BytesReclaimed  int64
	Duration        time.Duration
}

// Compactor enforces the retention horizon: sealed segments whose newest
// sample is older than the horizon are deleted whole, oldest first. The
// active segment is never touched. Deletion granularity is the segment, so
// a segment straddling the horizon survives until it ages out entirely.
type Compactor struct {
	store    *Store
	horizon  time.Duration
	interval time.Duration

	results chan CompactionResult
	stop    chan struct{}
	done    chan struct{}
}

// NewCompactor builds a compactor for store. Zero horizon or interval fall
// back to the defaults.
func NewCompactor(store *Store, horizon, interval time.Duration) *Compactor {
	if horizon <= 0 {
		horizon = constants.DEFAULT_RETENTION_HORIZON
	}
	if interval <= 0 {
		interval = constants.DEFAULT_COMPACTION_INTERVAL
	}
	return &Compactor{
		store:    store,
		horizon:  horizon,
		interval: interval,
		results:  make(chan CompactionResult, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Results delivers a summary after each sweep. The channel is buffered and
// lossy: if nobody reads, summaries are dropped, never block the sweep.
func (c *Compactor) Results() <-chan CompactionResult { return c.results }

// RunOnce performs a single synchronous sweep with the horizon anchored at
// now. Exposed separately so sweeps are deterministic under test and
// scriptable from the CLI.
func (c *Compactor) RunOnce(now time.Time) CompactionResult {
	started := time.Now()
	cutoff := now.Add(-c.horizon).UnixMilli()
	var res CompactionResult

	for _, id := range c.store.SeriesIDs() {
		sr, ok := c.store.get(id)
		if !ok {
			continue
		}
		sr.mu.RLock()
		var expired []*sealedSegment
		for _, seg := range sr.sealed {
			if seg.lastTs < cutoff {
				expired = append(expired, seg)
			}
		}
		sr.mu.RUnlock()

		// Delete one segment per lock window so ingestion is never stalled
		// behind a long sweep.
		for _, seg := range expired {
			sr.mu.Lock()
			idx := -1
			for i, s := range sr.sealed {
				if s == seg {
					idx = i
					break
				}
			}
			if idx < 0 {
				sr.mu.Unlock()
				continue
			}
			if err := os.Remove(seg.path); err != nil {
				logger.Error("retention: cannot delete %s: %v", seg.path, err)
				sr.mu.Unlock()
				continue
			}
			sr.sealed = append(sr.sealed[:idx], sr.sealed[idx+1:]...)
			sr.mu.Unlock()
			res.SegmentsDeleted++
			res.SamplesDeleted += seg.count
			res.BytesReclaimed += int64(headerSize + seg.count*recordSize + len(sealMarker))
			telemetry.SegmentsDeleted.Inc()
		}
	}

	res.Duration = time.Since(started)
	if res.SegmentsDeleted > 0 {
		logger.Info("retention: deleted %d segments, reclaimed %d bytes", res.SegmentsDeleted, res.BytesReclaimed)
	}
	return res
}

// Run sweeps on the configured interval until ctx is cancelled or Stop is
// called.
func (c *Compactor) Run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			res := c.RunOnce(time.Now())
			select {
			case c.results <- res:
			default:
			}
		}
	}
}

// Stop terminates Run and waits for it to exit.
func (c *Compactor) Stop() {
	close(c.stop)
	<-c.done
}
