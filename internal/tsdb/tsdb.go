// Package tsdb implements the file-backed time-series store: one directory
// per series holding sealed segment files and at most one active segment,
// with count/span-based rotation, wholesale retention, and best-effort
// crash recovery of the active tail.
package tsdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/common/model"

	constants "hwpulse/config"
	"hwpulse/internal/logger"
	"hwpulse/internal/telemetry"
)

// Store error taxonomy. Callers match with errors.Is.
var (
	ErrOutOfOrderSample = errors.New("sample timestamp precedes series last timestamp")
	ErrSeriesNotFound   = errors.New("series not found")
	ErrSegmentCorrupt   = errors.New("segment corrupt")
	ErrInvalidRange     = errors.New("invalid range: end before start")
	ErrInvalidSeriesID  = errors.New("invalid series id")
	ErrInvalidTag       = errors.New("invalid tag name")
)

// Sample is one immutable measurement. Timestamps are unix milliseconds.
type Sample struct {
	Timestamp int64   `json:"timestamp" cbor:"1,keyasint"`
	Value     float64 `json:"value" cbor:"2,keyasint"`
}

// Options configures a Store.
type Options struct {
	Dir                  string
	MaxSamplesPerSegment int
	MaxSegmentSpan       time.Duration
	CreateSeries         bool // lazily create unknown series on first write
}

// DefaultOptions returns the standard store configuration.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:                  dir,
		MaxSamplesPerSegment: constants.DEFAULT_SEGMENT_MAX_SAMPLES,
		MaxSegmentSpan:       constants.DEFAULT_SEGMENT_MAX_SPAN,
		CreateSeries:         true,
	}
}

var seriesIDPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.:-]*$`)

// seriesMeta is persisted as meta.cbor inside each series directory.
type seriesMeta struct {
	SeriesID string            `cbor:"1,keyasint"`
	Tags     map[string]string `cbor:"2,keyasint,omitempty"`
}

type series struct {
	id   string
	dir  string
	hash uint64
	tags map[string]string

	// mu serializes writes and guards the active tail; sealed segments
	// are immutable and read without locking.
	mu      sync.RWMutex
	sealed  []*sealedSegment // ordered by first timestamp
	active  *activeSegment
	nextSeq int
}

func (sr *series) lastTimestampLocked() (int64, bool) {
	if sr.active != nil && sr.active.count() > 0 {
		return sr.active.lastTs, true
	}
	if n := len(sr.sealed); n > 0 {
		return sr.sealed[n-1].lastTs, true
	}
	return 0, false
}

// Store owns all series directories under Options.Dir.
type Store struct {
	opts Options

	mu     sync.RWMutex
	series map[string]*series
}

// Open scans dir and recovers every series found there.
func Open(opts Options) (*Store, error) {
	if opts.MaxSamplesPerSegment <= 0 {
		opts.MaxSamplesPerSegment = constants.DEFAULT_SEGMENT_MAX_SAMPLES
	}
	if opts.MaxSegmentSpan <= 0 {
		opts.MaxSegmentSpan = constants.DEFAULT_SEGMENT_MAX_SPAN
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	s := &Store{opts: opts, series: make(map[string]*series)}

	entries, err := os.ReadDir(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("scan store dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sr, err := recoverSeries(filepath.Join(opts.Dir, e.Name()), e.Name())
		if err != nil {
			// One bad series degrades that series only, never the store.
			logger.Error("series %s unrecoverable, skipping: %v", e.Name(), err)
			continue
		}
		s.series[sr.id] = sr
	}
	return s, nil
}

// recoverSeries rebuilds a series from its on-disk directory. Unsealed
// files other than the newest are sealed in place; the newest becomes the
// active segment after tail validation.
func recoverSeries(dir, id string) (*series, error) {
	sr := &series{id: id, dir: dir, hash: seriesHash(id)}

	if raw, err := os.ReadFile(filepath.Join(dir, "meta.cbor")); err == nil {
		var meta seriesMeta
		if err := cbor.Unmarshal(raw, &meta); err == nil {
			sr.tags = meta.Tags
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var segPaths []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".seg" {
			segPaths = append(segPaths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(segPaths) // sequence-numbered names sort chronologically

	var unsealed []string
	for _, p := range segPaths {
		ok, err := hasSealMarker(p)
		if err != nil {
			logger.Error("series %s: segment %s unreadable: %v", id, p, err)
			continue
		}
		if !ok {
			unsealed = append(unsealed, p)
			continue
		}
		seg, err := openSealed(p)
		if err != nil {
			logger.Error("series %s: dropping corrupt sealed segment %s: %v", id, p, err)
			continue
		}
		sr.sealed = append(sr.sealed, seg)
	}

	// All unsealed files but the newest are leftovers from a crash during
	// rotation; seal them with whatever valid records they hold.
	for i, p := range unsealed {
		a, truncated, err := recoverActive(p, sr.hash)
		if err != nil {
			logger.Error("series %s: cannot recover segment %s: %v", id, p, err)
			continue
		}
		if truncated > 0 {
			logger.Warning("series %s: truncated %d corrupt bytes from %s", id, truncated, p)
		}
		if i < len(unsealed)-1 {
			seg, err := a.seal()
			if err != nil {
				logger.Error("series %s: cannot seal stale segment %s: %v", id, p, err)
				continue
			}
			sr.sealed = append(sr.sealed, seg)
		} else {
			sr.active = a
		}
	}

	sort.Slice(sr.sealed, func(i, j int) bool { return sr.sealed[i].firstTs < sr.sealed[j].firstTs })
	sr.nextSeq = nextSequence(segPaths)
	return sr, nil
}

// nextSequence derives the next segment sequence number from the surviving
// filenames. Retention leaves gaps, so counting files would reissue a
// sequence that is still on disk.
func nextSequence(segPaths []string) int {
	next := 0
	for _, p := range segPaths {
		base := strings.TrimSuffix(filepath.Base(p), ".seg")
		if seq, err := strconv.Atoi(base); err == nil && seq+1 > next {
			next = seq + 1
		}
	}
	return next
}

func (s *Store) get(id string) (*series, bool) {
	s.mu.RLock()
	sr, ok := s.series[id]
	s.mu.RUnlock()
	return sr, ok
}

func (s *Store) getOrCreate(id string) (*series, error) {
	if sr, ok := s.get(id); ok {
		return sr, nil
	}
	if !s.opts.CreateSeries {
		return nil, fmt.Errorf("%w: %s", ErrSeriesNotFound, id)
	}
	if !seriesIDPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSeriesID, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sr, ok := s.series[id]; ok {
		return sr, nil
	}
	dir := filepath.Join(s.opts.Dir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create series dir: %w", err)
	}
	sr := &series{id: id, dir: dir, hash: seriesHash(id)}
	s.series[id] = sr
	return sr, nil
}

// EnsureSeries creates a series with the given tags if it does not exist.
// Tag names must be valid Prometheus label names. First write wins: tags of
// an existing series are not overwritten.
func (s *Store) EnsureSeries(id string, tags map[string]string) error {
	for k := range tags {
		if !model.LabelName(k).IsValid() {
			return fmt.Errorf("%w: %q", ErrInvalidTag, k)
		}
	}
	sr, err := s.getOrCreate(id)
	if err != nil {
		return err
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.tags != nil || len(tags) == 0 {
		return nil
	}
	sr.tags = tags
	raw, err := cbor.Marshal(seriesMeta{SeriesID: id, Tags: tags})
	if err != nil {
		return fmt.Errorf("encode series meta: %w", err)
	}
	return os.WriteFile(filepath.Join(sr.dir, "meta.cbor"), raw, 0644)
}

// Append durably records one sample. Timestamps within a series must be
// non-decreasing; an older timestamp is rejected with ErrOutOfOrderSample
// and the series is left unchanged.
func (s *Store) Append(id string, smp Sample) error {
	sr, err := s.getOrCreate(id)
	if err != nil {
		telemetry.SamplesRejected.WithLabelValues("unknown_series").Inc()
		return err
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	if last, ok := sr.lastTimestampLocked(); ok && smp.Timestamp < last {
		telemetry.SamplesRejected.WithLabelValues("out_of_order").Inc()
		return fmt.Errorf("%w: series %s: %d < %d", ErrOutOfOrderSample, id, smp.Timestamp, last)
	}

	if sr.active == nil {
		if err := sr.openActiveLocked(); err != nil {
			return err
		}
	} else if s.rotationDue(sr.active, smp.Timestamp) {
		if err := sr.rotateLocked(); err != nil {
			return err
		}
	}

	if err := sr.active.append(smp); err != nil {
		return err
	}
	telemetry.SamplesAppended.Inc()
	return nil
}

func (s *Store) rotationDue(a *activeSegment, nextTs int64) bool {
	if a.count() >= s.opts.MaxSamplesPerSegment {
		return true
	}
	if a.count() > 0 && nextTs-a.firstTs >= s.opts.MaxSegmentSpan.Milliseconds() {
		return true
	}
	return false
}

func (sr *series) openActiveLocked() error {
	path := filepath.Join(sr.dir, fmt.Sprintf("%08d.seg", sr.nextSeq))
	a, err := createActive(path, sr.hash)
	if err != nil {
		return err
	}
	sr.nextSeq++
	sr.active = a
	return nil
}

func (sr *series) rotateLocked() error {
	seg, err := sr.active.seal()
	if err != nil {
		return fmt.Errorf("rotate series %s: %w", sr.id, err)
	}
	sr.sealed = append(sr.sealed, seg)
	sr.active = nil
	telemetry.SegmentsSealed.Inc()
	return sr.openActiveLocked()
}

// ReadRange returns a lazy iterator over samples with timestamps in
// [start, end], ordered by timestamp. An empty range yields an empty
// iterator, never an error. The iterator is restartable via Reset.
func (s *Store) ReadRange(ctx context.Context, id string, start, end int64) (*RangeIterator, error) {
	if end < start {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, start, end)
	}
	sr, ok := s.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSeriesNotFound, id)
	}

	sr.mu.RLock()
	var segs []*sealedSegment
	for _, seg := range sr.sealed {
		if seg.overlaps(start, end) {
			segs = append(segs, seg)
		}
	}
	var tail []Sample
	if sr.active != nil {
		tail = sr.active.tailInRange(start, end)
	}
	sr.mu.RUnlock()

	return newRangeIterator(ctx, segs, tail, start, end), nil
}

// LastTimestamp returns the newest timestamp of a series, if it has data.
func (s *Store) LastTimestamp(id string) (int64, bool) {
	sr, ok := s.get(id)
	if !ok {
		return 0, false
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return sr.lastTimestampLocked()
}

// SeriesIDs returns all known series ids, sorted.
func (s *Store) SeriesIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.series))
	for id := range s.series {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Tags returns the tag set a series was registered with.
func (s *Store) Tags(id string) map[string]string {
	sr, ok := s.get(id)
	if !ok {
		return nil
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	tags := make(map[string]string, len(sr.tags))
	for k, v := range sr.tags {
		tags[k] = v
	}
	return tags
}

// SeriesStats summarizes one series' on-disk state.
type SeriesStats struct {
	SeriesID       string
	SealedSegments int
	Samples        int
	FirstTimestamp int64
	LastTimestamp  int64
	Bytes          int64
}

// Stats reports per-series storage statistics, sorted by series id.
func (s *Store) Stats() []SeriesStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SeriesStats, 0, len(s.series))
	for _, sr := range s.series {
		sr.mu.RLock()
		st := SeriesStats{SeriesID: sr.id, SealedSegments: len(sr.sealed)}
		for _, seg := range sr.sealed {
			st.Samples += seg.count
			st.Bytes += headerSize + int64(seg.count)*recordSize + int64(len(sealMarker))
		}
		if len(sr.sealed) > 0 {
			st.FirstTimestamp = sr.sealed[0].firstTs
			st.LastTimestamp = sr.sealed[len(sr.sealed)-1].lastTs
		}
		if a := sr.active; a != nil && a.count() > 0 {
			st.Samples += a.count()
			st.Bytes += headerSize + int64(a.count())*recordSize
			if st.FirstTimestamp == 0 {
				st.FirstTimestamp = a.firstTs
			}
			st.LastTimestamp = a.lastTs
		}
		sr.mu.RUnlock()
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeriesID < out[j].SeriesID })
	return out
}

// Close flushes active segment headers and releases file handles. Active
// segments stay unsealed so appends resume after reopening.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, sr := range s.series {
		sr.mu.Lock()
		if sr.active != nil {
			if err := sr.active.close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		sr.mu.Unlock()
	}
	return firstErr
}
