package alerts

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	constants "hwpulse/config"
	"hwpulse/internal/logger"
)

// Log is the durable event store: an append-only CBOR stream in a single
// active file, rotated by size into zstd-compressed archives with their
// own retention, independent of the sample store. Recent events are
// mirrored in memory so queries rarely touch disk.
type Log struct {
	dir      string
	maxBytes int64
	memLimit int

	mu      sync.RWMutex
	file    *os.File
	enc     *cbor.Encoder
	size    int64
	recent  []Event // newest last, bounded by memLimit
	evicted bool    // recent has dropped events still in the active file
	acked   map[string]bool
	pending map[string]int       // fingerprint -> unresolved count
	kinds   map[string]EventKind // fingerprint -> kind of its occurrences
}

// OpenLog opens (or creates) the event log under dir and loads the active
// file's events into the in-memory window.
func OpenLog(dir string, maxBytes int64, memLimit int) (*Log, error) {
	if maxBytes <= 0 {
		maxBytes = constants.DEFAULT_EVENT_LOG_MAX_BYTES
	}
	if memLimit <= 0 {
		memLimit = constants.DEFAULT_EVENT_MEMORY_LIMIT
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create events dir: %w", err)
	}

	l := &Log{
		dir:      dir,
		maxBytes: maxBytes,
		memLimit: memLimit,
		acked:    make(map[string]bool),
		pending:  make(map[string]int),
		kinds:    make(map[string]EventKind),
	}
	if err := l.openActive(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) activePath() string { return filepath.Join(l.dir, "events.cbor") }

func (l *Log) openActive() error {
	events, err := readEventFile(l.activePath())
	if err != nil && !os.IsNotExist(err) {
		// A torn tail loses the partial record only.
		logger.Warning("event log: partial read of %s: %v", l.activePath(), err)
	}
	for _, ev := range events {
		l.remember(ev)
	}

	f, err := os.OpenFile(l.activePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	l.file = f
	l.size = info.Size()
	l.enc = cbor.NewEncoder(f)
	return nil
}

func (l *Log) remember(ev Event) {
	if ev.Acknowledged {
		l.acked[ev.ID] = true
	}
	switch {
	case ev.Resolved:
		if l.pending[ev.Fingerprint] > 0 {
			l.pending[ev.Fingerprint]--
		}
	case ev.Kind == KindThreshold || ev.Kind == KindPredictedFailure:
		l.pending[ev.Fingerprint]++
		l.kinds[ev.Fingerprint] = ev.Kind
	}
	l.recent = append(l.recent, ev)
	if len(l.recent) > l.memLimit {
		l.recent = l.recent[len(l.recent)-l.memLimit:]
		l.evicted = true
	}
}

// Append durably records one event.
func (l *Log) Append(ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enc.Encode(ev); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	info, err := l.file.Stat()
	if err == nil {
		l.size = info.Size()
	}
	l.remember(ev)

	if l.size >= l.maxBytes {
		if err := l.rotateLocked(); err != nil {
			logger.Error("event log rotation failed: %v", err)
		}
	}
	return nil
}

// rotateLocked compresses the active file into an archive and starts a
// fresh one.
func (l *Log) rotateLocked() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	archive := filepath.Join(l.dir, fmt.Sprintf("events-%d.cbor.zst", time.Now().UnixMilli()))
	if err := compressFile(l.activePath(), archive); err != nil {
		return err
	}
	if err := os.Remove(l.activePath()); err != nil {
		return err
	}

	f, err := os.OpenFile(l.activePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	l.file = f
	l.size = 0
	l.enc = cbor.NewEncoder(f)
	return nil
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(out)
	if err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		out.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Filter narrows a Query. Zero values match everything.
type Filter struct {
	SeriesID       string
	Kind           EventKind
	Since          int64
	Until          int64
	OnlyUnresolved bool
	OnlyUnacked    bool
}

func (f Filter) matches(ev Event) bool {
	if f.SeriesID != "" && ev.SeriesID != f.SeriesID {
		return false
	}
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	if f.Since != 0 && ev.Timestamp < f.Since {
		return false
	}
	if f.Until != 0 && ev.Timestamp > f.Until {
		return false
	}
	if f.OnlyUnresolved && ev.Resolved {
		return false
	}
	return true
}

// Query returns matching events, newest first. The in-memory window is
// consulted first; the active file and archives are only read when the
// window has evicted events or cannot cover Since.
func (l *Log) Query(f Filter) ([]Event, error) {
	l.mu.RLock()
	needDisk := l.evicted ||
		(f.Since != 0 && (len(l.recent) == 0 || l.recent[0].Timestamp > f.Since))
	var out []Event
	for _, ev := range l.recent {
		if f.OnlyUnacked && l.acked[ev.ID] {
			continue
		}
		if f.matches(ev) {
			out = append(out, ev)
		}
	}
	l.mu.RUnlock()

	if needDisk {
		active, err := readEventFile(l.activePath())
		if err != nil && !os.IsNotExist(err) {
			// Torn tail: the decoded prefix is still usable.
			logger.Warning("event log: partial read of %s: %v", l.activePath(), err)
		}
		l.mu.RLock()
		for _, ev := range active {
			if f.OnlyUnacked && l.acked[ev.ID] {
				continue
			}
			if f.matches(ev) {
				out = append(out, ev)
			}
		}
		l.mu.RUnlock()

		archived, err := l.queryArchives(f)
		if err != nil {
			return nil, err
		}
		out = append(out, archived...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return dedupeByID(out), nil
}

func (l *Log) queryArchives(f Filter) ([]Event, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".cbor.zst") {
			continue
		}
		events, err := readCompressedEventFile(filepath.Join(l.dir, e.Name()))
		if err != nil {
			logger.Warning("event log: skipping archive %s: %v", e.Name(), err)
			continue
		}
		l.mu.RLock()
		for _, ev := range events {
			if f.OnlyUnacked && l.acked[ev.ID] {
				continue
			}
			if f.matches(ev) {
				out = append(out, ev)
			}
		}
		l.mu.RUnlock()
	}
	return out, nil
}

func dedupeByID(events []Event) []Event {
	seen := make(map[string]bool, len(events))
	out := events[:0]
	for _, ev := range events {
		if seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true
		out = append(out, ev)
	}
	return out
}

// Acknowledge marks an event as seen by an operator. Acknowledged events
// are excluded from OnlyUnacked queries but remain in the log.
func (l *Log) Acknowledge(eventID string) {
	l.mu.Lock()
	l.acked[eventID] = true
	l.mu.Unlock()
}

// Resolve appends a resolution marker for a fingerprint, decrementing
// its pending count. The marker carries the kind of the events it
// resolves so kind-filtered queries stay consistent.
func (l *Log) Resolve(fp string, ts int64) error {
	l.mu.RLock()
	kind := l.kinds[fp]
	l.mu.RUnlock()
	if kind == "" {
		kind = KindThreshold
	}
	ev := Event{
		ID:          eventID(fp, ts),
		Kind:        kind,
		Severity:    SeverityInfo,
		Timestamp:   ts,
		Message:     "resolved",
		Fingerprint: fp,
		Resolved:    true,
	}
	return l.Append(ev)
}

// UnresolvedCount reports outstanding occurrences for a fingerprint.
func (l *Log) UnresolvedCount(fp string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pending[fp]
}

// PendingByKind sums outstanding occurrences across every fingerprint of
// one kind. Resolutions decrement the per-fingerprint counts, so a
// resolved occurrence stops contributing here immediately.
func (l *Log) PendingByKind(kind EventKind) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for fp, c := range l.pending {
		if c > 0 && l.kinds[fp] == kind {
			n += c
		}
	}
	return n
}

// Sweep deletes archives older than the retention horizon.
func (l *Log) Sweep(horizon time.Duration) int {
	cutoff := time.Now().Add(-horizon)
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".cbor.zst") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(l.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed
}

// Close flushes and closes the active file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func readEventFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeEventStream(f)
}

func readCompressedEventFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return decodeEventStream(zr)
}

func decodeEventStream(r io.Reader) ([]Event, error) {
	dec := cbor.NewDecoder(r)
	var out []Event
	for {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			if err == io.EOF {
				return out, nil
			}
			// Torn tail: keep what decoded cleanly.
			return out, err
		}
		out = append(out, ev)
	}
}
