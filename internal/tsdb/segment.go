package tsdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"os"
)

// On-disk segment layout:
//
//	[64-byte header][16-byte records...][8-byte seal marker, sealed only]
//
// Records are fixed-width (int64 unix-milli timestamp, float64 value),
// little-endian. A file without the trailing seal marker is the active
// segment and may carry a torn tail after a crash.
const (
	segMagic   = "HWPULSE1"
	sealMarker = "HWSEALED"
	segVersion = 1

	headerSize = 64
	recordSize = 16

	flagSealed = 1 << 0
)

type segmentHeader struct {
	version    uint32
	flags      uint32
	seriesHash uint64
	firstTs    int64
	lastTs     int64
	count      uint32
}

func (h *segmentHeader) sealed() bool {
	return h.flags&flagSealed != 0
}

func encodeHeader(h *segmentHeader) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:8], segMagic)
	binary.LittleEndian.PutUint32(buf[8:12], h.version)
	binary.LittleEndian.PutUint32(buf[12:16], h.flags)
	binary.LittleEndian.PutUint64(buf[16:24], h.seriesHash)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.firstTs))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(h.lastTs))
	binary.LittleEndian.PutUint32(buf[40:44], h.count)
	return buf
}

func decodeHeader(buf []byte) (*segmentHeader, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("segment header too short: %d bytes", len(buf))
	}
	if !bytes.Equal(buf[0:8], []byte(segMagic)) {
		return nil, fmt.Errorf("segment magic mismatch")
	}
	h := &segmentHeader{
		version:    binary.LittleEndian.Uint32(buf[8:12]),
		flags:      binary.LittleEndian.Uint32(buf[12:16]),
		seriesHash: binary.LittleEndian.Uint64(buf[16:24]),
		firstTs:    int64(binary.LittleEndian.Uint64(buf[24:32])),
		lastTs:     int64(binary.LittleEndian.Uint64(buf[32:40])),
		count:      binary.LittleEndian.Uint32(buf[40:44]),
	}
	if h.version > segVersion {
		return nil, fmt.Errorf("segment version %d newer than supported %d", h.version, segVersion)
	}
	return h, nil
}

func encodeRecord(buf []byte, s Sample) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(s.Timestamp))
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(s.Value))
}

func decodeRecord(buf []byte) Sample {
	return Sample{
		Timestamp: int64(binary.LittleEndian.Uint64(buf[0:8])),
		Value:     math.Float64frombits(binary.LittleEndian.Uint64(buf[8:16])),
	}
}

func seriesHash(id string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64()
}

// sealedSegment is an immutable on-disk segment. Contents are read lazily
// and never cached: sealed files are mmap-cheap sequential reads and the
// iterator only holds one segment's samples at a time.
type sealedSegment struct {
	path    string
	firstTs int64
	lastTs  int64
	count   int
}

func (seg *sealedSegment) overlaps(start, end int64) bool {
	return seg.firstTs <= end && seg.lastTs >= start
}

// readSamples loads every record in the sealed segment.
func (seg *sealedSegment) readSamples() ([]Sample, error) {
	data, err := os.ReadFile(seg.path)
	if err != nil {
		return nil, fmt.Errorf("read sealed segment: %w", err)
	}
	if len(data) < headerSize+len(sealMarker) {
		return nil, fmt.Errorf("%w: sealed segment %s truncated", ErrSegmentCorrupt, seg.path)
	}
	payload := data[headerSize : len(data)-len(sealMarker)]
	if len(payload)%recordSize != 0 {
		return nil, fmt.Errorf("%w: sealed segment %s has partial record", ErrSegmentCorrupt, seg.path)
	}
	samples := make([]Sample, 0, len(payload)/recordSize)
	for off := 0; off < len(payload); off += recordSize {
		samples = append(samples, decodeRecord(payload[off:off+recordSize]))
	}
	return samples, nil
}

// activeSegment is the single writable segment of a series. Samples are
// mirrored in memory so tail reads never touch the disk.
type activeSegment struct {
	path    string
	file    *os.File
	hash    uint64
	firstTs int64
	lastTs  int64
	samples []Sample
}

// createActive creates a fresh active segment file with an empty header.
func createActive(path string, hash uint64) (*activeSegment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("create segment: %w", err)
	}
	hdr := &segmentHeader{version: segVersion, seriesHash: hash}
	if _, err := f.Write(encodeHeader(hdr)); err != nil {
		f.Close()
		return nil, fmt.Errorf("write segment header: %w", err)
	}
	return &activeSegment{path: path, file: f, hash: hash}, nil
}

// append writes one record at the end of the segment.
func (a *activeSegment) append(s Sample) error {
	var buf [recordSize]byte
	encodeRecord(buf[:], s)
	off := int64(headerSize + len(a.samples)*recordSize)
	if _, err := a.file.WriteAt(buf[:], off); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	if len(a.samples) == 0 {
		a.firstTs = s.Timestamp
	}
	a.lastTs = s.Timestamp
	a.samples = append(a.samples, s)
	return nil
}

func (a *activeSegment) count() int { return len(a.samples) }

func (a *activeSegment) header() *segmentHeader {
	return &segmentHeader{
		version:    segVersion,
		seriesHash: a.hash,
		firstTs:    a.firstTs,
		lastTs:     a.lastTs,
		count:      uint32(len(a.samples)),
	}
}

// seal finalizes the segment: final header, trailing marker, fsync, close.
// The file is immutable afterwards.
func (a *activeSegment) seal() (*sealedSegment, error) {
	hdr := a.header()
	hdr.flags |= flagSealed
	if _, err := a.file.WriteAt(encodeHeader(hdr), 0); err != nil {
		return nil, fmt.Errorf("seal header: %w", err)
	}
	markerOff := int64(headerSize + len(a.samples)*recordSize)
	if _, err := a.file.WriteAt([]byte(sealMarker), markerOff); err != nil {
		return nil, fmt.Errorf("seal marker: %w", err)
	}
	if err := a.file.Sync(); err != nil {
		return nil, fmt.Errorf("seal sync: %w", err)
	}
	if err := a.file.Close(); err != nil {
		return nil, fmt.Errorf("seal close: %w", err)
	}
	return &sealedSegment{
		path:    a.path,
		firstTs: a.firstTs,
		lastTs:  a.lastTs,
		count:   len(a.samples),
	}, nil
}

// close flushes the current header without sealing, so the segment stays
// writable after a restart.
func (a *activeSegment) close() error {
	if a.file == nil {
		return nil
	}
	if _, err := a.file.WriteAt(encodeHeader(a.header()), 0); err != nil {
		a.file.Close()
		return fmt.Errorf("close header: %w", err)
	}
	if err := a.file.Sync(); err != nil {
		a.file.Close()
		return err
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// tailInRange copies active samples within [start, end].
func (a *activeSegment) tailInRange(start, end int64) []Sample {
	out := make([]Sample, 0, len(a.samples))
	for _, s := range a.samples {
		if s.Timestamp >= start && s.Timestamp <= end {
			out = append(out, s)
		}
	}
	return out
}

// openSealed validates a sealed segment file and returns its metadata.
func openSealed(path string) (*sealedSegment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var hbuf [headerSize]byte
	if _, err := f.ReadAt(hbuf[:], 0); err != nil {
		return nil, fmt.Errorf("%w: %s header unreadable", ErrSegmentCorrupt, path)
	}
	hdr, err := decodeHeader(hbuf[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSegmentCorrupt, path, err)
	}
	if !hdr.sealed() {
		return nil, fmt.Errorf("segment %s not sealed", path)
	}
	return &sealedSegment{
		path:    path,
		firstTs: hdr.firstTs,
		lastTs:  hdr.lastTs,
		count:   int(hdr.count),
	}, nil
}

// hasSealMarker reports whether the file ends with the seal marker.
func hasSealMarker(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() < headerSize+int64(len(sealMarker)) {
		return false, nil
	}
	var tail [len(sealMarker)]byte
	if _, err := f.ReadAt(tail[:], info.Size()-int64(len(sealMarker))); err != nil {
		return false, err
	}
	return bytes.Equal(tail[:], []byte(sealMarker)), nil
}

// recoverActive reopens an unsealed segment after a restart. Any partial
// trailing record is truncated; records after a timestamp regression are
// treated as a corrupt tail and cut as well. The header is advisory for
// active segments, the record stream is the source of truth.
func recoverActive(path string, hash uint64) (*activeSegment, int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, 0, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}

	var truncated int64
	size := info.Size()
	if size < headerSize {
		// Header itself is torn: rewrite it, drop everything.
		truncated = size
		if err := f.Truncate(0); err != nil {
			f.Close()
			return nil, 0, err
		}
		hdr := &segmentHeader{version: segVersion, seriesHash: hash}
		if _, err := f.WriteAt(encodeHeader(hdr), 0); err != nil {
			f.Close()
			return nil, 0, err
		}
		return &activeSegment{path: path, file: f, hash: hash}, truncated, nil
	}

	payload := size - headerSize
	if rem := payload % recordSize; rem != 0 {
		truncated += rem
		size -= rem
		payload -= rem
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, 0, err
		}
	}

	buf := make([]byte, payload)
	if payload > 0 {
		if _, err := f.ReadAt(buf, headerSize); err != nil {
			f.Close()
			return nil, 0, err
		}
	}

	a := &activeSegment{path: path, file: f, hash: hash}
	valid := 0
	var prev int64 = math.MinInt64
	for off := int64(0); off < payload; off += recordSize {
		s := decodeRecord(buf[off : off+recordSize])
		if s.Timestamp < prev {
			break
		}
		prev = s.Timestamp
		if valid == 0 {
			a.firstTs = s.Timestamp
		}
		a.lastTs = s.Timestamp
		a.samples = append(a.samples, s)
		valid++
	}
	if cut := payload - int64(valid*recordSize); cut > 0 {
		truncated += cut
		if err := f.Truncate(headerSize + int64(valid*recordSize)); err != nil {
			f.Close()
			return nil, 0, err
		}
	}
	return a, truncated, nil
}
