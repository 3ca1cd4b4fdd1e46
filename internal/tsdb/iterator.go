package tsdb

import (
	"context"
	"sort"
)

// RangeIterator walks samples of one series in timestamp order. Sealed
// segments are loaded one at a time when the cursor reaches them, so a
// query over many segments never holds more than one segment in memory
// besides the active tail snapshot.
type RangeIterator struct {
	ctx   context.Context
	segs  []*sealedSegment
	tail  []Sample
	start int64
	end   int64

	segIdx  int
	buf     []Sample
	bufIdx  int
	current Sample
	err     error
	onTail  bool
}

func newRangeIterator(ctx context.Context, segs []*sealedSegment, tail []Sample, start, end int64) *RangeIterator {
	return &RangeIterator{ctx: ctx, segs: segs, tail: tail, start: start, end: end}
}

// Next advances the iterator. It returns false at the end of the range or
// on error; check Err afterwards.
func (it *RangeIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for {
		if it.bufIdx < len(it.buf) {
			s := it.buf[it.bufIdx]
			it.bufIdx++
			if s.Timestamp < it.start {
				continue
			}
			if s.Timestamp > it.end {
				// Segments are ordered, nothing later can match.
				it.buf = nil
				it.segIdx = len(it.segs)
				it.onTail = true
				return false
			}
			it.current = s
			return true
		}
		if !it.loadNext() {
			return false
		}
	}
}

// loadNext fills the buffer from the next overlapping segment, then the
// active tail. Context cancellation is honored between segments.
func (it *RangeIterator) loadNext() bool {
	if it.ctx != nil {
		if err := it.ctx.Err(); err != nil {
			it.err = err
			return false
		}
	}
	if it.segIdx < len(it.segs) {
		seg := it.segs[it.segIdx]
		it.segIdx++
		samples, err := seg.readSamples()
		if err != nil {
			it.err = err
			return false
		}
		it.buf = samples
		it.bufIdx = 0
		return true
	}
	if !it.onTail {
		it.onTail = true
		it.buf = it.tail
		it.bufIdx = 0
		return len(it.buf) > 0
	}
	return false
}

// At returns the sample the iterator is positioned on after a true Next.
func (it *RangeIterator) At() Sample { return it.current }

// Err reports the first error encountered while iterating.
func (it *RangeIterator) Err() error { return it.err }

// Reset rewinds the iterator to the start of the range.
func (it *RangeIterator) Reset() {
	it.segIdx = 0
	it.buf = nil
	it.bufIdx = 0
	it.onTail = false
	it.err = nil
	it.current = Sample{}
}

// Collect drains the iterator into a slice.
func (it *RangeIterator) Collect() ([]Sample, error) {
	var out []Sample
	for it.Next() {
		out = append(out, it.At())
	}
	return out, it.Err()
}

// ReadLast returns up to n newest samples of a series, oldest first. It
// walks segments from the newest backwards so only the needed suffix is
// read.
func (s *Store) ReadLast(id string, n int) ([]Sample, error) {
	if n <= 0 {
		return nil, nil
	}
	sr, ok := s.get(id)
	if !ok {
		return nil, ErrSeriesNotFound
	}

	sr.mu.RLock()
	var out []Sample
	if sr.active != nil && len(sr.active.samples) > 0 {
		tail := sr.active.samples
		if len(tail) > n {
			tail = tail[len(tail)-n:]
		}
		out = append(out, tail...)
	}
	segs := make([]*sealedSegment, len(sr.sealed))
	copy(segs, sr.sealed)
	sr.mu.RUnlock()

	for i := len(segs) - 1; i >= 0 && len(out) < n; i-- {
		samples, err := segs[i].readSamples()
		if err != nil {
			return nil, err
		}
		need := n - len(out)
		if len(samples) > need {
			samples = samples[len(samples)-need:]
		}
		out = append(out, samples...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}
