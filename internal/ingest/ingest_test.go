package ingest

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeCollector struct {
	kind     Kind
	readings []Reading
	err      error
	calls    int
}

func (f *fakeCollector) Kind() Kind { return f.kind }

func (f *fakeCollector) Collect(ctx context.Context) ([]Reading, error) {
	f.calls++
	return f.readings, f.err
}

type fakeRegistrar struct {
	registered map[string]map[string]string
}

func (f *fakeRegistrar) EnsureSeries(id string, tags map[string]string) error {
	if f.registered == nil {
		f.registered = make(map[string]map[string]string)
	}
	f.registered[id] = tags
	return nil
}

func TestBufferOrderAndDrain(t *testing.T) {
	b := NewBuffer(4)
	for i := 0; i < 3; i++ {
		b.Add(Reading{SeriesID: "s", Timestamp: int64(i)})
	}
	if b.Len() != 3 {
		t.Fatalf("len = %d, want 3", b.Len())
	}
	got := b.Drain()
	if len(got) != 3 {
		t.Fatalf("drained %d, want 3", len(got))
	}
	for i, r := range got {
		if r.Timestamp != int64(i) {
			t.Fatalf("order broken at %d: ts=%d", i, r.Timestamp)
		}
	}
	if b.Len() != 0 {
		t.Fatal("drain must empty the buffer")
	}
}

func TestBufferOverflowDropsOldest(t *testing.T) {
	b := NewBuffer(3)
	for i := 0; i < 5; i++ {
		b.Add(Reading{Timestamp: int64(i)})
	}
	if b.Dropped() != 2 {
		t.Fatalf("dropped = %d, want 2", b.Dropped())
	}
	got := b.Drain()
	if len(got) != 3 || got[0].Timestamp != 2 || got[2].Timestamp != 4 {
		t.Fatalf("kept wrong window: %v", got)
	}
}

func TestRunnerCollectOnce(t *testing.T) {
	fc := &fakeCollector{kind: KindCpu, readings: []Reading{
		{SeriesID: "cpu.usage_pct", Kind: KindCpu, Timestamp: 1, Value: 42, Tags: map[string]string{"host": "n1"}},
	}}
	broken := &fakeCollector{kind: KindGpu, err: errors.New("no sensors")}

	var sunk []Reading
	sink := func(id string, ts int64, v float64) error {
		sunk = append(sunk, Reading{SeriesID: id, Timestamp: ts, Value: v})
		return nil
	}
	reg := &fakeRegistrar{}
	r := NewRunner([]Collector{fc, broken}, NewBuffer(8), sink, reg, time.Second)

	r.CollectOnce(context.Background())

	if len(sunk) != 1 || sunk[0].SeriesID != "cpu.usage_pct" || sunk[0].Value != 42 {
		t.Fatalf("sink got %v", sunk)
	}
	if reg.registered["cpu.usage_pct"]["host"] != "n1" {
		t.Fatalf("series not registered with tags: %v", reg.registered)
	}
	if fc.calls != 1 || broken.calls != 1 {
		t.Fatal("every collector polled exactly once")
	}
}

func TestRunnerRegistersSeriesOnce(t *testing.T) {
	fc := &fakeCollector{kind: KindCpu, readings: []Reading{
		{SeriesID: "cpu.usage_pct", Timestamp: 1, Tags: map[string]string{"host": "n1"}},
	}}
	count := 0
	reg := registrarFunc(func(id string, tags map[string]string) error {
		count++
		return nil
	})
	r := NewRunner([]Collector{fc}, NewBuffer(8), func(string, int64, float64) error { return nil }, reg, time.Second)
	r.CollectOnce(context.Background())
	r.CollectOnce(context.Background())
	if count != 1 {
		t.Fatalf("EnsureSeries called %d times, want 1", count)
	}
}

type registrarFunc func(string, map[string]string) error

func (f registrarFunc) EnsureSeries(id string, tags map[string]string) error { return f(id, tags) }

func TestRunnerSinkErrorsDoNotStop(t *testing.T) {
	fc := &fakeCollector{kind: KindCpu, readings: []Reading{
		{SeriesID: "a", Timestamp: 1},
		{SeriesID: "b", Timestamp: 2},
	}}
	var seen []string
	sink := func(id string, ts int64, v float64) error {
		seen = append(seen, id)
		if id == "a" {
			return errors.New("rejected")
		}
		return nil
	}
	r := NewRunner([]Collector{fc}, NewBuffer(8), sink, nil, time.Second)
	r.CollectOnce(context.Background())
	if len(seen) != 2 {
		t.Fatalf("a rejected write stopped the flush: %v", seen)
	}
}
