// Package ingest stages collector readings and drives them into the
// engine on a fixed cadence.
package ingest

import (
	"context"
	"sync"
	"time"

	constants "hwpulse/config"
	"hwpulse/internal/logger"
)

// Kind names the hardware domain a collector covers.
type Kind string

const (
	KindCpu        Kind = "cpu"
	KindGpu        Kind = "gpu"
	KindMemory     Kind = "memory"
	KindDisk       Kind = "disk"
	KindNetwork    Kind = "network"
	KindPeripheral Kind = "peripheral"
)

// Reading is one measurement produced by a collector.
type Reading struct {
	SeriesID  string
	Kind      Kind
	Timestamp int64
	Value     float64
	Tags      map[string]string
}

// Collector produces readings for one hardware domain. The engine never
// depends on which collector produced a sample; collectors are consumed
// only at this boundary.
type Collector interface {
	Kind() Kind
	Collect(ctx context.Context) ([]Reading, error)
}

// Sink consumes staged readings, normally the facade's ingest path.
type Sink func(seriesID string, ts int64, value float64) error

// Buffer is a bounded staging ring between collectors and the store.
// When full, the oldest staged reading is overwritten so a stalled sink
// never blocks collection.
type Buffer struct {
	mu      sync.Mutex
	ring    []Reading
	head    int
	count   int
	dropped int
}

func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = constants.DEFAULT_INGEST_BUFFER_SAMPLES
	}
	return &Buffer{ring: make([]Reading, size)}
}

// Add stages one reading.
func (b *Buffer) Add(r Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := (b.head + b.count) % len(b.ring)
	b.ring[idx] = r
	if b.count < len(b.ring) {
		b.count++
	} else {
		b.head = (b.head + 1) % len(b.ring)
		b.dropped++
	}
}

// Len reports the staged reading count.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped reports readings lost to overflow.
func (b *Buffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Drain removes and returns all staged readings in arrival order.
func (b *Buffer) Drain() []Reading {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Reading, 0, b.count)
	for i := 0; i < b.count; i++ {
		out = append(out, b.ring[(b.head+i)%len(b.ring)])
	}
	b.head = 0
	b.count = 0
	return out
}

// SeriesRegistrar creates series with tags ahead of the first write.
type SeriesRegistrar interface {
	EnsureSeries(id string, tags map[string]string) error
}

// Runner polls collectors on a fixed interval, stages their readings,
// and flushes the buffer into the sink. One slow or failing collector
// degrades only its own domain.
type Runner struct {
	collectors []Collector
	buffer     *Buffer
	sink       Sink
	registrar  SeriesRegistrar
	interval   time.Duration

	mu         sync.Mutex
	registered map[string]bool
}

func NewRunner(collectors []Collector, buffer *Buffer, sink Sink, registrar SeriesRegistrar, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = constants.DEFAULT_COLLECTION_INTERVAL
	}
	return &Runner{
		collectors: collectors,
		buffer:     buffer,
		sink:       sink,
		registrar:  registrar,
		interval:   interval,
		registered: make(map[string]bool),
	}
}

// CollectOnce polls every collector once and flushes. Exposed so tests
// and the CLI can drive a single cycle deterministically.
func (r *Runner) CollectOnce(ctx context.Context) {
	for _, c := range r.collectors {
		readings, err := c.Collect(ctx)
		if err != nil {
			logger.Warning("collector %s: %v", c.Kind(), err)
			continue
		}
		for _, reading := range readings {
			r.ensureRegistered(reading)
			r.buffer.Add(reading)
		}
	}
	r.Flush()
}

func (r *Runner) ensureRegistered(reading Reading) {
	if r.registrar == nil || len(reading.Tags) == 0 {
		return
	}
	r.mu.Lock()
	seen := r.registered[reading.SeriesID]
	if !seen {
		r.registered[reading.SeriesID] = true
	}
	r.mu.Unlock()
	if seen {
		return
	}
	if err := r.registrar.EnsureSeries(reading.SeriesID, reading.Tags); err != nil {
		logger.Warning("register series %s: %v", reading.SeriesID, err)
	}
}

// Flush drains the buffer into the sink. Rejected readings are logged
// and dropped; a rejected write never corrupts stored data.
func (r *Runner) Flush() {
	for _, reading := range r.buffer.Drain() {
		if err := r.sink(reading.SeriesID, reading.Timestamp, reading.Value); err != nil {
			logger.Warning("ingest %s: %v", reading.SeriesID, err)
		}
	}
}

// Run polls until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Flush()
			return
		case <-ticker.C:
			r.CollectOnce(ctx)
		}
	}
}
