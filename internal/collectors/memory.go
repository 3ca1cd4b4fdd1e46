package collectors

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"hwpulse/internal/ingest"
)

// Memory reports physical and swap utilization.
type Memory struct {
	tags map[string]string
}

func NewMemory(tags map[string]string) *Memory { return &Memory{tags: tags} }

func (m *Memory) Kind() ingest.Kind { return ingest.KindMemory }

func (m *Memory) Collect(ctx context.Context) ([]ingest.Reading, error) {
	now := time.Now().UnixMilli()

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("virtual memory: %w", err)
	}
	out := []ingest.Reading{
		{SeriesID: "mem.used_pct", Kind: ingest.KindMemory, Timestamp: now, Value: vm.UsedPercent, Tags: m.tags},
		{SeriesID: "mem.available_bytes", Kind: ingest.KindMemory, Timestamp: now, Value: float64(vm.Available), Tags: m.tags},
	}

	if sw, err := mem.SwapMemoryWithContext(ctx); err == nil {
		out = append(out, ingest.Reading{
			SeriesID: "mem.swap_used_pct", Kind: ingest.KindMemory, Timestamp: now, Value: sw.UsedPercent, Tags: m.tags,
		})
	}
	return out, nil
}
