// Package collectors holds the platform collectors feeding the ingest
// boundary. All of them read through gopsutil, so one binary covers the
// platforms gopsutil covers.
package collectors

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"

	"hwpulse/internal/ingest"
)

// CPU reports total utilization and load averages.
type CPU struct {
	tags map[string]string
}

func NewCPU(tags map[string]string) *CPU { return &CPU{tags: tags} }

func (c *CPU) Kind() ingest.Kind { return ingest.KindCpu }

func (c *CPU) Collect(ctx context.Context) ([]ingest.Reading, error) {
	now := time.Now().UnixMilli()

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("cpu percent: %w", err)
	}
	out := make([]ingest.Reading, 0, 4)
	if len(percents) > 0 {
		out = append(out, ingest.Reading{
			SeriesID:  "cpu.usage_pct",
			Kind:      ingest.KindCpu,
			Timestamp: now,
			Value:     percents[0],
			Tags:      c.tags,
		})
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		out = append(out,
			ingest.Reading{SeriesID: "cpu.load1", Kind: ingest.KindCpu, Timestamp: now, Value: avg.Load1, Tags: c.tags},
			ingest.Reading{SeriesID: "cpu.load5", Kind: ingest.KindCpu, Timestamp: now, Value: avg.Load5, Tags: c.tags},
			ingest.Reading{SeriesID: "cpu.load15", Kind: ingest.KindCpu, Timestamp: now, Value: avg.Load15, Tags: c.tags},
		)
	}
	return out, nil
}
