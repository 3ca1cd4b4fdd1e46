package collectors

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"hwpulse/internal/ingest"
)

// Disk reports filesystem utilization for configured mount points.
type Disk struct {
	mounts []string
	tags   map[string]string
}

// NewDisk builds a disk collector. Empty mounts defaults to "/".
func NewDisk(mounts []string, tags map[string]string) *Disk {
	if len(mounts) == 0 {
		mounts = []string{"/"}
	}
	return &Disk{mounts: mounts, tags: tags}
}

func (d *Disk) Kind() ingest.Kind { return ingest.KindDisk }

func (d *Disk) Collect(ctx context.Context) ([]ingest.Reading, error) {
	now := time.Now().UnixMilli()
	var out []ingest.Reading
	var firstErr error

	for _, mount := range d.mounts {
		usage, err := disk.UsageWithContext(ctx, mount)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("disk usage %s: %w", mount, err)
			}
			continue
		}
		out = append(out, ingest.Reading{
			SeriesID:  "disk.used_pct" + sanitizeMount(mount),
			Kind:      ingest.KindDisk,
			Timestamp: now,
			Value:     usage.UsedPercent,
			Tags:      d.tags,
		})
	}
	if len(out) == 0 {
		return nil, firstErr
	}
	return out, nil
}

// sanitizeMount turns a mount path into a series id suffix: "/" becomes
// ".root", "/var/log" becomes ".var_log".
func sanitizeMount(mount string) string {
	if mount == "/" {
		return ".root"
	}
	out := make([]byte, 0, len(mount)+1)
	out = append(out, '.')
	for i := 1; i < len(mount); i++ {
		if mount[i] == '/' {
			out = append(out, '_')
		} else {
			out = append(out, mount[i])
		}
	}
	return string(out)
}
