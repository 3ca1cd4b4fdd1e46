package collectors

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/net"

	"hwpulse/internal/ingest"
)

// Network reports per-host byte rates and per-interface link state. Link
// state series are discrete and meant to be watched for state changes.
type Network struct {
	tags map[string]string

	lastSent  uint64
	lastRecv  uint64
	lastStamp time.Time
}

func NewNetwork(tags map[string]string) *Network { return &Network{tags: tags} }

func (n *Network) Kind() ingest.Kind { return ingest.KindNetwork }

func (n *Network) Collect(ctx context.Context) ([]ingest.Reading, error) {
	now := time.Now()
	ts := now.UnixMilli()

	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("net counters: %w", err)
	}
	var out []ingest.Reading
	if len(counters) > 0 {
		total := counters[0]
		// First poll establishes the baseline; rates start on the second.
		if !n.lastStamp.IsZero() {
			elapsed := now.Sub(n.lastStamp).Seconds()
			if elapsed > 0 && total.BytesSent >= n.lastSent && total.BytesRecv >= n.lastRecv {
				out = append(out,
					ingest.Reading{SeriesID: "net.tx_bytes_per_sec", Kind: ingest.KindNetwork, Timestamp: ts,
						Value: float64(total.BytesSent-n.lastSent) / elapsed, Tags: n.tags},
					ingest.Reading{SeriesID: "net.rx_bytes_per_sec", Kind: ingest.KindNetwork, Timestamp: ts,
						Value: float64(total.BytesRecv-n.lastRecv) / elapsed, Tags: n.tags},
				)
			}
		}
		n.lastSent = total.BytesSent
		n.lastRecv = total.BytesRecv
		n.lastStamp = now
	}

	ifaces, err := net.InterfacesWithContext(ctx)
	if err != nil {
		return out, nil
	}
	for _, iface := range ifaces {
		up := 0.0
		for _, flag := range iface.Flags {
			if flag == "up" {
				up = 1.0
				break
			}
		}
		out = append(out, ingest.Reading{
			SeriesID:  fmt.Sprintf("net.%s.link", iface.Name),
			Kind:      ingest.KindNetwork,
			Timestamp: ts,
			Value:     up,
			Tags:      n.tags,
		})
	}
	return out, nil
}
