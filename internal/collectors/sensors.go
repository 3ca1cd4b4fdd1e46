package collectors

import (
	"context"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/sensors"

	"hwpulse/internal/ingest"
)

// Thermal reports temperature sensors. GPU sensors are split out under
// their own kind so threshold rules can target them; everything else is
// surfaced as peripheral readings.
type Thermal struct {
	tags map[string]string
}

func NewThermal(tags map[string]string) *Thermal { return &Thermal{tags: tags} }

func (t *Thermal) Kind() ingest.Kind { return ingest.KindGpu }

func (t *Thermal) Collect(ctx context.Context) ([]ingest.Reading, error) {
	temps, err := sensors.TemperaturesWithContext(ctx)
	if err != nil {
		// Partial sensor reads are common; report what came through.
		if len(temps) == 0 {
			return nil, err
		}
	}
	now := time.Now().UnixMilli()

	var out []ingest.Reading
	for _, temp := range temps {
		key := sanitizeSensorKey(temp.SensorKey)
		if key == "" {
			continue
		}
		kind := ingest.KindPeripheral
		series := "sensor." + key + ".temperature"
		if isGPUSensor(temp.SensorKey) {
			kind = ingest.KindGpu
			series = "gpu." + key + ".temperature"
		}
		out = append(out, ingest.Reading{
			SeriesID:  series,
			Kind:      kind,
			Timestamp: now,
			Value:     temp.Temperature,
			Tags:      t.tags,
		})
	}
	return out, nil
}

func isGPUSensor(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "gpu") || strings.Contains(k, "amdgpu") || strings.Contains(k, "nouveau")
}

func sanitizeSensorKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '-' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_.")
}
