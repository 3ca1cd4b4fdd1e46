package ui

import (
	"fmt"
	"strings"
	"time"

	"hwpulse/internal/aggregate"
	"hwpulse/internal/alerts"
	"hwpulse/internal/fleet"
	"hwpulse/internal/predict"
	"hwpulse/internal/tsdb"
)

// PrintHeader prints the application header
func PrintHeader() {
	fmt.Println(RenderBanner())
	fmt.Println(RenderSubtitle())
}

// PrintSection prints a section header
func PrintSection(title string) {
	fmt.Println(RenderSectionStart(title))
}

// PrintSectionEnd prints a section footer
func PrintSectionEnd() {
	fmt.Println(RenderSectionEnd())
}

// PrintStatus prints a status message
func PrintStatus(status, message string) {
	fmt.Println(RenderStatus(status, message))
}

func formatTs(ts int64) string {
	return time.UnixMilli(ts).Format("2006-01-02 15:04:05")
}

// PrintSamples prints raw samples as a timestamped list
func PrintSamples(seriesID string, samples []tsdb.Sample) {
	PrintSection(seriesID)
	if len(samples) == 0 {
		PrintStatus("info", "no samples in range")
		PrintSectionEnd()
		return
	}
	for _, s := range samples {
		fmt.Println(RenderKeyValue(formatTs(s.Timestamp), fmt.Sprintf("%.3f", s.Value)))
	}
	PrintSectionEnd()
}

// PrintAggregates prints bucketed statistics as a table
func PrintAggregates(aggs []aggregate.Aggregate) {
	if len(aggs) == 0 {
		PrintStatus("info", "no data in range")
		return
	}
	PrintSection(aggs[0].SeriesID)
	header := fmt.Sprintf("  %-20s %8s %8s %8s %8s %8s %6s", "bucket", "min", "avg", "max", "p95", "p99", "count")
	fmt.Println(MutedStyle.Render(header))
	for _, a := range aggs {
		row := fmt.Sprintf("  %-20s %8.2f %8.2f %8.2f %8.2f %8.2f %6d",
			formatTs(a.WindowStart), a.Min, a.Avg, a.Max, a.P95, a.P99, a.Count)
		fmt.Println(GrayStyle.Render(row))
	}
	PrintSectionEnd()
}

// PrintEvents prints events newest first
func PrintEvents(events []alerts.Event) {
	PrintSection("Events")
	if len(events) == 0 {
		PrintStatus("success", "no events")
		PrintSectionEnd()
		return
	}
	for _, ev := range events {
		status := "info"
		switch ev.Severity {
		case alerts.SeverityCritical:
			status = "error"
		case alerts.SeverityWarning:
			status = "warning"
		}
		line := fmt.Sprintf("%s  [%s] %s", formatTs(ev.Timestamp), ev.Kind, ev.Message)
		if ev.Acknowledged {
			line += MutedStyle.Render("  (ack)")
		}
		PrintStatus(status, line)
	}
	PrintSectionEnd()
}

// PrintHealthScore prints one host score with a bar
func PrintHealthScore(s fleet.Score) {
	PrintSection("Health " + s.HostID)
	bar := RenderProgressBar(100-s.Value, 20) // redder as health drops
	label := fmt.Sprintf("%.0f / 100", s.Value)
	if s.Stale {
		label += MutedStyle.Render("  (stale)")
	}
	fmt.Println("  " + bar + "  " + WhiteStyle.Render(label))
	PrintSectionEnd()
}

// PrintTrend prints a fitted trend and optional crossing
func PrintTrend(t predict.Trend, c *predict.Crossing) {
	PrintSection("Trend " + t.SeriesID)
	fmt.Println(RenderKeyValue("slope", fmt.Sprintf("%+.6g per ms", t.Slope)))
	fmt.Println(RenderKeyValue("r_squared", fmt.Sprintf("%.4f", t.RSquared)))
	fmt.Println(RenderKeyValue("samples", fmt.Sprintf("%d", t.Samples)))
	if c == nil {
		PrintStatus("success", "trend never reaches threshold")
	} else {
		until := time.Until(time.UnixMilli(c.Timestamp)).Round(time.Minute)
		PrintStatus("warning", fmt.Sprintf("crosses %.1f at %s (%s)", c.Threshold, formatTs(c.Timestamp), until))
	}
	PrintSectionEnd()
}

// PrintStoreStats prints per-series storage statistics
func PrintStoreStats(stats []tsdb.SeriesStats) {
	PrintSection("Store")
	if len(stats) == 0 {
		PrintStatus("info", "store is empty")
		PrintSectionEnd()
		return
	}
	header := fmt.Sprintf("  %-28s %8s %9s %10s", "series", "samples", "segments", "bytes")
	fmt.Println(MutedStyle.Render(header))
	for _, st := range stats {
		name := st.SeriesID
		if len(name) > 28 {
			name = name[:25] + "..."
		}
		fmt.Println(GrayStyle.Render(fmt.Sprintf("  %-28s %8d %9d %10d",
			name, st.Samples, st.SealedSegments, st.Bytes)))
	}
	PrintSectionEnd()
}

// FormatValue renders a metric value with its unit guessed from the
// series id suffix
func FormatValue(seriesID string, v float64) string {
	switch {
	case strings.HasSuffix(seriesID, "_pct"):
		return fmt.Sprintf("%.1f%%", v)
	case strings.HasSuffix(seriesID, "_bytes") || strings.Contains(seriesID, "bytes_per_sec"):
		return formatBytes(v)
	case strings.HasSuffix(seriesID, ".temperature"):
		return fmt.Sprintf("%.1f°C", v)
	default:
		return fmt.Sprintf("%.3f", v)
	}
}

func formatBytes(v float64) string {
	units := []string{"B", "KiB", "MiB", "GiB", "TiB"}
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", v, units[i])
}
