// Package present turns snapshots and buffered series into display strings.
// Everything here is a pure function of its inputs.
package present

import (
	"fmt"
	"math"
	"time"

	"codeberg.org/mutker/fluxdash/internal/api"
	"codeberg.org/mutker/fluxdash/internal/series"
	"codeberg.org/mutker/fluxdash/internal/snapshot"
	"github.com/dustin/go-humanize"
)

// Series names used for the throughput chart.
const (
	SeriesQPS     = "qps"
	SeriesLatency = "latency"
)

const (
	timeLabelLayout = "15:04:05"
	missing         = "-"
)

// Level is the coarse upstream health shown next to the ratio.
type Level int

const (
	Unknown Level = iota
	Healthy
	Degraded
	Down
)

func (l Level) String() string {
	switch l {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Down:
		return "down"
	default:
		return "unknown"
	}
}

// Percent formats a [0,1] ratio with one decimal. Out-of-range input is clamped.
func Percent(ratio float64) string {
	if math.IsNaN(ratio) {
		ratio = 0
	}
	ratio = math.Max(0, math.Min(1, ratio))
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// Latency formats milliseconds, switching to seconds at one second.
func Latency(ms float64) string {
	switch {
	case math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0:
		return missing
	case ms < 1:
		return fmt.Sprintf("%.2f ms", ms)
	case ms < 1000:
		return fmt.Sprintf("%.1f ms", ms)
	default:
		return fmt.Sprintf("%.2f s", ms/1000)
	}
}

// Uptime renders a duration as days, hours and minutes. Durations under a
// minute are shown in seconds.
func Uptime(d time.Duration) string {
	if d < time.Minute {
		if d < 0 {
			d = 0
		}
		return fmt.Sprintf("%ds", int(d/time.Second))
	}

	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	mins := int(d/time.Minute) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}

// Count groups thousands: 1234567 -> "1,234,567".
func Count(n uint64) string {
	if n > math.MaxInt64 {
		return humanize.Comma(math.MaxInt64)
	}
	return humanize.Comma(int64(n))
}

// Rate formats queries per second with one decimal and grouped thousands.
func Rate(qps float64) string {
	if math.IsNaN(qps) || math.IsInf(qps, 0) || qps < 0 {
		return missing
	}
	return humanize.CommafWithDigits(qps, 1) + "/s"
}

func HealthRatio(healthy, total int) string {
	return fmt.Sprintf("%d/%d", healthy, total)
}

func Health(healthy, total int) Level {
	switch {
	case total <= 0:
		return Unknown
	case healthy >= total:
		return Healthy
	case healthy <= 0:
		return Down
	default:
		return Degraded
	}
}

// TimeLabel is the clock label for an instant, in local time. Chart points
// and the summary both use it.
func TimeLabel(t time.Time) string {
	return t.Local().Format(timeLabelLayout)
}

// Summary is the stat card row shown above the chart.
type Summary struct {
	QPS          string
	AvgLatency   string
	CacheHitRate string
	TotalQueries string
	Upstreams    string
	Health       Level
	UpdatedAt    string
}

func Summarize(s snapshot.MetricSnapshot) Summary {
	return Summary{
		QPS:          Rate(s.QPS),
		AvgLatency:   Latency(s.AvgLatencyMs),
		CacheHitRate: Percent(s.CacheHitRate),
		TotalQueries: Count(s.TotalQueries),
		Upstreams:    HealthRatio(s.HealthyUpstreams, s.TotalUpstreams),
		Health:       Health(s.HealthyUpstreams, s.TotalUpstreams),
		UpdatedAt:    TimeLabel(s.Timestamp),
	}
}

// SystemCard is the server status card.
type SystemCard struct {
	Status       string
	Uptime       string
	Strategy     string
	CacheEntries string
	QueriesToday string
}

func System(s api.SystemStatus) SystemCard {
	entries := Count(uint64(max(s.Cache.Entries, 0)))
	if s.Cache.MaxEntries > 0 {
		entries += " / " + Count(uint64(s.Cache.MaxEntries))
	}
	return SystemCard{
		Status:       s.Status,
		Uptime:       Uptime(time.Duration(s.UptimeSeconds) * time.Second),
		Strategy:     s.Strategy,
		CacheEntries: entries,
		QueriesToday: Count(s.Query.QueriesToday),
	}
}

type UpstreamRow struct {
	Name    string
	Status  string
	Latency string
}

// Upstreams lists upstream rows in snapshot order. Latency is only shown for
// healthy upstreams.
func Upstreams(s snapshot.MetricSnapshot) []UpstreamRow {
	rows := make([]UpstreamRow, 0, len(s.Upstreams))
	for _, u := range s.Upstreams {
		row := UpstreamRow{Name: u.Name, Status: "unhealthy", Latency: missing}
		if u.Healthy {
			row.Status = "healthy"
			row.Latency = Latency(u.LatencyMs)
		}
		rows = append(rows, row)
	}
	return rows
}

// Chart holds the throughput chart. All three slices have the same length.
type Chart struct {
	Labels  []string
	QPS     []float64
	Latency []float64
}

// ChartFrom maps a buffer window to chart series. A series missing from the
// window is rendered as zeros.
func ChartFrom(w series.Window) Chart {
	n := w.Len()
	c := Chart{
		Labels:  append(make([]string, 0, n), w.Labels...),
		QPS:     make([]float64, n),
		Latency: make([]float64, n),
	}
	copy(c.QPS, w.Series(SeriesQPS))
	copy(c.Latency, w.Series(SeriesLatency))
	return c
}
