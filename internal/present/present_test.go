package present_test

import (
	"math"
	"testing"
	"time"

	"codeberg.org/mutker/fluxdash/internal/api"
	"codeberg.org/mutker/fluxdash/internal/present"
	"codeberg.org/mutker/fluxdash/internal/series"
	"codeberg.org/mutker/fluxdash/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.853, "85.3%"},
		{0, "0.0%"},
		{1, "100.0%"},
		{1.7, "100.0%"},
		{-0.2, "0.0%"},
		{math.NaN(), "0.0%"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, present.Percent(tt.in), "Percent(%v)", tt.in)
	}
}

func TestLatency(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.42, "0.42 ms"},
		{12.34, "12.3 ms"},
		{999.9, "999.9 ms"},
		{1250, "1.25 s"},
		{-1, "-"},
		{math.Inf(1), "-"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, present.Latency(tt.in), "Latency(%v)", tt.in)
	}
}

func TestUptime(t *testing.T) {
	assert.Equal(t, "3d 4h 5m", present.Uptime(3*24*time.Hour+4*time.Hour+5*time.Minute+30*time.Second))
	assert.Equal(t, "4h 0m", present.Uptime(4*time.Hour))
	assert.Equal(t, "59m", present.Uptime(59*time.Minute+59*time.Second))
	assert.Equal(t, "42s", present.Uptime(42*time.Second))
	assert.Equal(t, "0s", present.Uptime(-time.Second))
}

func TestCountAndRate(t *testing.T) {
	assert.Equal(t, "1,234,567", present.Count(1234567))
	assert.Equal(t, "0", present.Count(0))
	assert.Equal(t, "1,234.5/s", present.Rate(1234.5))
	assert.Equal(t, "5/s", present.Rate(5))
	assert.Equal(t, "-", present.Rate(math.NaN()))
}

func TestHealth(t *testing.T) {
	assert.Equal(t, "3/4", present.HealthRatio(3, 4))
	assert.Equal(t, present.Healthy, present.Health(4, 4))
	assert.Equal(t, present.Degraded, present.Health(3, 4))
	assert.Equal(t, present.Down, present.Health(0, 4))
	assert.Equal(t, present.Unknown, present.Health(0, 0))
	assert.Equal(t, "degraded", present.Degraded.String())
	assert.Equal(t, "unknown", present.Level(99).String())
}

func sample() snapshot.MetricSnapshot {
	return snapshot.MetricSnapshot{
		Timestamp:        time.Date(2024, 5, 1, 13, 4, 5, 0, time.Local),
		QPS:              120.5,
		AvgLatencyMs:     12.34,
		CacheHitRate:     0.853,
		TotalQueries:     1234567,
		HealthyUpstreams: 1,
		TotalUpstreams:   2,
		Upstreams: []snapshot.UpstreamStatus{
			{ID: 1, Name: "cloudflare", Healthy: true, LatencyMs: 8.5},
			{ID: 2, Name: "quad9", Healthy: false, LatencyMs: 300},
		},
	}
}

func TestSummarize(t *testing.T) {
	got := present.Summarize(sample())
	assert.Equal(t, present.Summary{
		QPS:          "120.5/s",
		AvgLatency:   "12.3 ms",
		CacheHitRate: "85.3%",
		TotalQueries: "1,234,567",
		Upstreams:    "1/2",
		Health:       present.Degraded,
		UpdatedAt:    "13:04:05",
	}, got)
}

func TestSystem(t *testing.T) {
	got := present.System(api.SystemStatus{
		Status:        "running",
		UptimeSeconds: 93900,
		Strategy:      "fastest",
		Cache:         api.CacheStatus{Entries: 1500, MaxEntries: 10000},
		Query:         api.QueryStatus{QueriesToday: 2500},
	})
	assert.Equal(t, present.SystemCard{
		Status:       "running",
		Uptime:       "1d 2h 5m",
		Strategy:     "fastest",
		CacheEntries: "1,500 / 10,000",
		QueriesToday: "2,500",
	}, got)

	assert.Equal(t, "0", present.System(api.SystemStatus{}).CacheEntries)
}

func TestUpstreamsHideLatencyWhenUnhealthy(t *testing.T) {
	assert.Equal(t, []present.UpstreamRow{
		{Name: "cloudflare", Status: "healthy", Latency: "8.5 ms"},
		{Name: "quad9", Status: "unhealthy", Latency: "-"},
	}, present.Upstreams(sample()))

	assert.Empty(t, present.Upstreams(snapshot.MetricSnapshot{}))
}

func TestTimeLabelUsesLocalZone(t *testing.T) {
	at := time.Date(2024, 5, 1, 13, 4, 5, 0, time.UTC)
	assert.Equal(t, at.Local().Format("15:04:05"), present.TimeLabel(at))
	assert.Equal(t, present.TimeLabel(at), present.Summarize(snapshot.MetricSnapshot{Timestamp: at}).UpdatedAt)
}

func TestChartFrom(t *testing.T) {
	buf, err := series.New(3, present.SeriesQPS, present.SeriesLatency)
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		require.NoError(t, buf.Append(present.TimeLabel(time.Date(2024, 1, 1, 0, 0, i, 0, time.Local)), float64(i), float64(i*10)))
	}

	c := present.ChartFrom(buf.Snapshot())
	assert.Equal(t, []string{"00:00:02", "00:00:03", "00:00:04"}, c.Labels)
	assert.Equal(t, []float64{2, 3, 4}, c.QPS)
	assert.Equal(t, []float64{20, 30, 40}, c.Latency)

	empty := present.ChartFrom(series.Window{})
	assert.Empty(t, empty.Labels)
	assert.Len(t, empty.QPS, 0)
	assert.Len(t, empty.Latency, 0)
}

func TestChartFromMissingSeriesIsZeroFilled(t *testing.T) {
	buf, err := series.New(5, present.SeriesQPS)
	require.NoError(t, err)
	require.NoError(t, buf.Append("a", 1))
	require.NoError(t, buf.Append("b", 2))

	c := present.ChartFrom(buf.Snapshot())
	assert.Equal(t, []float64{1, 2}, c.QPS)
	assert.Equal(t, []float64{0, 0}, c.Latency)
}
