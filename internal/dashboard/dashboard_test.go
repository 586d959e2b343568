package dashboard_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/fluxdash/internal/api"
	"codeberg.org/mutker/fluxdash/internal/dashboard"
	"codeberg.org/mutker/fluxdash/internal/history"
	"codeberg.org/mutker/fluxdash/internal/logger"
	"codeberg.org/mutker/fluxdash/internal/present"
	"codeberg.org/mutker/fluxdash/internal/session"
	"codeberg.org/mutker/fluxdash/internal/snapshot"
	"codeberg.org/mutker/fluxdash/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type backend struct {
	srv          *httptest.Server
	streams      atomic.Int32
	domainsCalls atomic.Int32
	statusCalls  atomic.Int32
	failDomains  atomic.Bool
	release      chan struct{}
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{release: make(chan struct{})}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/metrics/stream", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		b.streams.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 1; i <= 3; i++ {
			fmt.Fprintf(w, "data: {\"timestamp\": %d, \"qps\": %d, \"avgLatencyMs\": %d, \"cacheHitRate\": 0.5, "+
				"\"totalQueries\": %d, \"upstreamStatus\": [{\"id\": 1, \"name\": \"cf\", \"healthy\": true, \"latencyMs\": 2}]}\n\n",
				1714568645000+int64(i)*1000, i, i*10, i*100)
		}
		fmt.Fprint(w, "data: {broken\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-b.release:
		}
	})
	mux.HandleFunc("/api/stats/top-domains", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if b.domainsCalls.Add(1) > 1 && b.failDomains.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		io.WriteString(w, `[{"name":"a.com","count":5}]`)
	})
	mux.HandleFunc("/api/stats/top-clients", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"data":[{"name":"10.0.0.2","count":3}]}`)
	})
	mux.HandleFunc("/api/status/health", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"status":"healthy","database":true,"cache":true,"upstreams":true}`)
	})
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, _ *http.Request) {
		b.statusCalls.Add(1)
		io.WriteString(w, `{"status":"running","uptime_seconds":3720,"strategy":"fastest",`+
			`"cache":{"entries":7,"max_entries":100},"query":{"queries_today":12}}`)
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		close(b.release)
		b.srv.Close()
	})
	return b
}

func build(t *testing.T, b *backend, opts ...dashboard.Option) *dashboard.Dashboard {
	t.Helper()
	cfg := dashboard.DefaultConfig()
	cfg.LeaderboardInterval = 30 * time.Millisecond
	cfg.HealthInterval = 30 * time.Millisecond
	return buildWith(t, b, cfg, opts...)
}

func buildWith(t *testing.T, b *backend, cfg dashboard.Config, opts ...dashboard.Option) *dashboard.Dashboard {
	t.Helper()
	tokens := session.Static("tok")

	scfg := stream.DefaultConfig()
	scfg.URL = b.srv.URL + "/api/metrics/stream"
	scfg.Reconnect.Delay = 50 * time.Millisecond
	conn, err := stream.NewFromConfig(scfg, tokens, logger.Nop())
	require.NoError(t, err)

	acfg := api.DefaultConfig()
	acfg.BaseURL = b.srv.URL
	client, err := api.NewClient(acfg, tokens, logger.Nop())
	require.NoError(t, err)

	d, err := dashboard.New(cfg, conn, client, append(opts, dashboard.WithLogger(logger.Nop()))...)
	require.NoError(t, err)
	return d
}

func TestDashboardView(t *testing.T) {
	b := newBackend(t)
	d := build(t, b)

	v := d.View()
	assert.Equal(t, stream.Idle, v.State)
	assert.Nil(t, v.Latest)
	assert.Empty(t, v.Chart.Labels)

	d.Start()
	defer d.Close()

	require.Eventually(t, func() bool {
		v := d.View()
		return v.Connected && len(v.Chart.Labels) == 3 && v.Health != nil && v.System != nil &&
			len(v.Leaderboards[0].Entries) == 1 && len(v.Leaderboards[1].Entries) == 1
	}, waitFor, tick)

	v = d.View()
	require.NotNil(t, v.Latest)
	assert.Equal(t, float64(3), v.Latest.QPS)
	assert.Equal(t, []float64{1, 2, 3}, v.Chart.QPS)
	assert.Equal(t, []float64{10, 20, 30}, v.Chart.Latency)
	assert.Equal(t, present.TimeLabel(time.UnixMilli(1714568648000).Local()), v.Chart.Labels[2])
	assert.Equal(t, "3/s", v.Summary.QPS)
	assert.Equal(t, []present.UpstreamRow{{Name: "cf", Status: "healthy", Latency: "2.0 ms"}}, v.Upstreams)

	assert.Equal(t, dashboard.TitleTopDomains, v.Leaderboards[0].Title)
	assert.Equal(t, []api.Entry{{Name: "a.com", Count: 5}}, v.Leaderboards[0].Entries)
	assert.False(t, v.Leaderboards[0].Loading)
	assert.Equal(t, dashboard.TitleTopClients, v.Leaderboards[1].Title)
	assert.True(t, v.Health.Healthy())
	assert.Equal(t, present.SystemCard{
		Status:       "running",
		Uptime:       "1h 2m",
		Strategy:     "fastest",
		CacheEntries: "7 / 100",
		QueriesToday: "12",
	}, *v.System)
	assert.Equal(t, uint64(1), v.Stats.FramesDropped)

	d.Stop()
	assert.Equal(t, stream.Idle, d.View().State)
	assert.False(t, d.View().Connected)
}

func TestDashboardKeepsLeaderboardOnFailure(t *testing.T) {
	b := newBackend(t)
	b.failDomains.Store(true)
	d := build(t, b)

	d.Start()
	defer d.Close()

	require.Eventually(t, func() bool { return d.View().Leaderboards[0].Failures >= 1 }, waitFor, tick)

	board := d.View().Leaderboards[0]
	assert.Equal(t, []api.Entry{{Name: "a.com", Count: 5}}, board.Entries)
	assert.False(t, board.Loading)
}

func TestDashboardRecordsAndSeedsHistory(t *testing.T) {
	hcfg := history.DefaultConfig()
	hcfg.Enabled = true
	hcfg.DBPath = filepath.Join(t.TempDir(), "history.db")
	hcfg.BatchSize = 1

	rec, err := history.NewService(hcfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, rec.Record(context.Background(), snapshot.MetricSnapshot{
		Timestamp: time.UnixMilli(1714568000000),
		QPS:       42,
	}))

	b := newBackend(t)
	d := build(t, b, dashboard.WithHistory(rec, 16))
	d.Start()

	require.Eventually(t, func() bool { return len(d.View().Chart.QPS) == 4 }, waitFor, tick)
	assert.Equal(t, []float64{42, 1, 2, 3}, d.View().Chart.QPS)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	reopened, err := history.NewService(hcfg, logger.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	stored, err := reopened.(history.Reader).Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(stored), 4)
	assert.Equal(t, float64(42), stored[0].QPS)
}

func TestDashboardWithoutHealthPolling(t *testing.T) {
	b := newBackend(t)
	cfg := dashboard.DefaultConfig()
	cfg.LeaderboardInterval = 30 * time.Millisecond
	cfg.HealthInterval = 0
	d := buildWith(t, b, cfg)

	d.Start()
	defer d.Close()

	require.Eventually(t, func() bool {
		v := d.View()
		return v.Connected && len(v.Leaderboards[0].Entries) == 1
	}, waitFor, tick)

	v := d.View()
	assert.Nil(t, v.Health)
	assert.Nil(t, v.System)
	assert.Zero(t, b.statusCalls.Load())

	d.Stop()
	d.Start()
	d.Stop()
}

func TestDashboardConfigValidation(t *testing.T) {
	cfg := dashboard.DefaultConfig()
	cfg.HealthInterval = -time.Second
	_, err := dashboard.New(cfg, nil, nil)
	assert.Error(t, err)

	cfg = dashboard.DefaultConfig()
	cfg.LeaderboardInterval = 0
	_, err = dashboard.New(cfg, nil, nil)
	assert.Error(t, err)
}
