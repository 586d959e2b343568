// Package dashboard wires the live stream, the chart buffer and the polled
// leaderboards into one view model.
package dashboard

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/fluxdash/internal/api"
	"codeberg.org/mutker/fluxdash/internal/errors"
	"codeberg.org/mutker/fluxdash/internal/history"
	"codeberg.org/mutker/fluxdash/internal/logger"
	"codeberg.org/mutker/fluxdash/internal/poll"
	"codeberg.org/mutker/fluxdash/internal/present"
	"codeberg.org/mutker/fluxdash/internal/series"
	"codeberg.org/mutker/fluxdash/internal/snapshot"
	"codeberg.org/mutker/fluxdash/internal/stream"
)

const (
	TitleTopDomains = "Top Domains"
	TitleTopClients = "Top Clients"

	seedTimeout = 5 * time.Second
)

// StatsClient is the part of the API client the dashboard polls.
type StatsClient interface {
	TopDomains(ctx context.Context, limit int) ([]api.Entry, error)
	TopClients(ctx context.Context, limit int) ([]api.Entry, error)
	Health(ctx context.Context) (api.Health, error)
	SystemStatus(ctx context.Context) (api.SystemStatus, error)
}

type Config struct {
	MaxPoints           int
	LeaderboardInterval time.Duration
	LeaderboardLimit    int
	// HealthInterval paces the health and system status polls. Zero disables both.
	HealthInterval time.Duration
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxPoints:           series.DefaultCapacity,
		LeaderboardInterval: 10 * time.Second,
		LeaderboardLimit:    10,
		HealthInterval:      10 * time.Second,
		RequestTimeout:      5 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.LeaderboardInterval <= 0 || c.HealthInterval < 0 {
		return errors.New().WithData(errors.ErrInvalidInterval, struct {
			Leaderboard time.Duration
			Health      time.Duration
		}{c.LeaderboardInterval, c.HealthInterval})
	}
	return nil
}

type Option func(*Dashboard)

// WithHistory records every snapshot through an async sink and seeds the
// chart from rec on the first Start when rec can read back.
func WithHistory(rec history.Recorder, queueSize int) Option {
	return func(d *Dashboard) {
		d.recorder = rec
		d.queueSize = queueSize
	}
}

func WithLogger(log logger.Logger) Option {
	return func(d *Dashboard) { d.log = log }
}

type Board struct {
	Title     string
	Entries   []api.Entry
	Loading   bool
	Failures  int
	UpdatedAt time.Time
}

// View is everything a renderer needs, copied out of the live components.
type View struct {
	State        stream.State
	Connected    bool
	Latest       *snapshot.MetricSnapshot
	Summary      *present.Summary
	Upstreams    []present.UpstreamRow
	Chart        present.Chart
	Leaderboards []Board
	Health       *api.Health
	System       *present.SystemCard
	Stats        stream.Stats
}

type Dashboard struct {
	cfg       Config
	connector *stream.Connector
	buffer    *series.Buffer
	domains   *poll.Refresher[[]api.Entry]
	clients   *poll.Refresher[[]api.Entry]
	health    *poll.Refresher[api.Health]
	status    *poll.Refresher[api.SystemStatus]
	recorder  history.Recorder
	queueSize int
	sink      *history.Sink
	log       logger.Logger

	life    sync.Mutex
	running bool
	seeded  bool
	closed  bool
}

func New(cfg Config, connector *stream.Connector, client StatsClient, opts ...Option) (*Dashboard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	buffer, err := series.New(cfg.MaxPoints, present.SeriesQPS, present.SeriesLatency)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		cfg:       cfg,
		connector: connector,
		buffer:    buffer,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = logger.Default()
	}
	d.log = d.log.With("dashboard")

	if d.recorder != nil {
		d.sink = history.NewSink(d.recorder, d.queueSize, d.log)
	}

	limit := cfg.LeaderboardLimit
	cloneEntries := func(in []api.Entry) []api.Entry { return append([]api.Entry(nil), in...) }
	d.domains = poll.New(TitleTopDomains, cfg.LeaderboardInterval,
		func(ctx context.Context) ([]api.Entry, error) { return client.TopDomains(ctx, limit) },
		poll.WithTimeout[[]api.Entry](cfg.RequestTimeout),
		poll.WithClone(cloneEntries),
		poll.WithLogger[[]api.Entry](d.log))
	d.clients = poll.New(TitleTopClients, cfg.LeaderboardInterval,
		func(ctx context.Context) ([]api.Entry, error) { return client.TopClients(ctx, limit) },
		poll.WithTimeout[[]api.Entry](cfg.RequestTimeout),
		poll.WithClone(cloneEntries),
		poll.WithLogger[[]api.Entry](d.log))
	if cfg.HealthInterval > 0 {
		d.health = poll.New("health", cfg.HealthInterval, client.Health,
			poll.WithTimeout[api.Health](cfg.RequestTimeout),
			poll.WithLogger[api.Health](d.log))
		d.status = poll.New("status", cfg.HealthInterval, client.SystemStatus,
			poll.WithTimeout[api.SystemStatus](cfg.RequestTimeout),
			poll.WithLogger[api.SystemStatus](d.log))
	}

	connector.Subscribe(d)

	return d, nil
}

// OnState implements stream.Listener.
func (d *Dashboard) OnState(s stream.State) {
	d.log.Info().Str("state", s.String()).Msg("Stream state changed")
}

// OnSnapshot implements stream.Listener.
func (d *Dashboard) OnSnapshot(s snapshot.MetricSnapshot) {
	d.appendPoint(s)
	d.sink.Offer(s)
}

func (d *Dashboard) appendPoint(s snapshot.MetricSnapshot) {
	if err := d.buffer.Append(present.TimeLabel(s.Timestamp), s.QPS, s.AvgLatencyMs); err != nil {
		d.log.Error().Err(err).Msg("Failed to append chart point")
	}
}

// Start connects the stream and starts the pollers. Starting a running
// dashboard does nothing.
func (d *Dashboard) Start() {
	d.life.Lock()
	defer d.life.Unlock()

	if d.running || d.closed {
		return
	}
	d.running = true

	if !d.seeded {
		d.seeded = true
		d.seed()
	}
	if d.sink != nil {
		d.sink.Start()
	}

	d.connector.Start()
	d.domains.Start()
	d.clients.Start()
	if d.health != nil {
		d.health.Start()
		d.status.Start()
	}

	d.log.Debug().Msg("Dashboard started")
}

// seed fills the chart from stored history before live points arrive.
func (d *Dashboard) seed() {
	reader, ok := d.recorder.(history.Reader)
	if !ok || d.buffer.Len() > 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), seedTimeout)
	defer cancel()

	recent, err := reader.Recent(ctx, d.buffer.Cap())
	if err != nil {
		d.log.Warn().Err(err).Msg("Failed to load chart history")
		return
	}
	for _, s := range recent {
		d.appendPoint(s)
	}

	d.log.Debug().Int("points", len(recent)).Msg("Chart seeded from history")
}

// Stop disconnects the stream and stops polling. No callbacks reach the
// view after it returns.
func (d *Dashboard) Stop() {
	d.life.Lock()
	defer d.life.Unlock()
	d.stop()
}

func (d *Dashboard) stop() {
	if !d.running {
		return
	}
	d.running = false

	d.connector.Stop()
	d.domains.Stop()
	d.clients.Stop()
	if d.health != nil {
		d.health.Stop()
		d.status.Stop()
	}

	d.log.Debug().Msg("Dashboard stopped")
}

// Close stops the dashboard and flushes and closes the history recorder.
func (d *Dashboard) Close() error {
	d.life.Lock()
	defer d.life.Unlock()

	d.stop()
	if d.closed {
		return nil
	}
	d.closed = true

	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			return errors.New().Wrap(errors.ErrShutdownFailed, err)
		}
		if dropped := d.sink.Dropped(); dropped > 0 {
			d.log.Warn().Uint64("dropped", dropped).Msg("History queue overflowed")
		}
	}

	return nil
}

func (d *Dashboard) View() View {
	state := d.connector.State()
	v := View{
		State:     state,
		Connected: state == stream.Connected,
		Chart:     present.ChartFrom(d.buffer.Snapshot()),
		Stats:     d.connector.Stats(),
	}

	if latest, ok := d.connector.Latest(); ok {
		summary := present.Summarize(latest)
		v.Latest = &latest
		v.Summary = &summary
		v.Upstreams = present.Upstreams(latest)
	}

	for _, r := range []*poll.Refresher[[]api.Entry]{d.domains, d.clients} {
		pv := r.View()
		v.Leaderboards = append(v.Leaderboards, Board{
			Title:     r.Name(),
			Entries:   pv.Value,
			Loading:   pv.Loading,
			Failures:  pv.Failures,
			UpdatedAt: pv.UpdatedAt,
		})
	}

	if d.health == nil {
		return v
	}
	if hv := d.health.View(); hv.Loaded {
		h := hv.Value
		v.Health = &h
	}
	if sv := d.status.View(); sv.Loaded {
		card := present.System(sv.Value)
		v.System = &card
	}

	return v
}
