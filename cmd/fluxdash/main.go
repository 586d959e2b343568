// Copyright © 2024 Mutker Telag <witty.text5011@fastmail.com>
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/fluxdash/internal/api"
	"codeberg.org/mutker/fluxdash/internal/config"
	"codeberg.org/mutker/fluxdash/internal/dashboard"
	"codeberg.org/mutker/fluxdash/internal/errors"
	"codeberg.org/mutker/fluxdash/internal/history"
	"codeberg.org/mutker/fluxdash/internal/logger"
	"codeberg.org/mutker/fluxdash/internal/pid"
	"codeberg.org/mutker/fluxdash/internal/present"
	"codeberg.org/mutker/fluxdash/internal/session"
	"codeberg.org/mutker/fluxdash/internal/stream"
	"github.com/spf13/pflag"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.ParseLevel(cfg.LogLevel.String()), logger.IsService())
	logger.Debug().Str("config_file", cfg.ConfigFile).Msg("Config loaded")

	if err := run(cfg); err != nil {
		logger.Error().Err(err).Msg("Exiting with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	errFactory := errors.New()

	if err := pid.Write(cfg.Report.PIDFile); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(cfg.Report.PIDFile); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	board, err := newDashboard(cfg, logger.Default())
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	board.Start()
	logger.Info().
		Str("stream", cfg.StreamURL()).
		Str("server", cfg.Server.BaseURL).
		Msg("Dashboard running")

	loop(ctx, board, cfg.Report.Interval)

	return cleanup(board)
}

func newDashboard(cfg *config.Config, log logger.Logger) (*dashboard.Dashboard, error) {
	tokens := tokenProvider(cfg, log)

	connector, err := stream.NewFromConfig(streamConfig(cfg), tokens, log.With("stream"))
	if err != nil {
		return nil, err
	}

	client, err := api.NewClient(apiConfig(cfg), tokens, log)
	if err != nil {
		return nil, err
	}

	var opts []dashboard.Option
	opts = append(opts, dashboard.WithLogger(log))
	if cfg.History.Enabled {
		rec, err := history.NewService(historyConfig(cfg), log)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dashboard.WithHistory(rec, cfg.History.QueueSize))
	}

	return dashboard.New(dashboardConfig(cfg), connector, client, opts...)
}

// tokenProvider prefers an explicit token, then the token file, then the
// environment variable. File and env are re-read on every use.
func tokenProvider(cfg *config.Config, log logger.Logger) session.TokenProvider {
	var providers []session.TokenProvider
	if cfg.Auth.Token != "" {
		providers = append(providers, session.Static(cfg.Auth.Token))
	}
	if cfg.Auth.TokenFile != "" {
		providers = append(providers, session.File(cfg.Auth.TokenFile, log.With("session")))
	}
	if cfg.Auth.TokenEnv != "" {
		providers = append(providers, session.Env(cfg.Auth.TokenEnv))
	}
	return session.Chain(providers...)
}

func streamConfig(cfg *config.Config) stream.Config {
	r := cfg.Stream.Reconnect
	return stream.Config{
		URL:           cfg.StreamURL(),
		Transport:     cfg.Stream.Transport,
		TokenParam:    cfg.Stream.TokenParam,
		MaxFrameBytes: cfg.Stream.MaxFrameBytes,
		IdleTimeout:   cfg.Stream.IdleTimeout,
		Reconnect: stream.ReconnectConfig{
			Strategy:           r.Strategy,
			Delay:              r.Delay,
			MaxDelay:           r.MaxDelay,
			Jitter:             r.Jitter,
			StopOnUnauthorized: r.StopOnUnauthorized,
		},
	}
}

func apiConfig(cfg *config.Config) api.Config {
	c := api.DefaultConfig()
	c.BaseURL = cfg.Server.BaseURL
	c.Timeout = cfg.Server.Timeout
	c.DomainsPath = cfg.Leaderboard.DomainsPath
	c.ClientsPath = cfg.Leaderboard.ClientsPath
	c.HealthPath = cfg.Health.Path
	c.StatusPath = cfg.Health.StatusPath
	return c
}

func historyConfig(cfg *config.Config) history.Config {
	h := cfg.History
	c := history.DefaultConfig()
	c.Enabled = h.Enabled
	c.Backend = h.Backend
	c.DBPath = h.DBPath
	c.BatchSize = h.BatchSize
	c.BatchTimeout = h.BatchTimeout
	c.QueueSize = h.QueueSize
	c.RedisAddr = h.RedisAddr
	c.RedisKey = h.RedisKey
	c.RedisTTL = h.RedisTTL
	c.RedisMaxLen = h.RedisMaxLen
	return c
}

func dashboardConfig(cfg *config.Config) dashboard.Config {
	return dashboard.Config{
		MaxPoints:           cfg.Stream.MaxPoints,
		LeaderboardInterval: cfg.Leaderboard.Interval,
		LeaderboardLimit:    cfg.Leaderboard.Limit,
		HealthInterval:      cfg.Health.Interval,
		RequestTimeout:      cfg.Server.Timeout,
	}
}

func loop(ctx context.Context, board *dashboard.Dashboard, interval time.Duration) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report(board.View())
		}
	}
}

func report(v dashboard.View) {
	ev := logger.Info().
		Str("state", v.State.String()).
		Int("points", len(v.Chart.Labels))

	if v.Summary != nil {
		ev = ev.
			Str("qps", v.Summary.QPS).
			Str("latency", v.Summary.AvgLatency).
			Str("cache_hit", v.Summary.CacheHitRate).
			Str("queries", v.Summary.TotalQueries).
			Str("upstreams", v.Summary.Upstreams+" "+v.Summary.Health.String())
	}

	for _, b := range v.Leaderboards {
		switch {
		case b.Loading:
			ev = ev.Str(b.Title, "loading")
		case len(b.Entries) > 0:
			top := b.Entries[0]
			ev = ev.Str(b.Title, fmt.Sprintf("%s (%s)", top.Name, present.Count(top.Count)))
		}
	}

	if v.Health != nil {
		ev = ev.Str("health", v.Health.Status)
	}
	if v.System != nil {
		ev = ev.Str("uptime", v.System.Uptime)
	}

	ev.Msg("Status")
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func cleanup(board *dashboard.Dashboard) error {
	if err := board.Close(); err != nil {
		return err
	}
	logger.Info().Msg("Exiting...")
	return nil
}
