// Package history optionally records every accepted snapshot to sqlite or
// redis, so that a restarted dashboard can seed its chart.
package history

import (
	"context"

	"codeberg.org/mutker/fluxdash/internal/errors"
	"codeberg.org/mutker/fluxdash/internal/logger"
	"codeberg.org/mutker/fluxdash/internal/snapshot"
)

type service struct {
	repo Repository
	cfg  Config
}

type noopRecorder struct{}

func NewService(cfg Config, log logger.Logger) (Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}
	if log == nil {
		log = logger.Default()
	}
	log = log.With("history")

	// If recording is disabled, return a no-op recorder
	if !cfg.Enabled {
		log.Debug().Msg("History recording disabled, using no-op recorder")
		return &noopRecorder{}, nil
	}

	var (
		repo Repository
		err  error
	)
	switch cfg.Backend {
	case BackendRedis:
		repo, err = NewRedisRepository(cfg, log)
	default:
		repo, err = NewSQLiteRepository(cfg, log)
	}
	if err != nil {
		log.Debug().Err(err).Str("backend", cfg.Backend).Msg("Failed to create history repository")
		return nil, err
	}

	log.Debug().
		Str("backend", cfg.Backend).
		Bool("enabled", cfg.Enabled).
		Msg("History service initialized successfully")

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

func (s *service) Record(ctx context.Context, snap snapshot.MetricSnapshot) error {
	errFactory := errors.New()

	if snap.Timestamp.IsZero() {
		return errFactory.New(ErrInvalidSnapshot)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Record(ctx, snap); err != nil {
			return errFactory.Wrap(ErrRecordFailed, err)
		}
	}

	return nil
}

func (s *service) Recent(ctx context.Context, n int) ([]snapshot.MetricSnapshot, error) {
	return s.repo.Recent(ctx, n)
}

func (s *service) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	return nil
}

func (*noopRecorder) Record(context.Context, snapshot.MetricSnapshot) error {
	return nil
}

func (*noopRecorder) Close() error {
	return nil
}
