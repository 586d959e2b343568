package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/fluxdash/internal/errors"
	"codeberg.org/mutker/fluxdash/internal/logger"
	"codeberg.org/mutker/fluxdash/internal/snapshot"
	_ "github.com/mattn/go-sqlite3"
)

// maxPendingBatches bounds the buffer while flushes keep failing. Past it the
// oldest snapshots are dropped.
const maxPendingBatches = 10

type sqliteRepository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []snapshot.MetricSnapshot
	dropped       uint64
	closed        bool
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

// NewSQLiteRepository opens (creating if needed) the history database.
// Snapshots are buffered and written in batches of cfg.BatchSize, or every
// cfg.BatchTimeout, whichever comes first.
func NewSQLiteRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_foreign_keys=1"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(db, cfg, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("History repository initialized")

	repo := &sqliteRepository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]snapshot.MetricSnapshot, 0, max(cfg.BatchSize, 1)),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if cfg.BatchSize > 0 && cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(cfg.BatchTimeout)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *sqliteRepository) Record(_ context.Context, s snapshot.MetricSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New().New(ErrClosed)
	}

	r.buffer = append(r.buffer, s.Clone())

	if limit := max(r.cfg.BatchSize, 1) * maxPendingBatches; len(r.buffer) > limit {
		n := len(r.buffer) - limit
		r.buffer = append(r.buffer[:0], r.buffer[n:]...)
		r.dropped += uint64(n)
		r.logger.Warn().
			Int("dropped", n).
			Uint64("dropped_total", r.dropped).
			Int("pending", limit).
			Msg("History buffer full, dropping oldest snapshots")
	}

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

// Recent flushes pending snapshots and returns the newest n, oldest first.
func (r *sqliteRepository) Recent(ctx context.Context, n int) ([]snapshot.MetricSnapshot, error) {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errFactory.New(ErrClosed)
	}
	if err := r.flush(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return []snapshot.MetricSnapshot{}, nil
	}

	rows, err := r.db.QueryContext(ctx, recentSnapshotsSQL, n)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	var (
		ids []int64
		out []snapshot.MetricSnapshot
	)
	for rows.Next() {
		var (
			id      int64
			tsMs    int64
			total   int64
			current snapshot.MetricSnapshot
		)
		if err := rows.Scan(&id, &tsMs, &current.QPS, &current.AvgLatencyMs, &current.CacheHitRate,
			&total, &current.HealthyUpstreams, &current.TotalUpstreams); err != nil {
			rows.Close()
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		current.Timestamp = time.UnixMilli(tsMs)
		current.TotalQueries = uint64(total)
		ids = append(ids, id)
		out = append(out, current)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	rows.Close()

	for i, id := range ids {
		ups, err := r.upstreams(ctx, id)
		if err != nil {
			return nil, err
		}
		out[i].Upstreams = ups
	}

	// Rows come newest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return out, nil
}

func (r *sqliteRepository) upstreams(ctx context.Context, snapshotID int64) ([]snapshot.UpstreamStatus, error) {
	rows, err := r.db.QueryContext(ctx, upstreamsForSnapshotSQL, snapshotID)
	if err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var ups []snapshot.UpstreamStatus
	for rows.Next() {
		var (
			u       snapshot.UpstreamStatus
			healthy int
		)
		if err := rows.Scan(&u.ID, &u.Name, &healthy, &u.LatencyMs); err != nil {
			return nil, errors.New().Wrap(ErrStorageAccess, err)
		}
		u.Healthy = healthy == 1
		ups = append(ups, u)
	}

	return ups, rows.Err()
}

func (r *sqliteRepository) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.shutdownChan)
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	// Wait for the flusher to finish its final flush
	<-r.flushDoneChan

	r.mu.Lock()
	flushErr := r.flush()
	r.mu.Unlock()
	if flushErr != nil {
		r.logger.Warn().Err(flushErr).Msg("Dropping unflushed snapshots on close")
	}

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("History repository closed gracefully")

	return nil
}

func (r *sqliteRepository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			_ = r.flush()
			r.mu.Unlock()
		case <-r.shutdownChan:
			return
		}
	}
}

// flush writes the buffer in one transaction. Callers hold r.mu.
func (r *sqliteRepository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	fail := func(err error) error {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error().Err(rbErr).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	snapStmt, err := tx.Prepare(insertSnapshotSQL)
	if err != nil {
		return fail(err)
	}
	defer snapStmt.Close()

	upStmt, err := tx.Prepare(insertUpstreamSQL)
	if err != nil {
		return fail(err)
	}
	defer upStmt.Close()

	for _, s := range r.buffer {
		res, err := snapStmt.Exec(
			s.Timestamp.UnixMilli(),
			s.QPS,
			s.AvgLatencyMs,
			s.CacheHitRate,
			int64(s.TotalQueries),
			s.HealthyUpstreams,
			s.TotalUpstreams,
		)
		if err != nil {
			r.logger.Error().Err(err).Msg("Failed to insert snapshot")
			return fail(err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fail(err)
		}

		for pos, u := range s.Upstreams {
			if _, err := upStmt.Exec(id, pos, u.ID, u.Name, boolToInt(u.Healthy), u.LatencyMs); err != nil {
				r.logger.Error().Err(err).Msg("Failed to insert upstream sample")
				return fail(err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("records", len(r.buffer)).Msg("Flushed snapshots to database")
	r.buffer = r.buffer[:0]

	return nil
}
