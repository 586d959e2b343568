package history

import (
	"database/sql"

	"codeberg.org/mutker/fluxdash/internal/errors"
	"codeberg.org/mutker/fluxdash/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS snapshots (
	       id                INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp_ms      INTEGER NOT NULL,
	       qps               REAL NOT NULL CHECK (qps >= 0),
	       avg_latency_ms    REAL NOT NULL CHECK (avg_latency_ms >= 0),
	       cache_hit_rate    REAL NOT NULL CHECK (cache_hit_rate BETWEEN 0 AND 1),
	       total_queries     INTEGER NOT NULL CHECK (typeof(total_queries) = 'integer'),
	       healthy_upstreams INTEGER NOT NULL CHECK (healthy_upstreams >= 0),
	       total_upstreams   INTEGER NOT NULL CHECK (total_upstreams >= healthy_upstreams)
	   );
	   CREATE INDEX IF NOT EXISTS snapshots_timestamp ON snapshots (timestamp_ms);
	   CREATE TABLE IF NOT EXISTS upstream_samples (
	       snapshot_id INTEGER NOT NULL REFERENCES snapshots (id) ON DELETE CASCADE,
	       position    INTEGER NOT NULL,
	       upstream_id INTEGER NOT NULL,
	       name        TEXT NOT NULL,
	       healthy     INTEGER NOT NULL CHECK (healthy IN (0, 1)),
	       latency_ms  REAL NOT NULL,
	       PRIMARY KEY (snapshot_id, position)
	   );`

	insertSnapshotSQL = `
    INSERT INTO snapshots (
        timestamp_ms, qps, avg_latency_ms, cache_hit_rate,
        total_queries, healthy_upstreams, total_upstreams
    ) VALUES (?, ?, ?, ?, ?, ?, ?)`

	insertUpstreamSQL = `
    INSERT INTO upstream_samples (
        snapshot_id, position, upstream_id, name, healthy, latency_ms
    ) VALUES (?, ?, ?, ?, ?, ?)`

	recentSnapshotsSQL = `
    SELECT id, timestamp_ms, qps, avg_latency_ms, cache_hit_rate,
           total_queries, healthy_upstreams, total_upstreams
    FROM snapshots
    ORDER BY id DESC
    LIMIT ?`

	upstreamsForSnapshotSQL = `
    SELECT upstream_id, name, healthy, latency_ms
    FROM upstream_samples
    WHERE snapshot_id = ?
    ORDER BY position`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating history database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "create_tables",
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("History schema initialized")

	return nil
}

// GetSchemaVersion returns the current schema version, or 0 for a new database
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
