package history

import (
	"time"

	"codeberg.org/mutker/fluxdash/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm  = 0o755
	defaultDBPath   = "/var/lib/fluxdash/history.db"

	defaultBatchSize    = 30
	defaultBatchTimeout = 10 * time.Second
	defaultQueueSize    = 256
	defaultRedisAddr    = "localhost:6379"
	defaultRedisKey     = "fluxdash:snapshots"
	defaultRedisTTL     = 24 * time.Hour
	defaultRedisMaxLen  = 3600

	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	Enabled         bool
	Backend         string
	DBPath          string
	BatchSize       int
	BatchTimeout    time.Duration
	QueueSize       int
	BackupOnMigrate bool
	RedisAddr       string
	RedisKey        string
	RedisTTL        time.Duration
	RedisMaxLen     int
}

func DefaultConfig() Config {
	return Config{
		Enabled:         false, // Disabled by default
		Backend:         BackendSQLite,
		DBPath:          defaultDBPath,
		BatchSize:       defaultBatchSize,
		BatchTimeout:    defaultBatchTimeout,
		QueueSize:       defaultQueueSize,
		BackupOnMigrate: true,
		RedisAddr:       defaultRedisAddr,
		RedisKey:        defaultRedisKey,
		RedisTTL:        defaultRedisTTL,
		RedisMaxLen:     defaultRedisMaxLen,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Nothing else matters while recording is off
	if !c.Enabled {
		return nil
	}

	switch c.Backend {
	case BackendSQLite:
		if c.DBPath == "" {
			return errFactory.New(ErrInvalidDBPath)
		}
		if c.BatchSize < 0 || c.BatchTimeout < 0 {
			return errFactory.WithData(ErrInvalidConfig, struct {
				BatchSize    int
				BatchTimeout time.Duration
			}{c.BatchSize, c.BatchTimeout})
		}
	case BackendRedis:
		if c.RedisAddr == "" || c.RedisKey == "" {
			return errFactory.WithMessage(ErrInvalidConfig, "redis backend needs an address and a key")
		}
		if c.RedisMaxLen <= 0 {
			return errFactory.WithData(ErrInvalidConfig, struct {
				RedisMaxLen int
			}{c.RedisMaxLen})
		}
	default:
		return errFactory.WithData(ErrInvalidBackend, c.Backend)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
