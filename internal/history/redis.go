package history

import (
	"context"
	"time"

	"codeberg.org/mutker/fluxdash/internal/errors"
	"codeberg.org/mutker/fluxdash/internal/logger"
	"codeberg.org/mutker/fluxdash/internal/snapshot"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

const redisDialTimeout = 5 * time.Second

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// redisRepository keeps the newest snapshot under <key>:latest with a TTL and
// a capped list of recent snapshots under <key>, newest at the head.
type redisRepository struct {
	client *redis.Client
	cfg    Config
	logger logger.Logger
}

func NewRedisRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		DialTimeout: redisDialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Addr  string
			Error string
		}{
			Phase: "ping",
			Addr:  cfg.RedisAddr,
			Error: err.Error(),
		})
	}

	log.Info().
		Str("addr", cfg.RedisAddr).
		Str("key", cfg.RedisKey).
		Int("max_len", cfg.RedisMaxLen).
		Dur("ttl", cfg.RedisTTL).
		Msg("History repository initialized")

	return &redisRepository{client: client, cfg: cfg, logger: log}, nil
}

func (r *redisRepository) latestKey() string {
	return r.cfg.RedisKey + ":latest"
}

func (r *redisRepository) Record(ctx context.Context, s snapshot.MetricSnapshot) error {
	errFactory := errors.New()

	data, err := json.Marshal(s)
	if err != nil {
		return errFactory.Wrap(ErrInvalidSnapshot, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.latestKey(), data, r.cfg.RedisTTL)
	pipe.LPush(ctx, r.cfg.RedisKey, data)
	pipe.LTrim(ctx, r.cfg.RedisKey, 0, int64(r.cfg.RedisMaxLen-1))
	if r.cfg.RedisTTL > 0 {
		pipe.Expire(ctx, r.cfg.RedisKey, r.cfg.RedisTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *redisRepository) Recent(ctx context.Context, n int) ([]snapshot.MetricSnapshot, error) {
	errFactory := errors.New()

	if n <= 0 {
		return []snapshot.MetricSnapshot{}, nil
	}

	vals, err := r.client.LRange(ctx, r.cfg.RedisKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	out := make([]snapshot.MetricSnapshot, 0, len(vals))
	// The list head is the newest entry
	for i := len(vals) - 1; i >= 0; i-- {
		var s snapshot.MetricSnapshot
		if err := json.Unmarshal([]byte(vals[i]), &s); err != nil {
			r.logger.Debug().Err(err).Msg("Skipping undecodable history entry")
			continue
		}
		out = append(out, s)
	}

	return out, nil
}

func (r *redisRepository) Close() error {
	if err := r.client.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	return nil
}
