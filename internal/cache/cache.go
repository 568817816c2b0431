package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/mesbridge/internal/config"
)

// Store backs the shadow order view cache and the job dedup locks.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// CompareAndDelete removes key only while it still holds value.
	CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error)
	Delete(ctx context.Context, key string) error
}

// ErrCacheMiss indicates the key is absent from the cache.
var ErrCacheMiss = errors.New("cache miss")

var errEmptyKey = errors.New("cache key is required")

// Module provides the cache store to the Fx graph.
var Module = fx.Provide(NewStore)

// NewStore initialises the configured cache store (redis, memory or noop).
func NewStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Cache.Driver {
	case "noop":
		logger.Info("cache disabled; job dedup is off and views are read through")
		return noopStore{}, nil
	case "memory":
		logger.Info("using in-process cache store; locks are not shared between processes")
		return NewMemoryStore(cfg.Cache.DefaultTTL), nil
	case "redis":
		return newRedisStore(lc, cfg.Cache, logger), nil
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}
}

// noopStore never holds data, so every lock is granted.
type noopStore struct{}

func (noopStore) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (noopStore) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (noopStore) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

func (noopStore) CompareAndDelete(context.Context, string, []byte) (bool, error) { return true, nil }

func (noopStore) Delete(context.Context, string) error { return nil }

// compareAndDelete runs atomically on the redis server.
var compareAndDelete = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisStore struct {
	client     *goredis.Client
	prefix     string
	defaultTTL time.Duration
}

func newRedisStore(lc fx.Lifecycle, cfg config.Cache, logger *zap.Logger) *redisStore {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := &redisStore{client: client, prefix: cfg.KeyPrefix, defaultTTL: cfg.DefaultTTL}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("ping redis: %w", err)
			}
			logger.Info("redis cache connected",
				zap.String("addr", cfg.Redis.Addr),
				zap.String("prefix", cfg.KeyPrefix))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("closing redis cache")
			return client.Close()
		},
	})

	return store
}

func (s *redisStore) key(k string) string { return s.prefix + k }

func (s *redisStore) ttl(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.defaultTTL
	}
	return ttl
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrCacheMiss
	}
	res, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrCacheMiss
	}
	return res, err
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errEmptyKey
	}
	return s.client.Set(ctx, s.key(key), value, s.ttl(ttl)).Err()
}

func (s *redisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errEmptyKey
	}
	return s.client.SetNX(ctx, s.key(key), value, s.ttl(ttl)).Result()
}

func (s *redisStore) CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error) {
	if key == "" {
		return false, errEmptyKey
	}
	n, err := compareAndDelete.Run(ctx, s.client, []string{s.key(key)}, value).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return s.client.Del(ctx, s.key(key)).Err()
}
