package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"

	"pool-liquidity-alerts/internal/config"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
	// ErrUnavailable marks any I/O failure of the sample or alert store.
	ErrUnavailable = errors.New("storage: store unavailable")
)

// SampleStore is the append-only time series of pool samples.
type SampleStore interface {
	RecordSample(ctx context.Context, sample Sample) error
	SamplesBetween(ctx context.Context, poolID string, from, to time.Time) ([]Sample, error)
	PruneBefore(ctx context.Context, poolID string, olderThan time.Time) error
	// RecentSamples returns every sample when limit is not positive.
	RecentSamples(ctx context.Context, poolID string, limit int) ([]Sample, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	// ListRecentAlerts returns every alert when limit is not positive.
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// Backend bundles both stores with a release hook.
type Backend interface {
	SampleStore
	AlertStore
	Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// NormalizePoolID gives every backend the same key for a pool address.
func NormalizePoolID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// NewRedisClient dials Redis and verifies connectivity.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Open builds the backend selected by configuration.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch backend := cfg.ResolveBackend(); backend {
	case config.BackendPostgres:
		pool, err := NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		store := NewStore(pool)
		if cfg.Database.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				store.Close()
				return nil, err
			}
		}
		return store, nil
	case config.BackendRedis:
		client, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.Redis.MaxAlerts), nil
	case config.BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", backend)
	}
}

// limitArg binds a LIMIT parameter. Postgres reads LIMIT NULL as no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// rangeStop is the inclusive stop index for a Redis range of limit items.
func rangeStop(limit int) int64 {
	if limit <= 0 {
		return -1
	}
	return int64(limit) - 1
}
