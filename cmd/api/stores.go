package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/yourusername/authgate/internal/audit"
	"github.com/yourusername/authgate/internal/auth"
	"github.com/yourusername/authgate/internal/config"
	"github.com/yourusername/authgate/internal/users"
	"github.com/yourusername/authgate/internal/users/postgres"
)

// dependencies は設定から作られる外部接続とストアです。
type dependencies struct {
	users   users.Store
	limiter auth.LoginLimiter
	audit   *audit.Manager

	redis  *redis.Client
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func setupDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*dependencies, error) {
	deps := &dependencies{logger: logger}
	if err := deps.init(ctx, cfg); err != nil {
		deps.Close()
		return nil, err
	}
	return deps, nil
}

func (d *dependencies) init(ctx context.Context, cfg *config.Config) error {
	var err error
	if needsRedis(cfg) {
		if d.redis, err = connectRedis(ctx, cfg.RedisURL); err != nil {
			return err
		}
	}

	switch cfg.StoreDriver {
	case config.StoreDriverRedis:
		d.users = users.NewRedisStore(d.redis)
	case config.StoreDriverPostgres:
		if d.pool, err = connectPostgres(ctx, cfg, d.logger); err != nil {
			return err
		}
		d.users = postgres.NewStore(d.pool)
	default:
		d.logger.Warn("using in-memory user store; registered users are lost on restart")
		d.users = users.NewMemoryStore()
	}

	if cfg.LoginMaxAttempts > 0 {
		policy := auth.LimitPolicy{
			MaxAttempts:  cfg.LoginMaxAttempts,
			Window:       cfg.LoginWindow(),
			LockDuration: cfg.LoginLockDuration(),
		}
		if cfg.LoginLimiter == config.LimiterRedis {
			d.limiter = auth.NewRedisLimiter(d.redis, policy, d.logger)
		} else {
			d.limiter = auth.NewMemoryLimiter(policy)
		}
	}

	if cfg.AuditEnabled {
		store := audit.NewStore(d.redis, cfg.AuditRetention(), cfg.AuditMaxEvents)
		if d.audit, err = audit.NewManager(cfg.RedisURL, store, d.logger); err != nil {
			return err
		}
	}

	return nil
}

// Close は接続を閉じます。監査ワーカーの停止は run 側で行います。
func (d *dependencies) Close() {
	if d.pool != nil {
		d.pool.Close()
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.logger.Warn("failed to close redis client", "error", err)
		}
	}
}

func needsRedis(cfg *config.Config) bool {
	return cfg.StoreDriver == config.StoreDriverRedis ||
		cfg.AuditEnabled ||
		(cfg.LoginMaxAttempts > 0 && cfg.LoginLimiter == config.LimiterRedis)
}

func connectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "parse redis url").Wrap(err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("REDIS_UNAVAILABLE").Wrap(err)
	}
	return client, nil
}

func connectPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	if cfg.DBAutoMigrate {
		migrator, err := postgres.NewMigrator(cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if err := migrator.Up(ctx); err != nil {
			return nil, oops.Code("DB_MIGRATION_FAILED").Wrap(err)
		}
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, oops.Code("DB_UNAVAILABLE").With("operation", "create pool").Wrap(err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, oops.Code("DB_UNAVAILABLE").Wrap(err)
	}
	return pool, nil
}
