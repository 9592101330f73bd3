// Package app builds the stores and clients shared by the server, the worker and the operator CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/luqma-backoffice/backend/config"
	"github.com/luqma-backoffice/backend/internal/claims"
	"github.com/luqma-backoffice/backend/internal/identity"
	"github.com/luqma-backoffice/backend/internal/members"
	"github.com/luqma-backoffice/backend/internal/realtime"
	"github.com/luqma-backoffice/backend/internal/reconcile"
	"github.com/luqma-backoffice/backend/pkg/database"
	"github.com/luqma-backoffice/backend/pkg/queue"
	"github.com/luqma-backoffice/backend/pkg/redis"
	"github.com/luqma-backoffice/backend/pkg/storage"
)

// Backends holds the identity authority, the membership store and the optional Redis and S3 clients.
type Backends struct {
	Authority   identity.Authority
	Store       members.Store
	Revocations identity.RevocationStore
	// Redis and Queue are nil when Redis is disabled.
	Redis *redis.Client
	Queue *queue.Queue

	cfg      *config.Config
	pool     *pgxpool.Pool
	archiver reconcile.Archiver
	logger   *zap.Logger
}

// Open connects every backend cfg enables. Call Close when done.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backends, error) {
	b := &Backends{cfg: cfg, logger: logger}

	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		logger.Warn("using in-memory stores; data is lost on restart")
		b.Authority = identity.NewMemoryAuthority()
		b.Store = members.NewMemoryStore()
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		b.pool = pool
		if err := database.Migrate(ctx, pool, logger); err != nil {
			b.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		b.Authority = identity.NewPostgresAuthority(pool)
		b.Store = members.NewPostgresStore(pool)
	}

	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(ctx, redis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: 5 * time.Second,
		}, logger)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		b.Redis = rdb
		b.Queue = queue.NewQueue(rdb.Client, logger)
		// Cutoffs only matter while a token issued before them can still be valid.
		tokenTTL := time.Duration(cfg.Auth.ExpireHours) * time.Hour
		b.Revocations = identity.NewRedisRevocationStore(rdb.Client, tokenTTL)
	} else {
		logger.Warn("redis disabled; revocations are per instance and claim repairs are not queued")
		b.Revocations = identity.NewMemoryRevocationStore()
	}

	if cfg.Reconcile.ReportsBucket != "" {
		s3, err := storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			Endpoint:        cfg.AWS.Endpoint,
			ReportsBucket:   cfg.Reconcile.ReportsBucket,
		}, logger)
		if err != nil {
			logger.Warn("report archive disabled", zap.Error(err))
		} else {
			b.archiver = reconcile.NewS3Archiver(s3, s3.ReportsBucket())
		}
	}
	return b, nil
}

// Close releases every open connection.
func (b *Backends) Close() {
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

// Healthy checks the database and Redis.
func (b *Backends) Healthy(ctx context.Context) error {
	var errs []error
	if b.pool != nil {
		if err := b.pool.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if b.Redis != nil {
		if err := b.Redis.Healthy(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Synchronizer builds a claims synchronizer honouring the configured write mode.
func (b *Backends) Synchronizer(opts ...claims.Option) *claims.Synchronizer {
	if b.cfg.Reconcile.LastWriteWins {
		opts = append(opts, claims.WithLastWriteWins())
	}
	return claims.NewSynchronizer(b.Authority, b.logger, opts...)
}

// ReconcileJob builds the reconciliation job. Its synchronizer has no notifier so that runs stay
// free of side effects beyond claim writes.
func (b *Backends) ReconcileJob() *reconcile.Job {
	return reconcile.NewJob(b.Store, b.Synchronizer(), b.archiver, b.logger)
}

// Repairs returns the claim repair queue, or nil without Redis.
func (b *Backends) Repairs() members.RepairQueue {
	if b.Queue == nil {
		return nil
	}
	return b.Queue
}

// Hub builds the realtime hub, bridged over Redis pub/sub when Redis is enabled.
func (b *Backends) Hub() *realtime.Hub {
	if b.Redis == nil {
		return realtime.NewHub(b.logger, nil, nil)
	}
	ps := realtime.NewRedisPubSub(b.Redis.Client, b.logger)
	return realtime.NewHub(b.logger, ps, ps)
}
