package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-engine/pkg/model"
)

// Store-level outcomes of lock consumption. The lock service maps these to
// client-facing typed errors.
var (
	ErrLockNotFound = errors.New("lock not found")
	ErrLockConsumed = errors.New("lock already consumed")
)

// Store is the contract for the quote cache/lock store (Redis) and the
// read-only configuration store plus durable audit trail (Postgres).
type Store interface {
	// Configuration store (read-only).
	ListActiveProducts(ctx context.Context) ([]model.Product, error)
	GetProduct(ctx context.Context, productID string) (*model.Product, error)
	ListEnabledMappings(ctx context.Context) (map[string][]model.ProviderMapping, error)
	ListEffectiveOverrides(ctx context.Context, at time.Time) (map[string]model.AdminOverride, error)
	GetHiddenProductTypes(ctx context.Context, userID string) (map[model.ProductType]bool, error)

	// Quote cache.
	SetQuote(ctx context.Context, quote model.ResolvedQuote, ttl time.Duration) error
	GetQuote(ctx context.Context, productID string) (*model.ResolvedQuote, error)
	GetQuotes(ctx context.Context, productIDs []string) ([]*model.ResolvedQuote, error)
	RefreshActiveIndex(ctx context.Context, productIDs []string, ttl time.Duration) error
	GetActiveIndex(ctx context.Context) ([]string, error)
	SaveTickSummary(ctx context.Context, summary model.TickSummary, ttl time.Duration) error
	GetTickSummary(ctx context.Context) (*model.TickSummary, error)

	// Ingestion mutual exclusion.
	AcquireIngestLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)

	// Quote locks.
	PutLock(ctx context.Context, payload model.LockedQuotePayload, ttl time.Duration) error
	GetLock(ctx context.Context, quoteID string) (*model.LockedQuotePayload, error)
	SetLockPointer(ctx context.Context, userID, productID string, side model.Side, quoteID string, ttl time.Duration) error
	GetLockPointer(ctx context.Context, userID, productID string, side model.Side) (string, error)
	IsLockConsumed(ctx context.Context, quoteID string) (bool, error)
	ConsumeLock(ctx context.Context, quoteID string) (*model.LockedQuotePayload, error)

	// Durable audit trail.
	InsertLockAudit(ctx context.Context, payload model.LockedQuotePayload) error
	MarkLockConsumed(ctx context.Context, quoteID, tradeID string) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// HybridStore is the Redis-first, Postgres-backed implementation.
type HybridStore struct {
	redis  *redis.Client
	pg     *pgxpool.Pool
	logger *zap.Logger
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewHybrid creates the store, pinging Redis up front. pgURL may be empty in
// setups that run ingestion only against an externally maintained catalog
// snapshot; catalog and audit calls then fail explicitly.
func NewHybrid(redisAddr string, redisDB int, redisPass, pgURL string, pgPoolConfig PGPoolConfig, logger *zap.Logger) (*HybridStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		DB:       redisDB,
		Password: redisPass,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if pgURL != "" {
		cfg, err := pgxpool.ParseConfig(pgURL)
		if err != nil {
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if pgPoolConfig.MaxConns > 0 {
			cfg.MaxConns = pgPoolConfig.MaxConns
		}
		if pgPoolConfig.MinConns > 0 {
			cfg.MinConns = pgPoolConfig.MinConns
		}
		if pgPoolConfig.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = pgPoolConfig.MaxConnLifetime
		}
		if pgPoolConfig.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = pgPoolConfig.MaxConnIdleTime
		}
		if pgPoolConfig.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = pgPoolConfig.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return &HybridStore{redis: rdb, pg: pgPool, logger: logger}, nil
}

// PG exposes the underlying pool for maintenance jobs; nil when the store
// runs Redis-only.
func (s *HybridStore) PG() *pgxpool.Pool {
	return s.pg
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.pg != nil {
		if err := s.pg.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.pg != nil {
		s.pg.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
