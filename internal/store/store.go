// Package store is DarkAuth's Postgres-backed system of record: one
// entity-group file per aggregate, each method a single parameterized query
// against a shared pool. Consumers depend on narrow interfaces declared in
// the service packages, not on Store itself.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/puzed/darkauth-sub006/internal/cache"
	"github.com/puzed/darkauth-sub006/internal/config"
	"github.com/puzed/darkauth-sub006/internal/kek"
)

// Store wraps the connection pool every repository method in this package
// operates against, plus the KEK service needed to open sealed columns that
// callers expect back in plaintext (signing keys), and the Redis cache
// backing short-TTL single-consumer state.
type Store struct {
	Pool  *pgxpool.Pool
	cache *cache.Client
	kek   *kek.Service
}

// SetKEK attaches the process KEK service; called once during startup after
// both the store and the KEK have been constructed.
func (s *Store) SetKEK(k *kek.Service) { s.kek = k }

// SetCache attaches the Redis-backed cache client used for OPAQUE
// login-session intermediates.
func (s *Store) SetCache(c *cache.Client) { s.cache = c }

func (s *Store) kekOpen(sealed, aad []byte) ([]byte, error) {
	if s.kek == nil {
		return nil, fmt.Errorf("kek service not attached to store")
	}
	return s.kek.Decrypt(sealed, aad)
}

func (s *Store) kekSeal(plaintext, aad []byte) ([]byte, error) {
	if s.kek == nil {
		return nil, fmt.Errorf("kek service not attached to store")
	}
	return s.kek.Encrypt(plaintext, aad)
}

// Open connects to Postgres using cfg and verifies connectivity with a ping.
func Open(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{Pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.Pool.Close()
}
