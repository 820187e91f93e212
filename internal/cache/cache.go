// Package cache provides the API response cache.
//
// The primary backend is Redis. Reachability is probed once with a 5s PING
// at construction; on failure the store degrades to an in-process LRU
// (1000 entries, per-entry TTL) for the life of the process. The fallback
// is one-way — there is no background probe to promote back to Redis — and
// the degradation warning is logged exactly once. Runtime Redis errors
// after a healthy start degrade the store the same way.
package cache

import (
	"context"
	"path"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"hantu-quant/internal/config"
	"hantu-quant/internal/metrics"
)

const (
	pingTimeout = 5 * time.Second
	lruCapacity = 1000
	scanBatch   = 200
)

type lruEntry struct {
	data      []byte
	expiresAt time.Time
}

// Store is the cache backend. Safe for concurrent use.
type Store struct {
	rdb    *redis.Client
	lru    *lru.Cache[string, lruEntry]
	logger zerolog.Logger

	defaultTTL time.Duration

	degraded     atomic.Bool
	degradedOnce sync.Once
	encodeOnce   sync.Once
}

// NewStore builds the cache. An empty Redis URL or an unreachable Redis
// yields a memory-only store; construction never fails on backend health.
func NewStore(cfg config.CacheConfig, logger zerolog.Logger) (*Store, error) {
	fallback, err := lru.New[string, lruEntry](lruCapacity)
	if err != nil {
		return nil, err
	}
	s := &Store{
		lru:        fallback,
		logger:     logger.With().Str("component", "cache").Logger(),
		defaultTTL: cfg.DefaultTTL,
	}

	if cfg.RedisURL == "" {
		s.markDegraded(nil)
		return s, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		s.markDegraded(err)
		return s, nil
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		s.markDegraded(err)
		return s, nil
	}

	s.rdb = rdb
	s.logger.Info().Msg("redis cache connected")
	return s, nil
}

// Degraded reports whether the store has fallen back to the in-process LRU.
func (s *Store) Degraded() bool { return s.degraded.Load() }

// IsAvailable reports whether the primary Redis backend is in use.
func (s *Store) IsAvailable() bool { return !s.degraded.Load() }

func (s *Store) markDegraded(cause error) {
	s.degraded.Store(true)
	s.degradedOnce.Do(func() {
		metrics.CacheFallback.Set(1)
		evt := s.logger.Warn()
		if cause != nil {
			evt = evt.Err(cause)
		}
		evt.Msg("redis unavailable, using in-memory LRU cache")
	})
}

// Get returns the cached bytes for key, or false on a miss. Expired LRU
// entries count as misses and are evicted on read.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	if !s.degraded.Load() {
		data, err := s.rdb.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			metrics.CacheOps.WithLabelValues("get", "hit").Inc()
			return data, true
		case err == redis.Nil:
			metrics.CacheOps.WithLabelValues("get", "miss").Inc()
			return nil, false
		default:
			metrics.CacheOps.WithLabelValues("get", "error").Inc()
			s.markDegraded(err)
		}
	}

	entry, ok := s.lru.Get(key)
	if !ok {
		metrics.CacheOps.WithLabelValues("get", "miss").Inc()
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		s.lru.Remove(key)
		metrics.CacheOps.WithLabelValues("get", "miss").Inc()
		return nil, false
	}
	metrics.CacheOps.WithLabelValues("get", "hit").Inc()
	return entry.data, true
}

// Set stores bytes under key. ttl ≤ 0 uses the configured default.
func (s *Store) Set(ctx context.Context, key string, data []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if !s.degraded.Load() {
		if err := s.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
			metrics.CacheOps.WithLabelValues("set", "error").Inc()
			s.markDegraded(err)
		} else {
			metrics.CacheOps.WithLabelValues("set", "ok").Inc()
			return
		}
	}
	s.lru.Add(key, lruEntry{data: data, expiresAt: time.Now().Add(ttl)})
	metrics.CacheOps.WithLabelValues("set", "ok").Inc()
}

// Delete removes one key from the active backend.
func (s *Store) Delete(ctx context.Context, key string) {
	if !s.degraded.Load() {
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			metrics.CacheOps.WithLabelValues("delete", "error").Inc()
			s.markDegraded(err)
		} else {
			metrics.CacheOps.WithLabelValues("delete", "ok").Inc()
			return
		}
	}
	s.lru.Remove(key)
	metrics.CacheOps.WithLabelValues("delete", "ok").Inc()
}

// DeleteByPattern removes every key matching a glob pattern
// (e.g. "hantu:cache:daily_chart:*") and returns the count removed.
func (s *Store) DeleteByPattern(ctx context.Context, pattern string) int {
	if !s.degraded.Load() {
		n, err := s.deleteByPatternRedis(ctx, pattern)
		if err == nil {
			return n
		}
		metrics.CacheOps.WithLabelValues("delete", "error").Inc()
		s.markDegraded(err)
	}

	removed := 0
	for _, key := range s.lru.Keys() {
		if ok, _ := path.Match(pattern, key); ok {
			s.lru.Remove(key)
			removed++
		}
	}
	return removed
}

func (s *Store) deleteByPatternRedis(ctx context.Context, pattern string) (int, error) {
	removed := 0
	iter := s.rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := s.rdb.Del(ctx, batch...).Err(); err != nil {
				return removed, err
			}
			removed += len(batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	if len(batch) > 0 {
		if err := s.rdb.Del(ctx, batch...).Err(); err != nil {
			return removed, err
		}
		removed += len(batch)
	}
	return removed, nil
}

// Clear drops every key under the cache namespace.
func (s *Store) Clear(ctx context.Context) int {
	return s.DeleteByPattern(ctx, keyPrefix+"*")
}

// Close releases the Redis connection if one is held.
func (s *Store) Close() error {
	if s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}
