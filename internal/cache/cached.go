// cached.go builds cache keys and provides the generic read-through path.
//
// Keys are deterministic: the call arguments are serialized to canonical
// JSON (encoding/json sorts map keys) and hashed, so the same logical call
// always lands on the same key across processes.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"hantu-quant/pkg/types"
)

const keyPrefix = "hantu:cache:"

// Key derives the cache key for a named operation and its arguments:
// hantu:cache:<name>:<first 16 hex chars of sha256(args JSON)>.
func Key(name string, args ...any) (string, error) {
	blob, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("cache key for %s: %w", name, err)
	}
	sum := sha256.Sum256(blob)
	return keyPrefix + name + ":" + hex.EncodeToString(sum[:])[:16], nil
}

// Through is the generic read-through: return the cached value when
// present, otherwise call fetch and cache its result. Any cache-side
// failure (unkeyable args, undecodable entry, unencodable result) falls
// back to an uncached fetch; the first such failure is logged, later ones
// are silent. fetch errors propagate unchanged.
func Through[T any](ctx context.Context, s *Store, name string, ttl time.Duration, args []any, fetch func(context.Context) (T, error)) (T, error) {
	key, err := Key(name, args...)
	if err != nil {
		s.logEncodeFailure(name, err)
		return fetch(ctx)
	}

	if data, ok := s.Get(ctx, key); ok {
		var out T
		if err := json.Unmarshal(data, &out); err == nil {
			return out, nil
		}
		// Corrupt entry: drop it and fall through to a live fetch.
		s.Delete(ctx, key)
	}

	out, err := fetch(ctx)
	if err != nil {
		return out, err
	}
	if blob, err := json.Marshal(out); err != nil {
		s.logEncodeFailure(name, err)
	} else {
		s.Set(ctx, key, blob, ttl)
	}
	return out, nil
}

// ThroughBars is the read-through specialized to OHLCV frames, using the
// tabular envelope instead of naked JSON.
func ThroughBars(ctx context.Context, s *Store, name string, ttl time.Duration, args []any, fetch func(context.Context) ([]types.Bar, error)) ([]types.Bar, error) {
	key, err := Key(name, args...)
	if err != nil {
		s.logEncodeFailure(name, err)
		return fetch(ctx)
	}

	if data, ok := s.Get(ctx, key); ok {
		if bars, err := DecodeBars(data); err == nil {
			return bars, nil
		}
		s.Delete(ctx, key)
	}

	bars, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if blob, err := EncodeBars(bars); err != nil {
		s.logEncodeFailure(name, err)
	} else {
		s.Set(ctx, key, blob, ttl)
	}
	return bars, nil
}

func (s *Store) logEncodeFailure(name string, err error) {
	s.encodeOnce.Do(func() {
		s.logger.Warn().Err(err).Str("operation", name).
			Msg("cache serialization failed, serving uncached")
	})
}
