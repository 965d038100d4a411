package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/luminetic/ensemble/types"
)

// Tiered composes the local LRU with an optional Redis remote tier. Gets
// check local first, then remote (backfilling local on a remote hit); Puts
// write through to both. Remote failures degrade to local-only behavior and
// never fail the call.
type Tiered struct {
	local  *LRU
	remote *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewTiered creates a tiered cache. A nil remote client yields local-only
// behavior.
func NewTiered(local *LRU, remote *redis.Client, ttl time.Duration, logger *zap.Logger) *Tiered {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tiered{
		local:  local,
		remote: remote,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "cache.tiered")),
	}
}

// Get checks the local tier, then the remote tier.
func (t *Tiered) Get(ctx context.Context, key string) (types.Value, bool) {
	if v, ok := t.local.Get(ctx, key); ok {
		return v, true
	}
	if t.remote == nil {
		return types.Null(), false
	}

	data, err := t.remote.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			t.logger.Warn("remote tier get failed", zap.String("key", key), zap.Error(err))
		}
		return types.Null(), false
	}

	var v types.Value
	if err := json.Unmarshal(data, &v); err != nil {
		t.logger.Warn("remote tier entry corrupt", zap.String("key", key), zap.Error(err))
		return types.Null(), false
	}

	t.local.Put(ctx, key, v)
	return v, true
}

// Put writes through to both tiers.
func (t *Tiered) Put(ctx context.Context, key string, value types.Value) {
	t.local.Put(ctx, key, value)
	if t.remote == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		t.logger.Warn("remote tier encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := t.remote.Set(ctx, key, data, t.ttl).Err(); err != nil {
		t.logger.Warn("remote tier set failed", zap.String("key", key), zap.Error(err))
	}
}

// Len returns the local tier's entry count.
func (t *Tiered) Len() int {
	return t.local.Len()
}
