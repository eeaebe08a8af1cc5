package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"curetrack/infrastructure/metrics"
)

// Views couples a ReadModel with the logging and metrics needed to use it
// best-effort: failures are logged and counted, never returned.
type Views struct {
	Store   ReadModel
	TTL     time.Duration
	Log     *zap.Logger
	Metrics *metrics.Metrics
}

func (v *Views) logger() *zap.Logger {
	if v == nil || v.Log == nil {
		return zap.NewNop()
	}
	return v.Log
}

// BatchChanged drops the detail view for batchID and every list view.
func (v *Views) BatchChanged(ctx context.Context, batchID int64) {
	if v == nil || v.Store == nil {
		return
	}
	if err := v.Store.InvalidateKey(ctx, BatchDetailKey(batchID)); err != nil {
		v.Metrics.CacheError("invalidate_key")
		v.logger().Warn("read model invalidation failed", zap.Int64("batch_id", batchID), zap.Error(err))
	}
	v.ListsChanged(ctx)
}

// ListsChanged drops every list view.
func (v *Views) ListsChanged(ctx context.Context) {
	if v == nil || v.Store == nil {
		return
	}
	if err := v.Store.InvalidatePrefix(ctx, BatchListPrefix); err != nil {
		v.Metrics.CacheError("invalidate_prefix")
		v.logger().Warn("read model list invalidation failed", zap.Error(err))
	}
}

// ReadThrough returns the cached view at key or computes, stores and returns
// it. Cache failures fall through to load.
func ReadThrough[T any](ctx context.Context, v *Views, key string, load func(ctx context.Context) (T, error)) (T, error) {
	if v == nil || v.Store == nil {
		return load(ctx)
	}
	log := v.logger()

	raw, ok, err := v.Store.Get(ctx, key)
	if err != nil {
		v.Metrics.CacheError("get")
		log.Warn("read model get failed", zap.String("key", key), zap.Error(err))
	}
	if ok && err == nil {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
		v.Metrics.CacheError("decode")
		log.Warn("read model entry undecodable", zap.String("key", key))
	}

	out, err := load(ctx)
	if err != nil {
		return out, err
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		v.Metrics.CacheError("encode")
		log.Warn("read model encode failed", zap.String("key", key), zap.Error(err))
		return out, nil
	}
	if err := v.Store.Set(ctx, key, encoded, v.TTL); err != nil {
		v.Metrics.CacheError("set")
		log.Warn("read model set failed", zap.String("key", key), zap.Error(err))
	}
	return out, nil
}
