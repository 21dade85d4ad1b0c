package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"crowdledger/internal/observability"

	"github.com/redis/go-redis/v9"
)

// errStaleFill aborts a fill whose source read may predate an invalidation.
var errStaleFill = errors.New("cache generation moved during fill")

// Enabled reports whether a Redis client is installed.
func Enabled() bool {
	return client != nil
}

// Aside fills dest from the cached value at key, or runs fn (which must fill
// dest) and stores the result for ttl. Redis failures fall back to fn; fn
// errors are never cached.
//
// The store is skipped when an invalidation ran while fn was reading, so a
// snapshot taken before a mutation never outlives it.
func Aside(ctx context.Context, key string, dest interface{}, ttl time.Duration, fn func() error) error {
	rdb := client
	if rdb == nil || ttl <= 0 {
		return fn()
	}

	raw, err := rdb.Get(ctx, key).Bytes()
	if err == nil {
		if jsonErr := json.Unmarshal(raw, dest); jsonErr == nil {
			observability.FeedCacheLookups.WithLabelValues("hit").Inc()
			return nil
		}
		rdb.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		observability.FeedCacheLookups.WithLabelValues("error").Inc()
		return fn()
	}
	observability.FeedCacheLookups.WithLabelValues("miss").Inc()

	gen, genErr := generation(ctx, rdb)
	if err := fn(); err != nil {
		return err
	}
	if genErr != nil {
		return nil
	}

	payload, err := json.Marshal(dest)
	if err != nil {
		return nil
	}
	err = storeIfCurrent(ctx, rdb, key, payload, ttl, gen)
	if errors.Is(err, errStaleFill) || errors.Is(err, redis.TxFailedErr) {
		observability.FeedCacheLookups.WithLabelValues("stale_fill").Inc()
	}
	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func generation(ctx context.Context, rdb getter) (int64, error) {
	gen, err := rdb.Get(ctx, GenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// storeIfCurrent writes payload only while GenerationKey still equals gen.
func storeIfCurrent(ctx context.Context, rdb *redis.Client, key string, payload []byte, ttl time.Duration, gen int64) error {
	return rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := generation(ctx, tx)
		if err != nil {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		return err
	}, GenerationKey)
}
