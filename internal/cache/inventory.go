package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	FeedKeyName       = "campaigns:feed"
	CampaignKeyPrefix = "campaign:%s"
	// GenerationKey is bumped by every invalidation; fills check it before storing.
	GenerationKey = "campaigns:feed:gen"
)

const (
	DefaultFeedTTL = 30 * time.Second
	CampaignTTL    = 5 * time.Minute
)

// FeedKey is the key of the full, unannotated campaign feed.
func FeedKey() string {
	return FeedKeyName
}

func CampaignKey(id string) string {
	return fmt.Sprintf(CampaignKeyPrefix, id)
}

// Invalidate drops keys and bumps GenerationKey in one MULTI, which also
// cancels any fill that read the store before the caller's mutation.
func Invalidate(ctx context.Context, keys ...string) {
	if client == nil || len(keys) == 0 {
		return
	}
	_, _ = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, GenerationKey)
		pipe.Del(ctx, keys...)
		return nil
	})
}

// InvalidateCampaign drops the campaign's own entry and the feed that embeds it.
func InvalidateCampaign(ctx context.Context, id string) {
	Invalidate(ctx, CampaignKey(id), FeedKey())
}
