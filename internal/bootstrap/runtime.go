// Package bootstrap wires the process-wide runtime shared by the server and
// the command-line tools.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"strings"

	"crowdledger/internal/cache"
	"crowdledger/internal/config"
	"crowdledger/internal/database"
	"crowdledger/internal/models"
	"crowdledger/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SkipSchema connects without applying migrations.
	SkipSchema bool
	// SeedDemo fills an empty development ledger with generated campaigns.
	SeedDemo bool
}

// InitRuntime connects to the database, applies the schema and connects to
// Redis when one is configured. The returned client is nil without Redis.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	if !opts.SkipSchema {
		if err := database.ApplySchema(ctx, db, cfg); err != nil {
			return nil, nil, fmt.Errorf("schema setup failed: %w", err)
		}
	}

	// Init Redis (may result in nil client if unreachable)
	var rdb *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		rdb = cache.InitRedis(cfg.RedisURL)
	}

	if opts.SeedDemo {
		if err := seedDemo(ctx, cfg, db); err != nil {
			return nil, nil, fmt.Errorf("failed to seed demo campaigns: %w", err)
		}
	}

	return db, rdb, nil
}

// seedDemo only runs in development and only on an empty ledger.
func seedDemo(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
	if cfg == nil || db == nil || !strings.EqualFold(cfg.Env, "development") {
		return nil
	}

	var count int64
	if err := db.WithContext(ctx).Model(&models.Campaign{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	opts := seed.DefaultOptions()
	if cats := cfg.Categories(); len(cats) > 0 {
		opts.Categories = cats
	}
	res, err := seed.NewSeeder(db, opts).Seed(ctx)
	if err != nil {
		return err
	}
	log.Printf("demo ledger seeded with %d campaigns", len(res.Campaigns))
	return nil
}
