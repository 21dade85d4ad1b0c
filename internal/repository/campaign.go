// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"log/slog"
	"time"

	"crowdledger/internal/cache"
	"crowdledger/internal/models"
	"crowdledger/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CampaignRepository defines the interface for campaign data operations.
// Every mutation is applied as a store-side delta scoped to one campaign and
// returns the record as committed. Missing campaigns yield gorm.ErrRecordNotFound.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *models.Campaign) error
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
	// List returns campaigns newest first. limit <= 0 returns all of them.
	List(ctx context.Context, limit, offset int) ([]*models.Campaign, error)
	// ToggleLike flips userID's membership and reports the resulting state.
	ToggleLike(ctx context.Context, id, userID string) (*models.Campaign, bool, error)
	// SetLike makes userID's membership equal liked. Repeating it is a no-op.
	SetLike(ctx context.Context, id, userID string, liked bool) (*models.Campaign, error)
	AddComment(ctx context.Context, id string, comment *models.CampaignComment) (*models.Campaign, error)
	// Donate adds amount only if the total stays within the goal. accepted is
	// false, and the record unchanged, when the cap would be exceeded.
	Donate(ctx context.Context, id string, amount models.Amount) (campaign *models.Campaign, accepted bool, err error)
}

// campaignRepository implements CampaignRepository
type campaignRepository struct {
	db      *gorm.DB
	feedTTL time.Duration
	now     func() time.Time
	log     *observability.RepoLogger
}

// Option configures a campaign repository.
type Option func(*campaignRepository)

// WithFeedCache enables Redis cache-aside for unannotated reads.
func WithFeedCache(ttl time.Duration) Option {
	return func(r *campaignRepository) { r.feedTTL = ttl }
}

// WithClock overrides the time source used for association timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *campaignRepository) { r.now = now }
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *gorm.DB, opts ...Option) CampaignRepository {
	r := &campaignRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
		log: observability.NewRepoLogger("campaigns"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// campaignTTL is the lifetime of per-campaign entries; zero disables them
// along with the feed cache.
func (r *campaignRepository) campaignTTL() time.Duration {
	if r.feedTTL <= 0 {
		return 0
	}
	return cache.CampaignTTL
}

// fillDB is where cache misses read from. A lagging replica would refill the
// cache with the state an invalidation just dropped, so cached reads use the
// primary.
func (r *campaignRepository) fillDB() *gorm.DB {
	if r.feedTTL > 0 && cache.Enabled() {
		return r.db
	}
	return readDB(r.db)
}

func withDetails(db *gorm.DB) *gorm.DB {
	return db.
		Preload("LikeRecords", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, user_id ASC")
		}).
		Preload("CommentRecords", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		})
}

func (r *campaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	defer observability.TrackQuery("create", "campaigns")()
	start := time.Now()

	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(campaign).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return err
	}
	campaign.Hydrate()
	cache.Invalidate(ctx, cache.FeedKey())
	r.log.LogCreate(ctx, start, slog.String("campaign_id", campaign.ID))
	return nil
}

// load reads one campaign with its likes and comments from db.
func (r *campaignRepository) load(ctx context.Context, db *gorm.DB, id string) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := withDetails(db.WithContext(ctx)).Where("id = ?", id).First(&campaign).Error; err != nil {
		return nil, err
	}
	campaign.Hydrate()
	return &campaign, nil
}

func (r *campaignRepository) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	defer observability.TrackQuery("get", "campaigns")()
	start := time.Now()

	var campaign *models.Campaign
	err := cache.Aside(ctx, cache.CampaignKey(id), &campaign, r.campaignTTL(), func() error {
		var err error
		campaign, err = r.load(ctx, r.fillDB(), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	campaign.EnsureCollections()
	r.log.LogRead(ctx, start, slog.String("campaign_id", id))
	return campaign, nil
}

func (r *campaignRepository) List(ctx context.Context, limit, offset int) ([]*models.Campaign, error) {
	defer observability.TrackQuery("list", "campaigns")()
	start := time.Now()

	var campaigns []*models.Campaign
	cached := limit <= 0 && offset <= 0
	query := func() error {
		source := readDB(r.db)
		if cached {
			source = r.fillDB()
		}
		q := withDetails(source.WithContext(ctx)).
			Order("created_at DESC").
			Order("id DESC")
		if limit > 0 {
			q = q.Limit(limit).Offset(offset)
		}
		if err := q.Find(&campaigns).Error; err != nil {
			return err
		}
		for _, c := range campaigns {
			c.Hydrate()
		}
		return nil
	}

	var err error
	if cached {
		err = cache.Aside(ctx, cache.FeedKey(), &campaigns, r.feedTTL, query)
	} else {
		err = query()
	}
	if err != nil {
		r.log.LogError(ctx, err, "list")
		return nil, err
	}

	for _, c := range campaigns {
		c.EnsureCollections()
	}
	if campaigns == nil {
		campaigns = []*models.Campaign{}
	}
	r.log.LogRead(ctx, start, slog.Int("count", len(campaigns)))
	return campaigns, nil
}

// ensureExists returns gorm.ErrRecordNotFound when the campaign is missing.
func ensureExists(tx *gorm.DB, id string) error {
	var found models.Campaign
	return tx.Select("id").Where("id = ?", id).Take(&found).Error
}

func (r *campaignRepository) adjustLikes(tx *gorm.DB, id string, delta int) error {
	expr := gorm.Expr("likes + 1")
	if delta < 0 {
		expr = gorm.Expr("CASE WHEN likes > 0 THEN likes - 1 ELSE 0 END")
	}
	return tx.Model(&models.Campaign{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"likes":      expr,
			"updated_at": r.now(),
		}).Error
}

// addLike inserts the membership row and bumps the counter only when the row
// is new.
func (r *campaignRepository) addLike(tx *gorm.DB, id, userID string) error {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.CampaignLike{
		CampaignID: id,
		UserID:     userID,
		CreatedAt:  r.now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return r.adjustLikes(tx, id, 1)
	}
	return nil
}

// removeLike deletes the membership row and reports whether one existed.
func (r *campaignRepository) removeLike(tx *gorm.DB, id, userID string) (bool, error) {
	res := tx.Where("campaign_id = ? AND user_id = ?", id, userID).Delete(&models.CampaignLike{})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	return true, r.adjustLikes(tx, id, -1)
}

func (r *campaignRepository) ToggleLike(ctx context.Context, id, userID string) (*models.Campaign, bool, error) {
	defer observability.TrackQuery("toggle_like", "campaign_likes")()
	start := time.Now()

	var liked bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureExists(tx, id); err != nil {
			return err
		}
		removed, err := r.removeLike(tx, id, userID)
		if err != nil || removed {
			return err
		}
		liked = true
		return r.addLike(tx, id, userID)
	})
	if err != nil {
		r.log.LogError(ctx, err, "toggle_like")
		return nil, false, err
	}

	cache.InvalidateCampaign(ctx, id)
	campaign, err := r.load(ctx, r.db, id)
	if err != nil {
		return nil, false, err
	}
	r.log.LogUpdate(ctx, start, slog.String("campaign_id", id), slog.Bool("liked", liked))
	return campaign, liked, nil
}

func (r *campaignRepository) SetLike(ctx context.Context, id, userID string, liked bool) (*models.Campaign, error) {
	defer observability.TrackQuery("set_like", "campaign_likes")()
	start := time.Now()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureExists(tx, id); err != nil {
			return err
		}
		if liked {
			return r.addLike(tx, id, userID)
		}
		_, err := r.removeLike(tx, id, userID)
		return err
	})
	if err != nil {
		r.log.LogError(ctx, err, "set_like")
		return nil, err
	}

	cache.InvalidateCampaign(ctx, id)
	campaign, err := r.load(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	r.log.LogUpdate(ctx, start, slog.String("campaign_id", id), slog.Bool("liked", liked))
	return campaign, nil
}

func (r *campaignRepository) AddComment(ctx context.Context, id string, comment *models.CampaignComment) (*models.Campaign, error) {
	defer observability.TrackQuery("add_comment", "campaign_comments")()
	start := time.Now()

	comment.CampaignID = id
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = r.now()
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureExists(tx, id); err != nil {
			return err
		}
		if err := tx.Create(comment).Error; err != nil {
			return err
		}
		return tx.Model(&models.Campaign{}).Where("id = ?", id).UpdateColumn("updated_at", r.now()).Error
	})
	if err != nil {
		r.log.LogError(ctx, err, "add_comment")
		return nil, err
	}

	cache.InvalidateCampaign(ctx, id)
	campaign, err := r.load(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	r.log.LogCreate(ctx, start, slog.String("campaign_id", id), slog.Uint64("comment_id", uint64(comment.ID)))
	return campaign, nil
}

func (r *campaignRepository) Donate(ctx context.Context, id string, amount models.Amount) (*models.Campaign, bool, error) {
	defer observability.TrackQuery("donate", "campaigns")()
	start := time.Now()

	// One conditional UPDATE: the cap is checked against the total at apply time.
	res := r.db.WithContext(ctx).
		Model(&models.Campaign{}).
		Where("id = ? AND donations + ? <= goal", id, int64(amount)).
		UpdateColumns(map[string]interface{}{
			"donations":  gorm.Expr("donations + ?", int64(amount)),
			"updated_at": r.now(),
		})
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "donate")
		return nil, false, res.Error
	}
	accepted := res.RowsAffected == 1

	if accepted {
		cache.InvalidateCampaign(ctx, id)
	}
	campaign, err := r.load(ctx, r.db, id)
	if err != nil {
		return nil, false, err
	}
	r.log.LogUpdate(ctx, start,
		slog.String("campaign_id", id),
		slog.String("amount", amount.String()),
		slog.Bool("accepted", accepted),
	)
	return campaign, accepted, nil
}
