package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crowdledger/internal/cache"
	"crowdledger/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCampaignRepository_CreateThenList(t *testing.T) {
	repo := NewCampaignRepository(newTestDB(t))
	ctx := context.Background()

	c := newCampaign("Library", 10000, baseTime)
	c.ImageURL = "https://img.example.com/lib.png"
	require.NoError(t, repo.Create(ctx, c))
	require.NotEmpty(t, c.ID)

	list, err := repo.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	got := list[0]
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, "Library", got.Title)
	assert.Equal(t, models.Amount(10000), got.Goal)
	assert.Equal(t, "https://img.example.com/lib.png", got.ImageURL)
	assert.Equal(t, int64(0), got.Likes)
	assert.Equal(t, models.Amount(0), got.Donations)
	assert.Empty(t, got.LikedBy)
	assert.NotNil(t, got.LikedBy)
	assert.Empty(t, got.Comments)
	assert.NotNil(t, got.Comments)
}

func TestCampaignRepository_ListOrder(t *testing.T) {
	repo := NewCampaignRepository(newTestDB(t))
	ctx := context.Background()

	older := newCampaign("T1", 100, baseTime)
	newer := newCampaign("T2", 100, baseTime.Add(time.Minute))
	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, newer))

	list, err := repo.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "T2", list[0].Title)
	assert.Equal(t, "T1", list[1].Title)

	page, err := repo.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "T1", page[0].Title)
}

func TestCampaignRepository_GetByIDNotFound(t *testing.T) {
	repo := NewCampaignRepository(newTestDB(t))

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestCampaignRepository_ToggleLikePairRestoresState(t *testing.T) {
	repo := NewCampaignRepository(newTestDB(t))
	ctx := context.Background()

	c := newCampaign("Park", 100, baseTime)
	require.NoError(t, repo.Create(ctx, c))

	liked, isLiked, err := repo.ToggleLike(ctx, c.ID, "ann@example.com")
	require.NoError(t, err)
	assert.True(t, isLiked)
	assert.Equal(t, int64(1), liked.Likes)
	assert.Equal(t, []string{"ann@example.com"}, liked.LikedBy)

	restored, isLiked, err := repo.ToggleLike(ctx, c.ID, "ann@example.com")
	require.NoError(t, err)
	assert.False(t, isLiked)
	assert.Equal(t, int64(0), restored.Likes)
	assert.Empty(t, restored.LikedBy)
}

func TestCampaignRepository_ConcurrentLikesFromDistinctUsers(t *testing.T) {
	repo := NewCampaignRepository(newTestDB(t))
	ctx := context.Background()

	c := newCampaign("Clinic", 100, baseTime)
	require.NoError(t, repo.Create(ctx, c))

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := repo.ToggleLike(ctx, c.ID, fmt.Sprintf("user-%d@example.com", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.Likes)
	assert.Len(t, got.LikedBy, n)
}

func TestCampaignRepository_SetLikeIsIdempotent(t *testing.T) {
	repo := NewCampaignRepository(newTestDB(t))
	ctx := context.Background()

	c := newCampaign("Garden", 100, baseTime)
	require.NoError(t, repo.Create(ctx, c))

	for i := 0; i < 3; i++ {
		got, err := repo.SetLike(ctx, c.ID, "bob@example.com", true)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Likes)
	}
	for i := 0; i < 3; i++ {
		got, err := repo.SetLike(ctx, c.ID, "bob@example.com", false)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.Likes)
		assert.Empty(t, got.LikedBy)
	}
}

func TestCampaignRepository_LikeMissingCampaign(t *testing.T) {
	repo := NewCampaignRepository(newTestDB(t))
	ctx := context.Background()

	_, _, err := repo.ToggleLike(ctx, "missing", "ann@example.com")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	_, err = repo.SetLike(ctx, "missing", "ann@example.com", true)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestCampaignRepository_CommentsAppendInOrder(t *testing.T) {
	repo := NewCampaignRepository(newTestDB(t))
	ctx := context.Background()

	c := newCampaign("Shelter", 100, baseTime)
	require.NoError(t, repo.Create(ctx, c))

	for _, text := range []string{"first", "second", "third"} {
		_, err := repo.AddComment(ctx, c.ID, &models.CampaignComment{
			UserID: "ann@example.com",
			Author: "Ann",
			Text:   text,
		})
		require.NoError(t, err)
	}

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Comments, 3)
	assert.Equal(t, "first", got.Comments[0].Text)
	assert.Equal(t, "second", got.Comments[1].Text)
	assert.Equal(t, "third", got.Comments[2].Text)
	assert.Equal(t, "Ann", got.Comments[0].User)
	assert.Equal(t, "ann@example.com", got.Comments[0].UserID)
}

func TestCampaignRepository_ConcurrentCommentsAreAllRetained(t *testing.T) {
	repo := NewCampaignRepository(newTestDB(t))
	ctx := context.Background()

	c := newCampaign("Bridge", 100, baseTime)
	require.NoError(t, repo.Create(ctx, c))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.AddComment(ctx, c.ID, &models.CampaignComment{
				Author: fmt.Sprintf("user-%d", i),
				Text:   fmt.Sprintf("comment %d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, got.Comments, n)
}

func TestCampaignRepository_CommentMissingCampaign(t *testing.T) {
	repo := NewCampaignRepository(newTestDB(t))

	_, err := repo.AddComment(context.Background(), "missing", &models.CampaignComment{Author: "a", Text: "b"})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestCampaignRepository_DonationCapScenario(t *testing.T) {
	repo := NewCampaignRepository(newTestDB(t))
	ctx := context.Background()

	c := newCampaign("Well", 10000, baseTime)
	require.NoError(t, repo.Create(ctx, c))

	steps := []struct {
		amount       models.Amount
		wantAccepted bool
		wantTotal    models.Amount
	}{
		{6000, true, 6000},
		{5000, false, 6000},
		{4000, true, 10000},
		{1, false, 10000},
	}

	for _, step := range steps {
		got, accepted, err := repo.Donate(ctx, c.ID, step.amount)
		require.NoError(t, err)
		assert.Equal(t, step.wantAccepted, accepted, "donate %s", step.amount)
		assert.Equal(t, step.wantTotal, got.Donations, "donate %s", step.amount)
	}
}

func TestCampaignRepository_ConcurrentDonationsWithinGoal(t *testing.T) {
	repo := NewCampaignRepository(newTestDB(t))
	ctx := context.Background()

	c := newCampaign("Roof", 100000, baseTime)
	require.NoError(t, repo.Create(ctx, c))

	amounts := []models.Amount{1000, 2550, 333, 10000, 4200, 17, 9900, 12000}
	var want models.Amount
	for _, a := range amounts {
		want += a
	}
	require.LessOrEqual(t, want, c.Goal)

	var wg sync.WaitGroup
	for _, a := range amounts {
		wg.Add(1)
		go func(a models.Amount) {
			defer wg.Done()
			_, accepted, err := repo.Donate(ctx, c.ID, a)
			assert.NoError(t, err)
			assert.True(t, accepted)
		}(a)
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got.Donations)
}

func TestCampaignRepository_ConcurrentDonationsNeverExceedGoal(t *testing.T) {
	repo := NewCampaignRepository(newTestDB(t))
	ctx := context.Background()

	c := newCampaign("Van", 10000, baseTime)
	require.NoError(t, repo.Create(ctx, c))

	const n = 30
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.Donate(ctx, c.ID, 1000)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, accepted)
	assert.Equal(t, models.Amount(10000), got.Donations)
}

func TestCampaignRepository_DonateMissingCampaign(t *testing.T) {
	repo := NewCampaignRepository(newTestDB(t))

	_, _, err := repo.Donate(context.Background(), "missing", 100)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestCampaignRepository_FeedCacheInvalidatedByMutations(t *testing.T) {
	mr := miniredis.RunT(t)
	cache.SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { cache.SetClient(nil) })

	repo := NewCampaignRepository(newTestDB(t), WithFeedCache(time.Minute))
	ctx := context.Background()

	c := newCampaign("Cached", 10000, baseTime)
	require.NoError(t, repo.Create(ctx, c))

	_, err := repo.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.True(t, mr.Exists(cache.FeedKey()))

	_, _, err = repo.ToggleLike(ctx, c.ID, "ann@example.com")
	require.NoError(t, err)
	assert.False(t, mr.Exists(cache.FeedKey()))

	list, err := repo.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(1), list[0].Likes)
	assert.Equal(t, []string{"ann@example.com"}, list[0].LikedBy)

	// A cache hit round-trips the derived collections.
	cached, err := repo.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, list[0].LikedBy, cached[0].LikedBy)
	assert.Equal(t, list[0].Goal, cached[0].Goal)
}

func TestCampaignRepository_MutationDuringFeedFillIsNotMasked(t *testing.T) {
	mr := miniredis.RunT(t)
	cache.SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { cache.SetClient(nil) })

	db := newTestDB(t)
	repo := NewCampaignRepository(db, WithFeedCache(time.Minute))
	ctx := context.Background()

	c := newCampaign("Race", 10000, baseTime)
	require.NoError(t, repo.Create(ctx, c))

	// Commit a donation after the feed rows are read but before the fill is stored.
	var armed atomic.Bool
	armed.Store(true)
	require.NoError(t, db.Callback().Query().After("gorm:preload").Register("test:donate_mid_fill", func(tx *gorm.DB) {
		if tx.Statement.Table != "campaigns" || !armed.CompareAndSwap(true, false) {
			return
		}
		_, accepted, err := repo.Donate(context.Background(), c.ID, 6000)
		assert.NoError(t, err)
		assert.True(t, accepted)
	}))

	first, err := repo.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, models.Amount(0), first[0].Donations, "read predates the donation")
	assert.False(t, armed.Load())

	second, err := repo.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, models.Amount(6000), second[0].Donations)

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Amount(6000), got.Donations)
}

func TestCampaignRepository_CampaignEntriesUseCampaignTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	cache.SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { cache.SetClient(nil) })

	repo := NewCampaignRepository(newTestDB(t), WithFeedCache(time.Minute))
	ctx := context.Background()

	c := newCampaign("Ttl", 100, baseTime)
	require.NoError(t, repo.Create(ctx, c))
	_, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	_, err = repo.List(ctx, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, cache.CampaignTTL, mr.TTL(cache.CampaignKey(c.ID)))
	assert.Equal(t, time.Minute, mr.TTL(cache.FeedKey()))
}
