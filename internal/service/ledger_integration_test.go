package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"crowdledger/internal/config"
	"crowdledger/internal/database"
	"crowdledger/internal/models"
	"crowdledger/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T, clock func() time.Time) *CampaignService {
	t.Helper()
	db, err := database.Open(&config.Config{
		DBDriver:   "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "ledger.db"),
		Env:        "test",
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewCampaignService(repository.NewCampaignRepository(db), CampaignServiceOptions{
		Now:     clock,
		Timeout: 5 * time.Second,
	})
}

func TestLedger_DonationScenario(t *testing.T) {
	svc := newLedger(t, nil)
	ctx := context.Background()

	c, err := svc.CreateCampaign(ctx, CreateCampaignInput{
		Title: "Well", Description: "Water", Category: "health", Goal: 100,
	})
	require.NoError(t, err)

	steps := []struct {
		amount   float64
		accepted bool
		total    models.Amount
	}{
		{60, true, 6000},
		{50, false, 6000},
		{40, true, 10000},
		{1, false, 10000},
	}
	for _, step := range steps {
		got, accepted, err := svc.Donate(ctx, DonateInput{CampaignID: c.ID, Amount: step.amount})
		require.NoError(t, err)
		assert.Equal(t, step.accepted, accepted, "donate %v", step.amount)
		assert.Equal(t, step.total, got.Donations, "donate %v", step.amount)
	}

	_, _, err = svc.Donate(ctx, DonateInput{CampaignID: "missing", Amount: 1})
	requireAppErrorCode(t, err, models.CodeNotFound)
}

func TestLedger_ListOrderAndAnnotation(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := newLedger(t, func() time.Time {
		now = now.Add(time.Second)
		return now
	})
	ctx := context.Background()

	t1, err := svc.CreateCampaign(ctx, CreateCampaignInput{Title: "T1", Description: "d", Category: "education", Goal: 10})
	require.NoError(t, err)
	_, err = svc.CreateCampaign(ctx, CreateCampaignInput{Title: "T2", Description: "d", Category: "education", Goal: 10})
	require.NoError(t, err)

	_, err = svc.ToggleLike(ctx, LikeInput{CampaignID: t1.ID, UserID: "ann"})
	require.NoError(t, err)

	list, err := svc.ListCampaigns(ctx, ListCampaignsInput{UserID: "ann"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "T2", list[0].Title)
	assert.Equal(t, "T1", list[1].Title)
	assert.False(t, list[0].IsLikedByCurrentUser)
	assert.True(t, list[1].IsLikedByCurrentUser)

	single, err := svc.GetCampaign(ctx, t1.ID, "bob")
	require.NoError(t, err)
	assert.False(t, single.IsLikedByCurrentUser)
	assert.Equal(t, int64(1), single.Likes)
}

func TestLedger_CommentsAndDoubleToggle(t *testing.T) {
	svc := newLedger(t, nil)
	ctx := context.Background()

	c, err := svc.CreateCampaign(ctx, CreateCampaignInput{Title: "Park", Description: "d", Category: "environment", Goal: 10})
	require.NoError(t, err)

	_, err = svc.AddComment(ctx, CommentInput{CampaignID: c.ID, Text: "   "})
	requireAppErrorCode(t, err, models.CodeValidation)

	got, err := svc.AddComment(ctx, CommentInput{CampaignID: c.ID, UserID: "ann", DisplayName: "Ann", Text: "hello"})
	require.NoError(t, err)
	require.Len(t, got.Comments, 1)
	assert.Equal(t, models.Comment{User: "Ann", Text: "hello", UserID: "ann", CreatedAt: got.Comments[0].CreatedAt}, got.Comments[0])

	before, err := svc.GetCampaign(ctx, c.ID, "")
	require.NoError(t, err)
	_, err = svc.ToggleLike(ctx, LikeInput{CampaignID: c.ID, UserID: "bob"})
	require.NoError(t, err)
	after, err := svc.ToggleLike(ctx, LikeInput{CampaignID: c.ID, UserID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, before.Likes, after.Likes)
	assert.Equal(t, before.LikedBy, after.LikedBy)
}
