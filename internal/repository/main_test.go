package repository

import (
	"path/filepath"
	"testing"
	"time"

	"crowdledger/internal/config"
	"crowdledger/internal/database"
	"crowdledger/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// newTestDB opens a fresh file-backed SQLite store with the schema applied.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := &config.Config{
		DBDriver:   "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "ledger.db"),
		Env:        "test",
	}
	db, err := database.Open(cfg)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newCampaign(title string, goal models.Amount, createdAt time.Time) *models.Campaign {
	return &models.Campaign{
		Title:       title,
		Description: "A campaign called " + title,
		Category:    "education",
		Goal:        goal,
		CreatedAt:   createdAt,
	}
}
