package database

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"crowdledger/internal/middleware"

	"gorm.io/gorm"
)

// migrationLockKey is the pg advisory lock held while migrations run, so
// replicas starting together apply each script once.
const migrationLockKey int64 = 0x6c6564676572 // "ledger"

// AppliedMigration is one row of the migration log.
type AppliedMigration struct {
	Version  int
	Checksum string
}

// MigrationStore records which scripts have run.
type MigrationStore interface {
	Applied(ctx context.Context) ([]AppliedMigration, error)
	Apply(ctx context.Context, m Migration) error
	Revert(ctx context.Context, m Migration) error
}

// MigrationLog represents a record of an applied migration in the database.
type MigrationLog struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255;not null"`
	Checksum  string    `gorm:"size:64;not null;default:''"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

func (MigrationLog) TableName() string {
	return "migration_logs"
}

type gormMigrationStore struct {
	db *gorm.DB
}

// NewMigrationStore creates a MigrationStore backed by the migration_logs table.
func NewMigrationStore(db *gorm.DB) MigrationStore {
	return &gormMigrationStore{db: db}
}

func (s *gormMigrationStore) Applied(ctx context.Context) ([]AppliedMigration, error) {
	var rows []MigrationLog
	err := s.db.WithContext(ctx).Select("version", "checksum").Order("version ASC").Find(&rows).Error
	if err != nil {
		if isMissingTableError(err) {
			return []AppliedMigration{}, nil
		}
		return nil, fmt.Errorf("read migration log: %w", err)
	}
	out := make([]AppliedMigration, 0, len(rows))
	for _, r := range rows {
		out = append(out, AppliedMigration{Version: r.Version, Checksum: r.Checksum})
	}
	return out, nil
}

func isMissingTableError(err error) bool {
	msg := err.Error()
	return (strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist")) ||
		strings.Contains(msg, "no such table")
}

// Apply runs the up script and logs it in one transaction.
func (s *gormMigrationStore) Apply(ctx context.Context, m Migration) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(m.UpScript).Error; err != nil {
			return fmt.Errorf("apply %s: %w", m.String(), err)
		}
		return tx.Create(&MigrationLog{Version: m.Version, Name: m.Name, Checksum: m.Checksum()}).Error
	})
}

// Revert runs the down script and drops the log row in one transaction.
func (s *gormMigrationStore) Revert(ctx context.Context, m Migration) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(m.DownScript).Error; err != nil {
			return fmt.Errorf("revert %s: %w", m.String(), err)
		}
		return tx.Where("version = ?", m.Version).Delete(&MigrationLog{}).Error
	})
}

const ensureMigrationLogTableSQL = `
CREATE TABLE IF NOT EXISTS migration_logs (
	version BIGINT PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	checksum VARCHAR(64) NOT NULL DEFAULT '',
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE migration_logs ADD COLUMN IF NOT EXISTS checksum VARCHAR(64) NOT NULL DEFAULT '';`

// RunMigrations applies every pending embedded migration while holding the
// migration advisory lock.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := conn.Exec("SELECT pg_advisory_lock(?)", migrationLockKey).Error; err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		defer func() {
			if err := conn.Exec("SELECT pg_advisory_unlock(?)", migrationLockKey).Error; err != nil {
				middleware.Logger.Warn("release migration lock", slog.String("error", err.Error()))
			}
		}()

		if err := conn.Exec(ensureMigrationLogTableSQL).Error; err != nil {
			return fmt.Errorf("ensure migration log table: %w", err)
		}
		return applyPending(ctx, NewMigrationStore(conn), migrations)
	})
}

// MigrationPlan compares the log with the registered scripts.
type MigrationPlan struct {
	Applied []int
	Pending []Migration
	// Drifted lists applied versions whose script changed after it ran.
	Drifted []int
	// Unknown lists logged versions with no script in this build.
	Unknown []int
}

func planMigrations(applied []AppliedMigration, registered []Migration) MigrationPlan {
	var plan MigrationPlan
	byVersion := make(map[int]Migration, len(registered))
	for _, m := range registered {
		byVersion[m.Version] = m
	}

	done := make(map[int]bool, len(applied))
	for _, a := range applied {
		done[a.Version] = true
		plan.Applied = append(plan.Applied, a.Version)
		m, ok := byVersion[a.Version]
		switch {
		case !ok:
			plan.Unknown = append(plan.Unknown, a.Version)
		case a.Checksum != "" && a.Checksum != m.Checksum():
			// Rows logged before checksums existed carry "".
			plan.Drifted = append(plan.Drifted, a.Version)
		}
	}

	for _, m := range registered {
		if !done[m.Version] {
			plan.Pending = append(plan.Pending, m)
		}
	}
	sort.Ints(plan.Applied)
	sort.Ints(plan.Unknown)
	sort.Ints(plan.Drifted)
	return plan
}

// Err reports a log that cannot be migrated forward safely.
func (p MigrationPlan) Err() error {
	switch {
	case len(p.Unknown) > 0:
		return fmt.Errorf("migration_logs contains unknown versions not present in code: %s", joinVersions(p.Unknown))
	case len(p.Drifted) > 0:
		return fmt.Errorf("applied migrations were modified after running: %s", joinVersions(p.Drifted))
	}
	return nil
}

func joinVersions(versions []int) string {
	parts := make([]string, 0, len(versions))
	for _, v := range versions {
		parts = append(parts, fmt.Sprintf("%06d", v))
	}
	return strings.Join(parts, ", ")
}

func applyPending(ctx context.Context, store MigrationStore, registered []Migration) error {
	applied, err := store.Applied(ctx)
	if err != nil {
		return err
	}
	plan := planMigrations(applied, registered)
	if err := plan.Err(); err != nil {
		return err
	}

	for _, m := range plan.Pending {
		start := time.Now()
		if err := store.Apply(ctx, m); err != nil {
			return err
		}
		middleware.Logger.Info("Migration applied",
			slog.String("migration", m.String()),
			slog.Duration("took", time.Since(start)),
		)
	}
	return nil
}

// RollbackMigration reverts a specific migration by version number.
func RollbackMigration(ctx context.Context, db *gorm.DB, version int) error {
	m := GetMigrationByVersion(version)
	if m == nil {
		return fmt.Errorf("migration version %d not found", version)
	}

	store := NewMigrationStore(db)
	applied, err := store.Applied(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, a := range applied {
		if a.Version == version {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("migration %d has not been applied", version)
	}

	if err := store.Revert(ctx, *m); err != nil {
		return err
	}
	middleware.Logger.Info("Migration rolled back", slog.String("migration", m.String()))
	return nil
}
