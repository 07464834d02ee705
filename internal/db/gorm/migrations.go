package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: Activity ledger
		{
			ID: "001_activity_records",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&ActivityRecord{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("activity_records")
			},
		},

		// Migration 002: Artifacts and their drill scenarios
		{
			ID: "002_artifacts_scenarios",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Artifact{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&DrillScenario{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("drill_scenarios", "artifacts")
			},
		},

		// Migration 003: Drill sessions with the per-play unique index
		{
			ID: "003_drill_sessions",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&DrillSession{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("drill_sessions")
			},
		},

		// Migration 004: Onboarding state mirrored from the user profile service
		{
			ID: "004_user_profiles",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&UserProfile{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("user_profiles")
			},
		},
	})

	return m.Migrate()
}
