package gorm

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/momentum/pkg/models"
)

// GORM Models

// Note: JSON column types (JSONStringArray, JSONIntArray, JSONStringMap,
// OptionList) come from pkg/models and implement sql.Scanner/driver.Valuer.

// ActivityRecord is one row of the append-only activity ledger.
type ActivityRecord struct {
	ID             int64                `gorm:"primaryKey;autoIncrement"`
	UserID         string               `gorm:"not null;index:idx_activity_user_created,priority:1"`
	ActivityType   models.ActivityType  `gorm:"type:text;not null;check:activity_type IN ('conversation_completed', 'artifact_practiced', 'artifact_used')"`
	Metadata       models.JSONStringMap `gorm:"type:text"`
	CreatedAt      string               `gorm:"not null"`
	CreatedAtEpoch int64                `gorm:"not null;index:idx_activity_user_created,priority:2,sort:desc"`
}

func (ActivityRecord) TableName() string { return "activity_records" }

// BeforeCreate hook to ensure timestamps are set.
func (a *ActivityRecord) BeforeCreate(tx *gorm.DB) error {
	stampCreated(&a.CreatedAt, &a.CreatedAtEpoch)
	return nil
}

// DrillSession is one scored drill attempt. Rows are never updated.
type DrillSession struct {
	SessionID        string                 `gorm:"primaryKey;type:varchar(64)"`
	UserID           string                 `gorm:"not null;uniqueIndex:idx_drill_play,priority:1;index:idx_drill_user_day,priority:1"`
	ArtifactID       string                 `gorm:"not null;uniqueIndex:idx_drill_play,priority:2"`
	Day              string                 `gorm:"type:varchar(10);not null;uniqueIndex:idx_drill_play,priority:3;index:idx_drill_user_day,priority:2"`
	PlayNumber       int                    `gorm:"not null;uniqueIndex:idx_drill_play,priority:4"`
	SourceKind       string                 `gorm:"type:text;not null;default:'persisted';check:source_kind IN ('persisted', 'builtin')"`
	CatalogKey       sql.NullString         `gorm:"type:text"`
	ScenarioIDs      models.JSONStringArray `gorm:"type:text"`
	Answers          models.JSONIntArray    `gorm:"type:text"`
	Score            int                    `gorm:"not null;check:score BETWEEN 0 AND 3"`
	MomentumAwarded  int                    `gorm:"not null;default:0"`
	IsFirstPlay      bool                   `gorm:"not null;default:false"`
	PreviousMomentum float64                `gorm:"type:real;not null;default:0"`
	NewMomentum      float64                `gorm:"type:real;not null;default:0"`
	Milestone        sql.NullInt64
	NoMomentumReason sql.NullString `gorm:"type:text"`
	CreatedAt        string         `gorm:"not null"`
	CreatedAtEpoch   int64          `gorm:"not null;index:idx_drill_created,sort:desc"`
}

func (DrillSession) TableName() string { return "drill_sessions" }

// BeforeCreate hook to ensure timestamps are set.
func (d *DrillSession) BeforeCreate(tx *gorm.DB) error {
	stampCreated(&d.CreatedAt, &d.CreatedAtEpoch)
	return nil
}

// Artifact is a saved technique with its saturating power counter.
type Artifact struct {
	ID                 string         `gorm:"primaryKey;type:varchar(64)"`
	OwnerID            sql.NullString `gorm:"index"`
	Title              string         `gorm:"type:text;not null"`
	Power              int            `gorm:"not null;default:0;check:power BETWEEN 0 AND 100"`
	OnboardingScenario bool           `gorm:"not null;default:false"`
	LastUsedAtEpoch    sql.NullInt64  `gorm:"column:last_used_at_epoch"`
	CreatedAt          string         `gorm:"not null"`
	CreatedAtEpoch     int64          `gorm:"not null"`
}

func (Artifact) TableName() string { return "artifacts" }

// BeforeCreate hook to ensure timestamps are set.
func (a *Artifact) BeforeCreate(tx *gorm.DB) error {
	stampCreated(&a.CreatedAt, &a.CreatedAtEpoch)
	return nil
}

// DrillScenario is a persisted practice question.
type DrillScenario struct {
	ID             string            `gorm:"primaryKey;type:varchar(64)"`
	ArtifactID     string            `gorm:"not null;index"`
	OwnerID        sql.NullString    `gorm:"index"`
	Situation      string            `gorm:"type:text;not null"`
	CurrentThought string            `gorm:"type:text"`
	Options        models.OptionList `gorm:"type:text;not null"`
	CreatedAt      string            `gorm:"not null"`
	CreatedAtEpoch int64             `gorm:"not null"`
}

func (DrillScenario) TableName() string { return "drill_scenarios" }

// BeforeCreate hook to ensure timestamps are set.
func (d *DrillScenario) BeforeCreate(tx *gorm.DB) error {
	stampCreated(&d.CreatedAt, &d.CreatedAtEpoch)
	return nil
}

// UserProfile mirrors the onboarding flag of the external user profile.
type UserProfile struct {
	UserID              string `gorm:"primaryKey;type:varchar(64)"`
	OnboardingCompleted bool   `gorm:"not null;default:false"`
	UpdatedAtEpoch      int64  `gorm:"not null"`
}

func (UserProfile) TableName() string { return "user_profiles" }

// stampCreated fills empty creation timestamps with the current time.
func stampCreated(createdAt *string, epoch *int64) {
	now := time.Now()
	if *epoch == 0 {
		*epoch = now.UnixMilli()
	}
	if *createdAt == "" {
		*createdAt = time.UnixMilli(*epoch).UTC().Format(time.RFC3339)
	}
}
