package gorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/momentum/pkg/models"
)

// ArtifactStore persists artifacts and their power counter.
type ArtifactStore struct {
	store *Store
}

// NewArtifactStore creates a new artifact store.
func NewArtifactStore(store *Store) *ArtifactStore {
	return &ArtifactStore{store: store}
}

// CreateArtifact inserts a new artifact.
func (s *ArtifactStore) CreateArtifact(ctx context.Context, a *models.Artifact) error {
	row := &Artifact{
		ID:                 a.ID,
		OwnerID:            sqlNullString(a.OwnerID),
		Title:              a.Title,
		Power:              a.Power,
		OnboardingScenario: a.OnboardingScenario,
	}
	if a.LastUsedAt != nil {
		row.LastUsedAtEpoch = sql.NullInt64{Int64: a.LastUsedAt.UnixMilli(), Valid: true}
	}
	if err := s.store.DB.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	a.CreatedAt = epochTime(row.CreatedAtEpoch)
	return nil
}

// GetArtifact returns the artifact, or nil if it does not exist.
func (s *ArtifactStore) GetArtifact(ctx context.Context, tx *gorm.DB, id string) (*models.Artifact, error) {
	var row Artifact
	err := s.store.conn(ctx, tx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return toModelArtifact(&row), nil
}

// AddPower atomically raises the artifact's power by delta, saturating at
// models.MaxPower, stamps last_used_at and returns the new power. Returns
// gorm.ErrRecordNotFound when the artifact does not exist.
func (s *ArtifactStore) AddPower(ctx context.Context, id string, delta int, now time.Time) (int, error) {
	if delta < 0 {
		return 0, fmt.Errorf("negative power delta %d", delta)
	}

	clampFn := "MIN"
	if s.store.driver == DriverPostgres {
		clampFn = "LEAST"
	}

	var power int
	err := s.store.Transaction(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&Artifact{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"power":              gorm.Expr(clampFn+"(?, power + ?)", models.MaxPower, delta),
				"last_used_at_epoch": now.UnixMilli(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Model(&Artifact{}).Where("id = ?", id).Pluck("power", &power).Error
	})
	if err != nil {
		return 0, fmt.Errorf("add power: %w", err)
	}
	return power, nil
}

func toModelArtifact(row *Artifact) *models.Artifact {
	return &models.Artifact{
		ID:                 row.ID,
		OwnerID:            stringPtr(row.OwnerID),
		Title:              row.Title,
		Power:              row.Power,
		OnboardingScenario: row.OnboardingScenario,
		LastUsedAt:         timePtr(row.LastUsedAtEpoch),
		CreatedAt:          epochTime(row.CreatedAtEpoch),
	}
}
