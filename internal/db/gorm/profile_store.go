package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/momentum/pkg/models"
)

// ProfileStore mirrors onboarding state of users.
type ProfileStore struct {
	store *Store
}

// NewProfileStore creates a new profile store.
func NewProfileStore(store *Store) *ProfileStore {
	return &ProfileStore{store: store}
}

// GetProfile returns the user's profile, or nil if none was recorded.
func (s *ProfileStore) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var row UserProfile
	err := s.store.DB.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return toModelProfile(&row), nil
}

// UpsertProfile creates or updates the user's onboarding flag.
func (s *ProfileStore) UpsertProfile(ctx context.Context, userID string, onboardingCompleted bool) (*models.UserProfile, error) {
	row := &UserProfile{
		UserID:              userID,
		OnboardingCompleted: onboardingCompleted,
		UpdatedAtEpoch:      time.Now().UnixMilli(),
	}
	err := s.store.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"onboarding_completed", "updated_at_epoch"}),
		}).
		Create(row).Error
	if err != nil {
		return nil, fmt.Errorf("upsert profile: %w", err)
	}
	return toModelProfile(row), nil
}

func toModelProfile(row *UserProfile) *models.UserProfile {
	return &models.UserProfile{
		UserID:              row.UserID,
		OnboardingCompleted: row.OnboardingCompleted,
		UpdatedAt:           epochTime(row.UpdatedAtEpoch),
	}
}
