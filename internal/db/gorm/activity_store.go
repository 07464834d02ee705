package gorm

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/momentum/pkg/models"
)

// ActivityStore provides the append-only activity ledger.
type ActivityStore struct {
	store *Store
}

// NewActivityStore creates a new activity store.
func NewActivityStore(store *Store) *ActivityStore {
	return &ActivityStore{store: store}
}

// AppendActivity writes one activity record. Pass a non-nil tx to make the
// write part of an enclosing transaction.
func (s *ActivityStore) AppendActivity(ctx context.Context, tx *gorm.DB, userID string, activityType models.ActivityType, metadata map[string]string, at time.Time) (*models.ActivityRecord, error) {
	if !activityType.Valid() {
		return nil, fmt.Errorf("invalid activity type %q", activityType)
	}
	if at.IsZero() {
		at = time.Now()
	}

	row := &ActivityRecord{
		UserID:         userID,
		ActivityType:   activityType,
		Metadata:       models.JSONStringMap(metadata),
		CreatedAtEpoch: at.UnixMilli(),
	}
	if err := s.store.conn(ctx, tx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("append activity: %w", err)
	}
	return toModelActivity(row), nil
}

// GetUserActivities returns the user's full activity history, newest first.
func (s *ActivityStore) GetUserActivities(ctx context.Context, tx *gorm.DB, userID string) ([]models.ActivityRecord, error) {
	var rows []ActivityRecord
	err := s.store.conn(ctx, tx).
		Where("user_id = ?", userID).
		Order("created_at_epoch DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}

	out := make([]models.ActivityRecord, 0, len(rows))
	for i := range rows {
		out = append(out, *toModelActivity(&rows[i]))
	}
	return out, nil
}

// CountUserActivities returns how many activities of the given type the user has.
func (s *ActivityStore) CountUserActivities(ctx context.Context, userID string, activityType models.ActivityType) (int, error) {
	var count int64
	err := s.store.DB.WithContext(ctx).
		Model(&ActivityRecord{}).
		Where("user_id = ? AND activity_type = ?", userID, activityType).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count activities: %w", err)
	}
	return int(count), nil
}

func toModelActivity(row *ActivityRecord) *models.ActivityRecord {
	return &models.ActivityRecord{
		ID:        row.ID,
		UserID:    row.UserID,
		Type:      row.ActivityType,
		Metadata:  row.Metadata,
		CreatedAt: epochTime(row.CreatedAtEpoch),
	}
}
