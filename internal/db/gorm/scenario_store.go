package gorm

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/thebtf/momentum/pkg/models"
)

// ScenarioStore persists drill scenarios.
type ScenarioStore struct {
	store *Store
}

// NewScenarioStore creates a new scenario store.
func NewScenarioStore(store *Store) *ScenarioStore {
	return &ScenarioStore{store: store}
}

// CreateScenario inserts a new scenario.
func (s *ScenarioStore) CreateScenario(ctx context.Context, sc *models.DrillScenario) error {
	row := &DrillScenario{
		ID:             sc.ID,
		ArtifactID:     sc.ArtifactID,
		OwnerID:        sqlNullString(sc.OwnerID),
		Situation:      sc.Situation,
		CurrentThought: sc.CurrentThought,
		Options:        models.OptionList(sc.Options),
	}
	if err := s.store.DB.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("create scenario: %w", err)
	}
	sc.CreatedAt = epochTime(row.CreatedAtEpoch)
	return nil
}

// GetScenariosByIDs returns the scenarios with the given IDs in the order the
// IDs were given. Unknown IDs are skipped.
func (s *ScenarioStore) GetScenariosByIDs(ctx context.Context, tx *gorm.DB, ids []string) ([]*models.DrillScenario, error) {
	if len(ids) == 0 {
		return []*models.DrillScenario{}, nil
	}

	var rows []DrillScenario
	if err := s.store.conn(ctx, tx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get scenarios: %w", err)
	}

	byID := make(map[string]*DrillScenario, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}
	out := make([]*models.DrillScenario, 0, len(ids))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			out = append(out, toModelScenario(row))
		}
	}
	return out, nil
}

// ListScenarios returns the artifact's scenarios visible to userID: those the
// user owns plus shared ones.
func (s *ScenarioStore) ListScenarios(ctx context.Context, artifactID, userID string) ([]*models.DrillScenario, error) {
	var rows []DrillScenario
	err := s.store.DB.WithContext(ctx).
		Where("artifact_id = ?", artifactID).
		Where("owner_id IS NULL OR owner_id = ?", userID).
		Order("created_at_epoch ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}

	out := make([]*models.DrillScenario, 0, len(rows))
	for i := range rows {
		out = append(out, toModelScenario(&rows[i]))
	}
	return out, nil
}

func toModelScenario(row *DrillScenario) *models.DrillScenario {
	return &models.DrillScenario{
		ID:             row.ID,
		ArtifactID:     row.ArtifactID,
		OwnerID:        stringPtr(row.OwnerID),
		Situation:      row.Situation,
		CurrentThought: row.CurrentThought,
		Options:        []models.Option(row.Options),
		CreatedAt:      epochTime(row.CreatedAtEpoch),
	}
}
