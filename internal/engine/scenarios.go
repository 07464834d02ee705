package engine

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/thebtf/momentum/internal/engine/catalog"
	"github.com/thebtf/momentum/pkg/models"
)

// scenarioLookup is the slice of the scenario store the resolver reads.
type scenarioLookup interface {
	GetScenariosByIDs(ctx context.Context, tx *gorm.DB, ids []string) ([]*models.DrillScenario, error)
}

// resolvedScenarios is what a drill was scored against.
type resolvedScenarios struct {
	Source    models.ScenarioSource
	Scenarios []models.DrillScenario
	// StoredIDs are persisted on the session; empty for built-in content.
	StoredIDs []string
}

// ScenarioResolver picks the scenario source for an artifact: the built-in
// onboarding catalog for tagged artifacts, persisted rows otherwise.
type ScenarioResolver struct {
	scenarios scenarioLookup
}

// NewScenarioResolver creates a resolver over the scenario store.
func NewScenarioResolver(scenarios scenarioLookup) *ScenarioResolver {
	return &ScenarioResolver{scenarios: scenarios}
}

// Resolve returns the scenarios a drill on artifact is scored against.
func (r *ScenarioResolver) Resolve(ctx context.Context, artifact *models.Artifact, userID string, scenarioIDs []string) (*resolvedScenarios, error) {
	if artifact.OnboardingScenario {
		c, err := catalog.Lookup(catalog.OnboardingKey)
		if err != nil {
			return nil, unavailable("catalog_unavailable", err)
		}
		return &resolvedScenarios{
			Source:    models.BuiltIn(c.Key),
			Scenarios: c.Copy(),
			StoredIDs: []string{},
		}, nil
	}

	if err := validateScenarioIDs(scenarioIDs); err != nil {
		return nil, err
	}

	found, err := r.scenarios.GetScenariosByIDs(ctx, nil, scenarioIDs)
	if err != nil {
		return nil, unavailable("scenarios_unavailable", err)
	}
	if len(found) != len(scenarioIDs) {
		return nil, newError(KindNotFound, "scenario_not_found", fmt.Errorf("%d of %d scenarios exist", len(found), len(scenarioIDs)))
	}

	out := make([]models.DrillScenario, 0, len(found))
	for _, sc := range found {
		if sc.ArtifactID != artifact.ID {
			return nil, invalid("scenario_artifact_mismatch", "scenario %s does not belong to artifact %s", sc.ID, artifact.ID)
		}
		if sc.OwnerID != nil && *sc.OwnerID != userID {
			return nil, newError(KindUnauthorized, "scenario_forbidden", fmt.Errorf("scenario %s belongs to another user", sc.ID))
		}
		out = append(out, *sc)
	}

	stored := make([]string, len(scenarioIDs))
	copy(stored, scenarioIDs)
	return &resolvedScenarios{
		Source:    models.Persisted(),
		Scenarios: out,
		StoredIDs: stored,
	}, nil
}

// Catalog returns the built-in scenarios shown for an onboarding artifact.
func (r *ScenarioResolver) Catalog(key string) ([]models.DrillScenario, error) {
	c, err := catalog.Lookup(key)
	if err != nil {
		return nil, unavailable("catalog_unavailable", err)
	}
	return c.Copy(), nil
}

func validateScenarioIDs(ids []string) error {
	if len(ids) != models.DrillSize {
		return invalid("invalid_scenario_ids", "expected %d scenario ids, got %d", models.DrillSize, len(ids))
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return invalid("invalid_scenario_ids", "scenario id must not be empty")
		}
		if _, dup := seen[id]; dup {
			return invalid("invalid_scenario_ids", "duplicate scenario id %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func validateScenario(sc *models.DrillScenario) error {
	if sc.Situation == "" {
		return invalid("invalid_scenario", "situation is required")
	}
	if len(sc.Options) != models.OptionsPerScenario {
		return invalid("invalid_scenario", "expected %d options, got %d", models.OptionsPerScenario, len(sc.Options))
	}
	for i, o := range sc.Options {
		if o.Text == "" {
			return invalid("invalid_scenario", "option %d has no text", i)
		}
		if !o.Category.Valid() {
			return invalid("invalid_scenario", "option %d has unknown category %q", i, o.Category)
		}
	}
	if sc.OptimalCount() != 1 {
		return invalid("invalid_scenario", "exactly one option must be optimal")
	}
	return nil
}
