package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	gormdb "github.com/thebtf/momentum/internal/db/gorm"
	"github.com/thebtf/momentum/internal/engine/catalog"
	"github.com/thebtf/momentum/pkg/models"
)

// CreateArtifactInput describes a new artifact. A nil OwnerID makes it
// shared; the HTTP surface never passes one.
type CreateArtifactInput struct {
	OwnerID            *string
	ID                 string
	Title              string
	OnboardingScenario bool
}

// CreateArtifact stores a new artifact with zero power.
func (e *Engine) CreateArtifact(ctx context.Context, in CreateArtifactInput) (*models.Artifact, error) {
	if in.Title == "" {
		return nil, invalid("invalid_artifact", "title is required")
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}

	a := &models.Artifact{
		ID:                 id,
		OwnerID:            in.OwnerID,
		Title:              in.Title,
		OnboardingScenario: in.OnboardingScenario,
	}
	if err := e.artifacts.CreateArtifact(ctx, a); err != nil {
		if gormdb.IsDuplicateKey(err) {
			return nil, newError(KindConflict, "artifact_exists", err)
		}
		return nil, unavailable("artifact_unavailable", err)
	}
	return a, nil
}

// GetArtifact returns an artifact visible to userID.
func (e *Engine) GetArtifact(ctx context.Context, userID, artifactID string) (*models.Artifact, error) {
	if userID == "" {
		return nil, invalid("missing_user_id", "user id is required")
	}
	return e.visibleArtifact(ctx, userID, artifactID)
}

// CreateScenarioInput describes a new drill scenario. Users add scenarios
// only to artifacts they own, and the scenario is theirs. Shared scenarios
// have no owner and are seeded without a user, on shared artifacts only.
type CreateScenarioInput struct {
	ID             string
	UserID         string
	ArtifactID     string
	Situation      string
	CurrentThought string
	Options        []models.Option
	Shared         bool
}

// CreateScenario validates and stores a scenario.
func (e *Engine) CreateScenario(ctx context.Context, in CreateScenarioInput) (*models.DrillScenario, error) {
	switch {
	case in.Shared && in.UserID != "":
		return nil, newError(KindUnauthorized, "shared_forbidden", fmt.Errorf("user %s cannot create shared scenarios", in.UserID))
	case !in.Shared && in.UserID == "":
		return nil, invalid("missing_user_id", "user id is required")
	}

	artifact, err := e.visibleArtifact(ctx, in.UserID, in.ArtifactID)
	if err != nil {
		return nil, err
	}
	if in.UserID != "" && (artifact.OwnerID == nil || *artifact.OwnerID != in.UserID) {
		return nil, newError(KindUnauthorized, "artifact_not_owned", fmt.Errorf("artifact %s is not owned by %s", artifact.ID, in.UserID))
	}
	if artifact.OnboardingScenario {
		return nil, invalid("builtin_catalog", "artifact %s uses the built-in catalog", artifact.ID)
	}

	sc := &models.DrillScenario{
		ID:             in.ID,
		ArtifactID:     artifact.ID,
		Situation:      in.Situation,
		CurrentThought: in.CurrentThought,
		Options:        in.Options,
	}
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if !in.Shared {
		owner := in.UserID
		sc.OwnerID = &owner
	}
	if err := validateScenario(sc); err != nil {
		return nil, err
	}

	if err := e.scenarios.CreateScenario(ctx, sc); err != nil {
		if gormdb.IsDuplicateKey(err) {
			return nil, newError(KindConflict, "scenario_exists", err)
		}
		return nil, unavailable("scenarios_unavailable", err)
	}
	return sc, nil
}

// ListScenarios returns the scenarios a drill on the artifact would use:
// the built-in catalog for onboarding artifacts, visible rows otherwise.
func (e *Engine) ListScenarios(ctx context.Context, userID, artifactID string) ([]models.DrillScenario, models.ScenarioSource, error) {
	if userID == "" {
		return nil, models.ScenarioSource{}, invalid("missing_user_id", "user id is required")
	}
	artifact, err := e.visibleArtifact(ctx, userID, artifactID)
	if err != nil {
		return nil, models.ScenarioSource{}, err
	}

	if artifact.OnboardingScenario {
		scenarios, err := e.resolver.Catalog(catalog.OnboardingKey)
		if err != nil {
			return nil, models.ScenarioSource{}, err
		}
		return scenarios, models.BuiltIn(catalog.OnboardingKey), nil
	}

	rows, err := e.scenarios.ListScenarios(ctx, artifact.ID, userID)
	if err != nil {
		return nil, models.ScenarioSource{}, unavailable("scenarios_unavailable", err)
	}
	out := make([]models.DrillScenario, 0, len(rows))
	for _, sc := range rows {
		out = append(out, *sc)
	}
	return out, models.Persisted(), nil
}

// UpsertProfile records whether the user completed onboarding.
func (e *Engine) UpsertProfile(ctx context.Context, userID string, onboardingCompleted bool) (*models.UserProfile, error) {
	if userID == "" {
		return nil, invalid("missing_user_id", "user id is required")
	}
	p, err := e.profiles.UpsertProfile(ctx, userID, onboardingCompleted)
	if err != nil {
		return nil, unavailable("profile_unavailable", fmt.Errorf("user %s: %w", userID, err))
	}
	return p, nil
}

// Ping checks the backing store.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.store.Ping(ctx); err != nil {
		return unavailable("store_unavailable", err)
	}
	return nil
}
