package models

import "time"

// MaxPower is the saturation point of an artifact's power counter.
const MaxPower = 100

// Artifact is a saved coaching technique ("cheat code"). OwnerID is nil for
// shared or premade artifacts.
type Artifact struct {
	OwnerID            *string    `json:"owner_id"`
	LastUsedAt         *time.Time `json:"last_used_at"`
	CreatedAt          time.Time  `json:"created_at"`
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Power              int        `json:"power"`
	OnboardingScenario bool       `json:"onboarding_scenario"`
}

// Shared reports whether the artifact has no owner.
func (a *Artifact) Shared() bool {
	return a.OwnerID == nil
}

// VisibleTo reports whether userID may practice with the artifact.
func (a *Artifact) VisibleTo(userID string) bool {
	return a.OwnerID == nil || *a.OwnerID == userID
}

// UserProfile mirrors the slice of the external user profile the engine
// consults: whether onboarding has been completed.
type UserProfile struct {
	UpdatedAt           time.Time `json:"updated_at"`
	UserID              string    `json:"user_id"`
	OnboardingCompleted bool      `json:"onboarding_completed"`
}
