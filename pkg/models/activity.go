// Package models contains domain models for momentum.
package models

import "time"

// ActivityType identifies the kind of qualifying user action in the ledger.
type ActivityType string

const (
	ActivityConversationCompleted ActivityType = "conversation_completed"
	ActivityArtifactPracticed     ActivityType = "artifact_practiced"
	ActivityArtifactUsed          ActivityType = "artifact_used"
)

// AllActivityTypes lists every activity type accepted by the ledger.
var AllActivityTypes = []ActivityType{
	ActivityConversationCompleted,
	ActivityArtifactPracticed,
	ActivityArtifactUsed,
}

// Valid reports whether t is a known activity type.
func (t ActivityType) Valid() bool {
	for _, known := range AllActivityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ActivityRecord is an immutable, append-only fact about a user action.
type ActivityRecord struct {
	Metadata  JSONStringMap `json:"metadata,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UserID    string        `json:"user_id"`
	Type      ActivityType  `json:"activity_type"`
	ID        int64         `json:"id"`
}

// Metadata keys written by the engine.
const (
	MetaSource     = "source"
	MetaSessionID  = "session_id"
	MetaArtifactID = "artifact_id"

	SourceDrill        = "drill"
	SourceConversation = "conversation"
	SourceArtifact     = "artifact"
)

// MomentumState is the derived momentum view for one user. It is recomputed
// from the full activity history on every read and never stored.
type MomentumState struct {
	LastActivityAt *time.Time `json:"last_activity_at"`
	Progress       float64    `json:"progress"`
	BaseProgress   float64    `json:"base_progress"`
	Decay          float64    `json:"decay"`
	ActivityCount  int        `json:"activity_count"`
}
