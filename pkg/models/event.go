package models

import "time"

// EventType names a push notification sent to connected clients.
type EventType string

const (
	EventMomentumUpdated  EventType = "momentum_updated"
	EventMilestoneReached EventType = "milestone_reached"
	EventPowerUpdated     EventType = "power_updated"
)

// Event is a state change pushed to a single user's listeners.
type Event struct {
	Momentum   *MomentumState `json:"momentum,omitempty"`
	Milestone  *int           `json:"milestone,omitempty"`
	Power      *int           `json:"power,omitempty"`
	At         time.Time      `json:"at"`
	Type       EventType      `json:"type"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id,omitempty"`
	ArtifactID string         `json:"artifact_id,omitempty"`
}
