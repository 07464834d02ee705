package engine

import (
	"time"
)

// Limits are the tunable caps the engine enforces. They can be swapped at
// runtime with Engine.SetLimits.
type Limits struct {
	Location                  *time.Location
	DailyMomentumCap          int
	MaxPlaysPerArtifactPerDay int
	PracticePowerDelta        int
}

// DefaultLimits returns the platform defaults.
func DefaultLimits() Limits {
	return Limits{
		Location:                  time.UTC,
		DailyMomentumCap:          30,
		MaxPlaysPerArtifactPerDay: 3,
		PracticePowerDelta:        5,
	}
}

func (l Limits) normalized() Limits {
	def := DefaultLimits()
	if l.Location == nil {
		l.Location = def.Location
	}
	if l.DailyMomentumCap <= 0 {
		l.DailyMomentumCap = def.DailyMomentumCap
	}
	if l.MaxPlaysPerArtifactPerDay <= 0 {
		l.MaxPlaysPerArtifactPerDay = def.MaxPlaysPerArtifactPerDay
	}
	if l.PracticePowerDelta < 0 {
		l.PracticePowerDelta = def.PracticePowerDelta
	}
	return l
}
