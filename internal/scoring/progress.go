// Package scoring provides the pure calculators behind momentum: tiered
// accrual with elapsed-time decay, drill scoring and milestone detection.
package scoring

import (
	"math"
	"time"

	"github.com/thebtf/momentum/pkg/models"
)

// Accrual tiers over the number of completed conversations.
const (
	firstTierEvents  = 3
	firstTierPoints  = 10
	secondTierEvents = 7
	secondTierPoints = 5
	tailPoints       = 2
)

// Decay parameters.
const (
	DecayStep       = 24 * time.Hour
	DecayPerStep    = 5
	MaxProgress     = 100.0
	minimumProgress = 0.0
)

// BaseProgress returns the accrued progress for n conversation_completed
// events before decay. It is not capped; ComputeMomentum clamps the result.
func BaseProgress(n int) float64 {
	if n <= 0 {
		return 0
	}
	first := min(n, firstTierEvents)
	second := min(max(n-firstTierEvents, 0), secondTierEvents)
	tail := max(n-firstTierEvents-secondTierEvents, 0)
	return float64(first*firstTierPoints + second*secondTierPoints + tail*tailPoints)
}

// AccrualIncrement is the progress the (n+1)th conversation adds on top of n.
func AccrualIncrement(n int) int {
	return int(BaseProgress(n+1) - BaseProgress(n))
}

// DecayFor returns the decay for the time elapsed since the last activity.
// Under one full day there is no decay; afterwards it drops in 24h steps.
func DecayFor(elapsed time.Duration) float64 {
	if elapsed < DecayStep {
		return 0
	}
	steps := math.Floor(elapsed.Hours() / DecayStep.Hours())
	return steps * DecayPerStep
}

// ComputeMomentum derives the momentum view from a user's full activity
// history at the given instant. History order does not matter.
func ComputeMomentum(history []models.ActivityRecord, now time.Time) models.MomentumState {
	var state models.MomentumState
	if len(history) == 0 {
		return state
	}

	var last time.Time
	for i := range history {
		rec := &history[i]
		if rec.Type == models.ActivityConversationCompleted {
			state.ActivityCount++
		}
		if rec.CreatedAt.After(last) {
			last = rec.CreatedAt
		}
	}

	lastCopy := last
	state.LastActivityAt = &lastCopy
	state.BaseProgress = BaseProgress(state.ActivityCount)
	state.Decay = DecayFor(now.Sub(last))
	state.Progress = Clamp(state.BaseProgress - state.Decay)
	return state
}

// Clamp bounds v to [0, 100].
func Clamp(v float64) float64 {
	return math.Min(MaxProgress, math.Max(minimumProgress, v))
}
