package engine

import (
	"context"

	"gorm.io/gorm"

	"github.com/thebtf/momentum/pkg/models"
)

// playCounter is the slice of the session store the gate reads.
type playCounter interface {
	CountPlays(ctx context.Context, tx *gorm.DB, userID, artifactID, day string) (int, error)
	SumAwarded(ctx context.Context, tx *gorm.DB, userID, day string) (int, error)
}

// Gate decides whether a drill may move momentum. It counts existing rows,
// so callers that act on the verdict must hold the user's lock and use the
// same transaction for the count and the insert.
type Gate struct {
	sessions playCounter
}

// NewGate creates a gate over the given session counts.
func NewGate(sessions playCounter) *Gate {
	return &Gate{sessions: sessions}
}

// Check evaluates the per-artifact play limit first and the per-user daily
// cap second. At most one reason is reported. Any counting error is returned
// as-is; the caller must treat it as a denial.
func (g *Gate) Check(ctx context.Context, tx *gorm.DB, userID, artifactID, day string, limits Limits) (models.AwardEligibility, error) {
	elig := models.AwardEligibility{DailyCap: limits.DailyMomentumCap}

	plays, err := g.sessions.CountPlays(ctx, tx, userID, artifactID, day)
	if err != nil {
		return elig, err
	}
	awarded, err := g.sessions.SumAwarded(ctx, tx, userID, day)
	if err != nil {
		return elig, err
	}

	elig.PlaysToday = plays
	elig.PlaysRemaining = max(limits.MaxPlaysPerArtifactPerDay-plays, 0)
	elig.AwardedToday = awarded

	switch {
	case plays >= limits.MaxPlaysPerArtifactPerDay:
		elig.Reason = models.ReasonPtr(models.ReasonDailyCodeLimit)
	case awarded >= limits.DailyMomentumCap:
		elig.Reason = models.ReasonPtr(models.ReasonDailyCap)
	default:
		elig.CanEarn = true
	}
	return elig, nil
}
