package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/thebtf/momentum/internal/lock"
)

// powerStore is the slice of the artifact store the tracker writes.
type powerStore interface {
	AddPower(ctx context.Context, id string, delta int, now time.Time) (int, error)
}

// PowerTracker maintains the saturating per-artifact power counter. Power
// never decays and is not gated; every confirmed use raises it.
type PowerTracker struct {
	store   powerStore
	locker  lock.Locker
	metrics *metrics
	now     func() time.Time
}

// NewPowerTracker creates a tracker serializing updates per artifact.
func NewPowerTracker(store powerStore, locker lock.Locker, m *metrics, now func() time.Time) *PowerTracker {
	if now == nil {
		now = time.Now
	}
	return &PowerTracker{store: store, locker: locker, metrics: m, now: now}
}

// RecordUse adds delta to the artifact's power, capped at 100, and returns
// the new value.
func (p *PowerTracker) RecordUse(ctx context.Context, artifactID string, delta int) (int, error) {
	if artifactID == "" {
		return 0, invalid("missing_artifact_id", "artifact id is required")
	}
	if delta < 0 {
		return 0, invalid("invalid_delta", "power delta must not be negative, got %d", delta)
	}

	unlock, err := p.locker.Lock(ctx, "power:"+artifactID)
	if err != nil {
		return 0, unavailable("lock_unavailable", err)
	}
	defer unlock()

	power, err := p.store.AddPower(ctx, artifactID, delta, p.now())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, newError(KindNotFound, "artifact_not_found", err)
	}
	if err != nil {
		return 0, unavailable("power_update_failed", err)
	}

	p.metrics.powerUpdated(ctx)
	log.Debug().
		Str("artifact_id", artifactID).
		Int("delta", delta).
		Int("power", power).
		Msg("Artifact power updated")
	return power, nil
}
