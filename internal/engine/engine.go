// Package engine implements momentum scoring: drill submission with award
// gating, artifact power tracking and the momentum read model.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"
	"gorm.io/gorm"

	gormdb "github.com/thebtf/momentum/internal/db/gorm"
	"github.com/thebtf/momentum/internal/lock"
	"github.com/thebtf/momentum/internal/scoring"
	"github.com/thebtf/momentum/pkg/models"
)

// Ledger is the append-only activity store momentum is derived from.
type Ledger interface {
	AppendActivity(ctx context.Context, tx *gorm.DB, userID string, activityType models.ActivityType, metadata map[string]string, at time.Time) (*models.ActivityRecord, error)
	GetUserActivities(ctx context.Context, tx *gorm.DB, userID string) ([]models.ActivityRecord, error)
}

// Notifier receives state-change events after they are committed.
type Notifier interface {
	Notify(ev models.Event)
}

// Engine hosts the scoring operations over a Store.
type Engine struct {
	store     *gormdb.Store
	ledger    Ledger
	sessions  *gormdb.SessionStore
	artifacts *gormdb.ArtifactStore
	scenarios *gormdb.ScenarioStore
	profiles  *gormdb.ProfileStore
	locker    lock.Locker
	notifier  Notifier
	meter     metric.Meter
	metrics   *metrics
	gate      *Gate
	power     *PowerTracker
	resolver  *ScenarioResolver
	limits    atomic.Pointer[Limits]
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker sets the per-key locker. Defaults to an in-process KeyedMutex.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithNotifier sets the event sink for committed changes.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLimits sets the initial caps.
func WithLimits(l Limits) Option {
	return func(e *Engine) {
		n := l.normalized()
		e.limits.Store(&n)
	}
}

// WithLedger replaces the activity ledger.
func WithLedger(l Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithMeter sets the OpenTelemetry meter. Defaults to the global provider.
func WithMeter(m metric.Meter) Option {
	return func(e *Engine) { e.meter = m }
}

// New creates an Engine over store.
func New(store *gormdb.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:     store,
		ledger:    gormdb.NewActivityStore(store),
		sessions:  gormdb.NewSessionStore(store),
		artifacts: gormdb.NewArtifactStore(store),
		scenarios: gormdb.NewScenarioStore(store),
		profiles:  gormdb.NewProfileStore(store),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.locker == nil {
		e.locker = lock.NewKeyedMutex()
	}
	if e.limits.Load() == nil {
		def := DefaultLimits()
		e.limits.Store(&def)
	}

	m, err := newMetrics(e.meter)
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}
	e.metrics = m
	e.gate = NewGate(e.sessions)
	e.power = NewPowerTracker(e.artifacts, e.locker, e.metrics, e.now)
	e.resolver = NewScenarioResolver(e.scenarios)
	return e, nil
}

// Limits returns the caps currently in force.
func (e *Engine) Limits() Limits {
	return *e.limits.Load()
}

// SetLimits swaps the caps used by subsequent calls.
func (e *Engine) SetLimits(l Limits) {
	n := l.normalized()
	e.limits.Store(&n)
	log.Info().
		Int("daily_cap", n.DailyMomentumCap).
		Int("max_plays", n.MaxPlaysPerArtifactPerDay).
		Int("power_delta", n.PracticePowerDelta).
		Str("timezone", n.Location.String()).
		Msg("Engine limits updated")
}

// Today returns the current calendar day in the configured timezone.
func (e *Engine) Today() string {
	return models.DayOf(e.now(), e.Limits().Location)
}

// GetMomentum derives the user's momentum from their full activity history.
// A ledger failure is reported as unavailable, never as zero momentum.
func (e *Engine) GetMomentum(ctx context.Context, userID string) (models.MomentumState, error) {
	if userID == "" {
		return models.MomentumState{}, invalid("missing_user_id", "user id is required")
	}
	return e.momentumAt(ctx, nil, userID, e.now())
}

func (e *Engine) momentumAt(ctx context.Context, tx *gorm.DB, userID string, now time.Time) (models.MomentumState, error) {
	history, err := e.ledger.GetUserActivities(ctx, tx, userID)
	if err != nil {
		return models.MomentumState{}, unavailable("ledger_unavailable", err)
	}
	return scoring.ComputeMomentum(history, now), nil
}

// RecordConversationCompleted appends one conversation_completed activity.
func (e *Engine) RecordConversationCompleted(ctx context.Context, userID string) (*models.ActivityRecord, error) {
	if userID == "" {
		return nil, invalid("missing_user_id", "user id is required")
	}

	now := e.now()
	rec, err := e.ledger.AppendActivity(ctx, nil, userID, models.ActivityConversationCompleted,
		map[string]string{models.MetaSource: models.SourceConversation}, now)
	if err != nil {
		return nil, unavailable("ledger_unavailable", err)
	}

	log.Debug().Str("user_id", userID).Msg("Conversation completed")
	e.notifyMomentum(ctx, userID, "", now)
	return rec, nil
}

// ArtifactUseInput describes a confirmed use of an artifact.
type ArtifactUseInput struct {
	ArtifactID string
	// UserID, when set, is checked against the artifact's owner and gets an
	// activity appended so decay sees the engagement.
	UserID string
	// Kind is artifact_used (default) or artifact_practiced.
	Kind  models.ActivityType
	Delta int
}

// RecordArtifactUse raises the artifact's power by Delta and returns the new
// value. Power is never gated.
func (e *Engine) RecordArtifactUse(ctx context.Context, in ArtifactUseInput) (int, error) {
	if in.ArtifactID == "" {
		return 0, invalid("missing_artifact_id", "artifact id is required")
	}
	kind := in.Kind
	if kind == "" {
		kind = models.ActivityArtifactUsed
	}
	if kind != models.ActivityArtifactUsed && kind != models.ActivityArtifactPracticed {
		return 0, invalid("invalid_activity_type", "artifact use must be %s or %s", models.ActivityArtifactUsed, models.ActivityArtifactPracticed)
	}

	if in.UserID != "" {
		if _, err := e.visibleArtifact(ctx, in.UserID, in.ArtifactID); err != nil {
			return 0, err
		}
	}

	power, err := e.power.RecordUse(ctx, in.ArtifactID, in.Delta)
	if err != nil {
		return 0, err
	}

	if in.UserID != "" {
		now := e.now()
		_, err := e.ledger.AppendActivity(ctx, nil, in.UserID, kind,
			map[string]string{models.MetaSource: models.SourceArtifact, models.MetaArtifactID: in.ArtifactID}, now)
		if err != nil {
			return 0, unavailable("ledger_unavailable", err)
		}
		e.notify(models.Event{Type: models.EventPowerUpdated, UserID: in.UserID, ArtifactID: in.ArtifactID, Power: &power, At: now})
		e.notifyMomentum(ctx, in.UserID, "", now)
	}
	return power, nil
}

// CheckEligibility previews whether a drill on the artifact would award
// momentum right now. Nothing is written.
func (e *Engine) CheckEligibility(ctx context.Context, userID, artifactID string) (models.AwardEligibility, error) {
	if userID == "" {
		return models.AwardEligibility{}, invalid("missing_user_id", "user id is required")
	}
	if artifactID == "" {
		return models.AwardEligibility{}, invalid("missing_artifact_id", "artifact id is required")
	}
	if _, err := e.visibleArtifact(ctx, userID, artifactID); err != nil {
		return models.AwardEligibility{}, err
	}

	limits := e.Limits()
	day := models.DayOf(e.now(), limits.Location)
	elig, err := e.gate.Check(ctx, nil, userID, artifactID, day, limits)
	if err != nil {
		return models.AwardEligibility{}, unavailable("gate_unavailable", err)
	}
	if elig.CanEarn {
		onboarded, err := e.onboarded(ctx, userID)
		if err != nil {
			return models.AwardEligibility{}, err
		}
		if !onboarded {
			elig.CanEarn = false
			elig.Reason = models.ReasonPtr(models.ReasonOnboardingIncomplete)
		}
	}
	return elig, nil
}

// ListDrillSessions returns the user's sessions for day (YYYY-MM-DD), or for
// today when day is empty.
func (e *Engine) ListDrillSessions(ctx context.Context, userID, day string) ([]*models.DrillSession, error) {
	if userID == "" {
		return nil, invalid("missing_user_id", "user id is required")
	}
	if day == "" {
		day = e.Today()
	} else if _, err := time.Parse(models.DayLayout, day); err != nil {
		return nil, invalid("invalid_day", "day must be YYYY-MM-DD: %v", err)
	}

	sessions, err := e.sessions.ListSessions(ctx, userID, day)
	if err != nil {
		return nil, unavailable("sessions_unavailable", err)
	}
	return sessions, nil
}

// visibleArtifact loads the artifact and checks userID may use it.
func (e *Engine) visibleArtifact(ctx context.Context, userID, artifactID string) (*models.Artifact, error) {
	a, err := e.artifacts.GetArtifact(ctx, nil, artifactID)
	if err != nil {
		return nil, unavailable("artifact_unavailable", err)
	}
	if a == nil {
		return nil, newError(KindNotFound, "artifact_not_found", fmt.Errorf("artifact %s", artifactID))
	}
	if !a.VisibleTo(userID) {
		return nil, newError(KindUnauthorized, "artifact_forbidden", fmt.Errorf("artifact %s belongs to another user", artifactID))
	}
	return a, nil
}

// onboarded reports whether the user finished onboarding. A missing profile
// counts as not onboarded.
func (e *Engine) onboarded(ctx context.Context, userID string) (bool, error) {
	p, err := e.profiles.GetProfile(ctx, userID)
	if err != nil {
		return false, unavailable("profile_unavailable", err)
	}
	return p != nil && p.OnboardingCompleted, nil
}

func (e *Engine) notify(ev models.Event) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ev)
}

// notifyMomentum pushes the user's current momentum. Read failures are
// logged and dropped; the write they follow has already committed.
func (e *Engine) notifyMomentum(ctx context.Context, userID, sessionID string, now time.Time) {
	if e.notifier == nil {
		return
	}
	state, err := e.momentumAt(ctx, nil, userID, now)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to read momentum for notification")
		return
	}
	e.notify(models.Event{Type: models.EventMomentumUpdated, UserID: userID, SessionID: sessionID, Momentum: &state, At: now})
}
