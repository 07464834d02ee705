package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	gormdb "github.com/thebtf/momentum/internal/db/gorm"
	"github.com/thebtf/momentum/internal/scoring"
	"github.com/thebtf/momentum/pkg/models"
)

// maxInsertAttempts bounds recount-and-retry after losing a play-number race
// to another process.
const maxInsertAttempts = 3

// sessionNamespace seeds deterministic session IDs for submissions that
// carry none.
var sessionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://momentum/drill-session"))

// SubmitDrillInput is one completed drill as sent by the client.
type SubmitDrillInput struct {
	// SessionID makes the submission idempotent. When empty an ID is derived
	// from (user, artifact, scenario ids, day).
	SessionID   string
	UserID      string
	ArtifactID  string
	ScenarioIDs []string
	Answers     []int
	IsFirstPlay bool
}

// DrillResult is the outcome of a drill submission.
type DrillResult struct {
	Milestone        *int                     `json:"milestone"`
	NoMomentumReason *models.NoMomentumReason `json:"no_momentum_reason"`
	ArtifactPower    *int                     `json:"artifact_power,omitempty"`
	SessionID        string                   `json:"session_id"`
	Score            int                      `json:"score"`
	MomentumAwarded  int                      `json:"momentum_awarded"`
	PlayNumber       int                      `json:"play_number"`
	PreviousMomentum float64                  `json:"previous_momentum"`
	NewMomentum      float64                  `json:"new_momentum"`
	Replayed         bool                     `json:"replayed"`
}

// SubmitDrillSession scores a drill, gates the award, records the session
// and reports the momentum change. Submitting the same session ID twice
// returns the stored outcome without applying anything again.
func (e *Engine) SubmitDrillSession(ctx context.Context, in SubmitDrillInput) (*DrillResult, error) {
	if err := validateSubmission(&in); err != nil {
		return nil, err
	}

	var (
		artifact  *models.Artifact
		onboarded bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		artifact, err = e.visibleArtifact(gctx, in.UserID, in.ArtifactID)
		return err
	})
	g.Go(func() error {
		var err error
		onboarded, err = e.onboarded(gctx, in.UserID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resolved, err := e.resolver.Resolve(ctx, artifact, in.UserID, in.ScenarioIDs)
	if err != nil {
		return nil, err
	}

	limits := e.Limits()
	now := e.now()
	day := models.DayOf(now, limits.Location)

	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = naturalSessionID(in.UserID, in.ArtifactID, resolved, day)
	}

	if existing, err := e.existingSession(ctx, nil, sessionID, in.UserID, in.ArtifactID); err != nil || existing != nil {
		if err != nil {
			return nil, err
		}
		return e.replay(ctx, existing), nil
	}

	score := scoring.ScoreDrill(resolved.Scenarios, in.Answers)

	unlock, err := e.locker.Lock(ctx, "drill:"+in.UserID)
	if err != nil {
		return nil, unavailable("lock_unavailable", err)
	}
	defer unlock()

	var (
		sess     *models.DrillSession
		replayed *models.DrillSession
	)
	for attempt := 1; ; attempt++ {
		sess, replayed, err = e.recordSession(ctx, recordParams{
			in:        in,
			sessionID: sessionID,
			resolved:  resolved,
			score:     score,
			onboarded: onboarded,
			limits:    limits,
			day:       day,
			now:       now,
		})
		if err == nil || !gormdb.IsDuplicateKey(err) || attempt == maxInsertAttempts {
			break
		}
		log.Debug().
			Err(err).
			Str("user_id", in.UserID).
			Str("artifact_id", in.ArtifactID).
			Int("attempt", attempt).
			Msg("Drill session insert raced, recounting")
	}
	if err != nil {
		if gormdb.IsDuplicateKey(err) {
			// Another writer may have stored this very session
			if existing, lookupErr := e.existingSession(ctx, nil, sessionID, in.UserID, in.ArtifactID); lookupErr == nil && existing != nil {
				return e.replay(ctx, existing), nil
			}
			return nil, newError(KindConflict, "concurrent_submission", err)
		}
		return nil, err
	}
	if replayed != nil {
		return e.replay(ctx, replayed), nil
	}

	e.metrics.sessionRecorded(ctx, sess.MomentumAwarded, sess.NoMomentumReason)
	logEvent := log.Debug().
		Str("user_id", in.UserID).
		Str("artifact_id", in.ArtifactID).
		Str("session_id", sessionID).
		Int("score", score).
		Int("play", sess.PlayNumber).
		Int("awarded", sess.MomentumAwarded)
	if sess.NoMomentumReason != nil {
		logEvent = logEvent.Str("reason", string(*sess.NoMomentumReason))
	}
	logEvent.Msg("Drill session recorded")

	result := resultFromSession(sess)

	// Power is tracked independently; a failure here never fails the drill
	if power, err := e.power.RecordUse(ctx, in.ArtifactID, limits.PracticePowerDelta); err != nil {
		log.Warn().Err(err).Str("artifact_id", in.ArtifactID).Msg("Failed to update artifact power after drill")
	} else {
		result.ArtifactPower = &power
	}

	if sess.NewMomentum != sess.PreviousMomentum {
		state := models.MomentumState{Progress: sess.NewMomentum}
		if fresh, err := e.momentumAt(ctx, nil, in.UserID, now); err == nil {
			state = fresh
		}
		e.notify(models.Event{Type: models.EventMomentumUpdated, UserID: in.UserID, SessionID: sessionID, Momentum: &state, At: now})
	}
	if sess.Milestone != nil {
		e.notify(models.Event{Type: models.EventMilestoneReached, UserID: in.UserID, SessionID: sessionID, Milestone: sess.Milestone, At: now})
	}
	return result, nil
}

type recordParams struct {
	now       time.Time
	resolved  *resolvedScenarios
	limits    Limits
	in        SubmitDrillInput
	sessionID string
	day       string
	score     int
	onboarded bool
}

// recordSession runs gate, momentum read and inserts in one transaction.
// It returns the stored session, or the already-stored one when sessionID
// turned out to exist.
func (e *Engine) recordSession(ctx context.Context, p recordParams) (*models.DrillSession, *models.DrillSession, error) {
	var (
		sess     *models.DrillSession
		existing *models.DrillSession
	)

	err := e.store.Transaction(ctx, func(tx *gorm.DB) error {
		var err error
		existing, err = e.existingSession(ctx, tx, p.sessionID, p.in.UserID, p.in.ArtifactID)
		if err != nil || existing != nil {
			return err
		}

		elig, err := e.gate.Check(ctx, tx, p.in.UserID, p.in.ArtifactID, p.day, p.limits)
		if err != nil {
			return unavailable("gate_unavailable", err)
		}

		history, err := e.ledger.GetUserActivities(ctx, tx, p.in.UserID)
		if err != nil {
			return unavailable("ledger_unavailable", err)
		}
		prev := scoring.ComputeMomentum(history, p.now)

		firstPlay := p.in.IsFirstPlay
		if !firstPlay {
			played, err := e.sessions.HasPlayed(ctx, tx, p.in.UserID, p.in.ArtifactID)
			if err != nil {
				return unavailable("sessions_unavailable", err)
			}
			firstPlay = !played
		}

		sess = &models.DrillSession{
			SessionID:        p.sessionID,
			UserID:           p.in.UserID,
			ArtifactID:       p.in.ArtifactID,
			Day:              p.day,
			PlayNumber:       elig.PlaysToday + 1,
			Source:           p.resolved.Source,
			ScenarioIDs:      p.resolved.StoredIDs,
			Answers:          p.in.Answers,
			Score:            p.score,
			IsFirstPlay:      firstPlay,
			PreviousMomentum: prev.Progress,
			NewMomentum:      prev.Progress,
			NoMomentumReason: elig.Reason,
			CreatedAt:        p.now,
		}

		switch {
		case !elig.CanEarn:
		case !p.onboarded:
			sess.NoMomentumReason = models.ReasonPtr(models.ReasonOnboardingIncomplete)
		default:
			// The award is the nominal tier increment even when progress is
			// already clamped; the extra base absorbs later decay.
			rec, err := e.ledger.AppendActivity(ctx, tx, p.in.UserID, models.ActivityConversationCompleted,
				map[string]string{models.MetaSource: models.SourceDrill, models.MetaSessionID: p.sessionID}, p.now)
			if err != nil {
				return unavailable("ledger_unavailable", err)
			}
			history = append(history, *rec)
			sess.MomentumAwarded = scoring.AccrualIncrement(prev.ActivityCount)
		}

		// Every drill is practice, awarded or not, so it resets decay
		practiced, err := e.ledger.AppendActivity(ctx, tx, p.in.UserID, models.ActivityArtifactPracticed,
			map[string]string{
				models.MetaSource:     models.SourceDrill,
				models.MetaSessionID:  p.sessionID,
				models.MetaArtifactID: p.in.ArtifactID,
			}, p.now)
		if err != nil {
			return unavailable("ledger_unavailable", err)
		}
		next := scoring.ComputeMomentum(append(history, *practiced), p.now)
		sess.NewMomentum = next.Progress
		sess.Milestone = scoring.DetectMilestone(prev.Progress, next.Progress)

		return e.sessions.InsertSession(ctx, tx, sess)
	})
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, existing, nil
	}
	return sess, nil, nil
}

// existingSession looks up a stored session and checks it belongs to userID
// and was recorded for artifactID.
func (e *Engine) existingSession(ctx context.Context, tx *gorm.DB, sessionID, userID, artifactID string) (*models.DrillSession, error) {
	existing, err := e.sessions.GetSession(ctx, tx, sessionID)
	if err != nil {
		return nil, unavailable("sessions_unavailable", err)
	}
	if existing == nil {
		return nil, nil
	}
	if existing.UserID != userID {
		return nil, newError(KindUnauthorized, "session_forbidden", fmt.Errorf("session %s belongs to another user", sessionID))
	}
	if existing.ArtifactID != artifactID {
		return nil, newError(KindConflict, "session_artifact_mismatch", fmt.Errorf("session %s was recorded for artifact %s", sessionID, existing.ArtifactID))
	}
	return existing, nil
}

// replay rebuilds the response of an already-recorded session.
func (e *Engine) replay(ctx context.Context, sess *models.DrillSession) *DrillResult {
	res := resultFromSession(sess)
	res.Replayed = true
	if a, err := e.artifacts.GetArtifact(ctx, nil, sess.ArtifactID); err == nil && a != nil {
		res.ArtifactPower = &a.Power
	}
	log.Debug().Str("session_id", sess.SessionID).Str("user_id", sess.UserID).Msg("Drill session replayed")
	return res
}

func resultFromSession(sess *models.DrillSession) *DrillResult {
	return &DrillResult{
		SessionID:        sess.SessionID,
		Score:            sess.Score,
		MomentumAwarded:  sess.MomentumAwarded,
		PlayNumber:       sess.PlayNumber,
		PreviousMomentum: sess.PreviousMomentum,
		NewMomentum:      sess.NewMomentum,
		Milestone:        sess.Milestone,
		NoMomentumReason: sess.NoMomentumReason,
	}
}

// naturalSessionID derives a stable ID so a retried submission without a
// client ID maps to the same session.
func naturalSessionID(userID, artifactID string, resolved *resolvedScenarios, day string) string {
	ids := slices.Clone(resolved.StoredIDs)
	if resolved.Source.Kind == models.SourceBuiltIn {
		ids = []string{resolved.Source.CatalogKey}
	}
	slices.Sort(ids)
	name := strings.Join([]string{userID, artifactID, strings.Join(ids, ","), day}, "|")
	return uuid.NewSHA1(sessionNamespace, []byte(name)).String()
}

func validateSubmission(in *SubmitDrillInput) error {
	if in.UserID == "" {
		return invalid("missing_user_id", "user id is required")
	}
	if in.ArtifactID == "" {
		return invalid("missing_artifact_id", "artifact id is required")
	}
	if len(in.SessionID) > 64 {
		return invalid("invalid_session_id", "session id must be at most 64 characters")
	}
	if len(in.Answers) != models.DrillSize {
		return invalid("invalid_answers", "expected %d answers, got %d", models.DrillSize, len(in.Answers))
	}
	for i, a := range in.Answers {
		if a < 0 || a >= models.OptionsPerScenario {
			return invalid("invalid_answers", "answer %d out of range: %d", i, a)
		}
	}
	return nil
}
