package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	gormdb "github.com/thebtf/momentum/internal/db/gorm"
	"github.com/thebtf/momentum/pkg/models"
)

// testClock is a settable time source.
type testClock struct {
	now time.Time
	mu  sync.Mutex
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// eventRecorder collects notifications.
type eventRecorder struct {
	events []models.Event
	mu     sync.Mutex
}

func (r *eventRecorder) Notify(ev models.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) ofType(t models.EventType) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// failingLedger fails every read and write.
type failingLedger struct{}

var errLedgerDown = errors.New("ledger down")

func (failingLedger) AppendActivity(context.Context, *gorm.DB, string, models.ActivityType, map[string]string, time.Time) (*models.ActivityRecord, error) {
	return nil, errLedgerDown
}

func (failingLedger) GetUserActivities(context.Context, *gorm.DB, string) ([]models.ActivityRecord, error) {
	return nil, errLedgerDown
}

func newTestStore(t *testing.T) *gormdb.Store {
	t.Helper()
	store, err := gormdb.NewStore(gormdb.Config{
		Path:     filepath.Join(t.TempDir(), "engine.db"),
		MaxConns: 4,
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// EngineSuite runs the engine against a real SQLite store.
type EngineSuite struct {
	suite.Suite
	ctx    context.Context
	store  *gormdb.Store
	engine *Engine
	clock  *testClock
	events *eventRecorder
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = newTestStore(s.T())
	s.clock = &testClock{now: time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)}
	s.events = &eventRecorder{}

	eng, err := New(s.store, WithClock(s.clock.Now), WithNotifier(s.events))
	s.Require().NoError(err)
	s.engine = eng
}

func strPtr(v string) *string { return &v }

func drillOptions() []models.Option {
	return []models.Option{
		{Text: "spiral", Category: models.CategoryNegative, Feedback: "no"},
		{Text: "pause", Category: models.CategoryOptimal, Feedback: "yes"},
		{Text: "notice", Category: models.CategoryHelpful, Feedback: "close"},
		{Text: "avoid", Category: models.CategoryNegative, Feedback: "no"},
	}
}

// seedArtifact creates an artifact owned by userID with three scenarios and
// returns the scenario IDs. Option 1 is optimal on every scenario.
func (s *EngineSuite) seedArtifact(userID, artifactID string) []string {
	_, err := s.engine.CreateArtifact(s.ctx, CreateArtifactInput{ID: artifactID, OwnerID: strPtr(userID), Title: "Pause and name it"})
	s.Require().NoError(err)

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		sc, err := s.engine.CreateScenario(s.ctx, CreateScenarioInput{
			ID:         fmt.Sprintf("%s-sc%d", artifactID, i),
			UserID:     userID,
			ArtifactID: artifactID,
			Situation:  "situation",
			Options:    drillOptions(),
		})
		s.Require().NoError(err)
		ids = append(ids, sc.ID)
	}
	return ids
}

func (s *EngineSuite) onboard(userID string) {
	_, err := s.engine.UpsertProfile(s.ctx, userID, true)
	s.Require().NoError(err)
}

func (s *EngineSuite) submit(userID, artifactID, sessionID string, scenarioIDs []string, answers []int) *DrillResult {
	res, err := s.engine.SubmitDrillSession(s.ctx, SubmitDrillInput{
		SessionID:   sessionID,
		UserID:      userID,
		ArtifactID:  artifactID,
		ScenarioIDs: scenarioIDs,
		Answers:     answers,
	})
	s.Require().NoError(err)
	return res
}

func (s *EngineSuite) TestEndToEndFirstDrill() {
	ids := s.seedArtifact("u1", "a1")
	s.onboard("u1")

	res := s.submit("u1", "a1", "", ids, []int{1, 1, 0})

	s.Equal(2, res.Score)
	s.Equal(10, res.MomentumAwarded)
	s.Equal(0.0, res.PreviousMomentum)
	s.Equal(10.0, res.NewMomentum)
	s.Nil(res.Milestone)
	s.Nil(res.NoMomentumReason)
	s.Equal(1, res.PlayNumber)
	s.False(res.Replayed)
	s.Require().NotNil(res.ArtifactPower)
	s.Equal(5, *res.ArtifactPower)
	s.NotEmpty(res.SessionID)

	state, err := s.engine.GetMomentum(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(10.0, state.Progress)
	s.Equal(1, state.ActivityCount)

	sessions, err := s.engine.ListDrillSessions(s.ctx, "u1", "")
	s.Require().NoError(err)
	s.Require().Len(sessions, 1)
	s.True(sessions[0].IsFirstPlay)
	s.Equal(models.Persisted(), sessions[0].Source)
	s.Equal(ids, sessions[0].ScenarioIDs)

	s.Len(s.events.ofType(models.EventMomentumUpdated), 1)
}

func (s *EngineSuite) TestFourthPlayHitsCodeLimit() {
	ids := s.seedArtifact("u1", "a1")
	s.onboard("u1")
	s.engine.SetLimits(Limits{DailyMomentumCap: 100, MaxPlaysPerArtifactPerDay: 3, PracticePowerDelta: 5})

	for i := 1; i <= 3; i++ {
		res := s.submit("u1", "a1", fmt.Sprintf("play-%d", i), ids, []int{0, 0, 0})
		s.Equal(10, res.MomentumAwarded, "play %d", i)
		s.Equal(i, res.PlayNumber)
	}

	res := s.submit("u1", "a1", "play-4", ids, []int{1, 1, 1})
	s.Equal(3, res.Score)
	s.Equal(0, res.MomentumAwarded)
	s.Require().NotNil(res.NoMomentumReason)
	s.Equal(models.ReasonDailyCodeLimit, *res.NoMomentumReason)
	s.Equal(res.PreviousMomentum, res.NewMomentum)
	s.Equal(4, res.PlayNumber)

	sessions, err := s.engine.ListDrillSessions(s.ctx, "u1", "")
	s.Require().NoError(err)
	s.Len(sessions, 4)
}

func (s *EngineSuite) TestCodeLimitReportedBeforeDailyCap() {
	ids := s.seedArtifact("u1", "a1")
	s.onboard("u1")

	for i := 1; i <= 3; i++ {
		s.submit("u1", "a1", fmt.Sprintf("play-%d", i), ids, []int{0, 0, 0})
	}
	res := s.submit("u1", "a1", "play-4", ids, []int{0, 0, 0})
	s.Require().NotNil(res.NoMomentumReason)
	s.Equal(models.ReasonDailyCodeLimit, *res.NoMomentumReason)
}

func (s *EngineSuite) TestDailyCapAcrossArtifacts() {
	idsA := s.seedArtifact("u1", "a1")
	idsB := s.seedArtifact("u1", "a2")
	s.onboard("u1")

	for i := 1; i <= 3; i++ {
		res := s.submit("u1", "a1", fmt.Sprintf("a-%d", i), idsA, []int{1, 1, 1})
		s.Equal(10, res.MomentumAwarded)
	}

	res := s.submit("u1", "a2", "b-1", idsB, []int{1, 1, 1})
	s.Equal(0, res.MomentumAwarded)
	s.Require().NotNil(res.NoMomentumReason)
	s.Equal(models.ReasonDailyCap, *res.NoMomentumReason)

	elig, err := s.engine.CheckEligibility(s.ctx, "u1", "a2")
	s.Require().NoError(err)
	s.False(elig.CanEarn)
	s.Equal(30, elig.AwardedToday)
	s.Equal(1, elig.PlaysToday)
	s.Equal(2, elig.PlaysRemaining)
}

func (s *EngineSuite) TestNewDayResetsGate() {
	ids := s.seedArtifact("u1", "a1")
	s.onboard("u1")

	for i := 1; i <= 3; i++ {
		s.submit("u1", "a1", fmt.Sprintf("d1-%d", i), ids, []int{1, 1, 1})
	}
	s.clock.Advance(24 * time.Hour)

	res := s.submit("u1", "a1", "d2-1", ids, []int{1, 1, 1})
	s.Equal(1, res.PlayNumber)
	s.Equal(5, res.MomentumAwarded)
	s.Nil(res.NoMomentumReason)
}

func (s *EngineSuite) TestResubmissionIsIdempotent() {
	ids := s.seedArtifact("u1", "a1")
	s.onboard("u1")

	first := s.submit("u1", "a1", "same", ids, []int{1, 0, 0})
	second := s.submit("u1", "a1", "same", ids, []int{1, 1, 1})

	s.True(second.Replayed)
	s.Equal(first.SessionID, second.SessionID)
	s.Equal(first.Score, second.Score)
	s.Equal(first.MomentumAwarded, second.MomentumAwarded)
	s.Equal(first.NewMomentum, second.NewMomentum)

	state, err := s.engine.GetMomentum(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(10.0, state.Progress)
	s.Equal(1, state.ActivityCount)
}

func (s *EngineSuite) TestNaturalKeyWithoutSessionID() {
	ids := s.seedArtifact("u1", "a1")
	s.onboard("u1")

	first := s.submit("u1", "a1", "", ids, []int{1, 1, 1})
	reordered := []string{ids[2], ids[0], ids[1]}
	second := s.submit("u1", "a1", "", reordered, []int{1, 1, 1})

	s.Equal(first.SessionID, second.SessionID)
	s.True(second.Replayed)

	s.clock.Advance(24 * time.Hour)
	third := s.submit("u1", "a1", "", ids, []int{1, 1, 1})
	s.NotEqual(first.SessionID, third.SessionID)
	s.False(third.Replayed)
}

func (s *EngineSuite) TestSessionOwnedByAnotherUser() {
	_, err := s.engine.CreateArtifact(s.ctx, CreateArtifactInput{ID: "pub", Title: "Shared intro", OnboardingScenario: true})
	s.Require().NoError(err)
	s.submit("u1", "pub", "taken-id", nil, []int{0, 0, 0})

	_, err = s.engine.SubmitDrillSession(s.ctx, SubmitDrillInput{
		SessionID:  "taken-id",
		UserID:     "u2",
		ArtifactID: "pub",
		Answers:    []int{0, 0, 0},
	})
	s.True(IsKind(err, KindUnauthorized), "got %v", err)
	s.Equal("session_forbidden", CodeOf(err))
}

func (s *EngineSuite) TestOnboardingIncompleteNeverAwards() {
	ids := s.seedArtifact("u1", "a1")

	res := s.submit("u1", "a1", "", ids, []int{1, 1, 1})
	s.Equal(3, res.Score)
	s.Equal(0, res.MomentumAwarded)
	s.Require().NotNil(res.NoMomentumReason)
	s.Equal(models.ReasonOnboardingIncomplete, *res.NoMomentumReason)

	state, err := s.engine.GetMomentum(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(0.0, state.Progress)

	elig, err := s.engine.CheckEligibility(s.ctx, "u1", "a1")
	s.Require().NoError(err)
	s.False(elig.CanEarn)
	s.Equal(models.ReasonOnboardingIncomplete, *elig.Reason)
}

func (s *EngineSuite) TestBuiltInOnboardingDrill() {
	_, err := s.engine.CreateArtifact(s.ctx, CreateArtifactInput{ID: "intro", Title: "Meet your coach", OnboardingScenario: true})
	s.Require().NoError(err)

	scenarios, source, err := s.engine.ListScenarios(s.ctx, "u1", "intro")
	s.Require().NoError(err)
	s.Equal(models.BuiltIn("onboarding"), source)
	s.Require().Len(scenarios, 3)

	answers := make([]int, 3)
	for i, sc := range scenarios {
		for j, o := range sc.Options {
			if o.Category == models.CategoryOptimal {
				answers[i] = j
			}
		}
	}

	res := s.submit("u1", "intro", "", nil, answers)
	s.Equal(3, res.Score)
	s.Equal(models.ReasonOnboardingIncomplete, *res.NoMomentumReason)

	sessions, err := s.engine.ListDrillSessions(s.ctx, "u1", "")
	s.Require().NoError(err)
	s.Require().Len(sessions, 1)
	s.Empty(sessions[0].ScenarioIDs)
	s.Equal(models.BuiltIn("onboarding"), sessions[0].Source)

	_, err = s.engine.CreateScenario(s.ctx, CreateScenarioInput{UserID: "u1", ArtifactID: "intro", Situation: "x", Options: drillOptions()})
	s.True(IsKind(err, KindUnauthorized), "got %v", err)

	_, err = s.engine.CreateScenario(s.ctx, CreateScenarioInput{Shared: true, ArtifactID: "intro", Situation: "x", Options: drillOptions()})
	s.True(IsKind(err, KindInvalid), "got %v", err)
	s.Equal("builtin_catalog", CodeOf(err))
}

func (s *EngineSuite) TestScenarioOwnership() {
	s.seedArtifact("u1", "a1")
	_, err := s.engine.CreateArtifact(s.ctx, CreateArtifactInput{ID: "pub", Title: "Premade"})
	s.Require().NoError(err)

	tests := []struct {
		name string
		in   CreateScenarioInput
		kind Kind
		code string
	}{
		{"user creates shared scenario", CreateScenarioInput{UserID: "u2", ArtifactID: "pub", Shared: true}, KindUnauthorized, "shared_forbidden"},
		{"user adds to premade artifact", CreateScenarioInput{UserID: "u2", ArtifactID: "pub"}, KindUnauthorized, "artifact_not_owned"},
		{"user adds to foreign artifact", CreateScenarioInput{UserID: "u2", ArtifactID: "a1"}, KindUnauthorized, "artifact_forbidden"},
		{"seed onto owned artifact", CreateScenarioInput{ArtifactID: "a1", Shared: true}, KindUnauthorized, "artifact_forbidden"},
		{"no user and not shared", CreateScenarioInput{ArtifactID: "pub"}, KindInvalid, "missing_user_id"},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			tt.in.Situation = "s"
			tt.in.Options = drillOptions()
			_, err := s.engine.CreateScenario(s.ctx, tt.in)
			s.True(IsKind(err, tt.kind), "got %v", err)
			s.Equal(tt.code, CodeOf(err))
		})
	}

	seeded, err := s.engine.CreateScenario(s.ctx, CreateScenarioInput{ArtifactID: "pub", Shared: true, Situation: "s", Options: drillOptions()})
	s.Require().NoError(err)
	s.Nil(seeded.OwnerID)

	visible, _, err := s.engine.ListScenarios(s.ctx, "u2", "pub")
	s.Require().NoError(err)
	s.Len(visible, 1)
}

func (s *EngineSuite) TestMilestoneCrossing() {
	ids := s.seedArtifact("u1", "a1")
	s.onboard("u1")
	for i := 0; i < 2; i++ {
		_, err := s.engine.RecordConversationCompleted(s.ctx, "u1")
		s.Require().NoError(err)
	}

	res := s.submit("u1", "a1", "", ids, []int{1, 1, 1})
	s.Equal(20.0, res.PreviousMomentum)
	s.Equal(30.0, res.NewMomentum)
	s.Require().NotNil(res.Milestone)
	s.Equal(25, *res.Milestone)

	milestones := s.events.ofType(models.EventMilestoneReached)
	s.Require().Len(milestones, 1)
	s.Equal(25, *milestones[0].Milestone)
}

func (s *EngineSuite) TestTieredAwardsAfterManyConversations() {
	ids := s.seedArtifact("u1", "a1")
	s.onboard("u1")
	for i := 0; i < 10; i++ {
		_, err := s.engine.RecordConversationCompleted(s.ctx, "u1")
		s.Require().NoError(err)
	}

	res := s.submit("u1", "a1", "", ids, []int{1, 1, 1})
	s.Equal(2, res.MomentumAwarded)
	s.Equal(65.0, res.PreviousMomentum)
	s.Equal(67.0, res.NewMomentum)
}

func (s *EngineSuite) TestDecayIsLazy() {
	for i := 0; i < 3; i++ {
		_, err := s.engine.RecordConversationCompleted(s.ctx, "u1")
		s.Require().NoError(err)
	}

	state, err := s.engine.GetMomentum(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(30.0, state.Progress)

	s.clock.Advance(72 * time.Hour)
	state, err = s.engine.GetMomentum(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(15.0, state.Decay)
	s.Equal(15.0, state.Progress)
}

func (s *EngineSuite) TestDeniedDrillStillResetsDecay() {
	ids := s.seedArtifact("u1", "a1")
	for i := 0; i < 3; i++ {
		_, err := s.engine.RecordConversationCompleted(s.ctx, "u1")
		s.Require().NoError(err)
	}
	s.clock.Advance(72 * time.Hour)

	res := s.submit("u1", "a1", "", ids, []int{1, 1, 1})
	s.Equal(0, res.MomentumAwarded)
	s.Require().NotNil(res.NoMomentumReason)
	s.Equal(models.ReasonOnboardingIncomplete, *res.NoMomentumReason)
	s.Equal(15.0, res.PreviousMomentum)
	s.Equal(30.0, res.NewMomentum)

	state, err := s.engine.GetMomentum(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(0.0, state.Decay)
	s.Equal(30.0, state.Progress)
	s.Equal(3, state.ActivityCount)

	history, err := gormdb.NewActivityStore(s.store).GetUserActivities(s.ctx, nil, "u1")
	s.Require().NoError(err)
	s.Require().NotEmpty(history)
	latest := history[0]
	s.Equal(models.ActivityArtifactPracticed, latest.Type)
	s.Equal(models.SourceDrill, latest.Metadata[models.MetaSource])
	s.Equal(res.SessionID, latest.Metadata[models.MetaSessionID])
	s.Equal("a1", latest.Metadata[models.MetaArtifactID])
}

func (s *EngineSuite) TestAwardAtCeilingCountsNominalIncrement() {
	ids := s.seedArtifact("u1", "a1")
	s.onboard("u1")
	for i := 0; i < 28; i++ {
		_, err := s.engine.RecordConversationCompleted(s.ctx, "u1")
		s.Require().NoError(err)
	}

	res := s.submit("u1", "a1", "", ids, []int{1, 1, 1})
	s.Equal(2, res.MomentumAwarded)
	s.Equal(100.0, res.PreviousMomentum)
	s.Equal(100.0, res.NewMomentum)
	s.Nil(res.Milestone)

	elig, err := s.engine.CheckEligibility(s.ctx, "u1", "a1")
	s.Require().NoError(err)
	s.Equal(2, elig.AwardedToday)

	// The award raised the base to 103, which absorbs later decay
	s.clock.Advance(48 * time.Hour)
	state, err := s.engine.GetMomentum(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(103.0, state.BaseProgress)
	s.Equal(93.0, state.Progress)
}

func (s *EngineSuite) TestSessionIDReusedForOtherArtifact() {
	idsA := s.seedArtifact("u1", "a1")
	idsB := s.seedArtifact("u1", "a2")
	s.onboard("u1")

	s.submit("u1", "a1", "shared-id", idsA, []int{1, 1, 1})

	_, err := s.engine.SubmitDrillSession(s.ctx, SubmitDrillInput{
		SessionID:   "shared-id",
		UserID:      "u1",
		ArtifactID:  "a2",
		ScenarioIDs: idsB,
		Answers:     []int{1, 1, 1},
	})
	s.True(IsKind(err, KindConflict), "got %v", err)
	s.Equal("session_artifact_mismatch", CodeOf(err))

	sessions, err := s.engine.ListDrillSessions(s.ctx, "u1", "")
	s.Require().NoError(err)
	s.Len(sessions, 1)
}

func (s *EngineSuite) TestConcurrentSubmissionsAwardAtMostThree() {
	ids := s.seedArtifact("u1", "a1")
	s.onboard("u1")
	s.engine.SetLimits(Limits{DailyMomentumCap: 1000, MaxPlaysPerArtifactPerDay: 3, PracticePowerDelta: 1})

	results := make([]*DrillResult, 10)
	g, gctx := errgroup.WithContext(s.ctx)
	for i := range results {
		g.Go(func() error {
			res, err := s.engine.SubmitDrillSession(gctx, SubmitDrillInput{
				SessionID:   fmt.Sprintf("c-%d", i),
				UserID:      "u1",
				ArtifactID:  "a1",
				ScenarioIDs: ids,
				Answers:     []int{1, 1, 1},
			})
			results[i] = res
			return err
		})
	}
	s.Require().NoError(g.Wait())

	awarded, denied := 0, 0
	plays := map[int]bool{}
	for _, res := range results {
		plays[res.PlayNumber] = true
		if res.MomentumAwarded > 0 {
			awarded++
		} else {
			denied++
			s.Equal(models.ReasonDailyCodeLimit, *res.NoMomentumReason)
		}
	}
	s.Equal(3, awarded)
	s.Equal(7, denied)
	s.Len(plays, 10)

	state, err := s.engine.GetMomentum(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(30.0, state.Progress)

	a, err := s.engine.GetArtifact(s.ctx, "u1", "a1")
	s.Require().NoError(err)
	s.Equal(10, a.Power)
}

func (s *EngineSuite) TestValidationWritesNothing() {
	ids := s.seedArtifact("u1", "a1")

	tests := []struct {
		name string
		in   SubmitDrillInput
	}{
		{"missing user", SubmitDrillInput{ArtifactID: "a1", ScenarioIDs: ids, Answers: []int{0, 0, 0}}},
		{"missing artifact", SubmitDrillInput{UserID: "u1", ScenarioIDs: ids, Answers: []int{0, 0, 0}}},
		{"two answers", SubmitDrillInput{UserID: "u1", ArtifactID: "a1", ScenarioIDs: ids, Answers: []int{0, 0}}},
		{"answer out of range", SubmitDrillInput{UserID: "u1", ArtifactID: "a1", ScenarioIDs: ids, Answers: []int{0, 4, 0}}},
		{"two scenarios", SubmitDrillInput{UserID: "u1", ArtifactID: "a1", ScenarioIDs: ids[:2], Answers: []int{0, 0, 0}}},
		{"duplicate scenarios", SubmitDrillInput{UserID: "u1", ArtifactID: "a1", ScenarioIDs: []string{ids[0], ids[0], ids[1]}, Answers: []int{0, 0, 0}}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.engine.SubmitDrillSession(s.ctx, tt.in)
			s.True(IsKind(err, KindInvalid), "got %v", err)
		})
	}

	sessions, err := s.engine.ListDrillSessions(s.ctx, "u1", "")
	s.Require().NoError(err)
	s.Empty(sessions)
}

func (s *EngineSuite) TestAuthorizationAndNotFound() {
	ids := s.seedArtifact("owner", "private")

	_, err := s.engine.SubmitDrillSession(s.ctx, SubmitDrillInput{UserID: "intruder", ArtifactID: "private", ScenarioIDs: ids, Answers: []int{0, 0, 0}})
	s.True(IsKind(err, KindUnauthorized), "got %v", err)

	_, err = s.engine.SubmitDrillSession(s.ctx, SubmitDrillInput{UserID: "owner", ArtifactID: "missing", ScenarioIDs: ids, Answers: []int{0, 0, 0}})
	s.True(IsKind(err, KindNotFound), "got %v", err)

	_, err = s.engine.SubmitDrillSession(s.ctx, SubmitDrillInput{UserID: "owner", ArtifactID: "private", ScenarioIDs: []string{ids[0], ids[1], "nope"}, Answers: []int{0, 0, 0}})
	s.True(IsKind(err, KindNotFound), "got %v", err)

	// Shared artifact, but a scenario owned by someone else
	_, err = s.engine.CreateArtifact(s.ctx, CreateArtifactInput{ID: "pub", Title: "Shared"})
	s.Require().NoError(err)
	scenarios := gormdb.NewScenarioStore(s.store)
	mine := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("pub-owned-%d", i)
		s.Require().NoError(scenarios.CreateScenario(s.ctx, &models.DrillScenario{ID: id, ArtifactID: "pub", OwnerID: strPtr("owner"), Situation: "s", Options: drillOptions()}))
		mine = append(mine, id)
	}
	_, err = s.engine.SubmitDrillSession(s.ctx, SubmitDrillInput{UserID: "other", ArtifactID: "pub", ScenarioIDs: mine, Answers: []int{0, 0, 0}})
	s.True(IsKind(err, KindUnauthorized), "got %v", err)

	// Scenarios from a different artifact
	_, err = s.engine.SubmitDrillSession(s.ctx, SubmitDrillInput{UserID: "owner", ArtifactID: "pub", ScenarioIDs: ids, Answers: []int{0, 0, 0}})
	s.True(IsKind(err, KindInvalid), "got %v", err)
}

func (s *EngineSuite) TestRecordArtifactUseSaturates() {
	artifacts := gormdb.NewArtifactStore(s.store)
	s.Require().NoError(artifacts.CreateArtifact(s.ctx, &models.Artifact{ID: "a1", OwnerID: strPtr("u1"), Title: "t", Power: 98}))

	power, err := s.engine.RecordArtifactUse(s.ctx, ArtifactUseInput{ArtifactID: "a1", Delta: 10})
	s.Require().NoError(err)
	s.Equal(100, power)

	power, err = s.engine.RecordArtifactUse(s.ctx, ArtifactUseInput{ArtifactID: "a1", Delta: 10, UserID: "u1", Kind: models.ActivityArtifactPracticed})
	s.Require().NoError(err)
	s.Equal(100, power)

	state, err := s.engine.GetMomentum(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(0, state.ActivityCount)
	s.NotNil(state.LastActivityAt)
	s.Len(s.events.ofType(models.EventPowerUpdated), 1)

	_, err = s.engine.RecordArtifactUse(s.ctx, ArtifactUseInput{ArtifactID: "a1", Delta: -1})
	s.True(IsKind(err, KindInvalid))

	_, err = s.engine.RecordArtifactUse(s.ctx, ArtifactUseInput{ArtifactID: "ghost", Delta: 1})
	s.True(IsKind(err, KindNotFound))

	_, err = s.engine.RecordArtifactUse(s.ctx, ArtifactUseInput{ArtifactID: "a1", Delta: 1, UserID: "u2"})
	s.True(IsKind(err, KindUnauthorized))

	_, err = s.engine.RecordArtifactUse(s.ctx, ArtifactUseInput{ArtifactID: "a1", Delta: 1, Kind: models.ActivityConversationCompleted})
	s.True(IsKind(err, KindInvalid))
}

func (s *EngineSuite) TestConcurrentPowerUpdates() {
	_, err := s.engine.CreateArtifact(s.ctx, CreateArtifactInput{ID: "a1", Title: "t"})
	s.Require().NoError(err)

	g, gctx := errgroup.WithContext(s.ctx)
	for i := 0; i < 30; i++ {
		g.Go(func() error {
			_, err := s.engine.RecordArtifactUse(gctx, ArtifactUseInput{ArtifactID: "a1", Delta: 5})
			return err
		})
	}
	s.Require().NoError(g.Wait())

	a, err := s.engine.GetArtifact(s.ctx, "anyone", "a1")
	s.Require().NoError(err)
	s.Equal(100, a.Power)
}

func (s *EngineSuite) TestLimitsHotSwap() {
	ids := s.seedArtifact("u1", "a1")
	s.onboard("u1")
	s.engine.SetLimits(Limits{MaxPlaysPerArtifactPerDay: 1})

	s.Equal(30, s.engine.Limits().DailyMomentumCap)
	s.submit("u1", "a1", "one", ids, []int{1, 1, 1})
	res := s.submit("u1", "a1", "two", ids, []int{1, 1, 1})
	s.Equal(models.ReasonDailyCodeLimit, *res.NoMomentumReason)
}

func (s *EngineSuite) TestTimezoneDayBoundary() {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		s.T().Skip("tzdata unavailable")
	}
	s.engine.SetLimits(Limits{Location: tokyo})
	s.clock.now = time.Date(2026, 6, 15, 16, 0, 0, 0, time.UTC)
	s.Equal("2026-06-16", s.engine.Today())
}

func (s *EngineSuite) TestListDrillSessionsRejectsBadDay() {
	_, err := s.engine.ListDrillSessions(s.ctx, "u1", "15/06/2026")
	s.True(IsKind(err, KindInvalid))
}

func TestLedgerFailureFailsClosed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	healthy, err := New(store)
	require.NoError(t, err)
	_, err = healthy.CreateArtifact(ctx, CreateArtifactInput{ID: "intro", OwnerID: strPtr("u1"), Title: "t", OnboardingScenario: true})
	require.NoError(t, err)
	_, err = healthy.UpsertProfile(ctx, "u1", true)
	require.NoError(t, err)

	broken, err := New(store, WithLedger(failingLedger{}))
	require.NoError(t, err)

	_, err = broken.GetMomentum(ctx, "u1")
	require.Error(t, err)
	require.True(t, IsKind(err, KindUnavailable))
	require.ErrorIs(t, err, errLedgerDown)

	_, err = broken.SubmitDrillSession(ctx, SubmitDrillInput{UserID: "u1", ArtifactID: "intro", Answers: []int{0, 0, 0}})
	require.True(t, IsKind(err, KindUnavailable), "got %v", err)

	sessions, err := healthy.ListDrillSessions(ctx, "u1", "")
	require.NoError(t, err)
	require.Empty(t, sessions)

	_, err = broken.RecordConversationCompleted(ctx, "u1")
	require.True(t, IsKind(err, KindUnavailable))
}

func TestErrorHelpers(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", newError(KindConflict, "artifact_exists", errors.New("dup")))
	require.True(t, IsKind(err, KindConflict))
	require.Equal(t, "artifact_exists", CodeOf(err))
	require.Equal(t, "conflict", KindOf(err).String())
	require.Equal(t, "internal", CodeOf(errors.New("plain")))
	require.Equal(t, Kind(0), KindOf(nil))
}
