package models

import "time"

// DrillSize is the number of scenarios in one drill session.
const DrillSize = 3

// OptionsPerScenario is the number of answer options on a scenario.
const OptionsPerScenario = 4

// OptionCategory grades a drill answer option.
type OptionCategory string

const (
	CategoryNegative OptionCategory = "negative"
	CategoryHelpful  OptionCategory = "helpful"
	CategoryOptimal  OptionCategory = "optimal"
)

// Valid reports whether c is a known option category.
func (c OptionCategory) Valid() bool {
	switch c {
	case CategoryNegative, CategoryHelpful, CategoryOptimal:
		return true
	}
	return false
}

// Option is one multiple-choice answer of a drill scenario.
type Option struct {
	Text     string         `json:"text" yaml:"text"`
	Category OptionCategory `json:"category" yaml:"category"`
	Feedback string         `json:"feedback" yaml:"feedback"`
}

// DrillScenario is a practice question attached to an artifact.
type DrillScenario struct {
	OwnerID        *string   `json:"owner_id"`
	ID             string    `json:"id" yaml:"id"`
	ArtifactID     string    `json:"artifact_id"`
	Situation      string    `json:"situation" yaml:"situation"`
	CurrentThought string    `json:"current_thought" yaml:"current_thought"`
	Options        []Option  `json:"options" yaml:"options"`
	CreatedAt      time.Time `json:"created_at"`
}

// OptimalCount returns how many options are tagged optimal.
func (d *DrillScenario) OptimalCount() int {
	n := 0
	for _, o := range d.Options {
		if o.Category == CategoryOptimal {
			n++
		}
	}
	return n
}

// ScenarioSourceKind tags where a drill's scenarios came from.
type ScenarioSourceKind string

const (
	SourcePersisted ScenarioSourceKind = "persisted"
	SourceBuiltIn   ScenarioSourceKind = "builtin"
)

// ScenarioSource records which catalog served a drill so that replay does
// not depend on foreign keys that may not exist for built-in content.
type ScenarioSource struct {
	Kind       ScenarioSourceKind `json:"kind"`
	CatalogKey string             `json:"catalog_key,omitempty"`
}

// Persisted returns the source for database-backed scenarios.
func Persisted() ScenarioSource {
	return ScenarioSource{Kind: SourcePersisted}
}

// BuiltIn returns the source for a fixed built-in catalog.
func BuiltIn(catalogKey string) ScenarioSource {
	return ScenarioSource{Kind: SourceBuiltIn, CatalogKey: catalogKey}
}

// NoMomentumReason explains why a scored drill did not move momentum.
type NoMomentumReason string

const (
	ReasonDailyCap             NoMomentumReason = "daily_cap"
	ReasonDailyCodeLimit       NoMomentumReason = "daily_code_limit"
	ReasonOnboardingIncomplete NoMomentumReason = "onboarding_incomplete"
)

// DrillSession is one completed practice attempt. Written once, never mutated.
type DrillSession struct {
	Milestone        *int              `json:"milestone"`
	NoMomentumReason *NoMomentumReason `json:"no_momentum_reason"`
	CreatedAt        time.Time         `json:"created_at"`
	Source           ScenarioSource    `json:"source"`
	SessionID        string            `json:"session_id"`
	UserID           string            `json:"user_id"`
	ArtifactID       string            `json:"artifact_id"`
	Day              string            `json:"day"`
	ScenarioIDs      []string          `json:"scenario_ids"`
	Answers          []int             `json:"answers"`
	PreviousMomentum float64           `json:"previous_momentum"`
	NewMomentum      float64           `json:"new_momentum"`
	Score            int               `json:"score"`
	MomentumAwarded  int               `json:"momentum_awarded"`
	PlayNumber       int               `json:"play_number"`
	IsFirstPlay      bool              `json:"is_first_play_for_artifact"`
}

// AwardEligibility is the award gate's verdict for one candidate event.
type AwardEligibility struct {
	Reason         *NoMomentumReason `json:"reason"`
	PlaysToday     int               `json:"plays_today"`
	PlaysRemaining int               `json:"plays_remaining"`
	AwardedToday   int               `json:"awarded_today"`
	DailyCap       int               `json:"daily_cap"`
	CanEarn        bool              `json:"can_earn"`
}

// ReasonPtr returns a pointer to r, for optional reason fields.
func ReasonPtr(r NoMomentumReason) *NoMomentumReason {
	return &r
}

// DayLayout is the format of calendar-day keys on drill sessions.
const DayLayout = "2006-01-02"

// DayOf returns the calendar day containing t in loc, formatted with DayLayout.
func DayOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}
