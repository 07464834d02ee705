// Package catalog holds the built-in drill scenarios served to users before
// they have created any of their own.
package catalog

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/thebtf/momentum/pkg/models"
)

// OnboardingKey is the catalog key of the coach-introduction drill.
const OnboardingKey = "onboarding"

//go:embed onboarding.yaml
var onboardingYAML []byte

// Catalog is a fixed, named set of drill scenarios.
type Catalog struct {
	Key       string                 `yaml:"key"`
	Scenarios []models.DrillScenario `yaml:"scenarios"`
}

var (
	onboardingOnce sync.Once
	onboarding     *Catalog
	onboardingErr  error
)

// Onboarding returns the embedded onboarding catalog.
func Onboarding() (*Catalog, error) {
	onboardingOnce.Do(func() {
		onboarding, onboardingErr = Parse(onboardingYAML)
	})
	return onboarding, onboardingErr
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if c.Key == "" {
		return nil, fmt.Errorf("catalog has no key")
	}
	if len(c.Scenarios) != models.DrillSize {
		return nil, fmt.Errorf("catalog %q: want %d scenarios, got %d", c.Key, models.DrillSize, len(c.Scenarios))
	}
	for i := range c.Scenarios {
		sc := &c.Scenarios[i]
		if sc.ID == "" {
			return nil, fmt.Errorf("catalog %q: scenario %d has no id", c.Key, i)
		}
		if len(sc.Options) != models.OptionsPerScenario {
			return nil, fmt.Errorf("catalog %q: scenario %s: want %d options, got %d", c.Key, sc.ID, models.OptionsPerScenario, len(sc.Options))
		}
		if sc.OptimalCount() != 1 {
			return nil, fmt.Errorf("catalog %q: scenario %s: want exactly one optimal option", c.Key, sc.ID)
		}
	}
	return &c, nil
}

// Lookup returns the built-in catalog with the given key.
func Lookup(key string) (*Catalog, error) {
	switch key {
	case OnboardingKey:
		return Onboarding()
	default:
		return nil, fmt.Errorf("unknown catalog %q", key)
	}
}

// Copy returns a copy of the catalog's scenarios.
func (c *Catalog) Copy() []models.DrillScenario {
	out := make([]models.DrillScenario, len(c.Scenarios))
	copy(out, c.Scenarios)
	return out
}
