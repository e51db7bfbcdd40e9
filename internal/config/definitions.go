package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

// Definitions are the goals, funnels and segment rules handed to trackers
type Definitions struct {
	Goals    []analytics.Goal        `json:"goals"`
	Funnels  []analytics.Funnel      `json:"funnels"`
	Segments []analytics.SegmentRule `json:"segments,omitempty"`
}

type goalYAML struct {
	analytics.Goal `yaml:",inline"`
	Value          string `yaml:"value"`
}

type definitionsYAML struct {
	Goals    []goalYAML              `yaml:"goals"`
	Funnels  []analytics.Funnel      `yaml:"funnels"`
	Segments []analytics.SegmentRule `yaml:"segments"`
}

// LoadDefinitions reads and validates a definitions file
func LoadDefinitions(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions decodes YAML definitions. Every condition is compiled so a bad
// pattern is reported here rather than by each tracker.
func ParseDefinitions(data []byte) (*Definitions, error) {
	var raw definitionsYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse definitions: %w", err)
	}

	defs := &Definitions{
		Goals:    make([]analytics.Goal, 0, len(raw.Goals)),
		Funnels:  raw.Funnels,
		Segments: raw.Segments,
	}

	for _, g := range raw.Goals {
		goal := g.Goal
		if goal.ID == "" {
			return nil, fmt.Errorf("%w: goal without id", analytics.ErrInvalidGoal)
		}
		if g.Value != "" {
			v, err := decimal.NewFromString(g.Value)
			if err != nil {
				return nil, fmt.Errorf("goal %s: invalid value %q: %w", goal.ID, g.Value, err)
			}
			goal.Value = &v
		}
		if _, err := analytics.CompileConditions(goal.Conditions); err != nil {
			return nil, fmt.Errorf("goal %s: %w", goal.ID, err)
		}
		defs.Goals = append(defs.Goals, goal)
	}

	for _, f := range defs.Funnels {
		if f.ID == "" || len(f.Steps) == 0 {
			return nil, fmt.Errorf("%w: funnel %q needs an id and steps", analytics.ErrInvalidFunnel, f.ID)
		}
	}

	for _, s := range defs.Segments {
		if _, err := analytics.CompileConditions(s.Conditions); err != nil {
			return nil, fmt.Errorf("segment %s: %w", s.Name, err)
		}
	}

	return defs, nil
}
