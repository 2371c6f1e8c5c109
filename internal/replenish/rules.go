package replenish

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"multitalk/internal/config"
	"multitalk/internal/store"
)

// Rule resets every account on Plan to TargetBalance whenever Cadence fires.
type Rule struct {
	Plan          store.Plan `json:"plan"`
	Cadence       string     `json:"cadence"`
	TargetBalance int64      `json:"targetBalance"`

	schedule cron.Schedule
}

// Next returns the first firing strictly after t.
func (r Rule) Next(t time.Time) time.Time {
	if r.schedule == nil {
		return time.Time{}
	}
	return r.schedule.Next(t)
}

// NewRule parses cadence as a five-field cron expression or descriptor.
func NewRule(plan string, cadence string, target int64) (Rule, error) {
	parsedPlan, err := store.ParsePlan(plan)
	if err != nil {
		return Rule{}, err
	}
	if target < 0 {
		return Rule{}, fmt.Errorf("replenish rule %s: target balance must be >= 0", parsedPlan)
	}
	schedule, err := cron.ParseStandard(cadence)
	if err != nil {
		return Rule{}, fmt.Errorf("replenish rule %s: cadence %q: %w", parsedPlan, cadence, err)
	}
	return Rule{Plan: parsedPlan, Cadence: cadence, TargetBalance: target, schedule: schedule}, nil
}

// RulesFromConfig builds the configured rules. A plan may appear once.
func RulesFromConfig(cfg *config.Config) ([]Rule, error) {
	seen := make(map[store.Plan]struct{}, len(cfg.Replenish.Rules))
	rules := make([]Rule, 0, len(cfg.Replenish.Rules))
	for _, raw := range cfg.Replenish.Rules {
		rule, err := NewRule(raw.Plan, raw.Cadence, raw.TargetBalance)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[rule.Plan]; dup {
			return nil, fmt.Errorf("replenish rule %s: plan has more than one rule", rule.Plan)
		}
		seen[rule.Plan] = struct{}{}
		rules = append(rules, rule)
	}
	return rules, nil
}
