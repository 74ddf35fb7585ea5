package alerting

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"moverwatch/internal/market"
)

// Mode selects how many rules may match one snapshot per cycle.
type Mode string

const (
	// ModeFirstMatch yields at most one candidate per snapshot: the longest matching timeframe.
	ModeFirstMatch Mode = "first_match"
	// ModeAll yields a candidate for every matching rule.
	ModeAll Mode = "all"
)

// Rule binds a timeframe to its trigger percentage and tier label.
type Rule struct {
	Timeframe    market.Timeframe
	ThresholdPct decimal.Decimal
	Tier         string
}

// Policy is the static threshold configuration consumed by the engine.
type Policy struct {
	Rules             []Rule
	MinVolume         decimal.Decimal
	Cooldown          time.Duration
	QuietCooldown     time.Duration
	RateLimitCooldown time.Duration
	Retention         time.Duration
	Mode              Mode
}

// Ordered returns the rules in precedence order, longest timeframe first.
func (p Policy) Ordered() []Rule {
	rules := make([]Rule, len(p.Rules))
	copy(rules, p.Rules)
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Timeframe.Duration() > rules[j].Timeframe.Duration()
	})
	return rules
}

// Validate checks the policy for values the engine cannot honour.
func (p Policy) Validate() error {
	if len(p.Rules) == 0 {
		return fmt.Errorf("policy requires at least one rule")
	}
	seen := make(map[market.Timeframe]struct{}, len(p.Rules))
	for _, r := range p.Rules {
		if !r.Timeframe.Valid() {
			return fmt.Errorf("policy rule has unknown timeframe %q", r.Timeframe)
		}
		if _, dup := seen[r.Timeframe]; dup {
			return fmt.Errorf("policy has duplicate rule for timeframe %s", r.Timeframe)
		}
		seen[r.Timeframe] = struct{}{}
		if !r.ThresholdPct.IsPositive() {
			return fmt.Errorf("policy rule %s threshold must be positive", r.Timeframe)
		}
	}
	if p.MinVolume.IsNegative() {
		return fmt.Errorf("policy min volume cannot be negative")
	}
	if p.Cooldown <= 0 {
		return fmt.Errorf("policy cooldown must be positive")
	}
	if p.QuietCooldown <= 0 {
		return fmt.Errorf("policy quiet cooldown must be positive")
	}
	if p.RateLimitCooldown <= 0 {
		return fmt.Errorf("policy rate limit cooldown must be positive")
	}
	if p.Retention < p.Cooldown {
		return fmt.Errorf("policy retention (%s) must not be shorter than cooldown (%s)", p.Retention, p.Cooldown)
	}
	switch p.Mode {
	case ModeFirstMatch, ModeAll:
	default:
		return fmt.Errorf("policy mode %q not supported", p.Mode)
	}
	return nil
}
