// Package fallback turns a market snapshot into a trading recommendation
// without touching the network. Rules are plain data evaluated in order.
package fallback

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var ErrInvalidRule = errors.New("invalid fallback rule")

// Profile is a named, ordered rule set plus the position limits applied to it.
type Profile struct {
	Name            string  `yaml:"name"`
	MaxPositionSize float64 `yaml:"max_position_size"`
	RiskTolerance   float64 `yaml:"risk_tolerance"`
	StopLossPct     float64 `yaml:"stop_loss_pct"`
	TakeProfitPct   float64 `yaml:"take_profit_pct"`
	// MaxConfidence caps every rule's confidence; 0 means 1.
	MaxConfidence float64 `yaml:"max_confidence"`
	Rules         []Rule  `yaml:"rules"`
}

type compiledRule struct {
	Rule
	positionSize float64
	confidence   float64
}

// Engine evaluates an immutable Profile. Safe for concurrent use.
type Engine struct {
	profile Profile
	rules   []compiledRule
}

func NewEngine(p Profile) (*Engine, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, fmt.Errorf("%w: profile without name", ErrInvalidRule)
	}
	if p.MaxPositionSize < 0 || p.MaxPositionSize > 1 {
		return nil, fmt.Errorf("%w: profile %s max_position_size %.2f outside [0,1]", ErrInvalidRule, p.Name, p.MaxPositionSize)
	}
	if p.MaxConfidence < 0 || p.MaxConfidence > 1 {
		return nil, fmt.Errorf("%w: profile %s max_confidence %.2f outside [0,1]", ErrInvalidRule, p.Name, p.MaxConfidence)
	}
	ceiling := p.MaxConfidence
	if ceiling == 0 {
		ceiling = 1
	}
	seen := make(map[string]struct{}, len(p.Rules))
	compiled := make([]compiledRule, 0, len(p.Rules))
	for _, r := range p.Rules {
		r.Name = strings.TrimSpace(r.Name)
		if err := r.validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[r.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate rule name %s", ErrInvalidRule, r.Name)
		}
		seen[r.Name] = struct{}{}
		if r.Subject != "" && !mentions(r.When, r.Subject) {
			return nil, fmt.Errorf("%w: rule %s subject %s is not tested by any clause", ErrInvalidRule, r.Name, r.Subject)
		}
		r.When = append([]Clause(nil), r.When...)
		compiled = append(compiled, compiledRule{
			Rule:         r,
			positionSize: math.Min(p.MaxPositionSize*r.SizeFactor, p.MaxPositionSize),
			confidence:   math.Min(r.Confidence, ceiling),
		})
	}
	p.Rules = nil
	return &Engine{profile: p, rules: compiled}, nil
}

// MustEngine panics on invalid profiles; meant for the shipped literals.
func MustEngine(p Profile) *Engine {
	e, err := NewEngine(p)
	if err != nil {
		panic(err)
	}
	return e
}

func mentions(clauses []Clause, f Field) bool {
	for _, c := range clauses {
		if c.Field == f || c.Ref == f {
			return true
		}
	}
	return false
}

func (e *Engine) ProfileName() string { return e.profile.Name }

// Profile returns a copy of the profile including its rules.
func (e *Engine) Profile() Profile {
	p := e.profile
	p.Rules = make([]Rule, len(e.rules))
	for i, r := range e.rules {
		p.Rules[i] = r.Rule
		p.Rules[i].When = append([]Clause(nil), r.When...)
	}
	return p
}

// Decide returns the first matching rule's recommendation, or hold with zero
// confidence when nothing matches.
func (e *Engine) Decide(m MarketCondition) Decision {
	if !m.usable() {
		return Decision{
			Action:    ActionNone,
			Rationale: "Market snapshot unusable (non-finite or negative inputs). No action.",
			Profile:   e.profile.Name,
		}
	}
	for i := range e.rules {
		r := &e.rules[i]
		if !matchAll(r.When, m) {
			continue
		}
		d := Decision{
			Action:     r.Action,
			Confidence: r.confidence,
			Rationale:  r.Rationale,
			RiskLevel:  r.RiskLevel,
			Rule:       r.Name,
			Profile:    e.profile.Name,
		}
		if r.Subject != "" {
			v, _ := m.Value(r.Subject)
			d.Rationale = fmt.Sprintf(r.Rationale, v)
		}
		if r.Action == ActionBuy || r.Action == ActionSell {
			d.PositionSize = r.positionSize
			d.StopLossPct = e.profile.StopLossPct
			d.TakeProfitPct = e.profile.TakeProfitPct
		}
		return d
	}
	return Decision{
		Action:    ActionHold,
		Rationale: "No rule matched. Maintaining current position.",
		Profile:   e.profile.Name,
	}
}

func matchAll(clauses []Clause, m MarketCondition) bool {
	for _, c := range clauses {
		if !c.match(m) {
			return false
		}
	}
	return true
}
