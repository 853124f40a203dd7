// Package decision turns orchestrator results into auditable trading
// recommendations, whether they came from the model or the local rules.
package decision

import (
	"fmt"
	"strings"

	"decisiongate/internal/fallback"
	"decisiongate/internal/reasoning"
)

// Source records who produced a Decision.
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

// ReasonInvalidPayload tags a local decision substituted for a model reply
// that failed schema validation.
const ReasonInvalidPayload reasoning.Reason = "invalid-payload"

// Decision 是一次顾问循环对单个交易对给出的最终建议。
type Decision struct {
	Action       fallback.Action  `json:"action"`
	Confidence   float64          `json:"confidence"`
	Rationale    string           `json:"rationale"`
	PositionSize float64          `json:"position_size,omitempty"`
	RiskLevel    float64          `json:"risk_level,omitempty"`
	Source       Source           `json:"source"`
	Reason       reasoning.Reason `json:"reason,omitempty"`
	Rule         string           `json:"rule,omitempty"`
	Profile      string           `json:"profile,omitempty"`
}

// FromFallback wraps a locally computed decision.
func FromFallback(d fallback.Decision, reason reasoning.Reason) Decision {
	return Decision{
		Action:       d.Action,
		Confidence:   d.Confidence,
		Rationale:    d.Rationale,
		PositionSize: d.PositionSize,
		RiskLevel:    d.RiskLevel,
		Source:       SourceFallback,
		Reason:       reason,
		Rule:         d.Rule,
		Profile:      d.Profile,
	}
}

// FromResult converts an orchestrator result. A network payload that does
// not satisfy the decision schema is an error; callers decide whether to
// substitute a local decision.
func FromResult(res reasoning.Result) (Decision, error) {
	switch res.Provenance {
	case reasoning.ProvenanceFallback:
		if res.Fallback == nil {
			return Decision{}, fmt.Errorf("fallback result without decision")
		}
		return FromFallback(*res.Fallback, res.Reason), nil
	case reasoning.ProvenanceNetwork:
		return Parse(res.Payload)
	default:
		return Decision{}, fmt.Errorf("unknown provenance %q", res.Provenance)
	}
}

func (d Decision) String() string {
	return fmt.Sprintf("%s %s conf=%.2f (%s)", d.Source, strings.ToUpper(string(d.Action)), d.Confidence, d.Rationale)
}
