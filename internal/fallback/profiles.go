package fallback

import (
	"fmt"
	"strings"
)

const (
	ProfileConservative = "conservative"
	ProfileBalanced     = "balanced"
	ProfileAggressive   = "aggressive"
	ProfileCustom       = "custom"
)

// thresholds parameterise the shipped rule layout.
type thresholds struct {
	volatility    float64
	rsiOverbought float64
	rsiOversold   float64
	momentum      float64
}

// confidences per rule, in evaluation order.
type confidences struct {
	volatileHold, overbought, oversold, bullish, bearish, uptrend, downtrend float64
}

// standardRules is the priority order every shipped profile uses:
// volatility guard, RSI extremes, MA crossover, 24h momentum.
func standardRules(t thresholds, c confidences, tolerance float64) []Rule {
	return []Rule{
		{
			Name:       "high_volatility",
			When:       []Clause{{Field: FieldVolatility, Op: OpGT, Value: t.volatility}},
			Action:     ActionHold,
			Confidence: c.volatileHold,
			RiskLevel:  0.9,
			Rationale:  "High volatility (%.2f) detected. Holding to avoid whipsaws.",
			Subject:    FieldVolatility,
		},
		{
			Name:       "rsi_overbought",
			When:       []Clause{{Field: FieldRSI, Op: OpGT, Value: t.rsiOverbought}},
			Action:     ActionSell,
			Confidence: c.overbought,
			RiskLevel:  0.4,
			SizeFactor: 0.5,
			Rationale:  "RSI overbought at %.1f. Taking profits on potential reversal.",
			Subject:    FieldRSI,
		},
		{
			Name:       "rsi_oversold",
			When:       []Clause{{Field: FieldRSI, Op: OpLT, Value: t.rsiOversold}},
			Action:     ActionBuy,
			Confidence: c.oversold,
			RiskLevel:  0.5,
			SizeFactor: 0.7,
			Rationale:  "RSI oversold at %.1f. Potential bounce opportunity.",
			Subject:    FieldRSI,
		},
		{
			Name: "ma_bullish",
			When: []Clause{
				{Field: FieldMAShort, Op: OpGT, Ref: FieldMALong},
				{Field: FieldPrice, Op: OpGT, Ref: FieldMAShort},
			},
			Action:     ActionBuy,
			Confidence: c.bullish,
			RiskLevel:  0.6,
			SizeFactor: tolerance,
			Rationale:  "Short MA above long MA with price above short MA. Bullish trend.",
		},
		{
			Name: "ma_bearish",
			When: []Clause{
				{Field: FieldMAShort, Op: OpLT, Ref: FieldMALong},
				{Field: FieldPrice, Op: OpLT, Ref: FieldMAShort},
			},
			Action:     ActionSell,
			Confidence: c.bearish,
			RiskLevel:  0.6,
			SizeFactor: tolerance,
			Rationale:  "Short MA below long MA with price below short MA. Bearish trend.",
		},
		{
			Name:       "momentum_up",
			When:       []Clause{{Field: FieldPriceChange24h, Op: OpGT, Value: t.momentum}},
			Action:     ActionBuy,
			Confidence: c.uptrend,
			RiskLevel:  0.7,
			SizeFactor: 0.8,
			Rationale:  "Strong 24h momentum: %+.1f%%. Following the trend.",
			Subject:    FieldPriceChange24h,
		},
		{
			Name:       "momentum_down",
			When:       []Clause{{Field: FieldPriceChange24h, Op: OpLT, Value: -t.momentum}},
			Action:     ActionSell,
			Confidence: c.downtrend,
			RiskLevel:  0.7,
			SizeFactor: 0.6,
			Rationale:  "Strong 24h decline: %.1f%%. Avoiding further losses.",
			Subject:    FieldPriceChange24h,
		},
	}
}

// Conservative uses tight thresholds and keeps confidence low.
func Conservative() Profile {
	return Profile{
		Name:            ProfileConservative,
		MaxPositionSize: 0.05,
		RiskTolerance:   0.1,
		StopLossPct:     0.03,
		TakeProfitPct:   0.10,
		MaxConfidence:   0.6,
		Rules: standardRules(
			thresholds{volatility: 0.3, rsiOverbought: 65, rsiOversold: 35, momentum: 3},
			confidences{volatileHold: 0.6, overbought: 0.55, oversold: 0.45, bullish: 0.45, bearish: 0.45, uptrend: 0.35, downtrend: 0.4},
			0.1,
		),
	}
}

// Balanced mirrors the long-standing default rule set.
func Balanced() Profile {
	return Profile{
		Name:            ProfileBalanced,
		MaxPositionSize: 0.1,
		RiskTolerance:   0.3,
		StopLossPct:     0.05,
		TakeProfitPct:   0.15,
		MaxConfidence:   0.8,
		Rules: standardRules(
			thresholds{volatility: 0.5, rsiOverbought: 70, rsiOversold: 30, momentum: 5},
			confidences{volatileHold: 0.8, overbought: 0.7, oversold: 0.6, bullish: 0.65, bearish: 0.65, uptrend: 0.55, downtrend: 0.55},
			0.3,
		),
	}
}

// Aggressive reacts to smaller moves and allows higher confidence.
func Aggressive() Profile {
	return Profile{
		Name:            ProfileAggressive,
		MaxPositionSize: 0.25,
		RiskTolerance:   0.7,
		StopLossPct:     0.08,
		TakeProfitPct:   0.25,
		MaxConfidence:   0.9,
		Rules: standardRules(
			thresholds{volatility: 0.7, rsiOverbought: 75, rsiOversold: 25, momentum: 2},
			confidences{volatileHold: 0.7, overbought: 0.75, oversold: 0.8, bullish: 0.75, bearish: 0.75, uptrend: 0.75, downtrend: 0.7},
			0.7,
		),
	}
}

// Custom builds a profile from arbitrary rules; limits are taken as given.
func Custom(name string, limits Profile, rules []Rule) Profile {
	p := limits
	p.Name = strings.TrimSpace(name)
	if p.Name == "" {
		p.Name = ProfileCustom
	}
	p.Rules = append([]Rule(nil), rules...)
	return p
}

// ShippedProfile returns one of the built-in profiles by name.
func ShippedProfile(name string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProfileConservative:
		return Conservative(), nil
	case ProfileBalanced, "":
		return Balanced(), nil
	case ProfileAggressive:
		return Aggressive(), nil
	default:
		return Profile{}, fmt.Errorf("unknown fallback profile %q", name)
	}
}
