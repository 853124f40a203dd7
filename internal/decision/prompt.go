package decision

import (
	"fmt"
	"strings"

	"decisiongate/internal/fallback"
	"decisiongate/internal/reasoning"
)

const systemPrompt = `You are a disciplined crypto market analyst.
Given a market snapshot, recommend exactly one action for the next interval.
Reply with a single JSON object and nothing else:
{"action":"buy|sell|hold","confidence":0.0-1.0,"rationale":"one or two sentences","position_size":0.0-1.0,"risk_level":0.0-1.0}
Prefer "hold" when signals conflict. Never exceed confidence 0.9.`

// PromptFor renders the system and user messages for one snapshot.
func PromptFor(cond fallback.MarketCondition) (system, user string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Symbol: %s\n", orNA(cond.Symbol))
	if cond.Price > 0 {
		fmt.Fprintf(&sb, "Price: %s\n", trimFloat(cond.Price))
	} else {
		sb.WriteString("Price: n/a\n")
	}
	fmt.Fprintf(&sb, "24h change: %+.2f%%\n", cond.PriceChange24h)
	fmt.Fprintf(&sb, "24h volume: %s\n", trimFloat(cond.Volume))
	fmt.Fprintf(&sb, "Volatility (24h, log-return stddev): %.4f\n", cond.Volatility)
	fmt.Fprintf(&sb, "RSI: %s\n", optional(cond.RSI))
	fmt.Fprintf(&sb, "MA short: %s\n", optional(cond.MAShort))
	fmt.Fprintf(&sb, "MA long: %s\n", optional(cond.MALong))
	return systemPrompt, strings.TrimRight(sb.String(), "\n")
}

// NewRequest builds a structured-output request for cond.
func NewRequest(model string, cond fallback.MarketCondition, opts ...reasoning.RequestOption) (reasoning.Request, error) {
	system, user := PromptFor(cond)
	base := []reasoning.RequestOption{
		reasoning.WithSystem(system),
		reasoning.WithUser(user),
		reasoning.WithStructuredOutput(),
	}
	return reasoning.NewRequest(model, append(base, opts...)...)
}

func optional(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return trimFloat(*v)
}

func trimFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "n/a"
	}
	return s
}
