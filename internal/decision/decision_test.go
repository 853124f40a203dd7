package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"decisiongate/internal/fallback"
	"decisiongate/internal/reasoning"
)

func TestParse_Valid(t *testing.T) {
	d, err := Parse(`{"action":"buy","confidence":0.72,"rationale":" RSI recovering from oversold ","position_size":0.3}`)
	require.NoError(t, err)
	assert.Equal(t, fallback.ActionBuy, d.Action)
	assert.Equal(t, 0.72, d.Confidence)
	assert.Equal(t, "RSI recovering from oversold", d.Rationale)
	assert.Equal(t, 0.3, d.PositionSize)
	assert.Zero(t, d.RiskLevel)
	assert.Equal(t, SourceModel, d.Source)
}

func TestParse_Tolerance(t *testing.T) {
	cases := map[string]string{
		"fenced":         "```json\n{\"action\":\"hold\",\"confidence\":0.5,\"rationale\":\"flat\"}\n```",
		"prose":          "Here you go: {\"action\":\"hold\",\"confidence\":0.5,\"rationale\":\"flat\"} Good luck.",
		"upper action":   `{"action":" HOLD ","confidence":0.5,"rationale":"flat"}`,
		"string numbers": `{"action":"hold","confidence":"0.5","rationale":"flat"}`,
		"extra fields":   `{"action":"hold","confidence":0.5,"rationale":"flat","horizon":"4h"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			d, err := Parse(payload)
			require.NoError(t, err)
			assert.Equal(t, fallback.ActionHold, d.Action)
			assert.Equal(t, 0.5, d.Confidence)
			assert.Equal(t, "flat", d.Rationale)
		})
	}
}

func TestParse_SchemaViolations(t *testing.T) {
	cases := map[string]string{
		"not json":           "I would buy",
		"missing action":     `{"confidence":0.5,"rationale":"x"}`,
		"unknown action":     `{"action":"short","confidence":0.5,"rationale":"x"}`,
		"confidence too big": `{"action":"buy","confidence":1.5,"rationale":"x"}`,
		"negative size":      `{"action":"buy","confidence":0.5,"rationale":"x","position_size":-1}`,
		"empty rationale":    `{"action":"buy","confidence":0.5,"rationale":""}`,
		"bad number string":  `{"action":"buy","confidence":"high","rationale":"x"}`,
		"truncated":          `{"action":"buy","confidence":0.5,`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(payload)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestFromResult(t *testing.T) {
	network := reasoning.Result{
		Provenance: reasoning.ProvenanceNetwork,
		Payload:    `{"action":"sell","confidence":0.6,"rationale":"rejected at resistance"}`,
	}
	d, err := FromResult(network)
	require.NoError(t, err)
	assert.Equal(t, SourceModel, d.Source)
	assert.Equal(t, fallback.ActionSell, d.Action)

	local := fallback.Decision{
		Action: fallback.ActionHold, Confidence: 0.8, Rationale: "High volatility",
		RiskLevel: 0.9, Rule: "high_volatility", Profile: "balanced",
	}
	d, err = FromResult(reasoning.Result{
		Provenance: reasoning.ProvenanceFallback,
		Fallback:   &local,
		Reason:     reasoning.ReasonBreakerOpen,
	})
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, d.Source)
	assert.Equal(t, reasoning.ReasonBreakerOpen, d.Reason)
	assert.Equal(t, "high_volatility", d.Rule)
	assert.Equal(t, 0.9, d.RiskLevel)

	_, err = FromResult(reasoning.Result{Provenance: reasoning.ProvenanceNetwork, Payload: "nope"})
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = FromResult(reasoning.Result{Provenance: reasoning.ProvenanceFallback})
	assert.Error(t, err)
	_, err = FromResult(reasoning.Result{})
	assert.Error(t, err)
}

func TestNewRequest(t *testing.T) {
	cond := fallback.MarketCondition{
		Symbol: "BTC/USDT", Price: 64000.5, PriceChange24h: -2.5, Volume: 1200,
		Volatility: 0.031, RSI: fallback.Float(41.2),
	}
	req, err := NewRequest("gpt-4o-mini", cond, reasoning.WithTemperature(0.2))
	require.NoError(t, err)

	assert.True(t, req.Structured())
	msgs := req.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, reasoning.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, `"action":"buy|sell|hold"`)
	user := msgs[1].Content
	assert.Contains(t, user, "Symbol: BTC/USDT")
	assert.Contains(t, user, "Price: 64000.5")
	assert.Contains(t, user, "24h change: -2.50%")
	assert.Contains(t, user, "RSI: 41.2")
	assert.Contains(t, user, "MA short: n/a")

	_, err = NewRequest("", cond)
	assert.ErrorIs(t, err, reasoning.ErrInvalidRequest)
}

func TestPromptFor_UnknownPrice(t *testing.T) {
	_, user := PromptFor(fallback.MarketCondition{})
	assert.Contains(t, user, "Symbol: n/a")
	assert.Contains(t, user, "Price: n/a")
}
