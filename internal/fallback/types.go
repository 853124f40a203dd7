package fallback

import "math"

// Action is the recommendation carried by a Decision.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
	ActionNone Action = "none"
)

func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold, ActionNone:
		return true
	default:
		return false
	}
}

// MarketCondition is a read-only snapshot of what the loop observed.
// Optional indicators are nil when they could not be computed. A zero Price
// means unknown: clauses on price never match it.
type MarketCondition struct {
	Symbol         string   `json:"symbol,omitempty"`
	Price          float64  `json:"price"`
	PriceChange24h float64  `json:"price_change_24h"`
	Volume         float64  `json:"volume"`
	Volatility     float64  `json:"volatility"`
	RSI            *float64 `json:"rsi,omitempty"`
	MAShort        *float64 `json:"ma_short,omitempty"`
	MALong         *float64 `json:"ma_long,omitempty"`
}

// Float returns a pointer to v, for filling optional indicators.
func Float(v float64) *float64 { return &v }

// usable rejects snapshots carrying garbage rather than missing data.
func (m MarketCondition) usable() bool {
	for _, v := range []float64{m.Price, m.PriceChange24h, m.Volume, m.Volatility} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return m.Price >= 0 && m.Volume >= 0 && m.Volatility >= 0
}

// Value resolves a field by name; ok is false for missing optional fields.
func (m MarketCondition) Value(f Field) (float64, bool) {
	switch f {
	case FieldPrice:
		return m.Price, m.Price > 0
	case FieldPriceChange24h:
		return m.PriceChange24h, true
	case FieldVolume:
		return m.Volume, true
	case FieldVolatility:
		return m.Volatility, true
	case FieldRSI:
		return deref(m.RSI)
	case FieldMAShort:
		return deref(m.MAShort)
	case FieldMALong:
		return deref(m.MALong)
	default:
		return 0, false
	}
}

func deref(p *float64) (float64, bool) {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return 0, false
	}
	return *p, true
}

// Decision is a locally computed recommendation. Never persisted by this package.
type Decision struct {
	Action        Action  `json:"action"`
	Confidence    float64 `json:"confidence"`
	Rationale     string  `json:"rationale"`
	RiskLevel     float64 `json:"risk_level"`
	PositionSize  float64 `json:"position_size"`
	StopLossPct   float64 `json:"stop_loss_pct,omitempty"`
	TakeProfitPct float64 `json:"take_profit_pct,omitempty"`
	Rule          string  `json:"rule,omitempty"`
	Profile       string  `json:"profile"`
}

// Decider is anything that turns a market snapshot into a Decision.
type Decider interface {
	Decide(MarketCondition) Decision
}
