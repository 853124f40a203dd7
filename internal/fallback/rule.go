package fallback

import (
	"fmt"
	"strings"
)

// Field names a MarketCondition input a clause can test.
type Field string

const (
	FieldPrice          Field = "price"
	FieldPriceChange24h Field = "price_change_24h"
	FieldVolume         Field = "volume"
	FieldVolatility     Field = "volatility"
	FieldRSI            Field = "rsi"
	FieldMAShort        Field = "ma_short"
	FieldMALong         Field = "ma_long"
)

func (f Field) valid() bool {
	switch f {
	case FieldPrice, FieldPriceChange24h, FieldVolume, FieldVolatility, FieldRSI, FieldMAShort, FieldMALong:
		return true
	default:
		return false
	}
}

type Op string

const (
	OpGT  Op = "gt"
	OpGTE Op = "gte"
	OpLT  Op = "lt"
	OpLTE Op = "lte"
)

func (o Op) compare(a, b float64) bool {
	switch o {
	case OpGT:
		return a > b
	case OpGTE:
		return a >= b
	case OpLT:
		return a < b
	case OpLTE:
		return a <= b
	default:
		return false
	}
}

// Clause compares Field against Value, or against another field when Ref is set.
type Clause struct {
	Field Field   `yaml:"field"`
	Op    Op      `yaml:"op"`
	Value float64 `yaml:"value,omitempty"`
	Ref   Field   `yaml:"ref,omitempty"`
}

func (c Clause) match(m MarketCondition) bool {
	left, ok := m.Value(c.Field)
	if !ok {
		return false
	}
	right := c.Value
	if c.Ref != "" {
		if right, ok = m.Value(c.Ref); !ok {
			return false
		}
	}
	return c.Op.compare(left, right)
}

func (c Clause) String() string {
	if c.Ref != "" {
		return fmt.Sprintf("%s %s %s", c.Field, c.Op, c.Ref)
	}
	return fmt.Sprintf("%s %s %g", c.Field, c.Op, c.Value)
}

// Rule fires when every clause matches. Rationale may hold a single fmt verb
// which receives the value of Subject.
type Rule struct {
	Name       string   `yaml:"name"`
	When       []Clause `yaml:"when"`
	Action     Action   `yaml:"action"`
	Confidence float64  `yaml:"confidence"`
	RiskLevel  float64  `yaml:"risk_level"`
	SizeFactor float64  `yaml:"size_factor"`
	Rationale  string   `yaml:"rationale"`
	Subject    Field    `yaml:"subject,omitempty"`
}

func (r Rule) validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return fmt.Errorf("%w: rule without name", ErrInvalidRule)
	}
	if len(r.When) == 0 {
		return fmt.Errorf("%w: rule %s has no clauses", ErrInvalidRule, name)
	}
	for i, c := range r.When {
		if !c.Field.valid() {
			return fmt.Errorf("%w: rule %s clause #%d unknown field %q", ErrInvalidRule, name, i+1, c.Field)
		}
		if c.Ref != "" && !c.Ref.valid() {
			return fmt.Errorf("%w: rule %s clause #%d unknown ref %q", ErrInvalidRule, name, i+1, c.Ref)
		}
		switch c.Op {
		case OpGT, OpGTE, OpLT, OpLTE:
		default:
			return fmt.Errorf("%w: rule %s clause #%d unknown op %q", ErrInvalidRule, name, i+1, c.Op)
		}
	}
	if !r.Action.Valid() {
		return fmt.Errorf("%w: rule %s unknown action %q", ErrInvalidRule, name, r.Action)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: rule %s confidence %.2f outside [0,1]", ErrInvalidRule, name, r.Confidence)
	}
	if r.RiskLevel < 0 || r.RiskLevel > 1 {
		return fmt.Errorf("%w: rule %s risk_level %.2f outside [0,1]", ErrInvalidRule, name, r.RiskLevel)
	}
	if r.SizeFactor < 0 {
		return fmt.Errorf("%w: rule %s negative size_factor", ErrInvalidRule, name)
	}
	if r.Subject != "" {
		if !r.Subject.valid() {
			return fmt.Errorf("%w: rule %s unknown subject %q", ErrInvalidRule, name, r.Subject)
		}
		if !singleFloatVerb(r.Rationale) {
			return fmt.Errorf("%w: rule %s rationale needs exactly one float verb for subject %s", ErrInvalidRule, name, r.Subject)
		}
	}
	return nil
}

// singleFloatVerb reports whether s holds exactly one fmt verb (%%
// excluded) and that verb formats a float64.
func singleFloatVerb(s string) bool {
	verbs := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			continue
		}
		if i+1 < len(s) && s[i+1] == '%' {
			i++
			continue
		}
		j := i + 1
		for j < len(s) && strings.IndexByte("+-# 0123456789.", s[j]) >= 0 {
			j++
		}
		if j == len(s) || strings.IndexByte("eEfFgGv", s[j]) < 0 {
			return false
		}
		verbs++
		i = j
	}
	return verbs == 1
}
