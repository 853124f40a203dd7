// Package symbol converts between the canonical "BASE/QUOTE" pair notation
// used in config and storage and the compact form exchanges expect.
package symbol

import "strings"

// quoteCurrencies are tried, in order, when a compact pair has no separator.
var quoteCurrencies = []string{"USDT", "USDC", "FDUSD", "BUSD", "TUSD", "BTC", "ETH", "BNB"}

type Symbol struct {
	Base  string
	Quote string
}

func (s Symbol) Valid() bool { return s.Base != "" && s.Quote != "" }

// String returns "BASE/QUOTE", or "" when the pair is incomplete.
func (s Symbol) String() string {
	if !s.Valid() {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Compact returns the exchange form, e.g. BTCUSDT.
func (s Symbol) Compact() string {
	if !s.Valid() {
		return ""
	}
	return s.Base + s.Quote
}

// Parse accepts "btc/usdt", "BTC/USDT:USDT" and "BTCUSDT".
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if base, quote, ok := strings.Cut(s, "/"); ok {
		return Symbol{Base: strings.TrimSpace(base), Quote: strings.TrimSpace(quote)}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

func Normalize(s string) string {
	return Parse(s).String()
}

// NormalizeList canonicalises and dedupes; unparseable entries are kept
// upper-cased so validation can report them.
func NormalizeList(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm := Normalize(s)
		if norm == "" {
			norm = strings.ToUpper(strings.TrimSpace(s))
			if norm == "" {
				continue
			}
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func IsValid(s string) bool {
	return Parse(s).Valid()
}

// ToBinance converts a canonical pair to the futures REST form.
func ToBinance(s string) string {
	return Parse(s).Compact()
}
