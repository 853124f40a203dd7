package market

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"decisiongate/internal/fallback"
)

var (
	ErrNoCandles  = errors.New("market: no candles")
	ErrBadCandles = errors.New("market: candle series contains invalid values")
)

// IndicatorSettings 描述由 K 线计算市场快照所需的参数。
type IndicatorSettings struct {
	Interval  string
	RSIPeriod int
	MAShort   int
	MALong    int
}

func (s IndicatorSettings) withDefaults() IndicatorSettings {
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = 14
	}
	if s.MAShort <= 0 {
		s.MAShort = 7
	}
	if s.MALong <= 0 {
		s.MALong = 25
	}
	return s
}

// BuildCondition turns closed candles (oldest first) into a market snapshot.
// Indicators that need more history than available are left nil.
func BuildCondition(symbol string, candles []Candle, settings IndicatorSettings) (fallback.MarketCondition, error) {
	if len(candles) == 0 {
		return fallback.MarketCondition{}, ErrNoCandles
	}
	step, ok := ParseInterval(settings.Interval)
	if !ok {
		return fallback.MarketCondition{}, fmt.Errorf("market: unsupported interval %q", settings.Interval)
	}
	settings = settings.withDefaults()

	closes := Candles(candles).Closes()
	for i, c := range candles {
		if !positive(c.Close) || c.Volume < 0 || math.IsNaN(c.Volume) || math.IsInf(c.Volume, 0) {
			return fallback.MarketCondition{}, fmt.Errorf("%w: index %d", ErrBadCandles, i)
		}
	}

	last := len(closes) - 1
	window := int((24 * time.Hour) / step)
	if window < 1 {
		window = 1
	}
	if window > last {
		window = last
	}

	cond := fallback.MarketCondition{
		Symbol: symbol,
		Price:  closes[last],
	}
	if window > 0 {
		ref := closes[last-window]
		cond.PriceChange24h = round((closes[last]-ref)/ref*100, 4)
	}
	volume := 0.0
	for _, c := range candles[len(candles)-max(window, 1):] {
		volume += c.Volume
	}
	cond.Volume = round(volume, 4)
	cond.Volatility = round(volatility(closes[last-window:]), 6)

	if len(closes) > settings.RSIPeriod {
		if v, ok := latest(talib.Rsi(closes, settings.RSIPeriod)); ok {
			cond.RSI = fallback.Float(round(v, 2))
		}
	}
	if len(closes) >= settings.MAShort {
		if v, ok := latest(talib.Sma(closes, settings.MAShort)); ok {
			cond.MAShort = fallback.Float(round(v, 6))
		}
	}
	if len(closes) >= settings.MALong {
		if v, ok := latest(talib.Sma(closes, settings.MALong)); ok {
			cond.MALong = fallback.Float(round(v, 6))
		}
	}
	return cond, nil
}

// volatility is the stddev of log returns scaled to the window length.
func volatility(closes []float64) float64 {
	if len(closes) < 3 {
		return 0
	}
	returns := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		returns[i-1] = math.Log(closes[i] / closes[i-1])
	}
	sd, ok := latest(talib.StdDev(returns, len(returns), 1))
	if !ok || sd < 0 {
		return 0
	}
	return sd * math.Sqrt(float64(len(returns)))
}

func latest(series []float64) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
