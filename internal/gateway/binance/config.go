package binance

import (
	"strings"
	"time"

	"decisiongate/internal/market"
)

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
	// MaxRetries 为瞬时错误的最大重试次数，0 表示不重试。
	MaxRetries   int
	RetryInitial time.Duration
	RetryMax     time.Duration
	// KlineGrace 为判断最后一根 K 线是否收盘的宽限时间。
	KlineGrace time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimRight(strings.TrimSpace(out.RESTBaseURL), "/")
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.RetryInitial <= 0 {
		out.RetryInitial = 500 * time.Millisecond
	}
	if out.RetryMax <= 0 {
		out.RetryMax = 5 * time.Second
	}
	if out.KlineGrace <= 0 {
		out.KlineGrace = market.DefaultKlineGrace
	}
	return out
}
