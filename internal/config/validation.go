package config

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"decisiongate/internal/pkg/symbol"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Reasoning.validate(); err != nil {
		return err
	}
	if err := c.Breaker.validate(); err != nil {
		return err
	}
	if err := c.Fallback.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Loop.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	return c.Notify.validate()
}

func (r *ReasoningConfig) validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return fmt.Errorf("reasoning.model cannot be empty")
	}
	u, err := url.Parse(strings.TrimSpace(r.Endpoint))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("reasoning.endpoint must be an http(s) URL, got %q", r.Endpoint)
	}
	if math.IsNaN(r.Temperature) || r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("reasoning.temperature must be within [0,2]")
	}
	if r.TimeoutSeconds <= 0 {
		return fmt.Errorf("reasoning.timeout_seconds must be > 0")
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("reasoning.max_tokens must be >= 0")
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("reasoning.max_retries must be >= 0")
	}
	if r.BackoffBaseMS < 0 || r.BackoffMaxMS < 0 {
		return fmt.Errorf("reasoning.backoff_base_ms/backoff_max_ms must be >= 0")
	}
	if r.BackoffMaxMS > 0 && r.BackoffBaseMS > r.BackoffMaxMS {
		return fmt.Errorf("reasoning.backoff_base_ms (%d) exceeds backoff_max_ms (%d)", r.BackoffBaseMS, r.BackoffMaxMS)
	}
	if r.RateLimitPerSec < 0 || r.RateLimitBurst < 0 {
		return fmt.Errorf("reasoning.rate_limit_per_sec/rate_limit_burst must be >= 0")
	}
	return nil
}

func (b *BreakerConfig) validate() error {
	switch b.Preset {
	case "default", "critical":
	default:
		return fmt.Errorf("breaker.preset must be default or critical, got %q", b.Preset)
	}
	if !b.Enabled {
		return nil
	}
	if b.FailureThreshold <= 0 || b.SuccessThreshold <= 0 {
		return fmt.Errorf("breaker thresholds must be > 0")
	}
	if b.OpenTimeoutSeconds <= 0 {
		return fmt.Errorf("breaker.open_timeout_seconds must be > 0")
	}
	return nil
}

func (f *FallbackConfig) validate() error {
	switch f.Profile {
	case "conservative", "balanced", "aggressive":
	case "custom":
		if strings.TrimSpace(f.RulesPath) == "" {
			return fmt.Errorf("fallback.profile=custom requires fallback.rules_path")
		}
	default:
		return fmt.Errorf("fallback.profile must be conservative|balanced|aggressive|custom, got %q", f.Profile)
	}
	if f.Watch && strings.TrimSpace(f.RulesPath) == "" {
		return fmt.Errorf("fallback.watch requires fallback.rules_path")
	}
	return nil
}

var supportedIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "12h": true, "1d": true,
}

func (m *MarketConfig) validate() error {
	if len(m.Symbols) == 0 {
		return fmt.Errorf("market.symbols requires at least one symbol")
	}
	for _, s := range m.Symbols {
		if !symbol.IsValid(s) {
			return fmt.Errorf("market.symbols: %q is not a BASE/QUOTE pair", s)
		}
	}
	if !supportedIntervals[m.Interval] {
		return fmt.Errorf("market.interval %q not supported", m.Interval)
	}
	if m.MAShort >= m.MALong {
		return fmt.Errorf("market.ma_short (%d) must be < market.ma_long (%d)", m.MAShort, m.MALong)
	}
	if m.CandleLimit <= m.MALong {
		return fmt.Errorf("market.candle_limit (%d) must exceed market.ma_long (%d)", m.CandleLimit, m.MALong)
	}
	if m.MaxRetries < 0 {
		return fmt.Errorf("market.max_retries must be >= 0")
	}
	return nil
}

func (l *LoopConfig) validate() error {
	if l.IntervalSeconds <= 0 {
		return fmt.Errorf("loop.interval_seconds must be > 0")
	}
	if l.Concurrency <= 0 {
		return fmt.Errorf("loop.concurrency must be > 0")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if !n.Enabled {
		return nil
	}
	if strings.TrimSpace(n.TelegramBotToken) == "" || strings.TrimSpace(n.TelegramChatID) == "" {
		return fmt.Errorf("notify.enabled requires telegram_bot_token and telegram_chat_id")
	}
	if n.MinIntervalSeconds < 0 {
		return fmt.Errorf("notify.min_interval_seconds must be >= 0")
	}
	return nil
}
