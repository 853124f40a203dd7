package config

import (
	"strings"

	"decisiongate/internal/pkg/backoff"
	"decisiongate/internal/pkg/circuit"
	"decisiongate/internal/pkg/symbol"
)

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":9991"
	defaultAppLogPath      = "logs/decisiongate.log"
	defaultAppLLMLogPath   = "logs/decisiongate-llm.log"
	defaultEndpoint        = "https://api.openai.com/v1"
	defaultModel           = "gpt-4o-mini"
	defaultUserAgent       = "decisiongate/1.0"
	defaultTimeoutSeconds  = 30
	defaultTemperature     = 0.2
	defaultMaxTokens       = 512
	defaultMaxRetryAfter   = 60
	defaultBreakerPreset   = "default"
	defaultFallbackProfile = "balanced"
	defaultMarketREST      = "https://fapi.binance.com"
	defaultMarketInterval  = "1h"
	defaultCandleLimit     = 100
	defaultMarketTimeout   = 10
	defaultMarketRetries   = 3
	defaultRSIPeriod       = 14
	defaultMAShort         = 7
	defaultMALong          = 25
	defaultLoopInterval    = 300
	defaultLoopConcurrency = 4
	defaultStorePath       = "data/decisions.db"
	defaultTelegramAPI     = "https://api.telegram.org"
	defaultNotifyInterval  = 60
)

var defaultSymbols = []string{"BTC/USDT", "ETH/USDT"}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Reasoning.applyDefaults(keys)
	c.Breaker.applyDefaults(keys)
	c.Fallback.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Loop.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Notify.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.llm_log_path", &a.LLMLog, defaultAppLLMLogPath),
	)
}

func (r *ReasoningConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	api := backoff.DefaultAPI()
	applyFieldDefaults(keys,
		stringFieldDefault("reasoning.endpoint", &r.Endpoint, defaultEndpoint),
		stringFieldDefault("reasoning.model", &r.Model, defaultModel),
		stringFieldDefault("reasoning.user_agent", &r.UserAgent, defaultUserAgent),
		intFieldDefault("reasoning.timeout_seconds", &r.TimeoutSeconds, defaultTimeoutSeconds),
		fieldDefault{
			key:   "reasoning.temperature",
			need:  func() bool { return r.Temperature == 0 },
			apply: func() { r.Temperature = defaultTemperature },
		},
		intFieldDefault("reasoning.max_tokens", &r.MaxTokens, defaultMaxTokens),
		boolFieldDefault("reasoning.structured_output", &r.StructuredOutput, true),
		fieldDefault{
			key:   "reasoning.max_retries",
			need:  func() bool { return r.MaxRetries == 0 },
			apply: func() { r.MaxRetries = api.MaxRetries },
		},
		intFieldDefault("reasoning.backoff_base_ms", &r.BackoffBaseMS, int(api.Base.Milliseconds())),
		intFieldDefault("reasoning.backoff_max_ms", &r.BackoffMaxMS, int(api.Max.Milliseconds())),
		boolFieldDefault("reasoning.jitter", &r.Jitter, api.Jitter),
		intFieldDefault("reasoning.max_retry_after_seconds", &r.MaxRetryAfterSeconds, defaultMaxRetryAfter),
	)
}

// applyDefaults fills thresholds from the preset; explicit keys win.
func (b *BreakerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("breaker.enabled", &b.Enabled, true),
		stringFieldDefault("breaker.preset", &b.Preset, defaultBreakerPreset),
	)
	b.Preset = strings.ToLower(strings.TrimSpace(b.Preset))
	preset := circuit.DefaultAPI()
	if b.Preset == "critical" {
		preset = circuit.CriticalService()
	}
	applyFieldDefaults(keys,
		intFieldDefault("breaker.failure_threshold", &b.FailureThreshold, preset.FailureThreshold),
		intFieldDefault("breaker.success_threshold", &b.SuccessThreshold, preset.SuccessThreshold),
		intFieldDefault("breaker.open_timeout_seconds", &b.OpenTimeoutSeconds, int(preset.OpenTimeout.Seconds())),
	)
}

func (f *FallbackConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("fallback.enabled", &f.Enabled, true),
		stringFieldDefault("fallback.profile", &f.Profile, defaultFallbackProfile),
	)
	f.Profile = strings.ToLower(strings.TrimSpace(f.Profile))
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		stringFieldDefault("market.interval", &m.Interval, defaultMarketInterval),
		intFieldDefault("market.candle_limit", &m.CandleLimit, defaultCandleLimit),
		intFieldDefault("market.http_timeout_seconds", &m.HTTPTimeoutSeconds, defaultMarketTimeout),
		intFieldDefault("market.max_retries", &m.MaxRetries, defaultMarketRetries),
		intFieldDefault("market.rsi_period", &m.RSIPeriod, defaultRSIPeriod),
		intFieldDefault("market.ma_short", &m.MAShort, defaultMAShort),
		intFieldDefault("market.ma_long", &m.MALong, defaultMALong),
		fieldDefault{
			key:   "market.symbols",
			need:  func() bool { return len(m.Symbols) == 0 },
			apply: func() { m.Symbols = append([]string(nil), defaultSymbols...) },
		},
	)
	m.Symbols = symbol.NormalizeList(m.Symbols)
}

func (l *LoopConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("loop.interval_seconds", &l.IntervalSeconds, defaultLoopInterval),
		intFieldDefault("loop.concurrency", &l.Concurrency, defaultLoopConcurrency),
		boolFieldDefault("loop.run_immediately", &l.RunImmediately, true),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
	)
}

func (n *NotifyConfig) applyDefaults(keys keySet) {
	if n == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("notify.telegram_api_base", &n.TelegramAPIBase, defaultTelegramAPI),
		intFieldDefault("notify.min_interval_seconds", &n.MinIntervalSeconds, defaultNotifyInterval),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
