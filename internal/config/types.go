package config

import (
	"strings"
	"time"

	"decisiongate/internal/pkg/backoff"
	"decisiongate/internal/pkg/circuit"
)

// Config 是 decisiongate 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Reasoning ReasoningConfig `toml:"reasoning"`
	Breaker   BreakerConfig   `toml:"breaker"`
	Fallback  FallbackConfig  `toml:"fallback"`
	Market    MarketConfig    `toml:"market"`
	Loop      LoopConfig      `toml:"loop"`
	Store     StoreConfig     `toml:"store"`
	Notify    NotifyConfig    `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
	LLMLog   string `toml:"llm_log_path"`
	LLMDump  bool   `toml:"llm_dump_payload"`
}

// ReasoningConfig 描述兼容 OpenAI 的推理端点以及重试策略。
type ReasoningConfig struct {
	Endpoint             string            `toml:"endpoint"`
	APIKey               string            `toml:"api_key"`
	Model                string            `toml:"model"`
	UserAgent            string            `toml:"user_agent"`
	TimeoutSeconds       int               `toml:"timeout_seconds"`
	Temperature          float64           `toml:"temperature"`
	MaxTokens            int               `toml:"max_tokens"`
	StructuredOutput     bool              `toml:"structured_output"`
	MaxRetries           int               `toml:"max_retries"`
	BackoffBaseMS        int               `toml:"backoff_base_ms"`
	BackoffMaxMS         int               `toml:"backoff_max_ms"`
	Jitter               bool              `toml:"jitter"`
	MaxRetryAfterSeconds int               `toml:"max_retry_after_seconds"`
	RateLimitPerSec      float64           `toml:"rate_limit_per_sec"`
	RateLimitBurst       int               `toml:"rate_limit_burst"`
	Headers              map[string]string `toml:"headers"`
}

func (r ReasoningConfig) AttemptTimeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

func (r ReasoningConfig) MaxRetryAfter() time.Duration {
	return time.Duration(r.MaxRetryAfterSeconds) * time.Second
}

func (r ReasoningConfig) BackoffPolicy() backoff.Policy {
	return backoff.Policy{
		Base:       time.Duration(r.BackoffBaseMS) * time.Millisecond,
		Max:        time.Duration(r.BackoffMaxMS) * time.Millisecond,
		MaxRetries: r.MaxRetries,
		Jitter:     r.Jitter,
	}
}

// BreakerConfig: preset 为 default 或 critical，显式阈值覆盖预设。
type BreakerConfig struct {
	Enabled            bool   `toml:"enabled"`
	Preset             string `toml:"preset"`
	FailureThreshold   int    `toml:"failure_threshold"`
	SuccessThreshold   int    `toml:"success_threshold"`
	OpenTimeoutSeconds int    `toml:"open_timeout_seconds"`
}

func (b BreakerConfig) Settings() circuit.Settings {
	return circuit.Settings{
		FailureThreshold: b.FailureThreshold,
		SuccessThreshold: b.SuccessThreshold,
		OpenTimeout:      time.Duration(b.OpenTimeoutSeconds) * time.Second,
	}
}

type FallbackConfig struct {
	Enabled   bool   `toml:"enabled"`
	Profile   string `toml:"profile"`
	RulesPath string `toml:"rules_path"`
	Watch     bool   `toml:"watch"`
}

type MarketConfig struct {
	RESTBaseURL        string   `toml:"rest_base_url"`
	Symbols            []string `toml:"symbols"`
	Interval           string   `toml:"interval"`
	CandleLimit        int      `toml:"candle_limit"`
	HTTPTimeoutSeconds int      `toml:"http_timeout_seconds"`
	MaxRetries         int      `toml:"max_retries"`
	RSIPeriod          int      `toml:"rsi_period"`
	MAShort            int      `toml:"ma_short"`
	MALong             int      `toml:"ma_long"`
}

type LoopConfig struct {
	IntervalSeconds int  `toml:"interval_seconds"`
	Concurrency     int  `toml:"concurrency"`
	RunImmediately  bool `toml:"run_immediately"`
}

func (l LoopConfig) Interval() time.Duration {
	return time.Duration(l.IntervalSeconds) * time.Second
}

type StoreConfig struct {
	Path string `toml:"path"`
}

// NotifyConfig 控制运维告警（熔断与严重错误）推送到 Telegram。
type NotifyConfig struct {
	Enabled            bool   `toml:"enabled"`
	TelegramBotToken   string `toml:"telegram_bot_token"`
	TelegramChatID     string `toml:"telegram_chat_id"`
	TelegramAPIBase    string `toml:"telegram_api_base"`
	MinIntervalSeconds int    `toml:"min_interval_seconds"`
}

func (n NotifyConfig) MinInterval() time.Duration {
	return time.Duration(n.MinIntervalSeconds) * time.Second
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
