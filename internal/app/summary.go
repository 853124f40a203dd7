package app

import (
	"fmt"
	"io"
	"strings"
	"time"

	"decisiongate/internal/config"
	"decisiongate/internal/logger"
)

// StartupSummary 汇总启动时生效的关键配置，便于核对。
type StartupSummary struct {
	Reasoning ReasoningSummary
	Breaker   BreakerSummary
	Fallback  FallbackSummary
	Market    MarketSummary
	Loop      LoopSummary
	HTTPAddr  string
	StorePath string
}

type ReasoningSummary struct {
	Endpoint   string
	Model      string
	APIKey     string
	MaxRetries int
	BackoffMin time.Duration
	BackoffMax time.Duration
	Jitter     bool
	Timeout    time.Duration
}

type BreakerSummary struct {
	Enabled          bool
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
}

type FallbackSummary struct {
	Enabled   bool
	Profile   string
	RulesPath string
	Watch     bool
}

type MarketSummary struct {
	Symbols     []string
	Interval    string
	CandleLimit int
}

type LoopSummary struct {
	Every          time.Duration
	Concurrency    int
	RunImmediately bool
}

func newStartupSummary(cfg *config.Config) *StartupSummary {
	policy := cfg.Reasoning.BackoffPolicy()
	return &StartupSummary{
		Reasoning: ReasoningSummary{
			Endpoint:   cfg.Reasoning.Endpoint,
			Model:      cfg.Reasoning.Model,
			APIKey:     logger.MaskSecret(cfg.Reasoning.APIKey),
			MaxRetries: policy.MaxRetries,
			BackoffMin: policy.Base,
			BackoffMax: policy.Max,
			Jitter:     policy.Jitter,
			Timeout:    cfg.Reasoning.AttemptTimeout(),
		},
		Breaker: BreakerSummary{
			Enabled:          cfg.Breaker.Enabled,
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			OpenTimeout:      time.Duration(cfg.Breaker.OpenTimeoutSeconds) * time.Second,
		},
		Fallback: FallbackSummary{
			Enabled:   cfg.Fallback.Enabled,
			Profile:   cfg.Fallback.Profile,
			RulesPath: cfg.Fallback.RulesPath,
			Watch:     cfg.Fallback.Watch,
		},
		Market: MarketSummary{
			Symbols:     cfg.Market.Symbols,
			Interval:    cfg.Market.Interval,
			CandleLimit: cfg.Market.CandleLimit,
		},
		Loop: LoopSummary{
			Every:          cfg.Loop.Interval(),
			Concurrency:    cfg.Loop.Concurrency,
			RunImmediately: cfg.Loop.RunImmediately,
		},
		HTTPAddr:  cfg.App.HTTPAddr,
		StorePath: cfg.Store.Path,
	}
}

func (s *StartupSummary) Print(w io.Writer) {
	if s == nil || w == nil {
		return
	}
	fmt.Fprintln(w, strings.Repeat("=", 80))
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[推理接口 (REASONING)]")
	fmt.Fprintf(w, "  端点: %s\n", s.Reasoning.Endpoint)
	fmt.Fprintf(w, "  模型: %s\n", s.Reasoning.Model)
	fmt.Fprintf(w, "  密钥: %s\n", orDash(s.Reasoning.APIKey))
	fmt.Fprintf(w, "  单次超时: %s\n", s.Reasoning.Timeout)
	fmt.Fprintf(w, "  重试: %d 次，退避 %s ~ %s，jitter=%v\n",
		s.Reasoning.MaxRetries, s.Reasoning.BackoffMin, s.Reasoning.BackoffMax, s.Reasoning.Jitter)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[熔断与降级 (BREAKER & FALLBACK)]")
	if s.Breaker.Enabled {
		fmt.Fprintf(w, "  熔断器: 失败 %d 次打开，半开成功 %d 次关闭，冷却 %s\n",
			s.Breaker.FailureThreshold, s.Breaker.SuccessThreshold, s.Breaker.OpenTimeout)
	} else {
		fmt.Fprintln(w, "  熔断器: 关闭")
	}
	switch {
	case !s.Fallback.Enabled:
		fmt.Fprintln(w, "  降级规则: 关闭")
	case s.Fallback.RulesPath != "":
		fmt.Fprintf(w, "  降级规则: %s (watch=%v)\n", s.Fallback.RulesPath, s.Fallback.Watch)
	default:
		fmt.Fprintf(w, "  降级规则: 内置 %s\n", s.Fallback.Profile)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[行情与循环 (MARKET & LOOP)]")
	fmt.Fprintf(w, "  监控币种: %s\n", formatList(s.Market.Symbols))
	fmt.Fprintf(w, "  K线周期: %s (limit=%d)\n", s.Market.Interval, s.Market.CandleLimit)
	fmt.Fprintf(w, "  循环周期: %s，并发 %d，立即执行=%v\n", s.Loop.Every, s.Loop.Concurrency, s.Loop.RunImmediately)
	fmt.Fprintf(w, "  审计库: %s\n", s.StorePath)
	fmt.Fprintf(w, "  运维接口: %s\n", orDash(s.HTTPAddr))
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
