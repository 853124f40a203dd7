package app

import (
	"fmt"
	"strings"
	"time"

	"decisiongate/internal/advisor"
	"decisiongate/internal/config"
	"decisiongate/internal/fallback"
	"decisiongate/internal/gateway/binance"
	"decisiongate/internal/gateway/notifier"
	"decisiongate/internal/logger"
	"decisiongate/internal/market"
	"decisiongate/internal/pkg/circuit"
	"decisiongate/internal/reasoning"
	"decisiongate/internal/store"
	opshttp "decisiongate/internal/transport/http/ops"
)

// buildAlerter 返回 nil 表示未启用告警推送。
func buildAlerter(cfg config.NotifyConfig) *notifier.Alerter {
	if !cfg.Enabled {
		return nil
	}
	tg := notifier.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.TelegramAPIBase)
	return notifier.NewAlerter(tg, cfg.MinInterval())
}

// buildBreaker 返回 nil 表示未启用熔断。
func buildBreaker(cfg config.BreakerConfig, alerts *notifier.Alerter) *circuit.CircuitBreaker {
	if !cfg.Enabled {
		return nil
	}
	cb := circuit.NewCircuitBreaker("reasoning", cfg.Settings(), nil)
	cb.SetStateChangeHandler(func(name string, from, to circuit.State) {
		if to == circuit.StateOpen {
			logger.Warnf("circuit %s: %s -> %s, reasoning calls short-circuited", name, from, to)
		} else {
			logger.Infof("circuit %s: %s -> %s", name, from, to)
		}
		// 半开只是探测，不推送。
		if to != circuit.StateHalfOpen {
			alerts.Notify(notifier.BreakerAlert(name, from.String(), to.String(), time.Now()))
		}
	})
	return cb
}

// buildFallback returns the decider plus the watcher when rules come from a file.
func buildFallback(cfg config.FallbackConfig) (fallback.Decider, *fallback.Watcher, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}
	if path := strings.TrimSpace(cfg.RulesPath); path != "" {
		w, err := fallback.NewWatcher(path, cfg.Watch)
		if err != nil {
			return nil, nil, fmt.Errorf("load fallback rules: %w", err)
		}
		return w, w, nil
	}
	profile, err := fallback.ShippedProfile(cfg.Profile)
	if err != nil {
		return nil, nil, err
	}
	eng, err := fallback.NewEngine(profile)
	if err != nil {
		return nil, nil, err
	}
	return eng, nil, nil
}

func buildOrchestrator(cfg *config.Config, transport reasoning.Transport, breaker *circuit.CircuitBreaker, fb fallback.Decider, alerts *notifier.Alerter) (*reasoning.Orchestrator, error) {
	return reasoning.NewOrchestrator(transport, reasoning.Options{
		Policy:         cfg.Reasoning.BackoffPolicy(),
		MaxRetryAfter:  cfg.Reasoning.MaxRetryAfter(),
		AttemptTimeout: cfg.Reasoning.AttemptTimeout(),
		Breaker:        breaker,
		Fallback:       fb,
		OnAlert: func(traceID string, err *reasoning.Error) {
			alerts.Notify(alertMessage(traceID, err, time.Now()))
		},
	})
}

func alertMessage(traceID string, err *reasoning.Error, at time.Time) notifier.Message {
	switch {
	case err == nil:
		return notifier.CriticalAlert(traceID, nil, at)
	case err.Kind == reasoning.KindAuthentication:
		return notifier.AuthAlert(traceID, err, at)
	default:
		return notifier.CriticalAlert(traceID, err, at)
	}
}

func buildMarketSource(cfg config.MarketConfig) market.Source {
	return binance.New(binance.Config{
		RESTBaseURL: cfg.RESTBaseURL,
		HTTPTimeout: time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
		MaxRetries:  cfg.MaxRetries,
	})
}

func advisorSettings(cfg *config.Config) advisor.Settings {
	opts := []reasoning.RequestOption{
		reasoning.WithTemperature(cfg.Reasoning.Temperature),
		reasoning.WithTimeout(cfg.Reasoning.AttemptTimeout()),
	}
	if !cfg.Reasoning.StructuredOutput {
		opts = append(opts, reasoning.WithFreeformOutput())
	}
	if cfg.Reasoning.MaxTokens > 0 {
		opts = append(opts, reasoning.WithMaxTokens(cfg.Reasoning.MaxTokens))
	}
	return advisor.Settings{
		Model:       cfg.Reasoning.Model,
		Symbols:     cfg.Market.Symbols,
		Interval:    cfg.Market.Interval,
		CandleLimit: cfg.Market.CandleLimit,
		Indicators: market.IndicatorSettings{
			Interval:  cfg.Market.Interval,
			RSIPeriod: cfg.Market.RSIPeriod,
			MAShort:   cfg.Market.MAShort,
			MALong:    cfg.Market.MALong,
		},
		Concurrency:    cfg.Loop.Concurrency,
		Every:          cfg.Loop.Interval(),
		Offset:         market.DefaultKlineGrace,
		RunImmediately: cfg.Loop.RunImmediately,
		RequestOptions: opts,
	}
}

// buildOpsServer 只把非空依赖交给 ops 服务，避免 typed-nil 接口。
func buildOpsServer(addr string, orch *reasoning.Orchestrator, log *store.DecisionLog, adv *advisor.Advisor, watcher *fallback.Watcher) (*opshttp.Server, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, nil
	}
	sc := opshttp.ServerConfig{
		Addr:      addr,
		Stats:     orch,
		Decisions: log,
		Latest:    adv,
	}
	if cb := orch.Breaker(); cb != nil {
		sc.Breaker = cb
	}
	if watcher != nil {
		sc.Rules = watcher
	}
	return opshttp.NewServer(sc)
}
