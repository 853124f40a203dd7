package app

import (
	"context"
	"fmt"
	"os"

	"decisiongate/internal/advisor"
	"decisiongate/internal/config"
	"decisiongate/internal/gateway/notifier"
	"decisiongate/internal/gateway/provider"
	"decisiongate/internal/logger"
	"decisiongate/internal/reasoning"
	"decisiongate/internal/store"
	opshttp "decisiongate/internal/transport/http/ops"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动决策循环与运维接口。
type App struct {
	cfg     *config.Config
	orch    *reasoning.Orchestrator
	advisor *advisor.Advisor
	log     *store.DecisionLog
	alerts  *notifier.Alerter
	opsHTTP *opshttp.Server
	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	transport, err := provider.FromConfig(cfg.Reasoning)
	if err != nil {
		return nil, fmt.Errorf("init reasoning client: %w", err)
	}
	alerts := buildAlerter(cfg.Notify)
	breaker := buildBreaker(cfg.Breaker, alerts)
	fb, watcher, err := buildFallback(cfg.Fallback)
	if err != nil {
		return nil, err
	}
	orch, err := buildOrchestrator(cfg, transport, breaker, fb, alerts)
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}

	decisions, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open decision log: %w", err)
	}

	var opts []advisor.Option
	if fb != nil {
		opts = append(opts, advisor.WithLocalDecider(fb))
	}
	adv, err := advisor.New(orch, buildMarketSource(cfg.Market), decisions, advisorSettings(cfg), opts...)
	if err != nil {
		_ = decisions.Close()
		return nil, err
	}

	srv, err := buildOpsServer(cfg.App.HTTPAddr, orch, decisions, adv, watcher)
	if err != nil {
		_ = decisions.Close()
		return nil, err
	}

	logger.Infof("✓ reasoning endpoint=%s model=%s key=%s", cfg.Reasoning.Endpoint, cfg.Reasoning.Model, logger.MaskSecret(cfg.Reasoning.APIKey))
	return &App{
		cfg:     cfg,
		orch:    orch,
		advisor: adv,
		log:     decisions,
		alerts:  alerts,
		opsHTTP: srv,
		Summary: newStartupSummary(cfg),
	}, nil
}

// Run 启动决策循环与运维接口，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print(os.Stdout)
	}
	defer func() {
		a.alerts.Wait()
		if err := a.log.Close(); err != nil {
			logger.Warnf("close decision log: %v", err)
		}
		snap := a.orch.Stats()
		logger.Infof("shutdown stats: total=%d success=%d failed=%d fallback=%d rejected=%d retries=%d",
			snap.TotalRequests, snap.SuccessfulRequests, snap.FailedRequests,
			snap.FallbackRequests, snap.BreakerRejections, snap.RetryAttempts)
	}()

	group, ctx := errgroup.WithContext(ctx)
	if a.opsHTTP != nil {
		group.Go(func() error {
			if err := a.opsHTTP.Start(ctx); err != nil {
				return fmt.Errorf("ops http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.advisor.Run(ctx)
	})
	return group.Wait()
}

func (a *App) Orchestrator() *reasoning.Orchestrator { return a.orch }

// Advisor exposes the decision loop, e.g. for a one-shot run.
func (a *App) Advisor() *advisor.Advisor { return a.advisor }

func (a *App) DecisionLog() *store.DecisionLog { return a.log }

func (a *App) OpsServer() *opshttp.Server { return a.opsHTTP }

// Close releases resources when Run is never called.
func (a *App) Close() error {
	if a == nil || a.log == nil {
		return nil
	}
	return a.log.Close()
}
