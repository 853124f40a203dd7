// Package advisor runs the periodic decision loop: fetch candles, build a
// market snapshot, ask the reasoning layer, and audit the outcome.
package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"decisiongate/internal/decision"
	"decisiongate/internal/fallback"
	"decisiongate/internal/logger"
	"decisiongate/internal/market"
	"decisiongate/internal/reasoning"
	"decisiongate/internal/store"
)

// Executor is the slice of the orchestrator the loop needs.
type Executor interface {
	Execute(ctx context.Context, req reasoning.Request, cond fallback.MarketCondition) (reasoning.Result, error)
}

// Sink receives every audited outcome.
type Sink interface {
	Append(ctx context.Context, rec *store.DecisionRecord) error
}

type Settings struct {
	Model       string
	Symbols     []string
	Interval    string
	CandleLimit int
	Indicators  market.IndicatorSettings
	Concurrency int
	// Every 为循环周期；对齐到周期边界后再延迟 Offset 执行。
	Every          time.Duration
	Offset         time.Duration
	RunImmediately bool
	RequestOptions []reasoning.RequestOption
}

// Outcome is the latest result for one symbol.
type Outcome struct {
	Symbol    string                   `json:"symbol"`
	TraceID   string                   `json:"trace_id"`
	Decision  *decision.Decision       `json:"decision,omitempty"`
	Condition fallback.MarketCondition `json:"condition"`
	Attempts  int                      `json:"attempts"`
	LatencyMS int64                    `json:"latency_ms"`
	Error     string                   `json:"error,omitempty"`
	At        time.Time                `json:"at"`
}

type Advisor struct {
	exec     Executor
	source   market.Source
	sink     Sink
	local    fallback.Decider
	settings Settings
	clock    clock.Clock
	newID    func() string

	mu     sync.RWMutex
	latest map[string]Outcome
	runs   int
}

// Option customises an Advisor.
type Option func(*Advisor)

func WithClock(c clock.Clock) Option { return func(a *Advisor) { a.clock = c } }

// WithLocalDecider sets the rules used when a model reply fails validation.
func WithLocalDecider(d fallback.Decider) Option { return func(a *Advisor) { a.local = d } }

func WithIDGenerator(fn func() string) Option { return func(a *Advisor) { a.newID = fn } }

func New(exec Executor, source market.Source, sink Sink, settings Settings, opts ...Option) (*Advisor, error) {
	if exec == nil || source == nil {
		return nil, errors.New("advisor requires an executor and a market source")
	}
	if len(settings.Symbols) == 0 {
		return nil, errors.New("advisor requires at least one symbol")
	}
	if settings.Concurrency <= 0 {
		settings.Concurrency = 1
	}
	if settings.Indicators.Interval == "" {
		settings.Indicators.Interval = settings.Interval
	}
	a := &Advisor{
		exec:     exec,
		source:   source,
		sink:     sink,
		settings: settings,
		clock:    clock.New(),
		newID:    uuid.NewString,
		latest:   make(map[string]Outcome, len(settings.Symbols)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// RunOnce evaluates every symbol with bounded concurrency. Per-symbol
// failures are logged and recorded; only cancellation is returned.
func (a *Advisor) RunOnce(ctx context.Context) ([]Outcome, error) {
	out := make([]Outcome, len(a.settings.Symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.settings.Concurrency)
	for i, sym := range a.settings.Symbols {
		g.Go(func() error {
			out[i] = a.evaluate(gctx, sym)
			return nil
		})
	}
	_ = g.Wait()

	a.mu.Lock()
	a.runs++
	for _, o := range out {
		a.latest[o.Symbol] = o
	}
	a.mu.Unlock()
	return out, ctx.Err()
}

func (a *Advisor) evaluate(ctx context.Context, sym string) Outcome {
	traceID := a.newID()
	ctx = reasoning.WithTraceID(ctx, traceID)
	o := Outcome{Symbol: sym, TraceID: traceID, At: a.clock.Now().UTC()}

	candles, err := a.source.FetchHistory(ctx, sym, a.settings.Interval, a.settings.CandleLimit)
	if err != nil {
		logger.Warnf("advisor[%s] %s: fetch candles: %v", traceID, sym, err)
		o.Error = err.Error()
		return o
	}
	cond, err := market.BuildCondition(sym, candles, a.settings.Indicators)
	if err != nil {
		logger.Warnf("advisor[%s] %s: build condition: %v", traceID, sym, err)
		o.Error = err.Error()
		return o
	}
	o.Condition = cond

	req, err := decision.NewRequest(a.settings.Model, cond, a.settings.RequestOptions...)
	if err != nil {
		o.Error = err.Error()
		a.audit(ctx, o, reasoning.Result{TraceID: traceID})
		return o
	}
	res, err := a.exec.Execute(ctx, req, cond)
	o.Attempts, o.LatencyMS = res.Attempts, res.Latency.Milliseconds()
	if err != nil {
		logger.Errorf("advisor[%s] %s: reasoning failed: %v", traceID, sym, err)
		o.Error = err.Error()
		a.audit(ctx, o, res)
		return o
	}

	d, err := decision.FromResult(res)
	if err != nil {
		if a.local == nil {
			logger.Warnf("advisor[%s] %s: %v", traceID, sym, err)
			o.Error = err.Error()
			a.audit(ctx, o, res)
			return o
		}
		logger.Warnf("advisor[%s] %s: model reply rejected, using local rules: %v", traceID, sym, err)
		d = decision.FromFallback(a.local.Decide(cond), decision.ReasonInvalidPayload)
		o.Error = err.Error()
	}
	o.Decision = &d
	logger.Infof("advisor[%s] %s: %s attempts=%d latency=%s", traceID, sym, d, res.Attempts, res.Latency.Truncate(time.Millisecond))
	a.audit(ctx, o, res)
	return o
}

func (a *Advisor) audit(ctx context.Context, o Outcome, res reasoning.Result) {
	if a.sink == nil {
		return
	}
	rec := &store.DecisionRecord{
		TraceID:    o.TraceID,
		Symbol:     o.Symbol,
		Provenance: string(res.Provenance),
		Reason:     string(res.Reason),
		Attempts:   res.Attempts,
		LatencyMS:  res.Latency.Milliseconds(),
		Error:      o.Error,
		CreatedAt:  o.At,
	}
	if rec.Provenance == "" {
		rec.Provenance = "failed"
	}
	if d := o.Decision; d != nil {
		rec.Action = string(d.Action)
		rec.Confidence = d.Confidence
		rec.Rationale = d.Rationale
		rec.Rule = d.Rule
		if d.Reason != "" {
			rec.Reason = string(d.Reason)
		}
	}
	if rec.Action == "" {
		rec.Action = string(fallback.ActionNone)
	}
	if raw, err := json.Marshal(o.Condition); err == nil {
		rec.Condition = raw
	}
	// 审计写入不应被单次循环的取消打断。
	if err := a.sink.Append(context.WithoutCancel(ctx), rec); err != nil {
		logger.Errorf("advisor[%s] %s: audit append failed: %v", o.TraceID, o.Symbol, err)
	}
}

// Latest returns the most recent outcome per symbol, in configured order.
func (a *Advisor) Latest() []Outcome {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Outcome, 0, len(a.latest))
	for _, sym := range a.settings.Symbols {
		if o, ok := a.latest[sym]; ok {
			out = append(out, o)
		}
	}
	return out
}

// Runs reports how many loop iterations have completed.
func (a *Advisor) Runs() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.runs
}

// Run executes RunOnce on an interval aligned schedule until ctx is done.
func (a *Advisor) Run(ctx context.Context) error {
	if a.settings.Every <= 0 {
		return fmt.Errorf("advisor: invalid loop interval %s", a.settings.Every)
	}
	logger.Infof("advisor: started symbols=%v every=%s offset=%s run_immediately=%v",
		a.settings.Symbols, a.settings.Every, a.settings.Offset, a.settings.RunImmediately)
	if a.settings.RunImmediately {
		if _, err := a.RunOnce(ctx); err != nil {
			return nil
		}
	}
	for {
		now := a.clock.Now()
		wake := nextAligned(now, a.settings.Every, a.settings.Offset)
		logger.Debugf("advisor: next run at %s (in %s)", wake.UTC().Format(time.RFC3339), wake.Sub(now).Truncate(time.Second))
		timer := a.clock.Timer(wake.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("advisor: ctx done, exit")
			return nil
		case <-timer.C:
		}
		if _, err := a.RunOnce(ctx); err != nil {
			return nil
		}
	}
}

// nextAligned returns the first interval boundary plus offset strictly
// after now.
func nextAligned(now time.Time, every, offset time.Duration) time.Time {
	now = now.UTC()
	wake := now.Truncate(every).Add(offset)
	for !wake.After(now) {
		wake = wake.Add(every)
	}
	return wake
}
