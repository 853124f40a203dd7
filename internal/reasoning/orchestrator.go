// Package reasoning mediates every call to the reasoning API: retry with
// backoff, circuit breaking and local fallback, so a caller always gets a
// usable answer or a clearly critical error.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"decisiongate/internal/fallback"
	"decisiongate/internal/logger"
	"decisiongate/internal/pkg/backoff"
	"decisiongate/internal/pkg/circuit"
	"decisiongate/internal/pkg/jsonutil"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	defaultAttemptTimeout = 30 * time.Second
	defaultMaxRetryAfter  = 60 * time.Second
)

// Transport performs a single network attempt. Implementations must not retry.
type Transport interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Throttler is implemented by transports with a local rate limiter. Execute
// waits on it under the caller's context, before the per-attempt deadline
// starts, so local throttling never counts as a remote failure.
type Throttler interface {
	Throttle(ctx context.Context) error
}

type throttledKey struct{}

// Throttled reports whether Execute already waited on the transport's limiter
// for this attempt.
func Throttled(ctx context.Context) bool {
	v, _ := ctx.Value(throttledKey{}).(bool)
	return v
}

type TransportFunc func(ctx context.Context, req Request) (string, error)

func (f TransportFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

type Options struct {
	Policy backoff.Policy
	// MaxRetryAfter caps a server retry-after hint; 0 means 60s.
	MaxRetryAfter time.Duration
	// AttemptTimeout bounds one transport call; 0 means 30s.
	AttemptTimeout time.Duration
	// Breaker may be nil to disable circuit breaking.
	Breaker *circuit.CircuitBreaker
	// Fallback nil disables fallback; failures are then returned as errors.
	Fallback fallback.Decider
	Stats    *StatsCollector
	Clock    clock.Clock

	OnAttempt func(Attempt)
	// OnAlert fires on critical failures and rejected credentials.
	OnAlert func(traceID string, err *Error)
}

type Orchestrator struct {
	transport Transport
	opts      Options
	clock     clock.Clock
	stats     *StatsCollector
}

func NewOrchestrator(t Transport, opts Options) (*Orchestrator, error) {
	if t == nil {
		return nil, errors.New("reasoning orchestrator requires a transport")
	}
	if opts.Policy.MaxRetries < 0 {
		return nil, fmt.Errorf("negative max retries %d", opts.Policy.MaxRetries)
	}
	if opts.MaxRetryAfter <= 0 {
		opts.MaxRetryAfter = defaultMaxRetryAfter
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = defaultAttemptTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Stats == nil {
		opts.Stats = NewStatsCollector()
	}
	return &Orchestrator{transport: t, opts: opts, clock: opts.Clock, stats: opts.Stats}, nil
}

type traceKey struct{}

// WithTraceID attaches a trace id that Execute copies into the Result.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func TraceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// call is the per-Execute state: attempting -> waiting -> attempting ... -> resolved.
type call struct {
	req      Request
	cond     fallback.MarketCondition
	traceID  string
	start    time.Time
	policy   backoff.Policy
	retries  int
	attempts int
	delay    time.Duration
}

// Execute returns exactly one of: a network result, a fallback result, or an
// error. The error is either critical (invalid request, misconfigured
// transport) or, with fallback disabled, the classified failure.
func (o *Orchestrator) Execute(ctx context.Context, req Request, cond fallback.MarketCondition) (Result, error) {
	c := &call{req: req, cond: cond, traceID: TraceIDFrom(ctx), start: o.clock.Now(), policy: o.opts.Policy}
	if c.traceID == "" {
		c.traceID = uuid.NewString()
	}
	if err := req.Validate(); err != nil {
		return o.critical(c, Classify(err))
	}
	if n, ok := req.MaxRetries(); ok {
		c.policy.MaxRetries = n
	}

	for {
		// Re-checked before every retry: another call may have opened it.
		if o.opts.Breaker != nil && !o.opts.Breaker.Allow() {
			o.stats.RecordBreakerRejection()
			logger.Warnf("[reasoning] trace=%s breaker open after %d attempts, using fallback", c.traceID, c.attempts)
			return o.resolveFallback(c, ReasonBreakerOpen, &Error{Kind: KindCircuitBreakerOpen, Err: ErrCircuitOpen})
		}
		if o.opts.OnAttempt != nil {
			o.opts.OnAttempt(Attempt{TraceID: c.traceID, Index: c.retries, Elapsed: o.clock.Since(c.start), Delay: c.delay})
		}
		actx, werr := o.throttle(ctx)
		if werr != nil {
			// 本地限流等不到：调用方的期限不够，按取消处理，不计入熔断。
			logger.Warnf("[reasoning] trace=%s local rate limit wait failed: %v", c.traceID, werr)
			return o.resolveFallback(c, ReasonCancelled, &Error{Kind: KindCancelled, Message: "local rate limit", Err: werr})
		}
		payload, err := o.attempt(actx, c)
		if err == nil {
			o.recordSuccess()
			latency := o.clock.Since(c.start)
			o.stats.Record(true, false, latency)
			return Result{
				Provenance: ProvenanceNetwork,
				Payload:    payload,
				JSON:       req.Structured(),
				Attempts:   c.attempts,
				Latency:    latency,
				TraceID:    c.traceID,
			}, nil
		}

		cerr := err
		if ctx.Err() != nil {
			cerr = &Error{Kind: KindCancelled, Err: ctx.Err()}
		}
		switch {
		case cerr.Kind == KindCritical:
			return o.critical(c, cerr)
		case cerr.Kind == KindCancelled:
			return o.resolveFallback(c, ReasonCancelled, cerr)
		case !cerr.Retryable():
			o.recordFailure()
			if cerr.Kind == KindAuthentication {
				o.alert(c, cerr)
			}
			return o.resolveFallback(c, ReasonNonRetryable, cerr)
		case !c.policy.CanRetry(c.retries):
			o.recordFailure()
			return o.resolveFallback(c, ReasonRetriesExhausted, cerr)
		}

		c.delay = o.nextDelay(c, cerr)
		logger.Debugf("[reasoning] trace=%s attempt %d failed (%s), retrying in %s", c.traceID, c.retries+1, cerr.Kind, c.delay)
		o.stats.RecordRetry()
		c.retries++
		if err := o.wait(ctx, c.delay); err != nil {
			return o.resolveFallback(c, ReasonCancelled, &Error{Kind: KindCancelled, Err: err})
		}
	}
}

func (o *Orchestrator) throttle(ctx context.Context) (context.Context, error) {
	t, ok := o.transport.(Throttler)
	if !ok {
		return ctx, nil
	}
	if err := t.Throttle(ctx); err != nil {
		return ctx, err
	}
	return context.WithValue(ctx, throttledKey{}, true), nil
}

// attempt runs one transport call under the per-attempt deadline.
func (o *Orchestrator) attempt(ctx context.Context, c *call) (string, *Error) {
	timeout := o.opts.AttemptTimeout
	if d := c.req.Timeout(); d > 0 {
		timeout = d
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	c.attempts++

	payload, err := o.transport.Complete(actx, c.req)
	if err != nil {
		return "", Classify(err)
	}
	if c.req.Structured() && !structuredJSON(payload) {
		return "", &Error{Kind: KindSerialization, Message: "structured reply is not valid JSON"}
	}
	return payload, nil
}

// structuredJSON accepts a bare object or one wrapped in prose or a code
// fence, since some compatible endpoints ignore response_format.
func structuredJSON(payload string) bool {
	if gjson.Valid(strings.TrimSpace(payload)) {
		return true
	}
	obj, ok := jsonutil.ExtractObject(payload)
	return ok && gjson.Valid(obj)
}

// nextDelay floors the backoff with a capped retry-after hint.
func (o *Orchestrator) nextDelay(c *call, err *Error) time.Duration {
	d := c.policy.Delay(c.retries)
	if err.Kind == KindRateLimit && err.RetryAfter > 0 {
		d = backoff.WithFloor(d, min(err.RetryAfter, o.opts.MaxRetryAfter))
	}
	return d
}

func (o *Orchestrator) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := o.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) resolveFallback(c *call, reason Reason, cause *Error) (Result, error) {
	latency := o.clock.Since(c.start)
	res := Result{
		Reason:   reason,
		Attempts: c.attempts,
		Latency:  latency,
		Cause:    cause,
		TraceID:  c.traceID,
	}
	if o.opts.Fallback == nil {
		o.stats.Record(false, false, latency)
		return res, cause
	}
	decision := o.opts.Fallback.Decide(c.cond)
	o.stats.Record(false, true, latency)
	res.Provenance = ProvenanceFallback
	res.Fallback = &decision
	logger.Infof("[reasoning] trace=%s fallback (%s): %s conf=%.2f rule=%s",
		c.traceID, reason, decision.Action, decision.Confidence, decision.Rule)
	return res, nil
}

func (o *Orchestrator) critical(c *call, err *Error) (Result, error) {
	o.stats.Record(false, false, o.clock.Since(c.start))
	o.alert(c, err)
	return Result{}, err
}

// alert fires for critical failures and rejected credentials.
func (o *Orchestrator) alert(c *call, err *Error) {
	if err.Kind == KindAuthentication {
		logger.Alertf("[reasoning] trace=%s authentication rejected by provider: %v", c.traceID, err)
	} else {
		logger.Alertf("[reasoning] trace=%s critical: %v", c.traceID, err)
	}
	if o.opts.OnAlert != nil {
		o.opts.OnAlert(c.traceID, err)
	}
}

func (o *Orchestrator) recordSuccess() {
	if o.opts.Breaker != nil {
		o.opts.Breaker.RecordSuccess()
	}
}

func (o *Orchestrator) recordFailure() {
	if o.opts.Breaker != nil {
		o.opts.Breaker.RecordFailure()
	}
}

func (o *Orchestrator) Stats() StatsSnapshot { return o.stats.Snapshot() }

// BreakerSnapshot reports ok=false when circuit breaking is disabled.
func (o *Orchestrator) BreakerSnapshot() (circuit.Snapshot, bool) {
	if o.opts.Breaker == nil {
		return circuit.Snapshot{}, false
	}
	return o.opts.Breaker.Snapshot(), true
}

// Breaker exposes the breaker for operator overrides; may be nil.
func (o *Orchestrator) Breaker() *circuit.CircuitBreaker { return o.opts.Breaker }
