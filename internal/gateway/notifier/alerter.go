package notifier

import (
	"context"
	"sync"
	"time"

	"decisiongate/internal/logger"

	"golang.org/x/time/rate"
)

// Alerter 异步投递告警并限流，发送失败只记录日志。
type Alerter struct {
	sink    TextNotifier
	limiter *rate.Limiter
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAlerter allows one message per minInterval; minInterval <= 0 disables throttling.
func NewAlerter(sink TextNotifier, minInterval time.Duration) *Alerter {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Alerter{sink: sink, limiter: rate.NewLimiter(limit, 1), timeout: 30 * time.Second}
}

// Notify queues msg for delivery and reports whether it was accepted.
func (a *Alerter) Notify(msg Message) bool {
	if a == nil || a.sink == nil {
		return false
	}
	if !a.limiter.Allow() {
		logger.Debugf("notifier: throttled %q", msg.Title)
		return false
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.sink.SendText(ctx, msg.Render()); err != nil {
			logger.Warnf("notifier: deliver %q failed: %v", msg.Title, err)
		}
	}()
	return true
}

// Wait blocks until queued deliveries finish.
func (a *Alerter) Wait() {
	if a == nil {
		return
	}
	a.wg.Wait()
}
