package reasoning

import (
	"sync"
	"time"
)

// StatsSnapshot is a point-in-time copy. Successful counts network results;
// everything else (fallback or propagated error) is failed.
type StatsSnapshot struct {
	TotalRequests      uint64        `json:"total_requests"`
	SuccessfulRequests uint64        `json:"successful_requests"`
	FailedRequests     uint64        `json:"failed_requests"`
	FallbackRequests   uint64        `json:"fallback_requests"`
	BreakerRejections  uint64        `json:"breaker_rejections"`
	RetryAttempts      uint64        `json:"retry_attempts"`
	LatencyCount       uint64        `json:"latency_count"`
	LatencySum         time.Duration `json:"latency_sum"`
	LatencyMin         time.Duration `json:"latency_min"`
	LatencyMax         time.Duration `json:"latency_max"`
	LatencyMean        time.Duration `json:"latency_mean"`
}

// SuccessRate is successful/total, 0 before the first request.
func (s StatsSnapshot) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.SuccessfulRequests) / float64(s.TotalRequests)
}

// StatsCollector aggregates call outcomes. One mutex guards one value.
type StatsCollector struct {
	mu sync.Mutex
	s  StatsSnapshot
}

func NewStatsCollector() *StatsCollector { return &StatsCollector{} }

// Record is called exactly once per terminal outcome.
func (c *StatsCollector) Record(success, usedFallback bool, latency time.Duration) {
	if latency < 0 {
		latency = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.TotalRequests++
	if success {
		c.s.SuccessfulRequests++
	} else {
		c.s.FailedRequests++
	}
	if usedFallback {
		c.s.FallbackRequests++
	}
	if c.s.LatencyCount == 0 || latency < c.s.LatencyMin {
		c.s.LatencyMin = latency
	}
	if latency > c.s.LatencyMax {
		c.s.LatencyMax = latency
	}
	c.s.LatencyCount++
	c.s.LatencySum += latency
}

func (c *StatsCollector) RecordRetry() {
	c.mu.Lock()
	c.s.RetryAttempts++
	c.mu.Unlock()
}

func (c *StatsCollector) RecordBreakerRejection() {
	c.mu.Lock()
	c.s.BreakerRejections++
	c.mu.Unlock()
}

func (c *StatsCollector) Snapshot() StatsSnapshot {
	c.mu.Lock()
	s := c.s
	c.mu.Unlock()
	if s.LatencyCount > 0 {
		s.LatencyMean = s.LatencySum / time.Duration(s.LatencyCount)
	}
	return s
}
